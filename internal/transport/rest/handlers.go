package rest

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/pawgrid/feed-service/internal/feed"
	appCtx "github.com/pawgrid/feed-service/internal/pkg/context"
	"github.com/pawgrid/feed-service/internal/pkg/logger"
	"github.com/pawgrid/feed-service/internal/resilience"
	"github.com/pawgrid/feed-service/internal/transport/rest/response"
)

type Handler struct {
	reader  *feed.Reader
	gateway *resilience.Gateway
}

func NewHandler(reader *feed.Reader, gateway *resilience.Gateway) *Handler {
	return &Handler{reader: reader, gateway: gateway}
}

// GetFeed serves one page of the viewer's feed.
// GET /api/v1/feed?cursor=...&limit=...
func (h *Handler) GetFeed(w http.ResponseWriter, r *http.Request) {
	viewerID, ok := ViewerID(r)
	if !ok {
		fail(w, r, http.StatusBadRequest, "request.invalid", "missing or invalid X-User-Id header", map[string]string{
			"x-user-id": "must be a positive integer",
		})
		return
	}

	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			fail(w, r, http.StatusBadRequest, "request.invalid", "invalid limit", map[string]string{
				"limit": "must be a positive integer",
			})
			return
		}
		limit = n
	}

	page, err := h.reader.Read(r.Context(), viewerID, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		logger.WithCtx(r.Context()).Error().Int64("viewer_id", viewerID).Err(err).Msg("feed read failed")
		fail(w, r, http.StatusInternalServerError, "feed.unavailable", "feed temporarily unavailable", nil)
		return
	}

	response.Data(w, http.StatusOK, page)
}

// CircuitBreakers exposes the live state of every breaker for operators.
func (h *Handler) CircuitBreakers(w http.ResponseWriter, r *http.Request) {
	response.Data(w, http.StatusOK, map[string]any{"circuitBreakers": h.gateway.Breakers()})
}

// RateLimiters exposes every rate-limit bucket.
func (h *Handler) RateLimiters(w http.ResponseWriter, r *http.Request) {
	response.Data(w, http.StatusOK, map[string]any{"rateLimiters": h.gateway.Limiter().Snapshots()})
}

// Retries exposes per-collaborator retry outcomes.
func (h *Handler) Retries(w http.ResponseWriter, r *http.Request) {
	response.Data(w, http.StatusOK, map[string]any{"retries": h.gateway.RetryStatsSnapshot()})
}

// ForceBreakerOpen trips a named breaker, e.g. ahead of a known collaborator
// maintenance window.
func (h *Handler) ForceBreakerOpen(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if strings.TrimSpace(name) == "" {
		fail(w, r, http.StatusBadRequest, "request.invalid", "missing breaker name", nil)
		return
	}
	h.gateway.ForceOpen(name)
	response.Data(w, http.StatusOK, map[string]string{"breaker": name, "state": "forced_open"})
}

// ForceBreakerClose resets a named breaker to closed.
func (h *Handler) ForceBreakerClose(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if strings.TrimSpace(name) == "" {
		fail(w, r, http.StatusBadRequest, "request.invalid", "missing breaker name", nil)
		return
	}
	h.gateway.ForceClose(name)
	response.Data(w, http.StatusOK, map[string]string{"breaker": name, "state": "closed"})
}

func fail(w http.ResponseWriter, r *http.Request, status int, code, message string, meta map[string]string) {
	response.Fail(w, status, code, message, meta, appCtx.GetRequestID(r.Context()))
}
