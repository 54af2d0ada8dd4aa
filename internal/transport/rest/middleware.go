package rest

import (
	"net/http"
	"strconv"
	"strings"

	appCtx "github.com/pawgrid/feed-service/internal/pkg/context"
	"github.com/pawgrid/feed-service/internal/resilience"
	"github.com/pawgrid/feed-service/internal/transport/rest/response"
)

const userIDHeader = "X-User-Id"

// ViewerID pulls the authenticated viewer identity set by the edge gateway.
func ViewerID(r *http.Request) (int64, bool) {
	raw := strings.TrimSpace(r.Header.Get(userIDHeader))
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// UserRateLimit throttles by viewer identity so one heavy client cannot
// starve the rest. Anonymous requests fall through; the handler rejects
// them with 400 anyway.
func UserRateLimit(limiter *resilience.Limiter) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			viewerID, ok := ViewerID(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			if err := limiter.Allow(resilience.ClassUser, strconv.FormatInt(viewerID, 10)); err != nil {
				response.Fail(w, http.StatusTooManyRequests,
					"rate_limit.exceeded", "too many requests", nil,
					appCtx.GetRequestID(r.Context()))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'; base-uri 'none'; form-action 'none'")
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cross-Origin-Resource-Policy", "same-site")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")

		next.ServeHTTP(w, r)
	})
}
