package rest

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/pawgrid/feed-service/internal/metrics"
	"github.com/pawgrid/feed-service/internal/resilience"
)

type RouterDeps struct {
	Handler *Handler
	Limiter *resilience.Limiter

	// Per-IP admission control ahead of anything user-scoped.
	IPLimit  int
	IPWindow time.Duration

	// DisableRateLimits turns off admission control, for local development
	// and load tests only.
	DisableRateLimits bool
}

func NewRouter(d RouterDeps) http.Handler {
	if d.Handler == nil {
		panic("rest.NewRouter: nil handler")
	}
	if d.Limiter == nil {
		panic("rest.NewRouter: nil limiter")
	}
	if d.IPLimit <= 0 {
		d.IPLimit = 300
	}
	if d.IPWindow <= 0 {
		d.IPWindow = time.Minute
	}

	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(HTTPLogger)
	r.Use(middleware.Recoverer)
	if !d.DisableRateLimits {
		r.Use(httprate.LimitByIP(d.IPLimit, d.IPWindow))
	}
	r.Use(SecurityHeaders)

	r.Route("/api/v1", func(r chi.Router) {
		if d.DisableRateLimits {
			r.Get("/feed", d.Handler.GetFeed)
		} else {
			r.With(UserRateLimit(d.Limiter)).Get("/feed", d.Handler.GetFeed)
		}

		r.Route("/resilience", func(r chi.Router) {
			r.Get("/circuit-breakers", d.Handler.CircuitBreakers)
			r.Get("/rate-limiters", d.Handler.RateLimiters)
			r.Get("/retries", d.Handler.Retries)
			r.Post("/circuit-breakers/{name}/open", d.Handler.ForceBreakerOpen)
			r.Post("/circuit-breakers/{name}/close", d.Handler.ForceBreakerClose)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", metrics.Handler())

	return r
}
