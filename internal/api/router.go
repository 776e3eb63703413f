package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/skylog-io/skylog/internal/config"
	"github.com/skylog-io/skylog/internal/oauth"
	"github.com/skylog-io/skylog/internal/session"
	"github.com/skylog-io/skylog/internal/store"
	"github.com/skylog-io/skylog/internal/token"
)

// NewRouter wires the HTTP surface. Every protected route goes through the
// gate in fixed order: rate limit, then shared secret (data routes only),
// then bearer token.
func NewRouter(cfg *config.Config, st store.Store, tokens *token.Service, bridge *session.Bridge, providers map[string]*oauth.Client, log *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	globalLimiter := NewRateLimiter(rate.Limit(cfg.RateLimits.GlobalPerSec), cfg.RateLimits.GlobalBurst)
	dataLimiter := NewRateLimiter(rate.Limit(cfg.RateLimits.DataPerSec), cfg.RateLimits.DataBurst)
	authLimiter := NewRateLimiter(rate.Limit(cfg.RateLimits.AuthPerSec), cfg.RateLimits.AuthBurst)
	globalLimiter.CleanupOldLimiters()
	dataLimiter.CleanupOldLimiters()
	authLimiter.CleanupOldLimiters()

	r.Route("/api", func(r chi.Router) {
		// Auth endpoints: their own, stricter budget.
		r.Group(func(r chi.Router) {
			r.Use(RateLimitMiddleware(authLimiter))

			r.Get("/auth/{provider}/authorize", HandleAuthorize(st, cfg, providers, log))
			r.Get("/auth/{provider}/callback", HandleCallback(st, cfg, providers, bridge, log))
			r.Post("/auth/refresh", HandleRefresh(tokens))

			r.Group(func(r chi.Router) {
				r.Use(BearerAuthMiddleware(tokens, st))
				r.Post("/auth/logout", HandleLogout(tokens))
			})
		})

		// Account endpoints: global budget plus bearer token.
		r.Group(func(r chi.Router) {
			r.Use(RateLimitMiddleware(globalLimiter))
			r.Use(BearerAuthMiddleware(tokens, st))

			r.Get("/account/me", HandleGetMe())
			r.Patch("/account/me", HandleUpdateMe(st))
			r.Delete("/account/me", HandleDeleteMe(st, log))
		})

		// Data endpoints: the full gate.
		r.Group(func(r chi.Router) {
			r.Use(RateLimitMiddleware(dataLimiter))
			r.Use(SharedSecretMiddleware(cfg.AppSecret))
			r.Use(BearerAuthMiddleware(tokens, st))

			r.Get("/records", HandleListRecords(st))
			r.Post("/records", HandleCreateRecord(st))
			r.Get("/records/{id}", HandleGetRecord(st))
			r.Delete("/records/{id}", HandleDeleteRecord(st))
		})

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("OK"))
		})
	})

	return r
}
