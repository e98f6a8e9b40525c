package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mos-fine/One-Web/internal/aisettings"
	"github.com/mos-fine/One-Web/internal/apperr"
	"github.com/mos-fine/One-Web/internal/idempotency"
	"github.com/mos-fine/One-Web/internal/metrics"
	"github.com/mos-fine/One-Web/internal/orchestrator"
	"github.com/mos-fine/One-Web/internal/probe"
	"github.com/mos-fine/One-Web/internal/ratelimit"
	"github.com/mos-fine/One-Web/internal/store"
	"github.com/mos-fine/One-Web/internal/usage"
)

type Dependencies struct {
	Settings     *aisettings.Service
	Ledger       *usage.Ledger
	Orchestrator *orchestrator.Orchestrator
	Prober       *probe.Prober
	Store        store.Store
	Metrics      *metrics.Registry

	AdminToken *AdminTokenHolder
	Sessions   *Sessions
	// SecureCookies marks the session cookie Secure (production).
	SecureCookies bool

	// Optional; nil disables the corresponding middleware.
	Limiter     *ratelimit.Limiter
	Idempotency *idempotency.Cache
}

func MountRoutes(r chi.Router, d Dependencies) {
	r.Get("/healthz", HealthHandler(d))
	r.Handle("/metrics", d.Metrics.Handler())

	r.Route("/api/ai", func(r chi.Router) {
		r.Get("/validate-config", ValidateConfigHandler(d))

		r.Group(func(r chi.Router) {
			if d.Limiter != nil {
				r.Use(d.Limiter.Middleware)
			}
			r.Get("/signed-url", SignedURLHandler(d))
			r.Get("/getSignedUrl", SignedURLHandler(d))
			r.With(idempotent(d)...).Post("/token-usage", TokenUsageHandler(d))
		})

		r.Group(func(r chi.Router) {
			r.Use(adminAuthMiddleware(d.AdminToken, d.Sessions))
			r.Get("/settings", SettingsGetHandler(d))
			r.Post("/settings", SettingsSaveHandler(d))
			r.Get("/usage-stats", UsageStatsHandler(d))
			r.Post("/test", TestAIHandler(d))
		})
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if d.Limiter != nil {
				r.Use(d.Limiter.Middleware)
			}
			r.With(idempotent(d)...).Post("/ai-token-usage", TokenUsageHandler(d))
		})

		r.Group(func(r chi.Router) {
			r.Use(adminAuthMiddleware(d.AdminToken, d.Sessions))
			r.Get("/ai-settings", SettingsGetHandler(d))
			r.Post("/ai-settings", SettingsSaveHandler(d))
			r.Get("/ai-usage-stats", UsageStatsHandler(d))
			r.Post("/test-ai", TestAIHandler(d))
			r.Get("/audit", AuditLogsHandler(d))
			r.Post("/token/rotate", AdminTokenRotateHandler(d))
		})
	})

	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/session", SessionCreateHandler(d))
		r.Delete("/session", SessionDeleteHandler(d))
	})
}

func idempotent(d Dependencies) []func(http.Handler) http.Handler {
	if d.Idempotency == nil {
		return nil
	}
	return []func(http.Handler) http.Handler{idempotency.Middleware(d.Idempotency)}
}

// adminAuthMiddleware admits requests carrying the admin token or a valid
// session, as a bearer token or the session cookie.
func adminAuthMiddleware(tokens *AdminTokenHolder, sessions *Sessions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cred := credential(r)
			if tokens != nil && tokens.ConstantTimeEqual(cred) {
				next.ServeHTTP(w, r)
				return
			}
			if sessions != nil && sessions.Verify(cred) == nil {
				next.ServeHTTP(w, r)
				return
			}
			jsonError(w, "unauthorized: admin access required", apperr.Unauthorized, http.StatusUnauthorized)
		})
	}
}

// HealthHandler reports whether the store answers.
func HealthHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := d.Store.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status":  "unhealthy",
				"backend": d.Store.Backend(),
				"error":   err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "ok",
			"backend": d.Store.Backend(),
		})
	}
}
