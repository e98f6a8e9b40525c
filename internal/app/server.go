package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/mos-fine/One-Web/internal/aisettings"
	"github.com/mos-fine/One-Web/internal/httpapi"
	"github.com/mos-fine/One-Web/internal/idempotency"
	"github.com/mos-fine/One-Web/internal/logging"
	"github.com/mos-fine/One-Web/internal/metrics"
	"github.com/mos-fine/One-Web/internal/orchestrator"
	"github.com/mos-fine/One-Web/internal/probe"
	"github.com/mos-fine/One-Web/internal/ratelimit"
	"github.com/mos-fine/One-Web/internal/signer"
	"github.com/mos-fine/One-Web/internal/store"
	"github.com/mos-fine/One-Web/internal/tracing"
	"github.com/mos-fine/One-Web/internal/usage"
	"github.com/mos-fine/One-Web/internal/vault"
)

const serviceName = "oneweb"

type Server struct {
	cfg Config

	r *chi.Mux

	store   store.Store
	limiter *ratelimit.Limiter
	tracing func(context.Context) error
	logger  *slog.Logger
}

func NewServer(cfg Config) (*Server, error) {
	logger := logging.Setup(cfg.LogLevel)

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	shutdownTracing, err := tracing.Setup(tracing.Config{
		Enabled:     cfg.OTelEnabled,
		Endpoint:    cfg.OTelEndpoint,
		ServiceName: serviceName,
		Environment: cfg.Env,
	})
	if err != nil {
		return nil, err
	}
	// undo releases what NewServer acquired so far, newest first.
	var undo []func()
	undo = append(undo, func() { _ = shutdownTracing(context.Background()) })
	fail := func(err error) (*Server, error) {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
		return nil, err
	}

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(tracing.Middleware())
	r.Use(logging.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", idempotency.HeaderKey},
		AllowCredentials: len(cfg.CORSOrigins) > 0,
		MaxAge:           300,
	}))

	db, err := store.Open(context.Background(), cfg.StoreKind, cfg.DBDSN, cfg.DataDir, logger)
	if err != nil {
		return fail(err)
	}
	undo = append(undo, func() { _ = db.Close() })
	logger.Info("store initialized", slog.String("backend", db.Backend()))

	if os.Getenv(vault.EnvKey) == "" {
		if cfg.Production() {
			logger.Error(vault.EnvKey + " not set, the openai vendor cannot sign URLs")
		} else {
			logger.Warn(vault.EnvKey + " not set, using the development fallback key")
		}
	}

	m := metrics.New()
	settings := aisettings.NewService(db, logger)
	ledger := usage.NewLedger(db, usage.WithLocation(loc), usage.WithLogger(logger))
	orch := orchestrator.New(settings, ledger, envSealer(cfg.Production()),
		orchestrator.WithMetrics(m),
		orchestrator.WithLogger(logger),
	)
	prober := probe.New(settings,
		probe.WithTimeout(time.Duration(cfg.ProviderTimeoutSecs)*time.Second),
		probe.WithTransport(tracing.HTTPTransport(nil)),
		probe.WithMetrics(m),
		probe.WithLogger(logger),
	)

	tokens, err := httpapi.NewAdminTokenHolder(cfg.AdminToken, cfg.DataDir, logger)
	if err != nil {
		return fail(err)
	}
	sessions, err := httpapi.NewSessions(cfg.SessionSecret, cfg.SessionTTL)
	if err != nil {
		return fail(err)
	}
	if cfg.SessionSecret == "" {
		logger.Warn("ONEWEB_SESSION_SECRET not set, admin sessions end on restart")
	}

	limiter := ratelimit.New(cfg.RateLimitRPS, cfg.RateLimitBurst,
		ratelimit.WithCounter(m.RateLimited.WithLabelValues("ai")))

	httpapi.MountRoutes(r, httpapi.Dependencies{
		Settings:      settings,
		Ledger:        ledger,
		Orchestrator:  orch,
		Prober:        prober,
		Store:         db,
		Metrics:       m,
		AdminToken:    tokens,
		Sessions:      sessions,
		SecureCookies: cfg.Production(),
		Limiter:       limiter,
		Idempotency:   idempotency.New(cfg.IdempotencyTTL, 10000),
	})

	return &Server{
		cfg:     cfg,
		r:       r,
		store:   db,
		limiter: limiter,
		tracing: shutdownTracing,
		logger:  logger,
	}, nil
}

// envSealer reads ENCRYPTION_KEY on every call so a rotated key applies
// without a restart.
func envSealer(production bool) orchestrator.SealerFunc {
	return func() (signer.Sealer, error) {
		s, err := vault.FromEnv(os.Getenv, production, nil)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

func (s *Server) Router() http.Handler { return s.r }

// Reload applies the settings that can change without a restart. Today that
// is the log level; listener, store and limiter settings need a restart.
func (s *Server) Reload(cfg Config) {
	if cfg.LogLevel != s.cfg.LogLevel {
		logging.SetLevel(cfg.LogLevel)
		s.logger.Info("log level changed", slog.String("from", s.cfg.LogLevel), slog.String("to", cfg.LogLevel))
	}
	s.cfg = cfg
}

func (s *Server) Close() error {
	var errs []error
	if s.limiter != nil {
		s.limiter.Stop()
	}
	if s.tracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errs = append(errs, s.tracing(ctx))
		cancel()
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	return errors.Join(errs...)
}
