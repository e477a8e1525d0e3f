package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/maithanhduyan/bibank/internal/adapter/http/handler"
	"github.com/maithanhduyan/bibank/internal/adapter/http/middleware"
	"github.com/maithanhduyan/bibank/internal/domain"
	"github.com/maithanhduyan/bibank/internal/infrastructure/metrics"
	"github.com/maithanhduyan/bibank/internal/usecase"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	IntentHandler     *handler.IntentHandler
	JournalHandler    *handler.JournalHandler
	BalanceHandler    *handler.BalanceHandler
	ApprovalHandler   *handler.ApprovalHandler
	ComplianceHandler *handler.ComplianceHandler
	MarginHandler     *handler.MarginHandler
	HealthHandler     *handler.HealthHandler

	IdempotencyStore usecase.IdempotencyStore
	IdempotencyTTL   time.Duration

	// TokenVerifier enables bearer auth and role checks; nil disables both.
	TokenVerifier middleware.TokenVerifier
	RateLimiter   *middleware.RateLimiter
	Logger        zerolog.Logger
	Metrics       *metrics.Metrics
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.NewLoggingMiddleware(cfg.Logger).Wrap)
	r.Use(middleware.Recovery)
	r.Use(middleware.Metrics(cfg.Metrics))

	// Health endpoints
	r.Get("/health", cfg.HealthHandler.Liveness)
	r.Get("/ready", cfg.HealthHandler.Readiness)
	r.Handle("/metrics", promhttp.Handler())

	requireRole := func(role domain.Role) func(http.Handler) http.Handler {
		if cfg.TokenVerifier == nil {
			return func(next http.Handler) http.Handler { return next }
		}
		return middleware.RequireRole(role)
	}

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		if cfg.RateLimiter != nil {
			r.Use(cfg.RateLimiter.Limit)
		}
		if cfg.TokenVerifier != nil {
			r.Use(middleware.AuthMiddleware(cfg.TokenVerifier))
		}
		// Idempotency middleware for mutating requests
		if cfg.IdempotencyStore != nil {
			idempotencyMiddleware := middleware.NewIdempotencyMiddleware(cfg.IdempotencyStore).
				WithTTL(cfg.IdempotencyTTL).
				WithLogger(cfg.Logger)
			r.Use(idempotencyMiddleware.Wrap)
		}

		r.With(requireRole(domain.RoleOperator)).Post("/intents", cfg.IntentHandler.Submit)

		r.Route("/journal", func(r chi.Router) {
			r.Use(requireRole(domain.RoleViewer))
			r.Get("/", cfg.JournalHandler.List)
			r.Get("/verify", cfg.JournalHandler.Verify)
			r.Get("/{sequence}", cfg.JournalHandler.Get)
		})

		r.With(requireRole(domain.RoleViewer)).Get("/balances", cfg.BalanceHandler.List)

		r.Route("/margin", func(r chi.Router) {
			r.With(requireRole(domain.RoleViewer)).Get("/positions", cfg.MarginHandler.Positions)
			r.With(requireRole(domain.RoleOperator)).Post("/liquidations", cfg.MarginHandler.Liquidate)
			r.With(requireRole(domain.RoleOperator)).Post("/interest", cfg.MarginHandler.AccrueInterest)
		})

		r.Route("/approvals", func(r chi.Router) {
			r.With(requireRole(domain.RoleViewer)).Get("/", cfg.ApprovalHandler.List)
			r.With(requireRole(domain.RoleViewer)).Get("/stats", cfg.ApprovalHandler.Stats)
			r.With(requireRole(domain.RoleViewer)).Get("/{id}", cfg.ApprovalHandler.Get)
			r.With(requireRole(domain.RoleSigner)).Post("/{id}/sign", cfg.ApprovalHandler.Sign)
			r.With(requireRole(domain.RoleSigner)).Post("/{id}/reject", cfg.ApprovalHandler.Reject)
			r.With(requireRole(domain.RoleOperator)).Post("/{id}/resume", cfg.ApprovalHandler.Resume)
		})

		r.Route("/compliance", func(r chi.Router) {
			r.With(requireRole(domain.RoleViewer)).Get("/records", cfg.ComplianceHandler.Records)
			r.With(requireRole(domain.RoleViewer)).Get("/verify", cfg.ComplianceHandler.Verify)
			r.With(requireRole(domain.RoleViewer)).Get("/watchlist", cfg.ComplianceHandler.ListWatchlist)
			r.With(requireRole(domain.RoleAdmin)).Post("/watchlist", cfg.ComplianceHandler.AddToWatchlist)
			r.With(requireRole(domain.RoleAdmin)).Delete("/watchlist/{party}", cfg.ComplianceHandler.RemoveFromWatchlist)
		})
	})

	return r
}
