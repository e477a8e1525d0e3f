package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	httpAdapter "github.com/maithanhduyan/bibank/internal/adapter/http"
	"github.com/maithanhduyan/bibank/internal/adapter/http/handler"
	"github.com/maithanhduyan/bibank/internal/adapter/http/middleware"
	"github.com/maithanhduyan/bibank/internal/adapter/repository/jsonl"
	postgresRepo "github.com/maithanhduyan/bibank/internal/adapter/repository/postgres"
	redisRepo "github.com/maithanhduyan/bibank/internal/adapter/repository/redis"
	"github.com/maithanhduyan/bibank/internal/adapter/watchlist"
	"github.com/maithanhduyan/bibank/internal/infrastructure/auth"
	"github.com/maithanhduyan/bibank/internal/infrastructure/config"
	"github.com/maithanhduyan/bibank/internal/infrastructure/eventpublisher"
	"github.com/maithanhduyan/bibank/internal/infrastructure/logger"
	"github.com/maithanhduyan/bibank/internal/infrastructure/metrics"
	natsinfra "github.com/maithanhduyan/bibank/internal/infrastructure/nats"
	"github.com/maithanhduyan/bibank/internal/infrastructure/postgres"
	"github.com/maithanhduyan/bibank/internal/infrastructure/redis"
	"github.com/maithanhduyan/bibank/internal/infrastructure/signer"
	"github.com/maithanhduyan/bibank/internal/usecase"
)

const limiterCleanupInterval = time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	lg := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	log.Logger = lg

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, lg); err != nil {
		lg.Fatal().Err(err).Msg("server failed")
	}
	lg.Info().Msg("server stopped")
}

func run(ctx context.Context, cfg *config.Config, lg zerolog.Logger) error {
	m := metrics.New()

	// Durable ledgers
	journalStore, err := jsonl.NewJournalStore(cfg.JournalPath)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer journalStore.Close()

	complianceStore, err := jsonl.NewComplianceStore(cfg.ComplianceLedgerPath)
	if err != nil {
		return fmt.Errorf("open compliance ledger: %w", err)
	}
	defer complianceStore.Close()

	entrySigner, err := newEntrySigner(cfg)
	if err != nil {
		return err
	}

	// PostgreSQL
	if err := postgres.RunMigrations(cfg.DatabaseURL, cfg.MigrationsPath, lg); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	pool, err := postgres.NewPoolWithConfig(ctx, postgres.PoolConfig{
		DatabaseURL:    cfg.DatabaseURL,
		MaxConns:       cfg.DatabaseMaxConns,
		MinConns:       cfg.DatabaseMinConns,
		ConnectTimeout: cfg.DatabaseTimeout,
	})
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer pool.Close()
	lg.Info().Msg("connected to postgres")

	// Redis
	redisClient, err := redis.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	defer redisClient.Close()
	lg.Info().Msg("connected to redis")

	checkers := []handler.Checker{
		handler.NewPingChecker("postgres", pingPool(pool)),
		redis.NewChecker(redisClient),
	}

	// Repositories
	approvalRepo := postgresRepo.NewApprovalRepository(pool, postgresRepo.NewRetrier(lg))
	outboxRepo := postgresRepo.NewOutboxRepository(pool)
	cache := redisRepo.NewCache(redisClient)
	idempotencyStore := redisRepo.NewIdempotencyStore(redisClient)
	idGen := postgresRepo.NewULIDGenerator()

	// AML
	watchlistSet := usecase.NewWatchlist(cfg.SanctionedAccounts...)
	complianceCfg, err := cfg.ComplianceConfig()
	if err != nil {
		return err
	}
	hooks, screener, err := buildHooks(cfg, complianceCfg, watchlistSet, cache, lg, m)
	if err != nil {
		return err
	}

	ledger := usecase.NewComplianceLedger(complianceStore, m)
	compliance := usecase.NewComplianceEngine(complianceCfg, watchlistSet, screener, ledger, lg, m)

	policy, err := cfg.ApprovalPolicy()
	if err != nil {
		return fmt.Errorf("approval policy: %w", err)
	}
	workflow, err := usecase.NewApprovalWorkflow(approvalRepo, policy, idGen, lg, m)
	if err != nil {
		return err
	}

	executor := usecase.NewExecutor(usecase.ExecutorDeps{
		Journal:    usecase.NewJournal(journalStore, entrySigner, m),
		Risk:       usecase.NewRiskEngine(m),
		Hooks:      hooks,
		Compliance: compliance,
		Approvals:  workflow,
		Outbox:     outboxRepo,
		IDGen:      idGen,
		Logger:     lg,
		Metrics:    m,
	})
	// A broken chain must stop the process before it accepts writes.
	if err := executor.Start(ctx); err != nil {
		return fmt.Errorf("start executor: %w", err)
	}
	if err := compliance.RecordRuleSet(ctx); err != nil {
		return fmt.Errorf("record rule set: %w", err)
	}

	// Event publishing
	publisher, closePublisher, publisherChecker, err := newPublisher(cfg, lg)
	if err != nil {
		return err
	}
	defer closePublisher()
	if publisherChecker != nil {
		checkers = append(checkers, publisherChecker)
	}
	eventPublisher := eventpublisher.NewEventPublisher(eventpublisher.Config{
		OutboxRepo: outboxRepo,
		Publisher:  publisher,
		Logger:     lg,
		Metrics:    m,
		BatchSize:  cfg.OutboxBatchSize,
		Interval:   cfg.OutboxPollInterval,
		Retention:  cfg.OutboxRetention,
	})

	sweeper := usecase.NewApprovalSweeper(executor, cfg.ApprovalSweepInterval, lg)
	rateLimiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, m)

	routerCfg := httpAdapter.RouterConfig{
		IntentHandler:     handler.NewIntentHandler(executor),
		JournalHandler:    handler.NewJournalHandler(executor.Journal()),
		BalanceHandler:    handler.NewBalanceHandler(executor.Risk()),
		ApprovalHandler:   handler.NewApprovalHandler(executor),
		ComplianceHandler: handler.NewComplianceHandler(compliance, watchlistSet),
		MarginHandler:     handler.NewMarginHandler(executor),
		HealthHandler:     handler.NewHealthHandler(checkers...),
		IdempotencyStore:  idempotencyStore,
		IdempotencyTTL:    cfg.IdempotencyTTL,
		RateLimiter:       rateLimiter,
		Logger:            lg,
		Metrics:           m,
	}
	verifier, err := newTokenVerifier(cfg)
	if err != nil {
		return err
	}
	routerCfg.TokenVerifier = verifier

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler:      httpAdapter.NewRouter(routerCfg),
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	var wg sync.WaitGroup
	startWorker(workerCtx, &wg, lg, "approval_sweeper", sweeper.Start)
	startWorker(workerCtx, &wg, lg, "event_publisher", eventPublisher.Start)
	startWorker(workerCtx, &wg, lg, "limiter_cleanup", func(ctx context.Context) error {
		ticker := time.NewTicker(limiterCleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				if n := rateLimiter.CleanupLimiters(limiterCleanupInterval); n > 0 {
					lg.Debug().Int("dropped", n).Msg("idle rate limiters dropped")
				}
			}
		}
	})

	serverErr := make(chan error, 1)
	go func() {
		lg.Info().Str("port", cfg.HTTPPort).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		lg.Info().Msg("shutting down server...")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		lg.Error().Err(err).Msg("server forced to shutdown")
	}

	cancelWorkers()
	wg.Wait()
	return nil
}

func startWorker(ctx context.Context, wg *sync.WaitGroup, lg zerolog.Logger, name string, fn func(context.Context) error) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
			lg.Error().Err(err).Str("worker", name).Msg("worker stopped")
		}
	}()
}

func pingPool(pool *pgxpool.Pool) func(context.Context) error {
	return pool.Ping
}

// newEntrySigner returns nil when no system key is configured.
func newEntrySigner(cfg *config.Config) (usecase.EntrySigner, error) {
	if cfg.SystemSignerKey == "" {
		return nil, nil
	}
	s, err := signer.NewFromSeedHex(cfg.SystemSignerID, cfg.SystemSignerKey)
	if err != nil {
		return nil, fmt.Errorf("SYSTEM_SIGNER_KEY: %w", err)
	}
	return s, nil
}

// newTokenVerifier returns nil when auth is disabled.
func newTokenVerifier(cfg *config.Config) (middleware.TokenVerifier, error) {
	if !cfg.AuthEnabled {
		return nil, nil
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("AUTH_ENABLED requires JWT_SECRET")
	}
	return auth.NewJWTManager(cfg.JWTSecret, cfg.JWTExpiration), nil
}

// buildHooks registers the pre-validation and post-commit AML hooks. The
// returned screener is nil unless an external watchlist is configured.
func buildHooks(
	cfg *config.Config,
	complianceCfg usecase.ComplianceConfig,
	watchlistSet *usecase.Watchlist,
	cache usecase.Cache,
	lg zerolog.Logger,
	m *metrics.Metrics,
) (*usecase.HookRegistry, usecase.Screener, error) {
	hooks := usecase.NewHookRegistry(complianceCfg.FailPolicy, lg, m)
	hooks.RegisterPre(usecase.NewSanctionsHook(watchlistSet))

	pepThreshold, err := cfg.PEPThreshold()
	if err != nil {
		return nil, nil, err
	}
	hooks.RegisterPre(usecase.NewPepCheckHook(pepThreshold))

	var screener usecase.Screener
	if cfg.WatchlistURL != "" {
		wcfg := watchlist.DefaultConfig(cfg.WatchlistURL)
		wcfg.Timeout = cfg.WatchlistTimeout
		client, err := watchlist.NewClient(wcfg, lg)
		if err != nil {
			return nil, nil, fmt.Errorf("watchlist client: %w", err)
		}
		external, err := usecase.NewExternalWatchlistHook(usecase.ExternalWatchlistConfig{
			Client:     client,
			Cache:      cache,
			CacheTTL:   cfg.AMLCacheTTL,
			Timeout:    cfg.WatchlistTimeout,
			FailPolicy: complianceCfg.FailPolicy,
			Logger:     lg,
		})
		if err != nil {
			return nil, nil, err
		}
		hooks.RegisterPre(external)
		screener = external
	}

	hooks.RegisterPost(usecase.NewLargeTxHook(complianceCfg.LargeTxThreshold))
	hooks.RegisterPost(usecase.NewNewAccountHook(complianceCfg.NewAccountDays, complianceCfg.LargeTxThreshold))

	return hooks, screener, nil
}

// newPublisher publishes to NATS when NATS_URL is set and logs events otherwise.
func newPublisher(cfg *config.Config, lg zerolog.Logger) (eventpublisher.Publisher, func(), handler.Checker, error) {
	if cfg.NATSURL == "" {
		return eventpublisher.NewLogPublisher(lg), func() {}, nil, nil
	}

	client, err := natsinfra.Connect(natsinfra.DefaultConfig(cfg.NATSURL), lg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect to nats: %w", err)
	}
	closeFn := func() {
		if err := client.Close(); err != nil {
			lg.Warn().Err(err).Msg("nats drain failed")
		}
	}
	return eventpublisher.NewNATSPublisher(client, cfg.NATSSubjectPrefix), closeFn, client, nil
}
