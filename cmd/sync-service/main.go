package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/brickfolio/brickfolio-sync-go/internal/api"
	"github.com/brickfolio/brickfolio-sync-go/internal/application"
	"github.com/brickfolio/brickfolio-sync-go/internal/config"
	"github.com/brickfolio/brickfolio-sync-go/internal/domain"
	pgdb "github.com/brickfolio/brickfolio-sync-go/internal/infrastructure/db"
	"github.com/brickfolio/brickfolio-sync-go/internal/infrastructure/messaging"
	"github.com/brickfolio/brickfolio-sync-go/internal/infrastructure/providers"
	"github.com/brickfolio/brickfolio-sync-go/internal/infrastructure/ratelimit"
	syncinfra "github.com/brickfolio/brickfolio-sync-go/internal/infrastructure/sync"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	cfg := config.Load()
	log.Info().Str("port", cfg.HttpPort).Msg("starting marketplace sync service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbConn, err := sql.Open("pgx", cfg.PgDsn)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open postgres")
	}
	defer dbConn.Close()

	if err := dbConn.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping postgres")
	}

	// Repos
	itemRepo := pgdb.NewPgItemRepository(dbConn)
	ledgerRepo := pgdb.NewPgLedgerRepository(dbConn)
	outboxRepo := pgdb.NewPgOutboxRepository(dbConn)
	conflictRepo := pgdb.NewPgConflictRepository(dbConn)
	catalogResolver := pgdb.NewPgCatalogResolver(dbConn)

	// Provider rate limiter, shared across instances when Redis is around
	var limiter providers.RateLimiter = providers.Unlimited()
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		limiter = ratelimit.NewRedisLimiter(rdb, cfg.SyncRateLimitPerMin, time.Minute)
	}

	// Marketplace adapters for the configured providers
	callTimeout := time.Duration(cfg.HttpCallTimeoutSec) * time.Second
	enabled := make([]domain.Provider, 0, len(cfg.Providers))
	adapters := make([]domain.ListingAdapter, 0, len(cfg.Providers))
	for _, name := range cfg.Providers {
		p, ok := domain.ParseProvider(name)
		if !ok {
			log.Fatal().Str("provider", name).Msg("unknown provider in SYNC_PROVIDERS")
		}
		enabled = append(enabled, p)
		switch p {
		case domain.ProviderBrickLink:
			adapters = append(adapters, providers.NewBrickLinkAdapter(
				cfg.BrickLinkBaseUrl, cfg.BrickLinkToken, callTimeout, limiter))
		case domain.ProviderBrickOwl:
			adapters = append(adapters, providers.NewBrickOwlAdapter(
				cfg.BrickOwlBaseUrl, cfg.BrickOwlKey, callTimeout, limiter, catalogResolver))
		}
	}

	// Outcome event publishing
	var publisher application.EventPublisher = application.NoopPublisher{}
	if cfg.RabbitUri != "" {
		publisher = messaging.NewSyncEventBus(cfg.RabbitUri)
	}

	// Application services
	quantitySvc := application.NewQuantityService(itemRepo, enabled)
	projector := application.NewSyncStateService(itemRepo, publisher)
	resyncSvc := application.NewResyncService(itemRepo, ledgerRepo, outboxRepo, conflictRepo)

	// Dispatcher + scheduler
	dispatchCfg := syncinfra.Config{
		ExternalCallsEnabled: cfg.ExternalCallsEnabled,
		BatchSize:            cfg.SyncBatchSize,
		MaxAttempts:          cfg.SyncMaxAttempts,
		BackoffBase:          time.Duration(cfg.SyncBackoffBaseMs) * time.Millisecond,
		BackoffCap:           time.Duration(cfg.SyncBackoffCapMs) * time.Millisecond,
		ReclaimAfter:         time.Duration(cfg.SyncReclaimAfterSec) * time.Second,
		Retention:            time.Duration(cfg.SyncRetentionHours) * time.Hour,
	}
	dispatcher := syncinfra.NewDispatcher(
		outboxRepo, itemRepo, ledgerRepo, conflictRepo, projector, adapters, dispatchCfg)
	scheduler := syncinfra.NewScheduler(
		dispatcher, outboxRepo, time.Duration(cfg.SyncIntervalSec)*time.Second, dispatchCfg)
	scheduler.Start(ctx)

	// HTTP API
	mux := http.NewServeMux()
	apiServer := api.NewServer(cfg, quantitySvc, resyncSvc, ledgerRepo, dispatcher)
	apiServer.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	httpSrv := &http.Server{
		Addr:    ":" + cfg.HttpPort,
		Handler: mux,
	}

	go func() {
		log.Info().Str("addr", httpSrv.Addr).Msg("http listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("shutting down sync service")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown error")
	}
}
