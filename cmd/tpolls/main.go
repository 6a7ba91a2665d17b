package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/tpolls/tpolls-api/internal/api"
	"github.com/tpolls/tpolls-api/internal/api/handler"
	"github.com/tpolls/tpolls-api/internal/config"
	"github.com/tpolls/tpolls-api/internal/draft"
	"github.com/tpolls/tpolls-api/internal/listener"
	"github.com/tpolls/tpolls-api/internal/publisher"
	"github.com/tpolls/tpolls-api/internal/reconcile"
	"github.com/tpolls/tpolls-api/internal/worker"
	"github.com/tpolls/tpolls-api/pkg/chain"
	"github.com/tpolls/tpolls-api/pkg/db/postgres"
	"github.com/tpolls/tpolls-api/pkg/db/postgres/store"
	"github.com/tpolls/tpolls-api/pkg/generator"
	"github.com/tpolls/tpolls-api/pkg/logging"
	"github.com/tpolls/tpolls-api/pkg/retry"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	// Setup logging
	setupLogging(cfg.LogLevel)

	zapLogger, err := logging.New()
	if err != nil {
		slog.Error("failed to create logger", "err", err)
		os.Exit(1)
	}
	defer zapLogger.Sync() //nolint:errcheck

	slog.Info("starting tpolls-api",
		"rpc_endpoints", len(cfg.ChainRPCURLs),
		"ws_enabled", cfg.WSEnabled,
	)

	// Connect to PostgreSQL
	pgClient, err := postgres.New(ctx, zapLogger, cfg.PostgresURL, postgres.DefaultPoolConfig("tpolls-api"))
	if err != nil {
		slog.Error("failed to connect to postgres", "err", err)
		os.Exit(1)
	}
	defer pgClient.Close()

	db, err := store.New(ctx, pgClient)
	if err != nil {
		slog.Error("failed to initialize store", "err", err)
		os.Exit(1)
	}

	// Connect to Redis
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("failed to parse redis url", "err", err)
		os.Exit(1)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	// Chain gateway
	gateway := chain.NewHTTPWithOpts(chain.Opts{
		Endpoints: cfg.ChainRPCURLs,
		RPS:       cfg.RPCRPS,
		Burst:     cfg.RPCBurst,
	})

	// Draft generator
	gen := generator.NewClient(generator.Opts{
		BaseURL: cfg.OpenAIBaseURL,
		APIKey:  cfg.OpenAIAPIKey,
		Model:   cfg.OpenAIModel,
	})
	drafts := draft.NewService(db, gen)

	// Reconcilers
	registrations := reconcile.NewRegistrationReconciler(db, db, db, gateway, cfg.RegistrationAttempts, retry.Policy{
		BaseDelay:  cfg.RegistrationBaseDelay,
		Multiplier: cfg.RegistrationMultiplier,
		MaxDelay:   cfg.RegistrationMaxDelay,
	})
	votes := reconcile.NewVoteReconciler(db, db, gateway, cfg.RequiredConfirmations)
	liveness := reconcile.NewLivenessReconciler(db, gateway)

	scheduler := reconcile.NewScheduler(registrations, votes, liveness, reconcile.SchedulerConfig{
		FullCycleInterval: cfg.FullCycleInterval,
		VoteSweepInterval: cfg.VoteSweepInterval,
		SweepTimeout:      cfg.SweepTimeout,
	})

	// Create publisher
	pub, err := publisher.New(redisClient, cfg.SweepTopic)
	if err != nil {
		slog.Error("failed to create publisher", "err", err)
		os.Exit(1)
	}
	defer pub.Close()

	// Create worker
	wrk, err := worker.New(worker.Config{
		RedisClient:   redisClient,
		Scheduler:     scheduler,
		Topic:         cfg.SweepTopic,
		ConsumerGroup: cfg.ConsumerGroup,
	})
	if err != nil {
		slog.Error("failed to create worker", "err", err)
		os.Exit(1)
	}
	defer wrk.Close()

	// HTTP API
	h := handler.NewHandler(drafts, registrations, votes, liveness, db, pub, zapLogger, cfg.AdminToken)
	server, err := api.NewServer(h, zapLogger, cfg.HTTPAddr)
	if err != nil {
		slog.Error("failed to create api server", "err", err)
		os.Exit(1)
	}

	// Run all components
	g, ctx := errgroup.WithContext(ctx)

	if err := scheduler.Start(ctx); err != nil {
		slog.Error("failed to start scheduler", "err", err)
		os.Exit(1)
	}
	g.Go(func() error {
		<-ctx.Done()
		<-scheduler.Stop().Done()
		return nil
	})

	g.Go(func() error {
		slog.Info("starting worker")
		return wrk.Run(ctx)
	})

	g.Go(func() error {
		return server.Run(ctx)
	})

	// Optional: head listener turns new blocks into immediate vote sweeps
	if cfg.WSEnabled {
		lst := listener.New(listener.Config{
			URL:            cfg.WSURL,
			MaxRetries:     cfg.WSMaxRetries,
			ReconnectDelay: cfg.WSReconnectDelay,
		}, func(height uint64) {
			if err := pub.PublishSweep(ctx, publisher.ScopeVotes); err != nil {
				slog.Error("failed to publish sweep trigger", "height", height, "err", err)
			}
		})
		g.Go(func() error {
			slog.Info("starting websocket head listener", "url", cfg.WSURL)
			return lst.Run(ctx)
		})
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		slog.Error("service error", "err", err)
		os.Exit(1)
	}

	slog.Info("shutdown complete")
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
