package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tpolls/tpolls-api/internal/config"
	"github.com/tpolls/tpolls-api/internal/reconcile"
	"github.com/tpolls/tpolls-api/pkg/chain"
	"github.com/tpolls/tpolls-api/pkg/db/postgres"
	"github.com/tpolls/tpolls-api/pkg/db/postgres/store"
	"github.com/tpolls/tpolls-api/pkg/logging"
	"github.com/tpolls/tpolls-api/pkg/retry"
)

// sweep runs one reconciliation pass from the command line, outside the
// scheduled timers. Useful after downtime or when debugging stuck records.
func main() {
	// Parse flags
	scope := flag.String("scope", "full", "Sweep scope: full, votes, or liveness")
	dryRun := flag.Bool("dry-run", false, "Only report eligible records, don't sweep")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Load base configuration
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

	slog.Info("manual sweep starting", "scope", *scope, "dry_run", *dryRun)

	// Connect to PostgreSQL
	pgClient, err := postgres.New(ctx, zapLogger, cfg.PostgresURL, postgres.DefaultPoolConfig("sweep-cli"))
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

	if *dryRun {
		if err := reportEligible(ctx, db, *scope); err != nil {
			slog.Error("dry run failed", "err", err)
			os.Exit(1)
		}
		return
	}

	// Chain gateway
	gateway := chain.NewHTTPWithOpts(chain.Opts{
		Endpoints: cfg.ChainRPCURLs,
		RPS:       cfg.RPCRPS,
		Burst:     cfg.RPCBurst,
	})

	registrations := reconcile.NewRegistrationReconciler(db, db, db, gateway, cfg.RegistrationAttempts, retry.Policy{
		BaseDelay:  cfg.RegistrationBaseDelay,
		Multiplier: cfg.RegistrationMultiplier,
		MaxDelay:   cfg.RegistrationMaxDelay,
	})
	votes := reconcile.NewVoteReconciler(db, db, gateway, cfg.RequiredConfirmations)
	liveness := reconcile.NewLivenessReconciler(db, gateway)
	scheduler := reconcile.NewScheduler(registrations, votes, liveness, reconcile.SchedulerConfig{
		SweepTimeout: cfg.SweepTimeout,
	})

	start := time.Now()

	if err := runScoped(ctx, scheduler, *scope); err != nil {
		slog.Error("sweep failed", "scope", *scope, "err", err)
		os.Exit(1)
	}

	slog.Info("sweep complete",
		"scope", *scope,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// runScoped dispatches one sweep for the given scope.
func runScoped(ctx context.Context, s *reconcile.Scheduler, scope string) error {
	switch scope {
	case "full":
		return s.RunFullCycle(ctx)
	case "votes":
		return s.RunVoteSweep(ctx)
	case "liveness":
		return s.RunLivenessSweep(ctx)
	default:
		return fmt.Errorf("unknown scope %q", scope)
	}
}

// reportEligible prints what a sweep of the given scope would touch. The
// accepted scopes are the same set runScoped dispatches on.
func reportEligible(ctx context.Context, db *store.DB, scope string) error {
	switch scope {
	case "full", "votes", "liveness":
	default:
		return fmt.Errorf("unknown scope %q", scope)
	}

	now := time.Now().UTC()

	if scope == "full" {
		retryable, err := db.ListRetryableRegistrations(ctx, now)
		if err != nil {
			return err
		}
		counts, err := db.CountRegistrationsByStatus(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Registration attempts:\n")
		fmt.Printf("  Retryable now: %d\n", len(retryable))
		for status, n := range counts {
			fmt.Printf("  %-12s %d\n", status+":", n)
		}
		fmt.Println()
	}

	if scope == "full" || scope == "votes" {
		confirmable, err := db.ListConfirmableVotes(ctx)
		if err != nil {
			return err
		}
		counts, err := db.CountVotesByStatus(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Vote attempts:\n")
		fmt.Printf("  Confirmable now: %d\n", len(confirmable))
		for status, n := range counts {
			fmt.Printf("  %-12s %d\n", status+":", n)
		}
		fmt.Println()
	}

	if scope == "full" || scope == "liveness" {
		expired, err := db.ListExpiredActiveSnapshots(ctx, now)
		if err != nil {
			return err
		}
		fmt.Printf("Poll snapshots:\n")
		fmt.Printf("  Expired but active: %d\n", len(expired))
	}

	return nil
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
