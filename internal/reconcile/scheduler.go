package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// SchedulerConfig sets the two sweep periods. The vote sweep runs on its own
// shorter timer but honors the same overlap guard as the full cycle.
type SchedulerConfig struct {
	FullCycleInterval time.Duration // default 10m
	VoteSweepInterval time.Duration // default 2m
	SweepTimeout      time.Duration // bound on one cycle, default 5m
}

// Scheduler drives the three reconcilers on independent cron timers with a
// single process-wide running guard: an overlapping tick is skipped, not
// queued, so backlog cannot compound into concurrent duplicate work.
type Scheduler struct {
	registrations *RegistrationReconciler
	votes         *VoteReconciler
	liveness      *LivenessReconciler

	cron    *cron.Cron
	cfg     SchedulerConfig
	running atomic.Bool
}

// NewScheduler wires the scheduler. Zero-value intervals fall back to the
// defaults.
func NewScheduler(registrations *RegistrationReconciler, votes *VoteReconciler, liveness *LivenessReconciler, cfg SchedulerConfig) *Scheduler {
	if cfg.FullCycleInterval <= 0 {
		cfg.FullCycleInterval = 10 * time.Minute
	}
	if cfg.VoteSweepInterval <= 0 {
		cfg.VoteSweepInterval = 2 * time.Minute
	}
	if cfg.SweepTimeout <= 0 {
		cfg.SweepTimeout = 5 * time.Minute
	}
	return &Scheduler{
		registrations: registrations,
		votes:         votes,
		liveness:      liveness,
		cfg:           cfg,
	}
}

// Start registers the cron entries and begins firing them. Sweeps run on the
// given base context, bounded per cycle by SweepTimeout.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.cron != nil {
		return fmt.Errorf("scheduler already started")
	}

	s.cron = cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cron.DefaultLogger)))

	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.cfg.FullCycleInterval), func() {
		s.tick(ctx, "full", s.RunFullCycle)
	})
	if err != nil {
		return fmt.Errorf("schedule full cycle: %w", err)
	}

	_, err = s.cron.AddFunc(fmt.Sprintf("@every %s", s.cfg.VoteSweepInterval), func() {
		s.tick(ctx, "votes", s.RunVoteSweep)
	})
	if err != nil {
		return fmt.Errorf("schedule vote sweep: %w", err)
	}

	s.cron.Start()
	slog.Info("reconciler scheduler started",
		"full_cycle_interval", s.cfg.FullCycleInterval,
		"vote_sweep_interval", s.cfg.VoteSweepInterval,
	)
	return nil
}

// Stop cancels future timer firings. An in-flight sweep runs to completion;
// the returned context is done once it has.
func (s *Scheduler) Stop() context.Context {
	if s.cron == nil {
		done, cancel := context.WithCancel(context.Background())
		cancel()
		return done
	}
	slog.Info("reconciler scheduler stopping")
	return s.cron.Stop()
}

func (s *Scheduler) tick(ctx context.Context, scope string, run func(context.Context) error) {
	tctx, cancel := context.WithTimeout(ctx, s.cfg.SweepTimeout)
	defer cancel()

	if err := run(tctx); err != nil {
		if err == ErrSweepRunning {
			slog.Debug("sweep tick skipped, previous cycle still running", "scope", scope)
			return
		}
		slog.Error("sweep cycle error", "scope", scope, "err", err)
	}
}

// RunFullCycle runs the registration, liveness, and vote sweeps once,
// sequentially. Returns ErrSweepRunning when a cycle is already executing.
func (s *Scheduler) RunFullCycle(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrSweepRunning
	}
	defer s.running.Store(false)

	start := time.Now()

	if err := s.registrations.SweepPending(ctx); err != nil {
		slog.Error("registration sweep failed", "err", err)
	}
	if err := s.liveness.SweepExpired(ctx); err != nil {
		slog.Error("liveness sweep failed", "err", err)
	}
	if err := s.votes.SweepConfirmations(ctx); err != nil {
		slog.Error("vote confirmation sweep failed", "err", err)
	}

	slog.Info("full sync cycle done", "duration_ms", time.Since(start).Milliseconds())
	return nil
}

// RunVoteSweep runs only the vote confirmation sweep, under the same guard
// as the full cycle.
func (s *Scheduler) RunVoteSweep(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrSweepRunning
	}
	defer s.running.Store(false)

	return s.votes.SweepConfirmations(ctx)
}

// RunLivenessSweep runs only the poll liveness sweep, under the same guard.
func (s *Scheduler) RunLivenessSweep(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrSweepRunning
	}
	defer s.running.Store(false)

	return s.liveness.SweepExpired(ctx)
}
