package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tpolls/tpolls-api/pkg/chain"
	"github.com/tpolls/tpolls-api/pkg/db/models"
)

// LivenessReconciler keeps the snapshot cache's is_active flag consistent
// with wall-clock expiry. It trades a bounded staleness window (up to one
// sweep interval) for avoiding a chain read per poll per sweep.
type LivenessReconciler struct {
	snapshots SnapshotStore
	gateway   chain.Gateway

	now func() time.Time
}

// NewLivenessReconciler wires a poll liveness reconciler.
func NewLivenessReconciler(snapshots SnapshotStore, gateway chain.Gateway) *LivenessReconciler {
	return &LivenessReconciler{
		snapshots: snapshots,
		gateway:   gateway,
		now:       time.Now,
	}
}

// SweepExpired flips every active snapshot whose end time has passed to
// inactive. Pure time comparison, no chain reads; idempotent when no time
// has elapsed.
func (r *LivenessReconciler) SweepExpired(ctx context.Context) error {
	now := r.now().UTC()
	expired, err := r.snapshots.ListExpiredActiveSnapshots(ctx, now)
	if err != nil {
		return fmt.Errorf("load expired snapshots: %w", err)
	}
	if len(expired) == 0 {
		return nil
	}

	flipped := 0
	for _, snap := range expired {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		snap.IsActive = false
		snap.RefreshedAt = now
		if err := r.snapshots.UpsertSnapshot(ctx, snap); err != nil {
			slog.Error("deactivate expired poll failed",
				"chain_poll_id", snap.ChainPollID,
				"err", err,
			)
			continue
		}
		flipped++
	}

	slog.Info("liveness sweep done", "expired", len(expired), "deactivated", flipped)
	return nil
}

// RefreshSnapshot pulls one poll's current chain state into the cache. On a
// read failure the cached row is kept but marked sync_failed.
func (r *LivenessReconciler) RefreshSnapshot(ctx context.Context, chainPollID uint64) (*models.PollSnapshot, error) {
	now := r.now().UTC()

	info, err := r.gateway.GetPoll(ctx, chainPollID)
	if err != nil {
		if stale, getErr := r.snapshots.GetSnapshot(ctx, chainPollID); getErr == nil {
			stale.CacheStatus = models.CacheStatusSyncFailed
			stale.RefreshedAt = now
			if upErr := r.snapshots.UpsertSnapshot(ctx, stale); upErr != nil {
				slog.Warn("mark snapshot sync_failed failed", "chain_poll_id", chainPollID, "err", upErr)
			}
		}
		if errors.Is(err, chain.ErrPollNotFound) {
			return nil, fmt.Errorf("poll %d: %w", chainPollID, ErrNotFound)
		}
		return nil, fmt.Errorf("%w: get poll: %v", ErrChainUnavailable, err)
	}

	snap := &models.PollSnapshot{
		ChainPollID: info.ChainPollID,
		Creator:     info.Creator,
		OptionCount: info.OptionCount,
		StartTime:   info.StartTime,
		EndTime:     info.EndTime,
		IsActive:    info.IsActive,
		TotalVotes:  info.TotalVotes,
		TotalFund:   info.TotalFund,
		RewardPool:  info.RewardPool,
		CacheStatus: models.CacheStatusSynced,
		RefreshedAt: now,
	}
	if err := r.snapshots.UpsertSnapshot(ctx, snap); err != nil {
		return nil, err
	}
	return snap, nil
}
