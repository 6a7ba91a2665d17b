package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tpolls/tpolls-api/pkg/chain"
	"github.com/tpolls/tpolls-api/pkg/db/models"
	"github.com/tpolls/tpolls-api/pkg/db/postgres/store"
)

// VoteReconciler observes chain confirmation depth for submitted votes and
// advances their status. A vote is never double-counted: the (poll, voter)
// uniqueness invariant is enforced optimistically here and by the store's
// partial unique index underneath.
type VoteReconciler struct {
	votes     VoteStore
	snapshots SnapshotStore
	gateway   chain.Gateway

	requiredConfirmations uint64

	now func() time.Time
}

// NewVoteReconciler wires a vote confirmation reconciler.
// requiredConfirmations <= 0 falls back to the default of 3.
func NewVoteReconciler(votes VoteStore, snapshots SnapshotStore, gateway chain.Gateway, requiredConfirmations int) *VoteReconciler {
	if requiredConfirmations <= 0 {
		requiredConfirmations = models.DefaultRequiredConfirmations
	}
	return &VoteReconciler{
		votes:                 votes,
		snapshots:             snapshots,
		gateway:               gateway,
		requiredConfirmations: uint64(requiredConfirmations),
		now:                   time.Now,
	}
}

// SubmitVote validates the option index against the poll, enforces the
// one-live-vote-per-voter invariant, builds a vote write-intent, and creates
// the attempt in `pending`. The caller's wallet signs and broadcasts.
func (r *VoteReconciler) SubmitVote(ctx context.Context, chainPollID uint64, optionIndex int, voter string) (*models.VoteAttempt, *chain.WriteIntent, error) {
	if voter == "" {
		return nil, nil, fmt.Errorf("empty voter: %w", ErrInvalidVoter)
	}

	optionCount, err := r.optionCount(ctx, chainPollID)
	if err != nil {
		return nil, nil, err
	}
	if optionIndex < 0 || optionIndex >= optionCount {
		return nil, nil, fmt.Errorf("option %d of %d: %w", optionIndex, optionCount, ErrInvalidOption)
	}

	// Optimistic duplicate check; the store's unique index closes the race.
	existing, err := r.votes.LiveVoteForVoter(ctx, chainPollID, voter)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, nil, err
	}
	if existing != nil {
		return nil, nil, fmt.Errorf("vote %s live for poll %d: %w", existing.ID, chainPollID, ErrDuplicateVote)
	}

	intent, err := r.gateway.BuildVoteIntent(ctx, chainPollID, optionIndex)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: build vote intent: %v", ErrChainUnavailable, err)
	}

	now := r.now().UTC()
	vote := &models.VoteAttempt{
		ID:                    uuid.NewString(),
		ChainPollID:           chainPollID,
		Voter:                 voter,
		OptionIndex:           optionIndex,
		Status:                models.VoteStatusPending,
		RequiredConfirmations: r.requiredConfirmations,
		Errors:                []models.ErrorEntry{},
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := r.votes.CreateVoteAttempt(ctx, vote); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			return nil, nil, fmt.Errorf("poll %d voter %s: %w", chainPollID, voter, ErrDuplicateVote)
		}
		return nil, nil, err
	}

	slog.Info("vote submitted",
		"vote_id", vote.ID,
		"chain_poll_id", chainPollID,
		"option", optionIndex,
	)
	return vote, intent, nil
}

// RecordSubmission attaches the caller-reported transaction hash; without it
// the confirmation sweep never picks the vote up.
func (r *VoteReconciler) RecordSubmission(ctx context.Context, voteID, txHash string) (*models.VoteAttempt, error) {
	vote, err := r.votes.GetVoteAttempt(ctx, voteID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("vote %s: %w", voteID, ErrNotFound)
		}
		return nil, err
	}

	now := r.now().UTC()
	vote.TxHash = txHash
	vote.SubmittedAt = &now
	if err := r.votes.UpdateVoteAttempt(ctx, vote); err != nil {
		return nil, err
	}

	slog.Info("vote submission recorded", "vote_id", vote.ID, "tx_hash", txHash)
	return vote, nil
}

// SweepConfirmations is the scheduled pass over pending votes that have a
// transaction hash and fewer than the required confirmations. Gateway
// failures for one vote are logged onto that record and do not interrupt the
// sweep for others.
func (r *VoteReconciler) SweepConfirmations(ctx context.Context) error {
	eligible, err := r.votes.ListConfirmableVotes(ctx)
	if err != nil {
		return fmt.Errorf("load confirmable votes: %w", err)
	}
	if len(eligible) == 0 {
		return nil
	}

	start := time.Now()
	confirmed, counted := 0, 0

	for _, vote := range eligible {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		advancedTo, procErr := r.confirmVote(ctx, vote)
		if procErr != nil {
			vote.Errors = models.AppendError(vote.Errors, models.ErrorKindVote, procErr.Error(), r.now().UTC())
		}
		switch advancedTo {
		case models.VoteStatusConfirmed:
			confirmed++
		case models.VoteStatusCounted:
			confirmed++
			counted++
		}

		if err := r.votes.UpdateVoteAttempt(ctx, vote); err != nil {
			slog.Error("save vote attempt failed", "vote_id", vote.ID, "err", err)
		}
	}

	slog.Info("vote confirmation sweep done",
		"eligible", len(eligible),
		"confirmed", confirmed,
		"counted", counted,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// confirmVote observes confirmation depth for one vote and advances it in
// place. Returns the status it advanced to, if any.
func (r *VoteReconciler) confirmVote(ctx context.Context, vote *models.VoteAttempt) (string, error) {
	txHeight, err := r.gateway.GetTransactionHeight(ctx, vote.TxHash)
	if err != nil {
		if errors.Is(err, chain.ErrTxPending) {
			// Not included in a block yet; nothing to advance.
			return "", nil
		}
		return "", fmt.Errorf("%w: tx height: %v", ErrChainUnavailable, err)
	}

	head, err := r.gateway.GetChainHeadHeight(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: chain head: %v", ErrChainUnavailable, err)
	}

	// Confirmation depth; never decreased while pending/confirmed.
	if head >= txHeight {
		if depth := head - txHeight + 1; depth > vote.Confirmations {
			vote.Confirmations = depth
		}
	}

	if vote.Confirmations < vote.RequiredConfirmations {
		return "", nil
	}

	now := r.now().UTC()
	vote.Status = models.VoteStatusConfirmed
	vote.ConfirmedAt = &now

	// A confirmed vote on a poll that still accepts tallies counts
	// immediately.
	if r.pollAcceptsTallies(ctx, vote.ChainPollID, now) {
		vote.Status = models.VoteStatusCounted
		return models.VoteStatusCounted, nil
	}
	return models.VoteStatusConfirmed, nil
}

// pollAcceptsTallies checks the snapshot cache (chain on miss) for whether
// the poll's voting window is still open.
func (r *VoteReconciler) pollAcceptsTallies(ctx context.Context, chainPollID uint64, now time.Time) bool {
	snap, err := r.snapshots.GetSnapshot(ctx, chainPollID)
	if err == nil {
		return snap.IsActive && !snap.Expired(now)
	}

	info, err := r.gateway.GetPoll(ctx, chainPollID)
	if err != nil {
		slog.Warn("poll tally check failed", "chain_poll_id", chainPollID, "err", err)
		return false
	}
	return info.IsActive && info.EndTime.After(now)
}

// optionCount resolves the poll's option count, preferring the snapshot
// cache and refreshing it from the chain on a miss.
func (r *VoteReconciler) optionCount(ctx context.Context, chainPollID uint64) (int, error) {
	snap, err := r.snapshots.GetSnapshot(ctx, chainPollID)
	if err == nil && snap.OptionCount > 0 {
		return snap.OptionCount, nil
	}

	info, err := r.gateway.GetPoll(ctx, chainPollID)
	if err != nil {
		if errors.Is(err, chain.ErrPollNotFound) {
			return 0, fmt.Errorf("poll %d: %w", chainPollID, ErrNotFound)
		}
		return 0, fmt.Errorf("%w: get poll: %v", ErrChainUnavailable, err)
	}

	now := r.now().UTC()
	if err := r.snapshots.UpsertSnapshot(ctx, &models.PollSnapshot{
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
	}); err != nil {
		slog.Warn("snapshot refresh failed", "chain_poll_id", chainPollID, "err", err)
	}
	return info.OptionCount, nil
}
