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
	"github.com/tpolls/tpolls-api/pkg/retry"
)

// DefaultMaxRegistrationAttempts bounds automatic registration retries.
const DefaultMaxRegistrationAttempts = 3

// RegistrationReconciler drives each pending registration attempt to either
// registered/synced or a terminal failed, without ever submitting two
// concurrent on-chain registrations for the same draft.
type RegistrationReconciler struct {
	drafts    DraftStore
	attempts  RegistrationStore
	snapshots SnapshotStore
	gateway   chain.Gateway

	maxAttempts int
	policy      retry.Policy

	now func() time.Time
}

// NewRegistrationReconciler wires a registration reconciler. maxAttempts <= 0
// falls back to the default of 3.
func NewRegistrationReconciler(drafts DraftStore, attempts RegistrationStore, snapshots SnapshotStore, gateway chain.Gateway, maxAttempts int, policy retry.Policy) *RegistrationReconciler {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxRegistrationAttempts
	}
	if policy.BaseDelay <= 0 {
		policy = retry.DefaultPolicy()
	}
	return &RegistrationReconciler{
		drafts:      drafts,
		attempts:    attempts,
		snapshots:   snapshots,
		gateway:     gateway,
		maxAttempts: maxAttempts,
		policy:      policy,
		now:         time.Now,
	}
}

// RequestRegistration builds a registration write-intent for the draft and
// creates (or resets a terminally failed) attempt in `registering`. The
// returned intent is for the caller's wallet step; the reconciler never
// broadcasts.
func (r *RegistrationReconciler) RequestRegistration(ctx context.Context, draftID string) (*models.RegistrationAttempt, *chain.WriteIntent, error) {
	draft, err := r.drafts.GetDraft(ctx, draftID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, fmt.Errorf("draft %s: %w", draftID, ErrNotFound)
		}
		return nil, nil, err
	}

	// Idempotency guard: one live attempt per draft. Optimistic
	// check-then-act; registration requests are rare, human-triggered events.
	existing, err := r.attempts.ActiveRegistrationForDraft(ctx, draftID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, nil, err
	}
	if existing != nil {
		return nil, nil, fmt.Errorf("attempt %s holds draft %s: %w", existing.ID, draftID, ErrAlreadyInProgress)
	}

	intent, err := r.gateway.BuildRegistrationIntent(ctx, chain.RegistrationParams{
		Title:           draft.Subject,
		Description:     draft.Description,
		Options:         draft.Options,
		DurationSeconds: uint64(draft.DurationDays) * 86400,
		RewardPerVote:   draft.RewardPerResponse,
		FundingType:     draft.FundingType,
		TargetFund:      draft.TargetFund,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: build registration intent: %v", ErrChainUnavailable, err)
	}

	now := r.now().UTC()
	attempt := &models.RegistrationAttempt{
		ID:              uuid.NewString(),
		DraftID:         draft.ID,
		Payload:         intent.Payload,
		ContractAddress: intent.ContractAddress,
		Amount:          intent.Amount,
		SyncStatus:      models.SyncStatusRegistering,
		MaxAttempts:     r.maxAttempts,
		BaseDelayMS:     r.policy.BaseDelay.Milliseconds(),
		Multiplier:      r.policy.Multiplier,
		MaxDelayMS:      r.policy.MaxDelay.Milliseconds(),
		Errors:          []models.ErrorEntry{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := r.attempts.CreateRegistrationAttempt(ctx, attempt); err != nil {
		return nil, nil, err
	}

	slog.Info("registration requested",
		"draft_id", draft.ID,
		"attempt_id", attempt.ID,
		"contract", intent.ContractAddress,
		"amount", intent.Amount,
	)
	return attempt, intent, nil
}

// ConfirmRegistration records the caller's broadcast result: the attempt
// moves to `registered`, and the chain poll id propagates onto the owning
// draft. This is the only path by which a draft acquires a chain identifier.
func (r *RegistrationReconciler) ConfirmRegistration(ctx context.Context, attemptID, txHash string, chainPollID uint64) (*models.RegistrationAttempt, error) {
	attempt, err := r.attempts.GetRegistrationAttempt(ctx, attemptID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("attempt %s: %w", attemptID, ErrNotFound)
		}
		return nil, err
	}

	attempt.SyncStatus = models.SyncStatusRegistered
	attempt.TxHash = txHash
	if attempt.ChainPollID == nil {
		// A chain identifier, once set, is never cleared or changed.
		attempt.ChainPollID = &chainPollID
	}
	attempt.NextRetryAt = nil
	if err := r.attempts.UpdateRegistrationAttempt(ctx, attempt); err != nil {
		return nil, err
	}

	draft, err := r.drafts.GetDraft(ctx, attempt.DraftID)
	if err != nil {
		return nil, err
	}
	if draft.ChainPollID == nil {
		draft.ChainPollID = attempt.ChainPollID
	}
	draft.Status = models.DraftStatusRegistered
	if err := r.drafts.UpdateDraft(ctx, draft); err != nil {
		return nil, err
	}

	// Seed the snapshot cache so read paths and the liveness sweep know
	// about the poll before its first refresh. Best effort.
	now := r.now().UTC()
	seed := &models.PollSnapshot{
		ChainPollID: *attempt.ChainPollID,
		Creator:     draft.ID,
		OptionCount: len(draft.Options),
		StartTime:   now,
		EndTime:     now.Add(time.Duration(draft.DurationDays) * 24 * time.Hour),
		IsActive:    true,
		CacheStatus: models.CacheStatusPendingSync,
		RefreshedAt: now,
	}
	if err := r.snapshots.UpsertSnapshot(ctx, seed); err != nil {
		slog.Warn("seed poll snapshot failed",
			"chain_poll_id", *attempt.ChainPollID,
			"err", err,
		)
	}

	slog.Info("registration confirmed",
		"attempt_id", attempt.ID,
		"draft_id", draft.ID,
		"chain_poll_id", *attempt.ChainPollID,
		"tx_hash", txHash,
	)
	return attempt, nil
}

// SweepPending is the scheduled pass over attempts that are pending or failed
// with an open retry window and remaining budget, oldest first. Errors on one
// record never block the sweep of others, and each record is saved regardless
// of outcome so progress survives a crash mid-sweep.
func (r *RegistrationReconciler) SweepPending(ctx context.Context) error {
	now := r.now().UTC()
	eligible, err := r.attempts.ListRetryableRegistrations(ctx, now)
	if err != nil {
		return fmt.Errorf("load retryable registrations: %w", err)
	}
	if len(eligible) == 0 {
		return nil
	}

	start := time.Now()
	retried, exhausted, advanced := 0, 0, 0

	for _, attempt := range eligible {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		attempt.Attempts++
		ts := r.now().UTC()
		attempt.LastAttemptAt = &ts

		procErr := r.probeAttempt(ctx, attempt)
		if procErr == nil {
			attempt.NextRetryAt = nil
			advanced++
		} else {
			attempt.Errors = models.AppendError(attempt.Errors, models.ErrorKindRegistration, procErr.Error(), ts)
			attempt.SyncStatus = models.SyncStatusFailed
			if attempt.Attempts >= attempt.MaxAttempts {
				// Exhausted: no more automatic retries, operator must act.
				attempt.NextRetryAt = nil
				exhausted++
			} else {
				next := ts.Add(r.delayFor(attempt))
				attempt.NextRetryAt = &next
				retried++
			}
		}

		if err := r.attempts.UpdateRegistrationAttempt(ctx, attempt); err != nil {
			slog.Error("save registration attempt failed",
				"attempt_id", attempt.ID,
				"err", err,
			)
		}
	}

	slog.Info("registration sweep done",
		"eligible", len(eligible),
		"advanced", advanced,
		"retried", retried,
		"exhausted", exhausted,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// probeAttempt re-checks chain state for one attempt and advances it when the
// chain already knows the poll.
func (r *RegistrationReconciler) probeAttempt(ctx context.Context, attempt *models.RegistrationAttempt) error {
	live, err := r.gateway.IsContractLive(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrChainUnavailable, err)
	}
	if !live {
		return fmt.Errorf("%w: contract not live", ErrChainUnavailable)
	}

	if attempt.ChainPollID == nil {
		// Without a confirmed chain id there is nothing to verify on chain;
		// confirmation arrives through ConfirmRegistration.
		return fmt.Errorf("registration not confirmed on chain yet")
	}

	info, err := r.gateway.GetPoll(ctx, *attempt.ChainPollID)
	if err != nil {
		if errors.Is(err, chain.ErrPollNotFound) {
			return fmt.Errorf("poll %d not visible on chain yet", *attempt.ChainPollID)
		}
		return fmt.Errorf("%w: %v", ErrChainUnavailable, err)
	}

	attempt.SyncStatus = models.SyncStatusSynced
	slog.Debug("registration synced with chain",
		"attempt_id", attempt.ID,
		"chain_poll_id", info.ChainPollID,
	)
	return nil
}

// delayFor computes the attempt's next backoff delay from its persisted
// policy fields, falling back to the reconciler's policy when unset.
func (r *RegistrationReconciler) delayFor(attempt *models.RegistrationAttempt) time.Duration {
	p := retry.Policy{
		BaseDelay:  time.Duration(attempt.BaseDelayMS) * time.Millisecond,
		Multiplier: attempt.Multiplier,
		MaxDelay:   time.Duration(attempt.MaxDelayMS) * time.Millisecond,
	}
	if p.BaseDelay <= 0 {
		p = r.policy
	}
	return p.Delay(attempt.Attempts)
}
