package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tpolls/tpolls-api/pkg/db/models"
	"github.com/tpolls/tpolls-api/pkg/retry"
)

func testDraft() *models.Draft {
	now := time.Now().UTC()
	return &models.Draft{
		ID:                uuid.NewString(),
		Subject:           "Best release day",
		Description:       "Pick a day",
		Options:           []string{"A", "B"},
		MaxResponses:      100,
		RewardPerResponse: 5,
		DurationDays:      7,
		FundingType:       models.FundingSelf,
		DistributionMode:  models.DistributionFixed,
		TargetFund:        500,
		Status:            models.DraftStatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func newRegistrationFixture() (*RegistrationReconciler, *memStore, *fakeGateway) {
	ms := newMemStore()
	gw := newFakeGateway()
	r := NewRegistrationReconciler(ms, ms, ms, gw, 3, retry.DefaultPolicy())
	return r, ms, gw
}

func TestRequestRegistration(t *testing.T) {
	ctx := context.Background()
	r, ms, _ := newRegistrationFixture()

	draft := testDraft()
	ms.putDraft(draft)

	attempt, intent, err := r.RequestRegistration(ctx, draft.ID)
	require.NoError(t, err)
	require.NotNil(t, intent)

	assert.Equal(t, models.SyncStatusRegistering, attempt.SyncStatus)
	assert.Equal(t, draft.ID, attempt.DraftID)
	assert.Equal(t, intent.Payload, attempt.Payload)
	assert.Equal(t, "0xcontract", attempt.ContractAddress)
	assert.Equal(t, uint64(500), attempt.Amount)
	assert.Zero(t, attempt.Attempts)
	assert.Nil(t, attempt.NextRetryAt)
}

func TestRequestRegistrationUnknownDraft(t *testing.T) {
	r, _, _ := newRegistrationFixture()

	_, _, err := r.RequestRegistration(context.Background(), "no-such-draft")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRequestRegistrationAlreadyInProgress(t *testing.T) {
	ctx := context.Background()
	r, ms, _ := newRegistrationFixture()

	draft := testDraft()
	ms.putDraft(draft)

	_, _, err := r.RequestRegistration(ctx, draft.ID)
	require.NoError(t, err)

	_, _, err = r.RequestRegistration(ctx, draft.ID)
	assert.ErrorIs(t, err, ErrAlreadyInProgress)
}

func TestRequestRegistrationAfterTerminalFailure(t *testing.T) {
	ctx := context.Background()
	r, ms, _ := newRegistrationFixture()

	draft := testDraft()
	ms.putDraft(draft)

	attempt, _, err := r.RequestRegistration(ctx, draft.ID)
	require.NoError(t, err)

	// Exhaust the first attempt; a failed attempt no longer blocks a new one.
	attempt.SyncStatus = models.SyncStatusFailed
	attempt.Attempts = attempt.MaxAttempts
	require.NoError(t, ms.UpdateRegistrationAttempt(ctx, attempt))

	second, _, err := r.RequestRegistration(ctx, draft.ID)
	require.NoError(t, err)
	assert.NotEqual(t, attempt.ID, second.ID)
}

func TestConfirmRegistration(t *testing.T) {
	ctx := context.Background()
	r, ms, _ := newRegistrationFixture()

	draft := testDraft()
	ms.putDraft(draft)

	attempt, _, err := r.RequestRegistration(ctx, draft.ID)
	require.NoError(t, err)

	confirmed, err := r.ConfirmRegistration(ctx, attempt.ID, "0xabc", 7)
	require.NoError(t, err)

	assert.Equal(t, models.SyncStatusRegistered, confirmed.SyncStatus)
	assert.Equal(t, "0xabc", confirmed.TxHash)
	require.NotNil(t, confirmed.ChainPollID)
	assert.Equal(t, uint64(7), *confirmed.ChainPollID)

	// Chain id propagates onto the owning draft.
	got, err := ms.GetDraft(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DraftStatusRegistered, got.Status)
	require.NotNil(t, got.ChainPollID)
	assert.Equal(t, uint64(7), *got.ChainPollID)

	// The snapshot cache is seeded for the new poll.
	snap, err := ms.GetSnapshot(ctx, 7)
	require.NoError(t, err)
	assert.True(t, snap.IsActive)
	assert.Equal(t, 2, snap.OptionCount)
	assert.Equal(t, models.CacheStatusPendingSync, snap.CacheStatus)
}

func TestConfirmRegistrationUnknownAttempt(t *testing.T) {
	r, _, _ := newRegistrationFixture()

	_, err := r.ConfirmRegistration(context.Background(), "no-such-attempt", "0xabc", 7)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConfirmRegistrationChainIDWriteOnce(t *testing.T) {
	ctx := context.Background()
	r, ms, _ := newRegistrationFixture()

	draft := testDraft()
	ms.putDraft(draft)

	attempt, _, err := r.RequestRegistration(ctx, draft.ID)
	require.NoError(t, err)

	_, err = r.ConfirmRegistration(ctx, attempt.ID, "0xabc", 7)
	require.NoError(t, err)

	// A second confirm with a different id must not rewrite the chain id.
	confirmed, err := r.ConfirmRegistration(ctx, attempt.ID, "0xdef", 99)
	require.NoError(t, err)
	require.NotNil(t, confirmed.ChainPollID)
	assert.Equal(t, uint64(7), *confirmed.ChainPollID)
}

func TestSweepPendingBacksOff(t *testing.T) {
	ctx := context.Background()
	r, ms, gw := newRegistrationFixture()
	gw.contractErr = errors.New("connection refused")

	draft := testDraft()
	ms.putDraft(draft)

	now := time.Now().UTC()
	attempt := &models.RegistrationAttempt{
		ID:          uuid.NewString(),
		DraftID:     draft.ID,
		SyncStatus:  models.SyncStatusPending,
		MaxAttempts: 3,
		BaseDelayMS: 60_000,
		Multiplier:  2.0,
		MaxDelayMS:  3_600_000,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, ms.CreateRegistrationAttempt(ctx, attempt))

	require.NoError(t, r.SweepPending(ctx))

	got, err := ms.GetRegistrationAttempt(ctx, attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, models.SyncStatusFailed, got.SyncStatus)
	require.NotNil(t, got.NextRetryAt)
	assert.True(t, got.NextRetryAt.After(now), "next retry must be in the future")
	require.NotEmpty(t, got.Errors)
	assert.Equal(t, models.ErrorKindRegistration, got.Errors[0].Kind)

	// Backoff monotonicity: force a second failing pass and compare.
	firstRetry := *got.NextRetryAt
	got.NextRetryAt = nil
	require.NoError(t, ms.UpdateRegistrationAttempt(ctx, got))

	require.NoError(t, r.SweepPending(ctx))

	got, err = ms.GetRegistrationAttempt(ctx, attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Attempts)
	require.NotNil(t, got.NextRetryAt)
	assert.False(t, got.NextRetryAt.Before(firstRetry), "second retry may not be earlier than the first")
}

func TestSweepPendingExhausts(t *testing.T) {
	ctx := context.Background()
	r, ms, gw := newRegistrationFixture()
	gw.contractErr = errors.New("connection refused")

	draft := testDraft()
	ms.putDraft(draft)

	now := time.Now().UTC()
	attempt := &models.RegistrationAttempt{
		ID:          uuid.NewString(),
		DraftID:     draft.ID,
		SyncStatus:  models.SyncStatusFailed,
		Attempts:    2,
		MaxAttempts: 3,
		BaseDelayMS: 60_000,
		Multiplier:  2.0,
		MaxDelayMS:  3_600_000,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, ms.CreateRegistrationAttempt(ctx, attempt))

	require.NoError(t, r.SweepPending(ctx))

	got, err := ms.GetRegistrationAttempt(ctx, attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Attempts)
	assert.Equal(t, models.SyncStatusFailed, got.SyncStatus)
	assert.Nil(t, got.NextRetryAt, "exhausted attempts carry no retry time")

	// Exhausted attempts are no longer eligible; a further sweep must not
	// touch the record.
	require.NoError(t, r.SweepPending(ctx))
	after, err := ms.GetRegistrationAttempt(ctx, attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, after.Attempts)
}

func TestSweepPendingAdvancesSyncedAttempt(t *testing.T) {
	ctx := context.Background()
	r, ms, gw := newRegistrationFixture()

	draft := testDraft()
	ms.putDraft(draft)

	pollID := uint64(7)
	gw.polls[pollID] = activePoll(pollID, 2, time.Hour)

	now := time.Now().UTC()
	attempt := &models.RegistrationAttempt{
		ID:          uuid.NewString(),
		DraftID:     draft.ID,
		ChainPollID: &pollID,
		SyncStatus:  models.SyncStatusFailed,
		Attempts:    1,
		MaxAttempts: 3,
		BaseDelayMS: 60_000,
		Multiplier:  2.0,
		MaxDelayMS:  3_600_000,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, ms.CreateRegistrationAttempt(ctx, attempt))

	require.NoError(t, r.SweepPending(ctx))

	got, err := ms.GetRegistrationAttempt(ctx, attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusSynced, got.SyncStatus)
	assert.Nil(t, got.NextRetryAt)
}

func TestSweepPendingOneFailureDoesNotBlockOthers(t *testing.T) {
	ctx := context.Background()
	r, ms, gw := newRegistrationFixture()

	pollID := uint64(7)
	gw.polls[pollID] = activePoll(pollID, 2, time.Hour)

	base := time.Now().UTC().Add(-time.Minute)
	for i, withChainID := range []bool{false, true} {
		draft := testDraft()
		ms.putDraft(draft)
		attempt := &models.RegistrationAttempt{
			ID:          uuid.NewString(),
			DraftID:     draft.ID,
			SyncStatus:  models.SyncStatusPending,
			MaxAttempts: 3,
			BaseDelayMS: 60_000,
			Multiplier:  2.0,
			MaxDelayMS:  3_600_000,
			CreatedAt:   base.Add(time.Duration(i) * time.Second),
			UpdatedAt:   base,
		}
		if withChainID {
			attempt.ChainPollID = &pollID
		}
		require.NoError(t, ms.CreateRegistrationAttempt(ctx, attempt))
	}

	// The first record (no chain id) fails its probe; the second still
	// advances to synced in the same sweep.
	require.NoError(t, r.SweepPending(ctx))

	synced := 0
	failed := 0
	for id := range ms.registrations {
		got, err := ms.GetRegistrationAttempt(ctx, id)
		require.NoError(t, err)
		switch got.SyncStatus {
		case models.SyncStatusSynced:
			synced++
		case models.SyncStatusFailed:
			failed++
		}
	}
	assert.Equal(t, 1, synced)
	assert.Equal(t, 1, failed)
}
