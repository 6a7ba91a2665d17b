package reconcile

import (
	"context"
	"time"

	"github.com/tpolls/tpolls-api/pkg/db/models"
)

// DraftStore is the slice of the record store the reconcilers need for
// drafts. *store.DB satisfies it.
type DraftStore interface {
	GetDraft(ctx context.Context, id string) (*models.Draft, error)
	UpdateDraft(ctx context.Context, d *models.Draft) error
}

// RegistrationStore is the slice of the record store covering registration
// attempts.
type RegistrationStore interface {
	CreateRegistrationAttempt(ctx context.Context, a *models.RegistrationAttempt) error
	GetRegistrationAttempt(ctx context.Context, id string) (*models.RegistrationAttempt, error)
	ActiveRegistrationForDraft(ctx context.Context, draftID string) (*models.RegistrationAttempt, error)
	ListRetryableRegistrations(ctx context.Context, now time.Time) ([]*models.RegistrationAttempt, error)
	UpdateRegistrationAttempt(ctx context.Context, a *models.RegistrationAttempt) error
}

// VoteStore is the slice of the record store covering vote attempts.
type VoteStore interface {
	CreateVoteAttempt(ctx context.Context, v *models.VoteAttempt) error
	GetVoteAttempt(ctx context.Context, id string) (*models.VoteAttempt, error)
	LiveVoteForVoter(ctx context.Context, chainPollID uint64, voter string) (*models.VoteAttempt, error)
	ListConfirmableVotes(ctx context.Context) ([]*models.VoteAttempt, error)
	UpdateVoteAttempt(ctx context.Context, v *models.VoteAttempt) error
}

// SnapshotStore is the slice of the record store covering the poll snapshot
// cache.
type SnapshotStore interface {
	UpsertSnapshot(ctx context.Context, s *models.PollSnapshot) error
	GetSnapshot(ctx context.Context, chainPollID uint64) (*models.PollSnapshot, error)
	ListExpiredActiveSnapshots(ctx context.Context, now time.Time) ([]*models.PollSnapshot, error)
}
