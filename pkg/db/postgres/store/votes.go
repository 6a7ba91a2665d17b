package store

import (
	"context"
	"fmt"
	"time"

	"github.com/tpolls/tpolls-api/pkg/db/models"
)

// initVoteAttempts creates the vote_attempts table. The partial unique index
// is the correctness backstop for the one-live-vote-per-(poll, voter)
// invariant: two near-simultaneous submissions can both pass the optimistic
// existence check, but only one insert survives.
func (db *DB) initVoteAttempts(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS vote_attempts (
			id TEXT PRIMARY KEY,
			chain_poll_id BIGINT NOT NULL,
			voter TEXT NOT NULL,
			option_index INT NOT NULL,
			tx_hash TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			confirmations BIGINT NOT NULL DEFAULT 0,
			required_confirmations BIGINT NOT NULL DEFAULT 3,
			errors JSONB NOT NULL DEFAULT '[]',
			submitted_at TIMESTAMP WITH TIME ZONE,
			confirmed_at TIMESTAMP WITH TIME ZONE,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_vote_attempts_live_voter
			ON vote_attempts(chain_poll_id, voter)
			WHERE status IN ('pending', 'confirmed', 'counted', 'rewarded');

		CREATE INDEX IF NOT EXISTS idx_vote_attempts_sweep ON vote_attempts(status, tx_hash);
	`
	return db.Exec(ctx, query)
}

const voteColumns = `
	id, chain_poll_id, voter, option_index, tx_hash, status,
	confirmations, required_confirmations, errors,
	submitted_at, confirmed_at, created_at, updated_at
`

func scanVote(row interface{ Scan(...any) error }) (*models.VoteAttempt, error) {
	var v models.VoteAttempt
	err := row.Scan(
		&v.ID, &v.ChainPollID, &v.Voter, &v.OptionIndex, &v.TxHash, &v.Status,
		&v.Confirmations, &v.RequiredConfirmations, &v.Errors,
		&v.SubmittedAt, &v.ConfirmedAt, &v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// CreateVoteAttempt inserts a new attempt. Returns ErrDuplicateKey when the
// (poll, voter) live-vote index rejects the insert.
func (db *DB) CreateVoteAttempt(ctx context.Context, v *models.VoteAttempt) error {
	query := `
		INSERT INTO vote_attempts (
			id, chain_poll_id, voter, option_index, tx_hash, status,
			confirmations, required_confirmations, errors,
			submitted_at, confirmed_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	err := db.Exec(ctx, query,
		v.ID, v.ChainPollID, v.Voter, v.OptionIndex, v.TxHash, v.Status,
		v.Confirmations, v.RequiredConfirmations, v.Errors,
		v.SubmittedAt, v.ConfirmedAt, v.CreatedAt, v.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("vote for poll %d by %s: %w", v.ChainPollID, v.Voter, ErrDuplicateKey)
		}
		return fmt.Errorf("insert vote attempt %s: %w", v.ID, err)
	}
	return nil
}

// GetVoteAttempt returns the attempt for the given id, or ErrNotFound.
func (db *DB) GetVoteAttempt(ctx context.Context, id string) (*models.VoteAttempt, error) {
	query := `SELECT ` + voteColumns + ` FROM vote_attempts WHERE id = $1`
	v, err := scanVote(db.QueryRow(ctx, query, id))
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("vote attempt %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("query vote attempt %s: %w", id, err)
	}
	return v, nil
}

// LiveVoteForVoter returns the live-status attempt for (poll, voter), or
// ErrNotFound.
func (db *DB) LiveVoteForVoter(ctx context.Context, chainPollID uint64, voter string) (*models.VoteAttempt, error) {
	query := `
		SELECT ` + voteColumns + `
		FROM vote_attempts
		WHERE chain_poll_id = $1 AND voter = $2
			AND status IN ('pending', 'confirmed', 'counted', 'rewarded')
		LIMIT 1
	`
	v, err := scanVote(db.QueryRow(ctx, query, chainPollID, voter))
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("live vote for poll %d by %s: %w", chainPollID, voter, ErrNotFound)
		}
		return nil, fmt.Errorf("query live vote for poll %d by %s: %w", chainPollID, voter, err)
	}
	return v, nil
}

// ListConfirmableVotes returns pending attempts that have a transaction hash
// and fewer than the required confirmations. Oldest first.
func (db *DB) ListConfirmableVotes(ctx context.Context) ([]*models.VoteAttempt, error) {
	query := `
		SELECT ` + voteColumns + `
		FROM vote_attempts
		WHERE status = 'pending'
			AND tx_hash <> ''
			AND confirmations < required_confirmations
		ORDER BY created_at ASC
	`
	rows, err := db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list confirmable votes: %w", err)
	}
	defer rows.Close()

	var votes []*models.VoteAttempt
	for rows.Next() {
		v, err := scanVote(rows)
		if err != nil {
			return nil, err
		}
		votes = append(votes, v)
	}
	return votes, rows.Err()
}

// UpdateVoteAttempt rewrites the mutable fields of an attempt.
func (db *DB) UpdateVoteAttempt(ctx context.Context, v *models.VoteAttempt) error {
	v.UpdatedAt = time.Now().UTC()
	query := `
		UPDATE vote_attempts SET
			tx_hash = $2, status = $3, confirmations = $4, errors = $5,
			submitted_at = $6, confirmed_at = $7, updated_at = $8
		WHERE id = $1
	`
	err := db.Exec(ctx, query,
		v.ID, v.TxHash, v.Status, v.Confirmations, v.Errors,
		v.SubmittedAt, v.ConfirmedAt, v.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update vote attempt %s: %w", v.ID, err)
	}
	return nil
}

// CountVotesByStatus returns the aggregate count per vote status.
func (db *DB) CountVotesByStatus(ctx context.Context) (map[string]int64, error) {
	query := `SELECT status, COUNT(*) FROM vote_attempts GROUP BY status`
	rows, err := db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("count votes by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
