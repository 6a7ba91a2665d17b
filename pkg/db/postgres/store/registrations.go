package store

import (
	"context"
	"fmt"
	"time"

	"github.com/tpolls/tpolls-api/pkg/db/models"
)

// initRegistrationAttempts creates the registration_attempts table.
func (db *DB) initRegistrationAttempts(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS registration_attempts (
			id TEXT PRIMARY KEY,
			draft_id TEXT NOT NULL REFERENCES drafts(id),
			chain_poll_id BIGINT,
			tx_hash TEXT NOT NULL DEFAULT '',
			payload TEXT NOT NULL DEFAULT '',
			contract_address TEXT NOT NULL DEFAULT '',
			amount BIGINT NOT NULL DEFAULT 0,
			sync_status TEXT NOT NULL DEFAULT 'pending',
			attempts INT NOT NULL DEFAULT 0,
			max_attempts INT NOT NULL DEFAULT 3,
			last_attempt_at TIMESTAMP WITH TIME ZONE,
			next_retry_at TIMESTAMP WITH TIME ZONE,
			base_delay_ms BIGINT NOT NULL DEFAULT 60000,
			multiplier DOUBLE PRECISION NOT NULL DEFAULT 2.0,
			max_delay_ms BIGINT NOT NULL DEFAULT 3600000,
			errors JSONB NOT NULL DEFAULT '[]',
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_registration_attempts_draft ON registration_attempts(draft_id);
		CREATE INDEX IF NOT EXISTS idx_registration_attempts_sweep ON registration_attempts(sync_status, next_retry_at);
	`
	return db.Exec(ctx, query)
}

const registrationColumns = `
	id, draft_id, chain_poll_id, tx_hash, payload, contract_address, amount,
	sync_status, attempts, max_attempts, last_attempt_at, next_retry_at,
	base_delay_ms, multiplier, max_delay_ms, errors, created_at, updated_at
`

func scanRegistration(row interface{ Scan(...any) error }) (*models.RegistrationAttempt, error) {
	var a models.RegistrationAttempt
	err := row.Scan(
		&a.ID, &a.DraftID, &a.ChainPollID, &a.TxHash, &a.Payload, &a.ContractAddress, &a.Amount,
		&a.SyncStatus, &a.Attempts, &a.MaxAttempts, &a.LastAttemptAt, &a.NextRetryAt,
		&a.BaseDelayMS, &a.Multiplier, &a.MaxDelayMS, &a.Errors, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateRegistrationAttempt inserts a new attempt.
func (db *DB) CreateRegistrationAttempt(ctx context.Context, a *models.RegistrationAttempt) error {
	query := `
		INSERT INTO registration_attempts (
			id, draft_id, chain_poll_id, tx_hash, payload, contract_address, amount,
			sync_status, attempts, max_attempts, last_attempt_at, next_retry_at,
			base_delay_ms, multiplier, max_delay_ms, errors, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`
	err := db.Exec(ctx, query,
		a.ID, a.DraftID, a.ChainPollID, a.TxHash, a.Payload, a.ContractAddress, a.Amount,
		a.SyncStatus, a.Attempts, a.MaxAttempts, a.LastAttemptAt, a.NextRetryAt,
		a.BaseDelayMS, a.Multiplier, a.MaxDelayMS, a.Errors, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert registration attempt %s: %w", a.ID, err)
	}
	return nil
}

// GetRegistrationAttempt returns the attempt for the given id, or ErrNotFound.
func (db *DB) GetRegistrationAttempt(ctx context.Context, id string) (*models.RegistrationAttempt, error) {
	query := `SELECT ` + registrationColumns + ` FROM registration_attempts WHERE id = $1`
	a, err := scanRegistration(db.QueryRow(ctx, query, id))
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("registration attempt %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("query registration attempt %s: %w", id, err)
	}
	return a, nil
}

// ActiveRegistrationForDraft returns the non-failed, non-cancelled attempt
// referencing the draft, or ErrNotFound if none blocks a new request.
func (db *DB) ActiveRegistrationForDraft(ctx context.Context, draftID string) (*models.RegistrationAttempt, error) {
	query := `
		SELECT ` + registrationColumns + `
		FROM registration_attempts
		WHERE draft_id = $1 AND sync_status NOT IN ('failed', 'cancelled')
		ORDER BY created_at DESC
		LIMIT 1
	`
	a, err := scanRegistration(db.QueryRow(ctx, query, draftID))
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("active registration for draft %s: %w", draftID, ErrNotFound)
		}
		return nil, fmt.Errorf("query active registration for draft %s: %w", draftID, err)
	}
	return a, nil
}

// ListRetryableRegistrations returns attempts eligible for the sweep: status
// pending or failed, retry window open, retry budget remaining. Oldest first.
func (db *DB) ListRetryableRegistrations(ctx context.Context, now time.Time) ([]*models.RegistrationAttempt, error) {
	query := `
		SELECT ` + registrationColumns + `
		FROM registration_attempts
		WHERE sync_status IN ('pending', 'failed')
			AND (next_retry_at IS NULL OR next_retry_at <= $1)
			AND attempts < max_attempts
		ORDER BY created_at ASC
	`
	rows, err := db.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("list retryable registrations: %w", err)
	}
	defer rows.Close()

	var attempts []*models.RegistrationAttempt
	for rows.Next() {
		a, err := scanRegistration(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// UpdateRegistrationAttempt rewrites the mutable fields of an attempt.
func (db *DB) UpdateRegistrationAttempt(ctx context.Context, a *models.RegistrationAttempt) error {
	a.UpdatedAt = time.Now().UTC()
	query := `
		UPDATE registration_attempts SET
			chain_poll_id = $2, tx_hash = $3, payload = $4, contract_address = $5,
			amount = $6, sync_status = $7, attempts = $8, max_attempts = $9,
			last_attempt_at = $10, next_retry_at = $11, errors = $12, updated_at = $13
		WHERE id = $1
	`
	err := db.Exec(ctx, query,
		a.ID, a.ChainPollID, a.TxHash, a.Payload, a.ContractAddress,
		a.Amount, a.SyncStatus, a.Attempts, a.MaxAttempts,
		a.LastAttemptAt, a.NextRetryAt, a.Errors, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update registration attempt %s: %w", a.ID, err)
	}
	return nil
}

// CountRegistrationsByStatus returns the aggregate count per sync status.
func (db *DB) CountRegistrationsByStatus(ctx context.Context) (map[string]int64, error) {
	query := `SELECT sync_status, COUNT(*) FROM registration_attempts GROUP BY sync_status`
	rows, err := db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("count registrations by status: %w", err)
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
