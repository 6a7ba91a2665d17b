package store

import (
	"context"
	"fmt"
	"time"

	"github.com/tpolls/tpolls-api/pkg/db/models"
)

// initDrafts creates the drafts table.
func (db *DB) initDrafts(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS drafts (
			id TEXT PRIMARY KEY,
			subject TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			options TEXT[] NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			max_responses BIGINT NOT NULL DEFAULT 0,
			reward_per_response BIGINT NOT NULL DEFAULT 0,
			duration_days INT NOT NULL DEFAULT 0,
			funding_type TEXT NOT NULL DEFAULT '',
			distribution_mode TEXT NOT NULL DEFAULT '',
			target_fund BIGINT NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'pending',
			chain_poll_id BIGINT,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_drafts_status ON drafts(status);
	`
	return db.Exec(ctx, query)
}

// CreateDraft inserts a new draft.
func (db *DB) CreateDraft(ctx context.Context, d *models.Draft) error {
	query := `
		INSERT INTO drafts (
			id, subject, description, options, category,
			max_responses, reward_per_response, duration_days,
			funding_type, distribution_mode, target_fund,
			status, chain_poll_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	err := db.Exec(ctx, query,
		d.ID, d.Subject, d.Description, d.Options, d.Category,
		d.MaxResponses, d.RewardPerResponse, d.DurationDays,
		d.FundingType, d.DistributionMode, d.TargetFund,
		d.Status, d.ChainPollID, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert draft %s: %w", d.ID, err)
	}
	return nil
}

// GetDraft returns the draft for the given id, or ErrNotFound.
func (db *DB) GetDraft(ctx context.Context, id string) (*models.Draft, error) {
	query := `
		SELECT id, subject, description, options, category,
			max_responses, reward_per_response, duration_days,
			funding_type, distribution_mode, target_fund,
			status, chain_poll_id, created_at, updated_at
		FROM drafts
		WHERE id = $1
	`
	var d models.Draft
	err := db.QueryRow(ctx, query, id).Scan(
		&d.ID, &d.Subject, &d.Description, &d.Options, &d.Category,
		&d.MaxResponses, &d.RewardPerResponse, &d.DurationDays,
		&d.FundingType, &d.DistributionMode, &d.TargetFund,
		&d.Status, &d.ChainPollID, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("draft %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("query draft %s: %w", id, err)
	}
	return &d, nil
}

// UpdateDraft rewrites the mutable fields of a draft.
func (db *DB) UpdateDraft(ctx context.Context, d *models.Draft) error {
	d.UpdatedAt = time.Now().UTC()
	query := `
		UPDATE drafts SET
			subject = $2, description = $3, options = $4, category = $5,
			max_responses = $6, reward_per_response = $7, duration_days = $8,
			funding_type = $9, distribution_mode = $10, target_fund = $11,
			status = $12, chain_poll_id = $13, updated_at = $14
		WHERE id = $1
	`
	err := db.Exec(ctx, query,
		d.ID, d.Subject, d.Description, d.Options, d.Category,
		d.MaxResponses, d.RewardPerResponse, d.DurationDays,
		d.FundingType, d.DistributionMode, d.TargetFund,
		d.Status, d.ChainPollID, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update draft %s: %w", d.ID, err)
	}
	return nil
}

// ListDrafts returns drafts filtered by status ("" for all), newest first.
func (db *DB) ListDrafts(ctx context.Context, status string, limit int) ([]*models.Draft, error) {
	query := `
		SELECT id, subject, description, options, category,
			max_responses, reward_per_response, duration_days,
			funding_type, distribution_mode, target_fund,
			status, chain_poll_id, created_at, updated_at
		FROM drafts
	`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}
	defer rows.Close()

	var drafts []*models.Draft
	for rows.Next() {
		var d models.Draft
		if err := rows.Scan(
			&d.ID, &d.Subject, &d.Description, &d.Options, &d.Category,
			&d.MaxResponses, &d.RewardPerResponse, &d.DurationDays,
			&d.FundingType, &d.DistributionMode, &d.TargetFund,
			&d.Status, &d.ChainPollID, &d.CreatedAt, &d.UpdatedAt,
		); err != nil {
			return nil, err
		}
		drafts = append(drafts, &d)
	}
	return drafts, rows.Err()
}
