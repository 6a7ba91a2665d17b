package store

import (
	"context"
	"fmt"
	"time"

	"github.com/tpolls/tpolls-api/pkg/db/models"
)

// initPollSnapshots creates the poll_snapshots cache table.
func (db *DB) initPollSnapshots(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS poll_snapshots (
			chain_poll_id BIGINT PRIMARY KEY,
			creator TEXT NOT NULL DEFAULT '',
			option_count INT NOT NULL DEFAULT 0,
			start_time TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			end_time TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			is_active BOOLEAN NOT NULL DEFAULT FALSE,
			total_votes BIGINT NOT NULL DEFAULT 0,
			total_fund BIGINT NOT NULL DEFAULT 0,
			reward_pool BIGINT NOT NULL DEFAULT 0,
			cache_status TEXT NOT NULL DEFAULT 'pending_sync',
			refreshed_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_poll_snapshots_active ON poll_snapshots(is_active, end_time);
	`
	return db.Exec(ctx, query)
}

const snapshotColumns = `
	chain_poll_id, creator, option_count, start_time, end_time, is_active,
	total_votes, total_fund, reward_pool, cache_status, refreshed_at
`

func scanSnapshot(row interface{ Scan(...any) error }) (*models.PollSnapshot, error) {
	var s models.PollSnapshot
	err := row.Scan(
		&s.ChainPollID, &s.Creator, &s.OptionCount, &s.StartTime, &s.EndTime, &s.IsActive,
		&s.TotalVotes, &s.TotalFund, &s.RewardPool, &s.CacheStatus, &s.RefreshedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// UpsertSnapshot inserts or replaces the cached state of one poll.
func (db *DB) UpsertSnapshot(ctx context.Context, s *models.PollSnapshot) error {
	query := `
		INSERT INTO poll_snapshots (
			chain_poll_id, creator, option_count, start_time, end_time, is_active,
			total_votes, total_fund, reward_pool, cache_status, refreshed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (chain_poll_id) DO UPDATE SET
			creator = EXCLUDED.creator,
			option_count = EXCLUDED.option_count,
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time,
			is_active = EXCLUDED.is_active,
			total_votes = EXCLUDED.total_votes,
			total_fund = EXCLUDED.total_fund,
			reward_pool = EXCLUDED.reward_pool,
			cache_status = EXCLUDED.cache_status,
			refreshed_at = EXCLUDED.refreshed_at
	`
	err := db.Exec(ctx, query,
		s.ChainPollID, s.Creator, s.OptionCount, s.StartTime, s.EndTime, s.IsActive,
		s.TotalVotes, s.TotalFund, s.RewardPool, s.CacheStatus, s.RefreshedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert snapshot %d: %w", s.ChainPollID, err)
	}
	return nil
}

// GetSnapshot returns the cached state of one poll, or ErrNotFound.
func (db *DB) GetSnapshot(ctx context.Context, chainPollID uint64) (*models.PollSnapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM poll_snapshots WHERE chain_poll_id = $1`
	s, err := scanSnapshot(db.QueryRow(ctx, query, chainPollID))
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("snapshot %d: %w", chainPollID, ErrNotFound)
		}
		return nil, fmt.Errorf("query snapshot %d: %w", chainPollID, err)
	}
	return s, nil
}

// ListExpiredActiveSnapshots returns snapshots still flagged active whose
// voting window has closed by wall clock.
func (db *DB) ListExpiredActiveSnapshots(ctx context.Context, now time.Time) ([]*models.PollSnapshot, error) {
	query := `
		SELECT ` + snapshotColumns + `
		FROM poll_snapshots
		WHERE is_active = TRUE AND end_time < $1
		ORDER BY chain_poll_id ASC
	`
	rows, err := db.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("list expired active snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []*models.PollSnapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, s)
	}
	return snapshots, rows.Err()
}
