package models

import "time"

const PollSnapshotsTableName = "poll_snapshots"

// Snapshot cache health statuses. The chain is authoritative; a snapshot is a
// performance cache with explicit staleness tracking.
const (
	CacheStatusSynced      = "synced"
	CacheStatusPendingSync = "pending_sync"
	CacheStatusSyncFailed  = "sync_failed"
)

// PollSnapshot is a locally cached mirror of one on-chain poll's observable
// state.
type PollSnapshot struct {
	ChainPollID uint64    `json:"chain_poll_id" db:"chain_poll_id"`
	Creator     string    `json:"creator" db:"creator"`
	OptionCount int       `json:"option_count" db:"option_count"`
	StartTime   time.Time `json:"start_time" db:"start_time"`
	EndTime     time.Time `json:"end_time" db:"end_time"`
	IsActive    bool      `json:"is_active" db:"is_active"`
	TotalVotes  uint64    `json:"total_votes" db:"total_votes"`
	TotalFund   uint64    `json:"total_fund" db:"total_fund"`
	RewardPool  uint64    `json:"reward_pool" db:"reward_pool"`

	CacheStatus string    `json:"cache_status" db:"cache_status"`
	RefreshedAt time.Time `json:"refreshed_at" db:"refreshed_at"`
}

// Expired reports whether the poll's voting window has closed by wall clock,
// independent of any chain read.
func (s *PollSnapshot) Expired(now time.Time) bool {
	return s.EndTime.Before(now)
}
