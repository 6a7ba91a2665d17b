package models

import "time"

const RegistrationAttemptsTableName = "registration_attempts"

// RegistrationAttempt sync statuses.
const (
	SyncStatusPending     = "pending"
	SyncStatusRegistering = "registering"
	SyncStatusRegistered  = "registered"
	SyncStatusSyncing     = "syncing"
	SyncStatusSynced      = "synced"
	SyncStatusFailed      = "failed"
	SyncStatusCancelled   = "cancelled"
)

// SyncStatuses lists every sync status, in lifecycle order, for aggregate
// status reporting.
var SyncStatuses = []string{
	SyncStatusPending,
	SyncStatusRegistering,
	SyncStatusRegistered,
	SyncStatusSyncing,
	SyncStatusSynced,
	SyncStatusFailed,
	SyncStatusCancelled,
}

// RegistrationAttempt tracks one Draft's journey onto the chain. Advanced
// exclusively by the registration reconciler.
type RegistrationAttempt struct {
	ID      string `json:"id" db:"id"`
	DraftID string `json:"draft_id" db:"draft_id"`

	ChainPollID *uint64 `json:"chain_poll_id,omitempty" db:"chain_poll_id"`
	TxHash      string  `json:"tx_hash,omitempty" db:"tx_hash"`

	// Opaque write-intent recorded at request time for the caller's wallet step.
	Payload         string `json:"payload,omitempty" db:"payload"`
	ContractAddress string `json:"contract_address,omitempty" db:"contract_address"`
	Amount          uint64 `json:"amount" db:"amount"`

	SyncStatus string `json:"sync_status" db:"sync_status"`

	Attempts      int        `json:"attempts" db:"attempts"`
	MaxAttempts   int        `json:"max_attempts" db:"max_attempts"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty" db:"last_attempt_at"`
	NextRetryAt   *time.Time `json:"next_retry_at,omitempty" db:"next_retry_at"`

	// Backoff parameters, persisted so retry state survives restarts.
	BaseDelayMS int64   `json:"base_delay_ms" db:"base_delay_ms"`
	Multiplier  float64 `json:"multiplier" db:"multiplier"`
	MaxDelayMS  int64   `json:"max_delay_ms" db:"max_delay_ms"`

	Errors []ErrorEntry `json:"errors,omitempty" db:"errors"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Active reports whether the attempt still blocks a new registration request
// for the same draft. Failed and cancelled attempts may be superseded.
func (a *RegistrationAttempt) Active() bool {
	return a.SyncStatus != SyncStatusFailed && a.SyncStatus != SyncStatusCancelled
}

// Exhausted reports whether the attempt has consumed its retry budget.
func (a *RegistrationAttempt) Exhausted() bool {
	return a.Attempts >= a.MaxAttempts
}
