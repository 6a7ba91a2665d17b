package models

import "time"

const VoteAttemptsTableName = "vote_attempts"

// VoteAttempt statuses. Status only advances forward along
// pending -> confirmed -> counted -> rewarded; failed and invalid are
// reachable from pending only.
const (
	VoteStatusPending   = "pending"
	VoteStatusConfirmed = "confirmed"
	VoteStatusCounted   = "counted"
	VoteStatusRewarded  = "rewarded"
	VoteStatusFailed    = "failed"
	VoteStatusInvalid   = "invalid"
)

// VoteStatuses lists every vote status for aggregate status reporting.
var VoteStatuses = []string{
	VoteStatusPending,
	VoteStatusConfirmed,
	VoteStatusCounted,
	VoteStatusRewarded,
	VoteStatusFailed,
	VoteStatusInvalid,
}

// LiveVoteStatuses are the statuses under which a (poll, voter) pair may hold
// at most one attempt. The store enforces this with a partial unique index.
var LiveVoteStatuses = []string{
	VoteStatusPending,
	VoteStatusConfirmed,
	VoteStatusCounted,
	VoteStatusRewarded,
}

// DefaultRequiredConfirmations is the confirmation depth at which a vote
// transaction is considered settled.
const DefaultRequiredConfirmations = 3

// VoteAttempt is one voter's submission against one on-chain poll.
type VoteAttempt struct {
	ID          string `json:"id" db:"id"`
	ChainPollID uint64 `json:"chain_poll_id" db:"chain_poll_id"`
	Voter       string `json:"voter" db:"voter"`
	OptionIndex int    `json:"option_index" db:"option_index"`

	TxHash string `json:"tx_hash,omitempty" db:"tx_hash"`
	Status string `json:"status" db:"status"`

	Confirmations         uint64 `json:"confirmations" db:"confirmations"`
	RequiredConfirmations uint64 `json:"required_confirmations" db:"required_confirmations"`

	Errors []ErrorEntry `json:"errors,omitempty" db:"errors"`

	SubmittedAt *time.Time `json:"submitted_at,omitempty" db:"submitted_at"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty" db:"confirmed_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// Live reports whether the attempt occupies the (poll, voter) uniqueness slot.
func (v *VoteAttempt) Live() bool {
	switch v.Status {
	case VoteStatusPending, VoteStatusConfirmed, VoteStatusCounted, VoteStatusRewarded:
		return true
	}
	return false
}
