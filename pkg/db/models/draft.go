package models

import "time"

const DraftsTableName = "drafts"

// Draft lifecycle statuses. A draft only moves pending -> registered or
// pending -> failed; both are terminal.
const (
	DraftStatusPending    = "pending"
	DraftStatusRegistered = "registered"
	DraftStatusFailed     = "failed"
)

// Draft funding types and reward distribution modes, as drafted by the
// generator and later encoded into the registration payload.
const (
	FundingSelf       = "self-funded"
	FundingCrowd      = "crowdfunded"
	DistributionEqual = "equal-share"
	DistributionFixed = "fixed-per-response"
)

// Draft is an AI-authored poll proposal prior to any on-chain existence.
type Draft struct {
	ID          string   `json:"id" db:"id"`
	Subject     string   `json:"subject" db:"subject"`
	Description string   `json:"description" db:"description"`
	Options     []string `json:"options" db:"options"`
	Category    string   `json:"category,omitempty" db:"category"`

	MaxResponses      uint64 `json:"max_responses" db:"max_responses"`
	RewardPerResponse uint64 `json:"reward_per_response" db:"reward_per_response"`
	DurationDays      uint32 `json:"duration_days" db:"duration_days"`
	FundingType       string `json:"funding_type" db:"funding_type"`
	DistributionMode  string `json:"distribution_mode" db:"distribution_mode"`
	TargetFund        uint64 `json:"target_fund" db:"target_fund"`

	Status      string  `json:"status" db:"status"`
	ChainPollID *uint64 `json:"chain_poll_id,omitempty" db:"chain_poll_id"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
