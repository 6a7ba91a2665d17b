package chain

import (
	"context"
	"errors"
	"time"
)

// ErrPollNotFound is returned by GetPoll when the contract has no poll under
// the given identifier.
var ErrPollNotFound = errors.New("poll not found on chain")

// ErrTxPending is returned by GetTransactionHeight while the transaction has
// not been included in a block yet.
var ErrTxPending = errors.New("transaction not yet included in a block")

// WriteIntent is an opaque payload + destination + amount an external wallet
// must sign and broadcast. This service never holds signing authority.
type WriteIntent struct {
	Payload         string `json:"payload"`
	ContractAddress string `json:"contract_address"`
	Amount          uint64 `json:"amount"`
}

// RegistrationParams are the draft fields encoded into a poll-registration
// write-intent.
type RegistrationParams struct {
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	Options         []string `json:"options"`
	DurationSeconds uint64   `json:"duration_seconds"`
	RewardPerVote   uint64   `json:"reward_per_vote"`
	FundingType     string   `json:"funding_type"`
	TargetFund      uint64   `json:"target_fund"`
}

// PollInfo is the observable on-chain state of one poll.
type PollInfo struct {
	ChainPollID uint64    `json:"chain_poll_id"`
	Creator     string    `json:"creator"`
	OptionCount int       `json:"option_count"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	IsActive    bool      `json:"is_active"`
	TotalVotes  uint64    `json:"total_votes"`
	TotalFund   uint64    `json:"total_fund"`
	RewardPool  uint64    `json:"reward_pool"`
}

// Gateway abstracts the poll contract's node RPC: read-only queries plus
// unsigned write-intent construction. It never signs or broadcasts.
type Gateway interface {
	IsContractLive(ctx context.Context) (bool, error)
	BuildRegistrationIntent(ctx context.Context, params RegistrationParams) (*WriteIntent, error)
	BuildVoteIntent(ctx context.Context, chainPollID uint64, optionIndex int) (*WriteIntent, error)
	GetPoll(ctx context.Context, chainPollID uint64) (*PollInfo, error)
	GetTransactionHeight(ctx context.Context, txHash string) (uint64, error)
	GetChainHeadHeight(ctx context.Context) (uint64, error)
}
