package generator

import (
	"context"
	"errors"
	"fmt"
)

// ErrBadDraft is returned when the model's response cannot be parsed into a
// usable poll draft.
var ErrBadDraft = errors.New("generator returned an unusable draft")

// Settings are the numeric poll settings proposed by the model.
type Settings struct {
	MaxResponses      uint64 `json:"max_responses"`
	RewardPerResponse uint64 `json:"reward_per_response"`
	DurationDays      uint32 `json:"duration_days"`
	FundingType       string `json:"funding_type"`
	DistributionMode  string `json:"distribution_mode"`
	TargetFund        uint64 `json:"target_fund"`
}

// PollDraft is the structured draft the model produces from a prompt.
type PollDraft struct {
	Subject     string   `json:"subject"`
	Description string   `json:"description"`
	Options     []string `json:"options"`
	Category    string   `json:"category"`
	Settings    Settings `json:"settings"`
}

// Validate enforces the structural minimum for a draft: a subject and at
// least two options.
func (d *PollDraft) Validate() error {
	if d.Subject == "" {
		return fmt.Errorf("%w: missing subject", ErrBadDraft)
	}
	if len(d.Options) < 2 {
		return fmt.Errorf("%w: %d options, need at least 2", ErrBadDraft, len(d.Options))
	}
	return nil
}

// Generator turns a natural-language prompt (and optionally a previous draft
// plus feedback) into a structured poll draft.
type Generator interface {
	DraftFromPrompt(ctx context.Context, prompt string) (*PollDraft, error)
	ReviseDraft(ctx context.Context, previous *PollDraft, feedback string) (*PollDraft, error)
}
