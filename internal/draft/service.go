package draft

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tpolls/tpolls-api/pkg/db/models"
	"github.com/tpolls/tpolls-api/pkg/db/postgres/store"
	"github.com/tpolls/tpolls-api/pkg/generator"
)

var (
	// ErrNotFound is returned for an unknown draft id.
	ErrNotFound = errors.New("draft not found")
	// ErrNotEditable is returned when a draft has left the pending state.
	ErrNotEditable = errors.New("draft is no longer editable")
	// ErrEmptyPrompt is returned for a blank generation prompt.
	ErrEmptyPrompt = errors.New("prompt is empty")
)

// Store is the slice of the persistence layer the draft service needs.
type Store interface {
	CreateDraft(ctx context.Context, d *models.Draft) error
	GetDraft(ctx context.Context, id string) (*models.Draft, error)
	UpdateDraft(ctx context.Context, d *models.Draft) error
	ListDrafts(ctx context.Context, status string, limit int) ([]*models.Draft, error)
}

// Service owns the draft lifecycle up to the point a registration is
// requested: generation from a prompt, revision with feedback, and manual
// edits. Everything past that belongs to the registration reconciler.
type Service struct {
	drafts Store
	gen    generator.Generator

	now func() time.Time
}

func NewService(drafts Store, gen generator.Generator) *Service {
	return &Service{
		drafts: drafts,
		gen:    gen,
		now:    time.Now,
	}
}

// Generate asks the model for a structured draft and persists it in
// `pending`.
func (s *Service) Generate(ctx context.Context, prompt string) (*models.Draft, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}

	proposed, err := s.gen.DraftFromPrompt(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("generate draft: %w", err)
	}

	d, err := s.fromProposal(proposed)
	if err != nil {
		return nil, err
	}
	if err := s.drafts.CreateDraft(ctx, d); err != nil {
		return nil, fmt.Errorf("persist draft: %w", err)
	}

	slog.Info("draft generated", "draft_id", d.ID, "subject", d.Subject, "options", len(d.Options))
	return d, nil
}

// Revise feeds the current draft plus user feedback back through the model
// and overwrites the draft's content in place. Only pending drafts can be
// revised.
func (s *Service) Revise(ctx context.Context, draftID, feedback string) (*models.Draft, error) {
	d, err := s.get(ctx, draftID)
	if err != nil {
		return nil, err
	}
	if d.Status != models.DraftStatusPending {
		return nil, fmt.Errorf("draft %s is %s: %w", draftID, d.Status, ErrNotEditable)
	}

	previous := &generator.PollDraft{
		Subject:     d.Subject,
		Description: d.Description,
		Options:     d.Options,
		Category:    d.Category,
		Settings: generator.Settings{
			MaxResponses:      d.MaxResponses,
			RewardPerResponse: d.RewardPerResponse,
			DurationDays:      d.DurationDays,
			FundingType:       d.FundingType,
			DistributionMode:  d.DistributionMode,
			TargetFund:        d.TargetFund,
		},
	}

	revised, err := s.gen.ReviseDraft(ctx, previous, feedback)
	if err != nil {
		return nil, fmt.Errorf("revise draft %s: %w", draftID, err)
	}

	if err := applyProposal(d, revised); err != nil {
		return nil, fmt.Errorf("revise draft %s: %w", draftID, err)
	}
	d.UpdatedAt = s.now().UTC()
	if err := s.drafts.UpdateDraft(ctx, d); err != nil {
		return nil, fmt.Errorf("persist revised draft %s: %w", draftID, err)
	}

	slog.Info("draft revised", "draft_id", d.ID)
	return d, nil
}

// Update applies manual edits to a pending draft. The edit is validated with
// the same structural rules as generated content.
func (s *Service) Update(ctx context.Context, draftID string, edit *generator.PollDraft) (*models.Draft, error) {
	d, err := s.get(ctx, draftID)
	if err != nil {
		return nil, err
	}
	if d.Status != models.DraftStatusPending {
		return nil, fmt.Errorf("draft %s is %s: %w", draftID, d.Status, ErrNotEditable)
	}

	if err := applyProposal(d, edit); err != nil {
		return nil, err
	}
	d.UpdatedAt = s.now().UTC()
	if err := s.drafts.UpdateDraft(ctx, d); err != nil {
		return nil, fmt.Errorf("persist draft %s: %w", draftID, err)
	}
	return d, nil
}

// Get returns one draft by id.
func (s *Service) Get(ctx context.Context, draftID string) (*models.Draft, error) {
	return s.get(ctx, draftID)
}

// List returns drafts filtered by status ("" for all), newest first.
func (s *Service) List(ctx context.Context, status string, limit int) ([]*models.Draft, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.drafts.ListDrafts(ctx, status, limit)
}

func (s *Service) get(ctx context.Context, draftID string) (*models.Draft, error) {
	d, err := s.drafts.GetDraft(ctx, draftID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("draft %s: %w", draftID, ErrNotFound)
		}
		return nil, err
	}
	return d, nil
}

// fromProposal builds a fresh pending draft from a generated proposal.
func (s *Service) fromProposal(p *generator.PollDraft) (*models.Draft, error) {
	now := s.now().UTC()
	d := &models.Draft{
		ID:        uuid.NewString(),
		Status:    models.DraftStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := applyProposal(d, p); err != nil {
		return nil, err
	}
	return d, nil
}

// applyProposal copies proposal content onto a draft, normalizing the enum
// settings so downstream payload encoding never sees free-form values. The
// structural minimum is checked on the trimmed content, not the raw proposal:
// a whitespace-only option would pass Validate and then vanish here. On error
// the draft is left untouched.
func applyProposal(d *models.Draft, p *generator.PollDraft) error {
	subject := strings.TrimSpace(p.Subject)
	options := make([]string, 0, len(p.Options))
	for _, opt := range p.Options {
		if opt = strings.TrimSpace(opt); opt != "" {
			options = append(options, opt)
		}
	}
	if subject == "" {
		return fmt.Errorf("%w: missing subject", generator.ErrBadDraft)
	}
	if len(options) < 2 {
		return fmt.Errorf("%w: %d options after trimming, need at least 2", generator.ErrBadDraft, len(options))
	}

	d.Subject = subject
	d.Description = strings.TrimSpace(p.Description)
	d.Category = strings.TrimSpace(p.Category)
	d.Options = options

	d.MaxResponses = p.Settings.MaxResponses
	d.RewardPerResponse = p.Settings.RewardPerResponse
	d.DurationDays = p.Settings.DurationDays
	if d.DurationDays == 0 {
		d.DurationDays = 7
	}
	d.FundingType = normalizeFunding(p.Settings.FundingType)
	d.DistributionMode = normalizeDistribution(p.Settings.DistributionMode)
	d.TargetFund = p.Settings.TargetFund
	return nil
}

func normalizeFunding(v string) string {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case models.FundingCrowd, "crowd", "crowdfund":
		return models.FundingCrowd
	default:
		return models.FundingSelf
	}
}

func normalizeDistribution(v string) string {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case models.DistributionEqual, "equal", "split":
		return models.DistributionEqual
	default:
		return models.DistributionFixed
	}
}
