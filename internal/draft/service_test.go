package draft

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tpolls/tpolls-api/pkg/db/models"
	"github.com/tpolls/tpolls-api/pkg/db/postgres/store"
	"github.com/tpolls/tpolls-api/pkg/generator"
)

type memDrafts struct {
	mu     sync.Mutex
	drafts map[string]*models.Draft
}

func newMemDrafts() *memDrafts {
	return &memDrafts{drafts: map[string]*models.Draft{}}
}

func (m *memDrafts) CreateDraft(_ context.Context, d *models.Draft) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *d
	m.drafts[d.ID] = &c
	return nil
}

func (m *memDrafts) GetDraft(_ context.Context, id string) (*models.Draft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drafts[id]
	if !ok {
		return nil, fmt.Errorf("draft %s: %w", id, store.ErrNotFound)
	}
	c := *d
	return &c, nil
}

func (m *memDrafts) UpdateDraft(_ context.Context, d *models.Draft) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *d
	m.drafts[d.ID] = &c
	return nil
}

func (m *memDrafts) ListDrafts(_ context.Context, status string, limit int) ([]*models.Draft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Draft
	for _, d := range m.drafts {
		if status != "" && d.Status != status {
			continue
		}
		c := *d
		out = append(out, &c)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// fakeGenerator returns a canned draft and records the inputs it saw.
type fakeGenerator struct {
	draft      *generator.PollDraft
	err        error
	lastPrompt string
	lastPrev   *generator.PollDraft
	feedback   string
}

func (g *fakeGenerator) DraftFromPrompt(_ context.Context, prompt string) (*generator.PollDraft, error) {
	g.lastPrompt = prompt
	return g.draft, g.err
}

func (g *fakeGenerator) ReviseDraft(_ context.Context, previous *generator.PollDraft, feedback string) (*generator.PollDraft, error) {
	g.lastPrev = previous
	g.feedback = feedback
	return g.draft, g.err
}

func proposal() *generator.PollDraft {
	return &generator.PollDraft{
		Subject:     "Best release day",
		Description: "Pick the day we ship",
		Options:     []string{"Tuesday", " Thursday ", ""},
		Category:    "engineering",
		Settings: generator.Settings{
			MaxResponses:      100,
			RewardPerResponse: 5,
			DurationDays:      0,
			FundingType:       "CROWD",
			DistributionMode:  "weird-mode",
			TargetFund:        500,
		},
	}
}

func TestGenerate(t *testing.T) {
	ms := newMemDrafts()
	gen := &fakeGenerator{draft: proposal()}
	svc := NewService(ms, gen)

	d, err := svc.Generate(context.Background(), "  weekly release poll  ")
	require.NoError(t, err)

	assert.Equal(t, "weekly release poll", gen.lastPrompt, "prompt is trimmed before generation")
	assert.Equal(t, models.DraftStatusPending, d.Status)
	assert.NotEmpty(t, d.ID)
	assert.Equal(t, "Best release day", d.Subject)
	assert.Equal(t, []string{"Tuesday", "Thursday"}, d.Options, "options are trimmed and blanks dropped")
	assert.Equal(t, uint32(7), d.DurationDays, "zero duration falls back to the default")
	assert.Equal(t, models.FundingCrowd, d.FundingType)
	assert.Equal(t, models.DistributionFixed, d.DistributionMode, "unknown distribution normalizes to the default")

	got, err := svc.Get(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, d.Subject, got.Subject)
}

func TestGenerateEmptyPrompt(t *testing.T) {
	svc := NewService(newMemDrafts(), &fakeGenerator{draft: proposal()})

	_, err := svc.Generate(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyPrompt)
}

func TestGenerateRejectsUnusableDraft(t *testing.T) {
	bad := proposal()
	bad.Options = []string{"only one"}
	svc := NewService(newMemDrafts(), &fakeGenerator{draft: bad})

	_, err := svc.Generate(context.Background(), "poll please")
	assert.ErrorIs(t, err, generator.ErrBadDraft)
}

func TestGenerateRejectsWhitespaceOptions(t *testing.T) {
	// Passes the raw >=2-options check but collapses to one after trimming.
	bad := proposal()
	bad.Options = []string{"Only option", "   "}
	ms := newMemDrafts()
	svc := NewService(ms, &fakeGenerator{draft: bad})

	_, err := svc.Generate(context.Background(), "poll please")
	assert.ErrorIs(t, err, generator.ErrBadDraft)
	assert.Empty(t, ms.drafts, "an unusable draft is never persisted")
}

func TestGenerateModelFailure(t *testing.T) {
	svc := NewService(newMemDrafts(), &fakeGenerator{err: errors.New("model unavailable")})

	_, err := svc.Generate(context.Background(), "poll please")
	assert.Error(t, err)
}

func TestRevise(t *testing.T) {
	ms := newMemDrafts()
	gen := &fakeGenerator{draft: proposal()}
	svc := NewService(ms, gen)

	d, err := svc.Generate(context.Background(), "poll please")
	require.NoError(t, err)

	revised := proposal()
	revised.Subject = "Best release day, revised"
	gen.draft = revised

	got, err := svc.Revise(context.Background(), d.ID, "make the title snappier")
	require.NoError(t, err)

	assert.Equal(t, "Best release day, revised", got.Subject)
	assert.Equal(t, "make the title snappier", gen.feedback)
	require.NotNil(t, gen.lastPrev)
	assert.Equal(t, "Best release day", gen.lastPrev.Subject, "the model sees the pre-revision draft")
	assert.Equal(t, d.ID, got.ID, "revision rewrites in place, no new draft")
}

func TestReviseUnknownDraft(t *testing.T) {
	svc := NewService(newMemDrafts(), &fakeGenerator{draft: proposal()})

	_, err := svc.Revise(context.Background(), "no-such-draft", "feedback")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReviseRegisteredDraft(t *testing.T) {
	ms := newMemDrafts()
	gen := &fakeGenerator{draft: proposal()}
	svc := NewService(ms, gen)

	d, err := svc.Generate(context.Background(), "poll please")
	require.NoError(t, err)

	d.Status = models.DraftStatusRegistered
	require.NoError(t, ms.UpdateDraft(context.Background(), d))

	_, err = svc.Revise(context.Background(), d.ID, "feedback")
	assert.ErrorIs(t, err, ErrNotEditable)
}

func TestUpdate(t *testing.T) {
	ms := newMemDrafts()
	svc := NewService(ms, &fakeGenerator{draft: proposal()})

	d, err := svc.Generate(context.Background(), "poll please")
	require.NoError(t, err)

	edit := proposal()
	edit.Options = []string{"Monday", "Wednesday", "Friday"}
	got, err := svc.Update(context.Background(), d.ID, edit)
	require.NoError(t, err)
	assert.Equal(t, []string{"Monday", "Wednesday", "Friday"}, got.Options)
}

func TestUpdateRejectsInvalidEdit(t *testing.T) {
	ms := newMemDrafts()
	svc := NewService(ms, &fakeGenerator{draft: proposal()})

	d, err := svc.Generate(context.Background(), "poll please")
	require.NoError(t, err)

	edit := proposal()
	edit.Subject = ""
	_, err = svc.Update(context.Background(), d.ID, edit)
	assert.ErrorIs(t, err, generator.ErrBadDraft)
}

func TestUpdateRejectsWhitespaceOptions(t *testing.T) {
	ms := newMemDrafts()
	svc := NewService(ms, &fakeGenerator{draft: proposal()})

	d, err := svc.Generate(context.Background(), "poll please")
	require.NoError(t, err)

	edit := proposal()
	edit.Options = []string{"Only option", "\t"}
	_, err = svc.Update(context.Background(), d.ID, edit)
	assert.ErrorIs(t, err, generator.ErrBadDraft)

	got, err := svc.Get(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Tuesday", "Thursday"}, got.Options, "a rejected edit leaves the draft unchanged")
}

func TestReviseRejectsWhitespaceOptions(t *testing.T) {
	ms := newMemDrafts()
	gen := &fakeGenerator{draft: proposal()}
	svc := NewService(ms, gen)

	d, err := svc.Generate(context.Background(), "poll please")
	require.NoError(t, err)

	bad := proposal()
	bad.Options = []string{" ", "Only option"}
	gen.draft = bad

	_, err = svc.Revise(context.Background(), d.ID, "feedback")
	assert.ErrorIs(t, err, generator.ErrBadDraft)
}

func TestListFiltersByStatus(t *testing.T) {
	ms := newMemDrafts()
	svc := NewService(ms, &fakeGenerator{draft: proposal()})

	a, err := svc.Generate(context.Background(), "first")
	require.NoError(t, err)
	_, err = svc.Generate(context.Background(), "second")
	require.NoError(t, err)

	a.Status = models.DraftStatusRegistered
	require.NoError(t, ms.UpdateDraft(context.Background(), a))

	pending, err := svc.List(context.Background(), models.DraftStatusPending, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	all, err := svc.List(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
