package reconcile

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tpolls/tpolls-api/pkg/chain"
	"github.com/tpolls/tpolls-api/pkg/db/models"
	"github.com/tpolls/tpolls-api/pkg/db/postgres/store"
)

// memStore is an in-memory stand-in for *store.DB, matching its error
// contract (store.ErrNotFound, store.ErrDuplicateKey).
type memStore struct {
	mu            sync.Mutex
	drafts        map[string]*models.Draft
	registrations map[string]*models.RegistrationAttempt
	votes         map[string]*models.VoteAttempt
	snapshots     map[uint64]*models.PollSnapshot
}

func newMemStore() *memStore {
	return &memStore{
		drafts:        map[string]*models.Draft{},
		registrations: map[string]*models.RegistrationAttempt{},
		votes:         map[string]*models.VoteAttempt{},
		snapshots:     map[uint64]*models.PollSnapshot{},
	}
}

func copyDraft(d *models.Draft) *models.Draft { c := *d; return &c }

func copyRegistration(a *models.RegistrationAttempt) *models.RegistrationAttempt {
	c := *a
	c.Errors = append([]models.ErrorEntry(nil), a.Errors...)
	return &c
}

func copyVote(v *models.VoteAttempt) *models.VoteAttempt {
	c := *v
	c.Errors = append([]models.ErrorEntry(nil), v.Errors...)
	return &c
}

func copySnapshot(s *models.PollSnapshot) *models.PollSnapshot { c := *s; return &c }

func (m *memStore) GetDraft(_ context.Context, id string) (*models.Draft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drafts[id]
	if !ok {
		return nil, fmt.Errorf("draft %s: %w", id, store.ErrNotFound)
	}
	return copyDraft(d), nil
}

func (m *memStore) UpdateDraft(_ context.Context, d *models.Draft) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drafts[d.ID] = copyDraft(d)
	return nil
}

func (m *memStore) putDraft(d *models.Draft) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drafts[d.ID] = copyDraft(d)
}

func (m *memStore) CreateRegistrationAttempt(_ context.Context, a *models.RegistrationAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registrations[a.ID] = copyRegistration(a)
	return nil
}

func (m *memStore) GetRegistrationAttempt(_ context.Context, id string) (*models.RegistrationAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.registrations[id]
	if !ok {
		return nil, fmt.Errorf("registration attempt %s: %w", id, store.ErrNotFound)
	}
	return copyRegistration(a), nil
}

func (m *memStore) ActiveRegistrationForDraft(_ context.Context, draftID string) (*models.RegistrationAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.registrations {
		if a.DraftID == draftID && a.Active() {
			return copyRegistration(a), nil
		}
	}
	return nil, fmt.Errorf("active registration for draft %s: %w", draftID, store.ErrNotFound)
}

func (m *memStore) ListRetryableRegistrations(_ context.Context, now time.Time) ([]*models.RegistrationAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.RegistrationAttempt
	for _, a := range m.registrations {
		eligible := a.SyncStatus == models.SyncStatusPending || a.SyncStatus == models.SyncStatusFailed
		if !eligible || a.Attempts >= a.MaxAttempts {
			continue
		}
		if a.NextRetryAt != nil && a.NextRetryAt.After(now) {
			continue
		}
		out = append(out, copyRegistration(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) UpdateRegistrationAttempt(_ context.Context, a *models.RegistrationAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registrations[a.ID] = copyRegistration(a)
	return nil
}

func (m *memStore) CreateVoteAttempt(_ context.Context, v *models.VoteAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v.Live() {
		for _, other := range m.votes {
			if other.ChainPollID == v.ChainPollID && other.Voter == v.Voter && other.Live() {
				return fmt.Errorf("vote for poll %d by %s: %w", v.ChainPollID, v.Voter, store.ErrDuplicateKey)
			}
		}
	}
	m.votes[v.ID] = copyVote(v)
	return nil
}

func (m *memStore) GetVoteAttempt(_ context.Context, id string) (*models.VoteAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.votes[id]
	if !ok {
		return nil, fmt.Errorf("vote attempt %s: %w", id, store.ErrNotFound)
	}
	return copyVote(v), nil
}

func (m *memStore) LiveVoteForVoter(_ context.Context, chainPollID uint64, voter string) (*models.VoteAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.votes {
		if v.ChainPollID == chainPollID && v.Voter == voter && v.Live() {
			return copyVote(v), nil
		}
	}
	return nil, fmt.Errorf("live vote for poll %d by %s: %w", chainPollID, voter, store.ErrNotFound)
}

func (m *memStore) ListConfirmableVotes(_ context.Context) ([]*models.VoteAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.VoteAttempt
	for _, v := range m.votes {
		if v.Status == models.VoteStatusPending && v.TxHash != "" && v.Confirmations < v.RequiredConfirmations {
			out = append(out, copyVote(v))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) UpdateVoteAttempt(_ context.Context, v *models.VoteAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.votes[v.ID] = copyVote(v)
	return nil
}

func (m *memStore) UpsertSnapshot(_ context.Context, s *models.PollSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[s.ChainPollID] = copySnapshot(s)
	return nil
}

func (m *memStore) GetSnapshot(_ context.Context, chainPollID uint64) (*models.PollSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.snapshots[chainPollID]
	if !ok {
		return nil, fmt.Errorf("snapshot %d: %w", chainPollID, store.ErrNotFound)
	}
	return copySnapshot(s), nil
}

func (m *memStore) ListExpiredActiveSnapshots(_ context.Context, now time.Time) ([]*models.PollSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.PollSnapshot
	for _, s := range m.snapshots {
		if s.IsActive && s.EndTime.Before(now) {
			out = append(out, copySnapshot(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChainPollID < out[j].ChainPollID })
	return out, nil
}

// activePoll builds an on-chain poll fixture whose window closes after the
// given remaining duration.
func activePoll(id uint64, optionCount int, remaining time.Duration) *chain.PollInfo {
	now := time.Now().UTC()
	return &chain.PollInfo{
		ChainPollID: id,
		Creator:     "0xcreator",
		OptionCount: optionCount,
		StartTime:   now.Add(-time.Hour),
		EndTime:     now.Add(remaining),
		IsActive:    remaining > 0,
		TotalVotes:  0,
	}
}

// fakeGateway is a scriptable chain.Gateway.
type fakeGateway struct {
	mu sync.Mutex

	contractLive bool
	contractErr  error

	polls   map[uint64]*chain.PollInfo
	pollErr error

	txHeights map[string]uint64
	txErr     error

	headHeight uint64
	headErr    error

	intentErr error

	buildCalls int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		contractLive: true,
		polls:        map[uint64]*chain.PollInfo{},
		txHeights:    map[string]uint64{},
	}
}

func (g *fakeGateway) IsContractLive(context.Context) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.contractLive, g.contractErr
}

func (g *fakeGateway) BuildRegistrationIntent(_ context.Context, params chain.RegistrationParams) (*chain.WriteIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.buildCalls++
	if g.intentErr != nil {
		return nil, g.intentErr
	}
	return &chain.WriteIntent{
		Payload:         fmt.Sprintf("0xreg:%s", params.Title),
		ContractAddress: "0xcontract",
		Amount:          params.TargetFund,
	}, nil
}

func (g *fakeGateway) BuildVoteIntent(_ context.Context, chainPollID uint64, optionIndex int) (*chain.WriteIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.buildCalls++
	if g.intentErr != nil {
		return nil, g.intentErr
	}
	return &chain.WriteIntent{
		Payload:         fmt.Sprintf("0xvote:%d:%d", chainPollID, optionIndex),
		ContractAddress: "0xcontract",
		Amount:          0,
	}, nil
}

func (g *fakeGateway) GetPoll(_ context.Context, chainPollID uint64) (*chain.PollInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pollErr != nil {
		return nil, g.pollErr
	}
	info, ok := g.polls[chainPollID]
	if !ok {
		return nil, chain.ErrPollNotFound
	}
	c := *info
	return &c, nil
}

func (g *fakeGateway) GetTransactionHeight(_ context.Context, txHash string) (uint64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.txErr != nil {
		return 0, g.txErr
	}
	h, ok := g.txHeights[txHash]
	if !ok {
		return 0, chain.ErrTxPending
	}
	return h, nil
}

func (g *fakeGateway) GetChainHeadHeight(context.Context) (uint64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.headHeight, g.headErr
}
