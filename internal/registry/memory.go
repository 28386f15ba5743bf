package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/copp1723/onekeel-swarm/internal/domain"
)

// MemoryStore keeps executions in process. Used for `store: memory` runs
// and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	byID   map[string]*domain.Execution
	byPair map[string]string // leadID|campaignID -> id
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]*domain.Execution),
		byPair: make(map[string]string),
	}
}

func pairKey(leadID, campaignID string) string { return leadID + "|" + campaignID }

func (m *MemoryStore) Upsert(_ context.Context, e *domain.Execution) error {
	if e == nil || e.ID == "" {
		return ErrInvalidID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[e.ID] = e.Clone()
	m.byPair[pairKey(e.LeadID, e.CampaignID)] = e.ID
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*domain.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e.Clone(), nil
}

func (m *MemoryStore) FindByLeadCampaign(_ context.Context, leadID, campaignID string) (*domain.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byPair[pairKey(leadID, campaignID)]
	if !ok {
		return nil, ErrNotFound
	}
	e, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e.Clone(), nil
}

func (m *MemoryStore) ListDue(_ context.Context, now time.Time, limit int) ([]*domain.Execution, error) {
	out := m.filter(func(e *domain.Execution) bool {
		return e.Status == domain.ExecutionActive && !e.NextRunAt.After(now)
	})
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].NextRunAt.Equal(out[j].NextRunAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].NextRunAt.Before(out[j].NextRunAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ListActive(_ context.Context) ([]*domain.Execution, error) {
	out := m.filter(func(e *domain.Execution) bool { return e.Status == domain.ExecutionActive })
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (m *MemoryStore) CountActive(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, e := range m.byID {
		if e.Status == domain.ExecutionActive {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) CampaignStatus(_ context.Context, campaignID string) (domain.CampaignStatus, error) {
	st := emptyStatus(campaignID)
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.byID {
		if e.CampaignID != campaignID {
			continue
		}
		st.Total++
		st.ByStatus[e.Status]++
	}
	return st, nil
}

func (m *MemoryStore) ListTerminalBefore(_ context.Context, cutoff time.Time, limit int) ([]*domain.Execution, error) {
	out := m.filter(func(e *domain.Execution) bool {
		return e.IsTerminal() && e.TerminalAt != nil && e.TerminalAt.Before(cutoff)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].TerminalAt.Before(*out[j].TerminalAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byID[id]
	if !ok || !e.IsTerminal() {
		return ErrNotFound
	}
	delete(m.byID, id)
	if key := pairKey(e.LeadID, e.CampaignID); m.byPair[key] == id {
		delete(m.byPair, key)
	}
	return nil
}

func (m *MemoryStore) filter(keep func(*domain.Execution) bool) []*domain.Execution {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Execution
	for _, e := range m.byID {
		if keep(e) {
			out = append(out, e.Clone())
		}
	}
	return out
}
