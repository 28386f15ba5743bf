// Package memory holds leads and campaigns in process. It backs
// `store: memory` runs and is seeded from a YAML fixtures file.
package memory

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/copp1723/onekeel-swarm/internal/domain"
	"github.com/copp1723/onekeel-swarm/internal/execution"
)

// Fixtures is the on-disk seed format.
type Fixtures struct {
	Leads     []domain.Lead           `yaml:"leads"`
	Campaigns []domain.CampaignConfig `yaml:"campaigns"`
}

// LoadFixtures reads and validates a fixtures file. Every campaign must
// pass Validate.
func LoadFixtures(path string) (*Fixtures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f Fixtures
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing fixtures %s: %w", path, err)
	}
	for i := range f.Campaigns {
		if err := f.Campaigns[i].Validate(); err != nil {
			return nil, fmt.Errorf("fixtures campaign %q: %w", f.Campaigns[i].ID, err)
		}
	}
	for i, l := range f.Leads {
		if l.ID == "" {
			return nil, fmt.Errorf("fixtures lead #%d has no id", i+1)
		}
	}
	return &f, nil
}

// Store implements execution.LeadStore and execution.CampaignStore.
type Store struct {
	mu        sync.RWMutex
	leads     map[string]domain.Lead
	campaigns map[string]domain.CampaignConfig
}

func NewStore() *Store {
	return &Store{
		leads:     make(map[string]domain.Lead),
		campaigns: make(map[string]domain.CampaignConfig),
	}
}

// NewStoreFromFixtures returns a store seeded with f.
func NewStoreFromFixtures(f *Fixtures) *Store {
	s := NewStore()
	for _, l := range f.Leads {
		s.leads[l.ID] = l
	}
	for _, c := range f.Campaigns {
		s.campaigns[c.ID] = c
	}
	return s
}

func (s *Store) GetLead(_ context.Context, id string) (*domain.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.leads[id]
	if !ok {
		return nil, execution.ErrLeadNotFound
	}
	return &l, nil
}

func (s *Store) UpdateQualification(_ context.Context, id string, score int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[id]
	if !ok {
		return execution.ErrLeadNotFound
	}
	l.QualificationScore = score
	s.leads[id] = l
	return nil
}

func (s *Store) SaveLead(_ context.Context, l *domain.Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leads[l.ID] = *l
	return nil
}

func (s *Store) GetCampaign(_ context.Context, id string) (*domain.CampaignConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.campaigns[id]
	if !ok {
		return nil, execution.ErrCampaignNotFound
	}
	c.Steps = append([]domain.Step(nil), c.Steps...)
	return &c, nil
}

func (s *Store) SaveCampaign(_ context.Context, c *domain.CampaignConfig) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("%w: %v", execution.ErrInvalidCampaign, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.campaigns[c.ID] = *c
	return nil
}

// CampaignIDs lists stored campaigns in id order.
func (s *Store) CampaignIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.campaigns))
	for id := range s.campaigns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
