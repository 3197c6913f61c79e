package store

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/fyrsmithlabs/acdkn/internal/knowledge"
)

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu        sync.RWMutex
	units     map[string]knowledge.KnowledgeUnit
	byDomain  map[knowledge.Domain]map[string]struct{}
	points    map[string]knowledge.IntegrationPoint
	decisions map[string]knowledge.StrategyDecision
	closed    bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		units:     make(map[string]knowledge.KnowledgeUnit),
		byDomain:  make(map[knowledge.Domain]map[string]struct{}),
		points:    make(map[string]knowledge.IntegrationPoint),
		decisions: make(map[string]knowledge.StrategyDecision),
	}
}

func (s *MemoryStore) checkOpen() error {
	if s.closed {
		return fmt.Errorf("%w: memory store closed", knowledge.ErrStoreUnavailable)
	}
	return nil
}

// Get returns a copy of the unit.
func (s *MemoryStore) Get(ctx context.Context, id string) (*knowledge.KnowledgeUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	u, ok := s.units[id]
	if !ok {
		return nil, fmt.Errorf("unit %s: %w", id, knowledge.ErrNotFound)
	}
	c := u.Clone()
	return &c, nil
}

// Put stores a copy of the unit and maintains the domain index.
func (s *MemoryStore) Put(ctx context.Context, unit *knowledge.KnowledgeUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	if prev, ok := s.units[unit.ID]; ok && prev.Domain != unit.Domain {
		delete(s.byDomain[prev.Domain], unit.ID)
	}
	s.units[unit.ID] = unit.Clone()
	if s.byDomain[unit.Domain] == nil {
		s.byDomain[unit.Domain] = make(map[string]struct{})
	}
	s.byDomain[unit.Domain][unit.ID] = struct{}{}
	return nil
}

// ListByDomain returns copies of the domain's units ordered by ID.
func (s *MemoryStore) ListByDomain(ctx context.Context, domain knowledge.Domain) ([]knowledge.KnowledgeUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	out := make([]knowledge.KnowledgeUnit, 0, len(s.byDomain[domain]))
	for id := range s.byDomain[domain] {
		out = append(out, s.units[id].Clone())
	}
	slices.SortFunc(out, func(a, b knowledge.KnowledgeUnit) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

// CountUnits returns the number of units.
func (s *MemoryStore) CountUnits(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	return len(s.units), nil
}

// GetIntegrationPoint returns a copy of the point.
func (s *MemoryStore) GetIntegrationPoint(ctx context.Context, id string) (*knowledge.IntegrationPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	p, ok := s.points[id]
	if !ok {
		return nil, fmt.Errorf("integration point %s: %w", id, knowledge.ErrNotFound)
	}
	return &p, nil
}

// UpsertIntegrationPoint stores the point.
func (s *MemoryStore) UpsertIntegrationPoint(ctx context.Context, point *knowledge.IntegrationPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.points[point.ID] = *point
	return nil
}

// UpsertIntegrationPoints stores the batch under a single lock.
func (s *MemoryStore) UpsertIntegrationPoints(ctx context.Context, points []knowledge.IntegrationPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, p := range points {
		s.points[p.ID] = p
	}
	return nil
}

// ListIntegrationPoints returns every point ordered by ID.
func (s *MemoryStore) ListIntegrationPoints(ctx context.Context) ([]knowledge.IntegrationPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	out := make([]knowledge.IntegrationPoint, 0, len(s.points))
	for _, p := range s.points {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b knowledge.IntegrationPoint) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

// PutDecision stores the decision.
func (s *MemoryStore) PutDecision(ctx context.Context, decision *knowledge.StrategyDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.decisions[decision.ID] = cloneDecision(*decision)
	return nil
}

// GetDecision returns a copy of the decision.
func (s *MemoryStore) GetDecision(ctx context.Context, id string) (*knowledge.StrategyDecision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	d, ok := s.decisions[id]
	if !ok {
		return nil, fmt.Errorf("decision %s: %w", id, knowledge.ErrNotFound)
	}
	c := cloneDecision(d)
	return &c, nil
}

// ListDecisions returns every decision ordered by ID.
func (s *MemoryStore) ListDecisions(ctx context.Context) ([]knowledge.StrategyDecision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	out := make([]knowledge.StrategyDecision, 0, len(s.decisions))
	for _, d := range s.decisions {
		out = append(out, cloneDecision(d))
	}
	slices.SortFunc(out, func(a, b knowledge.StrategyDecision) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

// Ping reports whether the store is open.
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checkOpen()
}

// Close marks the store closed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func cloneDecision(d knowledge.StrategyDecision) knowledge.StrategyDecision {
	if d.Outcome != nil {
		o := *d.Outcome
		d.Outcome = &o
	}
	if d.ObservedAt != nil {
		t := *d.ObservedAt
		d.ObservedAt = &t
	}
	return d
}
