// Package store defines the persistence capability the engine depends on and
// provides in-memory and BadgerDB implementations.
//
// The engine never reaches for a global client: a Store is constructed by the
// caller, injected, and closed by the caller. All implementations return
// copies, so callers may mutate results freely.
//
// Implementations:
//   - MemoryStore: maps guarded by a RWMutex (tests, one-shot CLI runs)
//   - BadgerStore: embedded BadgerDB with key prefixes per record kind
//   - Resilient: decorator adding per-call timeout, bounded retry and a
//     circuit breaker; failures surface as knowledge.ErrStoreUnavailable
package store

import (
	"context"

	"github.com/fyrsmithlabs/acdkn/internal/knowledge"
)

// UnitStore persists knowledge units.
type UnitStore interface {
	// Get returns the unit or knowledge.ErrNotFound.
	Get(ctx context.Context, id string) (*knowledge.KnowledgeUnit, error)

	// Put inserts or replaces a unit.
	Put(ctx context.Context, unit *knowledge.KnowledgeUnit) error

	// ListByDomain returns every unit of a domain ordered by ID.
	ListByDomain(ctx context.Context, domain knowledge.Domain) ([]knowledge.KnowledgeUnit, error)

	// CountUnits returns the number of stored units.
	CountUnits(ctx context.Context) (int, error)
}

// PointStore persists integration points.
type PointStore interface {
	// GetIntegrationPoint returns the point or knowledge.ErrNotFound.
	GetIntegrationPoint(ctx context.Context, id string) (*knowledge.IntegrationPoint, error)

	// UpsertIntegrationPoint inserts or replaces a point.
	UpsertIntegrationPoint(ctx context.Context, point *knowledge.IntegrationPoint) error

	// UpsertIntegrationPoints writes a batch atomically: all or nothing.
	UpsertIntegrationPoints(ctx context.Context, points []knowledge.IntegrationPoint) error

	// ListIntegrationPoints returns every point ordered by ID.
	ListIntegrationPoints(ctx context.Context) ([]knowledge.IntegrationPoint, error)
}

// DecisionStore persists strategy decisions.
type DecisionStore interface {
	// PutDecision inserts or replaces a decision.
	PutDecision(ctx context.Context, decision *knowledge.StrategyDecision) error

	// GetDecision returns the decision or knowledge.ErrNotFound.
	GetDecision(ctx context.Context, id string) (*knowledge.StrategyDecision, error)

	// ListDecisions returns every decision ordered by ID.
	ListDecisions(ctx context.Context) ([]knowledge.StrategyDecision, error)
}

// Store is the full persistence capability.
type Store interface {
	UnitStore
	PointStore
	DecisionStore

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
