package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/acdkn/internal/events"
	"github.com/fyrsmithlabs/acdkn/internal/knowledge"
)

// UnitInput is one unit submitted for ingestion.
type UnitInput struct {
	// ID is optional; a new id is generated when empty.
	ID         string           `json:"id,omitempty"`
	Domain     knowledge.Domain `json:"domain"`
	Content    string           `json:"content"`
	Metadata   map[string]any   `json:"metadata,omitempty"`
	Confidence float64          `json:"confidence,omitempty"`
}

// Ingest outcomes.
const (
	IngestCreated  = "created"
	IngestUpdated  = "updated"
	IngestRejected = "rejected"
)

// IngestResult reports what happened to one input.
type IngestResult struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`

	// Redacted counts secrets removed from the content.
	Redacted int `json:"redacted,omitempty"`

	Err error `json:"-"`
}

// Ingest stores units. Policy failures (unsupported domain, invalid
// content, capacity) reject only the offending item. A store failure aborts
// the batch and is returned with the results gathered so far.
func (e *Engine) Ingest(ctx context.Context, inputs []UnitInput) ([]IngestResult, error) {
	ctx, span := tracer.Start(ctx, "Engine.Ingest")
	defer span.End()

	results := make([]IngestResult, 0, len(inputs))
	for _, in := range inputs {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := e.ingestOne(ctx, in)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (e *Engine) reject(ctx context.Context, id string, err error) IngestResult {
	e.sink.Emit(ctx, events.New(events.UnitRejected, e.now(), id, "error", err))
	return IngestResult{ID: id, Status: IngestRejected, Error: err.Error(), Err: err}
}

func (e *Engine) ingestOne(ctx context.Context, in UnitInput) (IngestResult, error) {
	id := in.ID
	if id == "" {
		id = "ku_" + uuid.NewString()
	}
	if err := e.cfg.Domains.Check(in.Domain); err != nil {
		return e.reject(ctx, id, err), nil
	}

	content, redacted, err := e.redact(ctx, id, in.Content)
	if err != nil {
		return IngestResult{}, err
	}

	unlock := e.units.Lock(id)
	defer unlock()

	now := e.now()
	existing, err := e.store.Get(ctx, id)
	switch {
	case errors.Is(err, knowledge.ErrNotFound):
		unit := knowledge.NewUnit(id, in.Domain, content, in.Metadata)
		unit.Confidence = in.Confidence
		if err := unit.Validate(); err != nil {
			return e.reject(ctx, id, err), nil
		}
		if err := e.reserve(ctx); err != nil {
			if errors.Is(err, knowledge.ErrCapacityExceeded) {
				return e.reject(ctx, id, err), nil
			}
			return IngestResult{}, err
		}
		unit.CreatedAt = now
		unit.UpdatedAt = now
		if err := e.store.Put(ctx, &unit); err != nil {
			e.release()
			return IngestResult{}, fmt.Errorf("storing unit %s: %w", id, err)
		}
		e.sink.Emit(ctx, events.New(events.UnitIngested, now, id, "domain", string(in.Domain), "created", true))
		return IngestResult{ID: id, Status: IngestCreated, Redacted: redacted}, nil

	case err != nil:
		return IngestResult{}, fmt.Errorf("loading unit %s: %w", id, err)
	}

	updated := existing.Clone()
	updated.Domain = in.Domain
	updated.Metadata = in.Metadata
	updated.Confidence = in.Confidence
	if updated.Content != content {
		updated.Content = content
		updated.Embedding = nil
	}
	if err := updated.Validate(); err != nil {
		return e.reject(ctx, id, err), nil
	}
	updated.UpdatedAt = now
	if err := e.store.Put(ctx, &updated); err != nil {
		return IngestResult{}, fmt.Errorf("storing unit %s: %w", id, err)
	}
	e.sink.Emit(ctx, events.New(events.UnitIngested, now, id, "domain", string(in.Domain), "created", false))
	return IngestResult{ID: id, Status: IngestUpdated, Redacted: redacted}, nil
}

// redact scrubs secrets from content before anything stores or embeds it.
func (e *Engine) redact(ctx context.Context, id, content string) (string, int, error) {
	if e.redactor == nil {
		return content, 0, nil
	}
	res, err := e.redactor.Redact(content)
	if err != nil {
		return "", 0, fmt.Errorf("redacting unit %s: %w", id, err)
	}
	if n := len(res.Findings); n > 0 {
		e.sink.Emit(ctx, events.New(events.SecretsRedacted, e.now(), id, "count", n, "rules", res.Rules()))
	}
	return res.Content, len(res.Findings), nil
}

// reserve claims room for one new unit.
func (e *Engine) reserve(ctx context.Context) error {
	if e.cfg.MaxKnowledgeUnits == 0 {
		return nil
	}
	e.countMu.Lock()
	defer e.countMu.Unlock()
	if !e.countReady {
		n, err := e.store.CountUnits(ctx)
		if err != nil {
			return fmt.Errorf("counting units: %w", err)
		}
		e.unitCount = n
		e.countReady = true
		e.logger.Debug("unit count loaded", zap.Int("units", n))
	}
	if e.unitCount >= e.cfg.MaxKnowledgeUnits {
		return fmt.Errorf("%w: limit %d", knowledge.ErrCapacityExceeded, e.cfg.MaxKnowledgeUnits)
	}
	e.unitCount++
	return nil
}

func (e *Engine) release() {
	if e.cfg.MaxKnowledgeUnits == 0 {
		return
	}
	e.countMu.Lock()
	e.unitCount--
	e.countMu.Unlock()
}
