package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/acdkn/internal/events"
	"github.com/fyrsmithlabs/acdkn/internal/knowledge"
)

// EmbedReport summarizes one embedding pass.
type EmbedReport struct {
	Pending  int `json:"pending"`
	Embedded int `json:"embedded"`
	Skipped  int `json:"skipped"`
}

// EmbedPending embeds every unit without a vector of the provider's
// dimension. Batches run in parallel up to MaxConcurrency. A failed batch
// skips its units for this run; if every batch fails the pass returns
// knowledge.ErrEmbeddingUnavailable.
func (e *Engine) EmbedPending(ctx context.Context) (*EmbedReport, error) {
	ctx, span := tracer.Start(ctx, "Engine.EmbedPending")
	defer span.End()

	dim := e.embedder.Dimension()
	var pending []knowledge.KnowledgeUnit
	for _, d := range e.cfg.Domains.List() {
		units, err := e.store.ListByDomain(ctx, d)
		if err != nil {
			return nil, fmt.Errorf("listing domain %s: %w", d, err)
		}
		for _, u := range units {
			if len(u.Embedding) != dim {
				pending = append(pending, u)
			}
		}
	}
	report := &EmbedReport{Pending: len(pending)}
	span.SetAttributes(attribute.Int("engine.embed.pending", len(pending)))
	if len(pending) == 0 {
		return report, nil
	}

	var (
		embedded, skipped atomic.Int64
		failedBatches     atomic.Int64
		batches           int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxConcurrency)
	for start := 0; start < len(pending); start += e.cfg.EmbedBatchSize {
		batch := pending[start:min(start+e.cfg.EmbedBatchSize, len(pending))]
		batches++
		g.Go(func() error {
			n, err := e.embedBatch(gctx, batch)
			if err == nil {
				embedded.Add(int64(n))
				return nil
			}
			if errors.Is(err, knowledge.ErrStoreUnavailable) || gctx.Err() != nil {
				return err
			}
			failedBatches.Add(1)
			skipped.Add(int64(len(batch)))
			e.logger.Warn("embedding batch failed", zap.Int("units", len(batch)), zap.Error(err))
			for _, u := range batch {
				e.sink.Emit(gctx, events.New(events.EmbeddingSkipped, e.now(), u.ID, "error", err))
			}
			return nil
		})
	}
	err := g.Wait()
	report.Embedded = int(embedded.Load())
	report.Skipped = int(skipped.Load())
	if err != nil {
		return report, err
	}
	if int(failedBatches.Load()) == batches {
		return report, fmt.Errorf("%w: all %d batches failed", knowledge.ErrEmbeddingUnavailable, batches)
	}
	return report, nil
}

// embedBatch embeds one batch and stores each vector under the unit's lock.
// A unit whose content changed since it was listed keeps its new content and
// stays pending.
func (e *Engine) embedBatch(ctx context.Context, batch []knowledge.KnowledgeUnit) (int, error) {
	texts := make([]string, len(batch))
	for i, u := range batch {
		texts[i] = u.Content
	}
	vectors, err := e.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, err
	}
	if len(vectors) != len(batch) {
		return 0, fmt.Errorf("%w: provider returned %d vectors for %d texts",
			knowledge.ErrEmbeddingUnavailable, len(vectors), len(batch))
	}

	stored := 0
	for i, u := range batch {
		ok, err := e.storeEmbedding(ctx, u, vectors[i])
		if err != nil {
			return stored, err
		}
		if ok {
			stored++
		}
	}
	return stored, nil
}

func (e *Engine) storeEmbedding(ctx context.Context, listed knowledge.KnowledgeUnit, vec []float32) (bool, error) {
	unlock := e.units.Lock(listed.ID)
	defer unlock()

	current, err := e.store.Get(ctx, listed.ID)
	if errors.Is(err, knowledge.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reloading unit %s: %w", listed.ID, err)
	}
	if current.Content != listed.Content {
		return false, nil
	}
	now := e.now()
	current.Embedding = vec
	current.UpdatedAt = now
	if err := e.store.Put(ctx, current); err != nil {
		return false, fmt.Errorf("storing embedding of %s: %w", listed.ID, err)
	}
	e.sink.Emit(ctx, events.New(events.UnitEmbedded, now, listed.ID,
		"domain", string(current.Domain),
		"dimension", len(vec),
	))
	return true, nil
}
