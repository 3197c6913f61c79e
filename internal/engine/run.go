package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/acdkn/internal/events"
	"github.com/fyrsmithlabs/acdkn/internal/knowledge"
	"github.com/fyrsmithlabs/acdkn/internal/logging"
)

// RunReport summarizes one detection run.
type RunReport struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Embed *EmbedReport `json:"embed,omitempty"`

	// Units is the size of the snapshot handed to the matcher.
	Units      int `json:"units"`
	Candidates int `json:"candidates"`

	// InsufficientData is set when fewer than two domains had embedded
	// units. The run then ends cleanly with no points.
	InsufficientData bool `json:"insufficient_data,omitempty"`

	Points     []knowledge.IntegrationPoint `json:"points"`
	Created    int                          `json:"created"`
	Updated    int                          `json:"updated"`
	Unchanged  int                          `json:"unchanged"`
	Discarded  int                          `json:"discarded"`
	Suppressed int                          `json:"suppressed"`
}

// Detect runs one detection pass: embed pending units, snapshot the
// population, match across domains and upsert the resulting points.
//
// The snapshot is a deep copy taken after embedding, so ingestion running
// concurrently never changes what this run sees.
func (e *Engine) Detect(ctx context.Context) (*RunReport, error) {
	runID := uuid.NewString()
	ctx = logging.WithRunID(ctx, runID)
	ctx, span := tracer.Start(ctx, "Engine.Detect")
	defer span.End()
	span.SetAttributes(attribute.String("run.id", runID))

	report := &RunReport{RunID: runID, StartedAt: e.now()}
	logger := e.logger.With(zap.String("run.id", runID))
	logger.Info("detection run started")

	fail := func(err error) (*RunReport, error) {
		report.FinishedAt = e.now()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("detection run failed", zap.Error(err))
		return report, err
	}

	embedReport, err := e.EmbedPending(ctx)
	report.Embed = embedReport
	if err != nil {
		return fail(fmt.Errorf("embedding: %w", err))
	}

	snapshot, err := e.snapshot(ctx)
	if err != nil {
		return fail(err)
	}
	report.Units = len(snapshot)

	pairs, err := e.matcher.Match(ctx, snapshot)
	if errors.Is(err, knowledge.ErrInsufficientData) {
		report.InsufficientData = true
		report.Points = []knowledge.IntegrationPoint{}
		report.FinishedAt = e.now()
		logger.Info("detection run skipped", zap.String("reason", err.Error()))
		return report, nil
	}
	if err != nil {
		return fail(fmt.Errorf("matching: %w", err))
	}
	report.Candidates = len(pairs)
	for _, p := range pairs {
		e.sink.Emit(ctx, events.New(events.PairMatched, e.now(), p.Key(),
			"similarity", p.Similarity,
			"domains", knowledge.DomainPairKey(p.DomainA, p.DomainB),
		))
	}

	res, err := e.detector.Detect(ctx, pairs)
	if res != nil {
		report.Points = res.Points
		report.Created = res.Created
		report.Updated = res.Updated
		report.Unchanged = res.Unchanged
		report.Discarded = res.Discarded
		report.Suppressed = res.Suppressed
	}
	if report.Points == nil {
		report.Points = []knowledge.IntegrationPoint{}
	}
	if err != nil {
		return fail(fmt.Errorf("detecting: %w", err))
	}

	report.FinishedAt = e.now()
	span.SetAttributes(
		attribute.Int("engine.units", report.Units),
		attribute.Int("engine.candidates", report.Candidates),
		attribute.Int("engine.points", len(report.Points)),
	)
	logger.Info("detection run finished",
		zap.Int("units", report.Units),
		zap.Int("candidates", report.Candidates),
		zap.Int("created", report.Created),
		zap.Int("updated", report.Updated),
		zap.Int("discarded", report.Discarded),
	)
	return report, nil
}

// snapshot copies every embedded unit of every supported domain.
func (e *Engine) snapshot(ctx context.Context) ([]knowledge.KnowledgeUnit, error) {
	var out []knowledge.KnowledgeUnit
	for _, d := range e.cfg.Domains.List() {
		units, err := e.store.ListByDomain(ctx, d)
		if err != nil {
			return nil, fmt.Errorf("snapshot of domain %s: %w", d, err)
		}
		for _, u := range units {
			if u.Embedded() {
				out = append(out, u.Clone())
			}
		}
	}
	return out, nil
}
