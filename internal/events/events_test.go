package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fyrsmithlabs/acdkn/internal/logging"
)

var at = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestNew(t *testing.T) {
	e := New(PairDiscarded, at, "a|b", "confidence", 0.3, "reason", "below_threshold", "dangling")
	assert.Equal(t, PairDiscarded, e.Type)
	assert.Equal(t, "a|b", e.Subject)
	assert.Equal(t, map[string]any{"confidence": 0.3, "reason": "below_threshold"}, e.Fields)
	assert.Equal(t, []string{"confidence", "reason"}, e.SortedKeys())

	assert.Nil(t, New(UnitIngested, at, "u1").Fields)
}

func TestMulti(t *testing.T) {
	var a, b Recorder
	sink := Multi{&a, nil, &b, Nop{}}
	sink.Emit(context.Background(), New(UnitIngested, at, "u1"))
	sink.Emit(context.Background(), New(UnitEmbedded, at, "u1"))

	assert.Len(t, a.Events(), 2)
	assert.Equal(t, 1, b.Count(UnitEmbedded))
	assert.Empty(t, b.OfType(PointDetected))
}

func TestZapSink_Levels(t *testing.T) {
	core, observed := observer.New(zapcore.DebugLevel)
	sink := NewZapSink(zap.New(core))

	ctx := logging.WithRunID(context.Background(), "run_1")
	sink.Emit(ctx, New(PairMatched, at, "a|b", "similarity", 0.9))
	sink.Emit(ctx, New(DuplicateTransition, at, "p1", "to", "accepted"))
	sink.Emit(ctx, New(EmbeddingSkipped, at, "u2", "error", errors.New("provider down")))
	sink.Emit(ctx, New(PointDetected, at, "p1", "confidence", 0.74))

	entries := observed.All()
	require.Len(t, entries, 4)

	tests := []struct {
		msg   string
		level zapcore.Level
	}{
		{msg: string(PairMatched), level: zapcore.DebugLevel},
		{msg: string(DuplicateTransition), level: zapcore.WarnLevel},
		{msg: string(EmbeddingSkipped), level: zapcore.WarnLevel},
		{msg: string(PointDetected), level: zapcore.InfoLevel},
	}
	for i, tt := range tests {
		assert.Equal(t, tt.msg, entries[i].Message)
		assert.Equal(t, tt.level, entries[i].Level)
		assert.Equal(t, "events", entries[i].LoggerName)
	}

	fields := entries[2].ContextMap()
	assert.Equal(t, "u2", fields["subject"])
	assert.Equal(t, "provider down", fields["error"])
	assert.Equal(t, "run_1", fields["run.id"])
}

func TestZapSink_DisabledLevelSkipped(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)
	sink := NewZapSink(zap.New(core))
	sink.Emit(context.Background(), New(PairDiscarded, at, "a|b"))
	assert.Zero(t, observed.Len())

	assert.NotPanics(t, func() {
		NewZapSink(nil).Emit(context.Background(), New(UnitIngested, at, "u"))
	})
}

func TestPrometheusSink(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := NewPrometheusSink(reg)
	ctx := context.Background()

	sink.Emit(ctx, New(PointDetected, at, "p1", "confidence", 0.74))
	sink.Emit(ctx, New(PointDetected, at, "p2", "confidence", 0.61))
	sink.Emit(ctx, New(OutcomeRecorded, at, "d1", "score", 0.9))
	sink.Emit(ctx, New(PairDiscarded, at, "a|b"))

	assert.Equal(t, 2.0, testutil.ToFloat64(sink.events.WithLabelValues(string(PointDetected))))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.events.WithLabelValues(string(PairDiscarded))))

	families, err := reg.Gather()
	require.NoError(t, err)
	samples := map[string]uint64{}
	for _, f := range families {
		if h := f.GetMetric()[0].GetHistogram(); h != nil {
			samples[f.GetName()] = h.GetSampleCount()
		} else {
			samples[f.GetName()] = 0
		}
	}
	assert.Contains(t, samples, "acdkn_engine_events_total")
	assert.Equal(t, uint64(2), samples["acdkn_engine_point_confidence"])
	assert.Equal(t, uint64(1), samples["acdkn_engine_outcome_score"])
}
