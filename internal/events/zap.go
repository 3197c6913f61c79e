package events

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/acdkn/internal/logging"
)

// ZapSink writes events as structured log entries.
//
// Per-pair events are high volume and log at debug. Per-item rejections and
// lost transition races log at warn. Everything else logs at info.
type ZapSink struct {
	logger *zap.Logger
}

// NewZapSink creates a sink that logs through logger.
func NewZapSink(logger *zap.Logger) *ZapSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapSink{logger: logger.Named("events")}
}

func levelFor(t Type) zapcore.Level {
	switch t {
	case PairMatched, PairDiscarded:
		return zapcore.DebugLevel
	case UnitRejected, SecretsRedacted, DuplicateTransition, EmbeddingSkipped:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}

func (s *ZapSink) Emit(ctx context.Context, e Event) {
	ce := s.logger.Check(levelFor(e.Type), string(e.Type))
	if ce == nil {
		return
	}
	fields := make([]zap.Field, 0, len(e.Fields)+3)
	fields = append(fields,
		zap.String("event", string(e.Type)),
		zap.Time("at", e.Time),
	)
	if e.Subject != "" {
		fields = append(fields, zap.String("subject", e.Subject))
	}
	for _, k := range e.SortedKeys() {
		if err, ok := e.Fields[k].(error); ok {
			fields = append(fields, zap.NamedError(k, err))
			continue
		}
		fields = append(fields, zap.Any(k, e.Fields[k]))
	}
	fields = append(fields, logging.ContextFields(ctx)...)
	ce.Write(fields...)
}
