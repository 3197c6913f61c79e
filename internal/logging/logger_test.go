package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lognoop "go.opentelemetry.io/otel/log/noop"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fyrsmithlabs/acdkn/internal/config"
)

func bufferedLogger(t *testing.T, cfg *Config) (*Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger, err := newLogger(cfg, zapcore.AddSync(&buf), nil)
	require.NoError(t, err)
	return logger, &buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestNewLogger_JSONWithServiceField(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Sampling.Enabled = false
	logger, buf := bufferedLogger(t, cfg)

	logger.Info(context.Background(), "detection finished", zap.Int("points", 3))

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "detection finished", lines[0]["msg"])
	assert.Equal(t, "acdkn", lines[0]["service"])
	assert.EqualValues(t, 3, lines[0]["points"])
	assert.Contains(t, lines[0], "ts")
}

func TestNewLogger_RedactsSensitiveFields(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Sampling.Enabled = false
	logger, buf := bufferedLogger(t, cfg)

	logger.Info(context.Background(), "calling provider",
		zap.String("api_key", "sk-live-123"),
		zap.String("header", "Bearer abc.def"),
		zap.String("model", "bge-small"),
		Secret("token", config.Secret("hunter2")),
		RedactedString("password", "pw"),
	)

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "[REDACTED]", lines[0]["api_key"])
	assert.Equal(t, "[REDACTED:pattern]", lines[0]["header"])
	assert.Equal(t, "bge-small", lines[0]["model"])
	assert.Equal(t, "[REDACTED]", lines[0]["token"])
	assert.NotContains(t, buf.String(), "hunter2")
	assert.NotContains(t, buf.String(), "sk-live-123")
}

func TestNewLogger_LevelFilters(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Sampling.Enabled = false
	cfg.Level = zapcore.WarnLevel
	logger, buf := bufferedLogger(t, cfg)

	ctx := context.Background()
	logger.Debug(ctx, "dropped")
	logger.Info(ctx, "dropped")
	logger.Warn(ctx, "kept")
	logger.Error(ctx, "kept too")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 2)
	assert.False(t, logger.Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Enabled(zapcore.ErrorLevel))
}

func TestNewLogger_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"
	_, err := NewLogger(cfg, nil)
	assert.Error(t, err)
}

func TestNewDualCore(t *testing.T) {
	tests := []struct {
		name     string
		stdout   bool
		otel     bool
		provider bool
		wantErr  bool
	}{
		{name: "stdout only", stdout: true},
		{name: "both outputs", stdout: true, otel: true, provider: true},
		{name: "otel without provider falls back to stdout", stdout: true, otel: true},
		{name: "otel only", otel: true, provider: true},
		{name: "otel only without provider", otel: true, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			cfg.Output = OutputConfig{Stdout: tt.stdout, OTEL: tt.otel}
			var buf bytes.Buffer
			var core zapcore.Core
			var err error
			if tt.provider {
				core, err = newDualCore(cfg, zapcore.AddSync(&buf), lognoop.NewLoggerProvider())
			} else {
				core, err = newDualCore(cfg, zapcore.AddSync(&buf), nil)
			}
			if tt.wantErr {
				assert.ErrorContains(t, err, "at least one output")
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, core)
		})
	}
}

func TestContextFields(t *testing.T) {
	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})

	ctx := trace.ContextWithSpanContext(context.Background(), sc)
	ctx = WithRunID(ctx, "run_01")
	ctx = WithRequestID(ctx, "req-42")

	got := map[string]zap.Field{}
	for _, f := range ContextFields(ctx) {
		got[f.Key] = f
	}
	assert.Equal(t, traceID.String(), got["trace_id"].String)
	assert.Equal(t, spanID.String(), got["span_id"].String)
	assert.Contains(t, got, "trace_sampled")
	assert.Equal(t, "run_01", got["run.id"].String)
	assert.Equal(t, "req-42", got["request.id"].String)

	assert.Empty(t, ContextFields(context.Background()))
}

func TestWithRunID_PanicsOnInvalid(t *testing.T) {
	tests := []string{"", "has space", strings.Repeat("a", maxIDLen+1), "semi;colon"}
	for _, id := range tests {
		assert.Panics(t, func() { WithRunID(context.Background(), id) }, id)
	}
}

func TestFromContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()).Underlying())

	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	FromContext(ctx).Info(ctx, "through context")
	assert.Len(t, tl.Entries(zapcore.InfoLevel, "through context"), 1)
}

func TestLevelFromString(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{in: "trace", want: TraceLevel},
		{in: "debug", want: zapcore.DebugLevel},
		{in: "warn", want: zapcore.WarnLevel},
		{in: "loud", want: zapcore.InfoLevel, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := LevelFromString(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{name: "bad format", modify: func(c *Config) { c.Format = "xml" }},
		{name: "no outputs", modify: func(c *Config) { c.Output = OutputConfig{} }},
		{name: "zero tick", modify: func(c *Config) { c.Sampling.Tick = 0 }},
		{name: "zero initial", modify: func(c *Config) { c.Sampling.Initial = 0 }},
		{name: "bad pattern", modify: func(c *Config) { c.Redaction.Patterns = []string{"("} }},
		{name: "long pattern", modify: func(c *Config) { c.Redaction.Patterns = []string{strings.Repeat("a", maxPatternLen+1)} }},
		{name: "empty field value", modify: func(c *Config) { c.Fields["env"] = "" }},
	}
	require.NoError(t, NewDefaultConfig().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.modify(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSampledCore_ErrorsNeverSampled(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)
	sampled := newSampledCore(core, SamplingConfig{
		Enabled:    true,
		Tick:       time.Minute,
		Initial:    2,
		Thereafter: 0,
	})
	logger := zap.New(sampled)

	for range 10 {
		logger.Info("repeated")
		logger.Error("failure")
	}

	assert.Equal(t, 2, observed.FilterMessage("repeated").Len())
	assert.Equal(t, 10, observed.FilterMessage("failure").Len())
}

func TestSampledCore_Disabled(t *testing.T) {
	core, _ := observer.New(zapcore.InfoLevel)
	assert.Equal(t, core, newSampledCore(core, SamplingConfig{}))
}

func TestTestLogger_Inspection(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithRunID(context.Background(), "run_7")
	tl.Info(ctx, "point detected", zap.String("point", "a|b"))

	assert.Len(t, tl.Entries(zapcore.InfoLevel, "point detected"), 1)
	assert.Empty(t, tl.Entries(zapcore.ErrorLevel, "point detected"))
	v, ok := tl.Field("point detected", "run.id")
	require.True(t, ok)
	assert.Equal(t, "run_7", v)
	v, ok = tl.Field("point detected", "point")
	require.True(t, ok)
	assert.Equal(t, "a|b", v)
	_, ok = tl.Field("point detected", "missing")
	assert.False(t, ok)
	tl.AssertNoSecrets(t, "ghp_secret")

	tl.Reset()
	assert.Empty(t, tl.All())
}

func TestTestLogger_AssertNoSecretsCatchesLeaks(t *testing.T) {
	tl := NewTestLogger()
	tl.Info(context.Background(), "calling provider", zap.String("api_key", "sk-live-1"))

	rec := &failRecorder{TB: t}
	tl.AssertNoSecrets(rec)
	assert.True(t, rec.failed)
}

// failRecorder swallows failures so assertions can be tested.
type failRecorder struct {
	testing.TB
	failed bool
}

func (r *failRecorder) Helper() {}

func (r *failRecorder) Errorf(string, ...any) { r.failed = true }

func TestLogger_CallerIsWrapperCaller(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Sampling.Enabled = false
	logger, buf := bufferedLogger(t, cfg)

	logger.Info(context.Background(), "wrapped")
	logger.Underlying().Info("direct")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 2)
	for _, l := range lines {
		assert.Contains(t, l["caller"], "logger_test.go", l["msg"])
	}
}

func TestFromConfig(t *testing.T) {
	cfg, err := FromConfig(config.LoggingConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, cfg.Level)
	assert.Equal(t, "console", cfg.Format)
	assert.True(t, cfg.Sampling.Enabled)
	require.NoError(t, cfg.Validate())

	cfg, err = FromConfig(config.LoggingConfig{Level: "trace", Format: "json"})
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, cfg.Level)
	assert.False(t, cfg.Sampling.Enabled)

	_, err = FromConfig(config.LoggingConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestRedactingEncoder_WithFields(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Sampling.Enabled = false
	logger, buf := bufferedLogger(t, cfg)

	logger.With(zap.String("authorization", "Basic Zm9v")).Info(context.Background(), "child")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "[REDACTED]", lines[0]["authorization"])
}

func TestNewRedactingEncoder(t *testing.T) {
	tests := []struct {
		name    string
		cfg     RedactionConfig
		wantErr string
	}{
		{name: "defaults", cfg: NewDefaultConfig().Redaction},
		{name: "invalid pattern", cfg: RedactionConfig{Enabled: true, Patterns: []string{"[invalid("}}, wantErr: "invalid redaction pattern"},
		{name: "too long", cfg: RedactionConfig{Enabled: true, Patterns: []string{strings.Repeat("a", maxPatternLen+1)}}, wantErr: "too long"},
		{name: "disabled skips validation", cfg: RedactionConfig{Patterns: []string{"[invalid("}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := NewRedactingEncoder(newEncoder("json"), tt.cfg)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				assert.Nil(t, enc)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, enc)
		})
	}
}
