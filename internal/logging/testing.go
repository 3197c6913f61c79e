package logging

import (
	"regexp"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestLogger records every entry at trace level and above. Components
// under test take Underlying() so their output can be inspected.
type TestLogger struct {
	*Logger
	observed *observer.ObservedLogs
}

// NewTestLogger creates a TestLogger.
func NewTestLogger() *TestLogger {
	core, observed := observer.New(TraceLevel)
	return &TestLogger{
		Logger:   wrap(zap.New(core), NewDefaultConfig()),
		observed: observed,
	}
}

// All returns every recorded entry.
func (t *TestLogger) All() []observer.LoggedEntry {
	return t.observed.All()
}

// Reset discards recorded entries.
func (t *TestLogger) Reset() {
	t.observed.TakeAll()
}

// Entries returns entries at level whose message contains msg.
func (t *TestLogger) Entries(level zapcore.Level, msg string) []observer.LoggedEntry {
	return t.observed.Filter(func(e observer.LoggedEntry) bool {
		return e.Level == level && strings.Contains(e.Message, msg)
	}).All()
}

// Field returns the value of key on the first entry with message msg.
func (t *TestLogger) Field(msg, key string) (any, bool) {
	for _, e := range t.observed.FilterMessage(msg).All() {
		if v, ok := e.ContextMap()[key]; ok {
			return v, true
		}
	}
	return nil, false
}

// AssertNoSecrets fails tb when a recorded entry carries one of values
// verbatim, an unmasked sensitive key, or a match for the default
// redaction patterns.
func (t *TestLogger) AssertNoSecrets(tb testing.TB, values ...string) {
	tb.Helper()
	red := NewDefaultConfig().Redaction
	patterns := make([]*regexp.Regexp, len(red.Patterns))
	for i, p := range red.Patterns {
		patterns[i] = regexp.MustCompile(p)
	}
	leaks := func(where, s string) {
		for _, v := range values {
			if v != "" && strings.Contains(s, v) {
				tb.Errorf("%s leaks %q", where, v)
			}
		}
		for _, re := range patterns {
			if re.MatchString(s) {
				tb.Errorf("%s matches %s: %q", where, re, s)
			}
		}
	}

	for _, e := range t.observed.All() {
		leaks("message", e.Message)
		for _, f := range e.Context {
			if f.Type != zapcore.StringType {
				continue
			}
			leaks("field "+f.Key, f.String)
			for _, k := range red.Fields {
				if strings.Contains(strings.ToLower(f.Key), k) && f.String != "" && !strings.HasPrefix(f.String, "[REDACTED") {
					tb.Errorf("sensitive field %q not masked", f.Key)
				}
			}
		}
	}
}
