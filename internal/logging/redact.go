package logging

import (
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/acdkn/internal/config"
)

const (
	maxPatternLen = 200

	maskedKey     = "[REDACTED]"
	maskedPattern = "[REDACTED:pattern]"
)

type secretValue config.Secret

func (s secretValue) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt("redacted_len", len(config.Secret(s).Value()))
	return nil
}

// Secret logs only the length of val.
func Secret(key string, val config.Secret) zap.Field {
	return zap.Object(key, secretValue(val))
}

// RedactedString logs only the length of val.
func RedactedString(key, val string) zap.Field {
	return zap.String(key, "[REDACTED:"+strconv.Itoa(len(val))+"]")
}

// RedactingEncoder masks values whose key is sensitive, and string values
// that match a sensitive pattern, before the wrapped encoder sees them.
type RedactingEncoder struct {
	zapcore.Encoder
	keys     map[string]struct{}
	patterns []*regexp.Regexp
}

// NewRedactingEncoder wraps base. A disabled config yields a pass-through
// encoder and skips pattern validation.
func NewRedactingEncoder(base zapcore.Encoder, cfg RedactionConfig) (*RedactingEncoder, error) {
	enc := &RedactingEncoder{Encoder: base}
	if !cfg.Enabled {
		return enc, nil
	}
	enc.keys = make(map[string]struct{}, len(cfg.Fields))
	for _, f := range cfg.Fields {
		enc.keys[strings.ToLower(f)] = struct{}{}
	}
	for _, p := range cfg.Patterns {
		re, err := compilePattern(p)
		if err != nil {
			return nil, err
		}
		enc.patterns = append(enc.patterns, re)
	}
	return enc, nil
}

func (e *RedactingEncoder) active() bool {
	return len(e.keys) > 0 || len(e.patterns) > 0
}

func (e *RedactingEncoder) sensitiveKey(key string) bool {
	_, ok := e.keys[strings.ToLower(key)]
	return ok
}

// maskString returns the replacement for a string value, if any.
func (e *RedactingEncoder) maskString(key, val string) (string, bool) {
	if e.sensitiveKey(key) {
		return maskedKey, true
	}
	for _, re := range e.patterns {
		if re.MatchString(val) {
			return maskedPattern, true
		}
	}
	return "", false
}

// EncodeEntry masks per-call fields, which zap hands to the encoder
// directly instead of through the Add methods.
func (e *RedactingEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	if !e.active() {
		return e.Encoder.EncodeEntry(ent, fields)
	}
	masked := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		masked[i] = f
		if e.sensitiveKey(f.Key) {
			masked[i] = zap.String(f.Key, maskedKey)
			continue
		}
		if f.Type == zapcore.StringType {
			if m, ok := e.maskString(f.Key, f.String); ok {
				masked[i] = zap.String(f.Key, m)
			}
		}
	}
	return e.Encoder.EncodeEntry(ent, masked)
}

func (e *RedactingEncoder) AddString(key, val string) {
	if m, ok := e.maskString(key, val); ok {
		val = m
	}
	e.Encoder.AddString(key, val)
}

func (e *RedactingEncoder) AddByteString(key string, val []byte) {
	if e.sensitiveKey(key) {
		val = []byte(maskedKey)
	}
	e.Encoder.AddByteString(key, val)
}

func (e *RedactingEncoder) AddBinary(key string, val []byte) {
	if e.sensitiveKey(key) {
		e.Encoder.AddString(key, maskedKey)
		return
	}
	e.Encoder.AddBinary(key, val)
}

func (e *RedactingEncoder) AddReflected(key string, val any) error {
	if e.sensitiveKey(key) {
		e.Encoder.AddString(key, maskedKey)
		return nil
	}
	return e.Encoder.AddReflected(key, val)
}

func (e *RedactingEncoder) AddArray(key string, arr zapcore.ArrayMarshaler) error {
	if e.sensitiveKey(key) {
		e.Encoder.AddString(key, maskedKey)
		return nil
	}
	return e.Encoder.AddArray(key, arr)
}

func (e *RedactingEncoder) AddObject(key string, obj zapcore.ObjectMarshaler) error {
	if e.sensitiveKey(key) {
		e.Encoder.AddString(key, maskedKey)
		return nil
	}
	return e.Encoder.AddObject(key, obj)
}

func (e *RedactingEncoder) Clone() zapcore.Encoder {
	return &RedactingEncoder{
		Encoder:  e.Encoder.Clone(),
		keys:     e.keys,
		patterns: e.patterns,
	}
}
