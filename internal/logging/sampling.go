package logging

import (
	"go.uber.org/zap/zapcore"
)

// newSampledCore samples entries below error level. Errors and above
// bypass the sampler so a burst of info logs never hides a failure.
func newSampledCore(core zapcore.Core, cfg SamplingConfig) zapcore.Core {
	if !cfg.Enabled {
		return core
	}
	errorsOnly, err := zapcore.NewIncreaseLevelCore(core, zapcore.ErrorLevel)
	if err != nil {
		// core is already above error level; nothing to sample.
		return core
	}
	sampled := zapcore.NewSamplerWithOptions(ceilingCore{core, zapcore.WarnLevel},
		cfg.Tick, cfg.Initial, cfg.Thereafter)
	return zapcore.NewTee(errorsOnly, sampled)
}

// ceilingCore drops entries above max.
type ceilingCore struct {
	zapcore.Core
	max zapcore.Level
}

func (c ceilingCore) Enabled(lvl zapcore.Level) bool {
	return lvl <= c.max && c.Core.Enabled(lvl)
}

func (c ceilingCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if e.Level > c.max {
		return ce
	}
	return c.Core.Check(e, ce)
}

func (c ceilingCore) With(fields []zapcore.Field) zapcore.Core {
	return ceilingCore{c.Core.With(fields), c.max}
}
