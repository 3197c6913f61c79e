package feedback

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Start runs retraining in the background, every RetrainInterval and
// whenever RetrainEvery outcomes have accumulated, until Stop is called.
//
// Returns an error if the loop is already running.
func (l *Loop) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return fmt.Errorf("feedback loop is already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.done = make(chan struct{})
	l.running = true

	l.logger.Info("feedback loop started",
		zap.Duration("interval", l.cfg.RetrainInterval),
		zap.Int("retrain_every", l.cfg.RetrainEvery),
	)

	go l.run(ctx, l.done)
	return nil
}

// Stop cancels any in-flight retrain and waits for the background goroutine
// to exit. Stopping a loop that is not running is a no-op.
func (l *Loop) Stop() error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return nil
	}
	l.running = false
	cancel, done := l.cancel, l.done
	l.mu.Unlock()

	l.logger.Info("stopping feedback loop")
	cancel()
	<-done
	return nil
}

// Running reports whether the scheduler goroutine is active.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

func (l *Loop) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("feedback loop panicked, recovering",
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			l.mu.Lock()
			l.running = false
			l.mu.Unlock()
		}
	}()

	ticker := time.NewTicker(l.cfg.RetrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("feedback loop stopped")
			return
		case <-ticker.C:
			l.retrain(ctx, "interval")
		case <-l.trigger:
			l.retrain(ctx, "outcomes")
			ticker.Reset(l.cfg.RetrainInterval)
		}
	}
}

func (l *Loop) retrain(ctx context.Context, reason string) {
	stats, err := l.Retrain(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		l.logger.Error("retrain failed", zap.String("reason", reason), zap.Error(err))
		return
	}
	l.logger.Debug("retrained",
		zap.String("reason", reason),
		zap.Uint64("version", stats.Version),
		zap.Int("decisions", stats.Decisions),
	)
}
