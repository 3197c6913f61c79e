// Package synchronizer connects the engine to downstream consumers over NATS.
//
// Outbound, the engine calls Notifier.Notify when a strategy decision is
// ready; the NATS notifier publishes it on
//
//	{prefix}.integration.{domain_a}.{domain_b}.decided
//
// Inbound, a Subscriber listens on {prefix}.applied and {prefix}.outcome and
// hands the messages to the engine's Apply and ReportOutcome operations.
package synchronizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/acdkn/internal/knowledge"
)

// DefaultPrefix is the subject prefix used when none is configured.
const DefaultPrefix = "acdkn"

// Notifier delivers ready decisions to downstream consumers.
type Notifier interface {
	Notify(ctx context.Context, point knowledge.IntegrationPoint, decision knowledge.StrategyDecision) error
}

// NopNotifier drops every notification. Used when sync is disabled.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, knowledge.IntegrationPoint, knowledge.StrategyDecision) error {
	return nil
}

// Notification is the payload of a decided message.
type Notification struct {
	Point    knowledge.IntegrationPoint `json:"point"`
	Decision knowledge.StrategyDecision `json:"decision"`
	SentAt   time.Time                  `json:"sent_at"`
}

// Subjects names the NATS subjects under one prefix.
type Subjects struct {
	Prefix string
}

// Decided returns the subject a decision for domains a×b is published on.
// Domains are ordered so both directions share one subject.
func (s Subjects) Decided(a, b knowledge.Domain) string {
	if b < a {
		a, b = b, a
	}
	return fmt.Sprintf("%s.integration.%s.%s.decided", s.prefix(), token(string(a)), token(string(b)))
}

// DecidedWildcard matches every decided subject.
func (s Subjects) DecidedWildcard() string {
	return s.prefix() + ".integration.*.*.decided"
}

// Applied is the inbound subject for apply confirmations.
func (s Subjects) Applied() string {
	return s.prefix() + ".applied"
}

// Outcome is the inbound subject for outcome reports.
func (s Subjects) Outcome() string {
	return s.prefix() + ".outcome"
}

func (s Subjects) prefix() string {
	if s.Prefix == "" {
		return DefaultPrefix
	}
	return s.Prefix
}

// token makes a domain safe for use as one subject token.
func token(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}

// NATSNotifier publishes decided notifications to NATS.
type NATSNotifier struct {
	nc       *nats.Conn
	subjects Subjects
	now      func() time.Time
	logger   *zap.Logger
}

// NewNATSNotifier creates a notifier publishing on nc.
func NewNATSNotifier(nc *nats.Conn, prefix string, logger *zap.Logger) (*NATSNotifier, error) {
	if nc == nil {
		return nil, errors.New("nats connection cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSNotifier{
		nc:       nc,
		subjects: Subjects{Prefix: prefix},
		now:      time.Now,
		logger:   logger,
	}, nil
}

// Notify publishes the point and its decision and flushes, so a returned nil
// means the server has the message.
func (n *NATSNotifier) Notify(ctx context.Context, point knowledge.IntegrationPoint, decision knowledge.StrategyDecision) error {
	data, err := json.Marshal(Notification{Point: point, Decision: decision, SentAt: n.now()})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	subject := n.subjects.Decided(point.DomainA, point.DomainB)
	if err := n.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish decided event: %w", err)
	}
	if err := n.flush(ctx); err != nil {
		return fmt.Errorf("flush decided event: %w", err)
	}
	n.logger.Debug("decision published",
		zap.String("subject", subject),
		zap.String("point", point.ID),
		zap.String("decision", decision.ID),
	)
	return nil
}

const flushTimeout = 5 * time.Second

func (n *NATSNotifier) flush(ctx context.Context) error {
	if _, ok := ctx.Deadline(); ok {
		return n.nc.FlushWithContext(ctx)
	}
	return n.nc.FlushTimeout(flushTimeout)
}

// Connect dials NATS with reconnect logging. extra options are applied
// after the defaults.
func Connect(url string, logger *zap.Logger, extra ...nats.Option) (*nats.Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []nats.Option{
		nats.Name("acdknd"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	}
	nc, err := nats.Connect(url, append(opts, extra...)...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}
	return nc, nil
}
