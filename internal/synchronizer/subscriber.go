package synchronizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/acdkn/internal/knowledge"
)

// QueueGroup load-balances inbound messages across engine replicas.
const QueueGroup = "acdkn-engine"

// Handlers are the engine operations the subscriber drives.
type Handlers struct {
	// Apply marks a decided point as applied.
	Apply func(ctx context.Context, pointID string) error

	// ReportOutcome completes a decision with its realized score.
	ReportOutcome func(ctx context.Context, decisionID string, score float64) error
}

// AppliedMessage confirms a downstream consumer executed a decision.
type AppliedMessage struct {
	PointID string `json:"point_id"`
}

// OutcomeMessage reports how useful an applied decision turned out.
type OutcomeMessage struct {
	DecisionID string  `json:"decision_id"`
	Score      float64 `json:"score"`
}

// Reply is sent back when the inbound message carries a reply subject.
type Reply struct {
	OK        bool   `json:"ok"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Subscriber consumes apply confirmations and outcome reports.
type Subscriber struct {
	nc       *nats.Conn
	subjects Subjects
	handlers Handlers
	timeout  time.Duration
	logger   *zap.Logger

	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewSubscriber creates a subscriber. timeout bounds each handler call.
func NewSubscriber(nc *nats.Conn, prefix string, handlers Handlers, timeout time.Duration, logger *zap.Logger) (*Subscriber, error) {
	if nc == nil {
		return nil, errors.New("nats connection cannot be nil")
	}
	if handlers.Apply == nil || handlers.ReportOutcome == nil {
		return nil, errors.New("both apply and outcome handlers are required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Subscriber{
		nc:       nc,
		subjects: Subjects{Prefix: prefix},
		handlers: handlers,
		timeout:  timeout,
		logger:   logger,
	}, nil
}

// Start subscribes to the inbound subjects.
func (s *Subscriber) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.subs) > 0 {
		return fmt.Errorf("subscriber is already running")
	}

	applied, err := s.nc.QueueSubscribe(s.subjects.Applied(), QueueGroup, s.onApplied)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", s.subjects.Applied(), err)
	}
	outcome, err := s.nc.QueueSubscribe(s.subjects.Outcome(), QueueGroup, s.onOutcome)
	if err != nil {
		_ = applied.Unsubscribe()
		return fmt.Errorf("subscribe %s: %w", s.subjects.Outcome(), err)
	}
	s.subs = []*nats.Subscription{applied, outcome}

	s.logger.Info("synchronizer subscribed",
		zap.String("applied", s.subjects.Applied()),
		zap.String("outcome", s.subjects.Outcome()),
	)
	return s.nc.Flush()
}

// Stop drains the subscriptions so in-flight messages finish.
func (s *Subscriber) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for _, sub := range s.subs {
		if err := sub.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, err)
		}
	}
	s.subs = nil
	return errors.Join(errs...)
}

func (s *Subscriber) onApplied(msg *nats.Msg) {
	var m AppliedMessage
	if err := json.Unmarshal(msg.Data, &m); err != nil || m.PointID == "" {
		s.logger.Warn("malformed applied message", zap.ByteString("data", msg.Data), zap.Error(err))
		s.reply(msg, fmt.Errorf("malformed applied message"))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	s.reply(msg, s.handlers.Apply(ctx, m.PointID))
}

func (s *Subscriber) onOutcome(msg *nats.Msg) {
	var m OutcomeMessage
	if err := json.Unmarshal(msg.Data, &m); err != nil || m.DecisionID == "" {
		s.logger.Warn("malformed outcome message", zap.ByteString("data", msg.Data), zap.Error(err))
		s.reply(msg, fmt.Errorf("malformed outcome message"))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	s.reply(msg, s.handlers.ReportOutcome(ctx, m.DecisionID, m.Score))
}

func (s *Subscriber) reply(msg *nats.Msg, err error) {
	r := Reply{OK: true}
	switch {
	case err == nil:
	case errors.Is(err, knowledge.ErrDuplicateTransition):
		r.Duplicate = true
	default:
		r = Reply{Error: err.Error()}
		s.logger.Warn("synchronizer message failed",
			zap.String("subject", msg.Subject),
			zap.Error(err),
		)
	}
	if msg.Reply == "" {
		return
	}
	data, mErr := json.Marshal(r)
	if mErr != nil {
		return
	}
	if rErr := msg.Respond(data); rErr != nil {
		s.logger.Warn("reply failed", zap.String("subject", msg.Subject), zap.Error(rErr))
	}
}
