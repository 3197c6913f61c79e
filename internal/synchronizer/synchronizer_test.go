package synchronizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/acdkn/internal/knowledge"
)

func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	opts := &natsserver.Options{
		Host:           "127.0.0.1",
		Port:           -1,
		NoLog:          true,
		NoSigs:         true,
		MaxControlLine: 2048,
	}
	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()
	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})
	return server
}

func connect(t *testing.T, server *natsserver.Server) *nats.Conn {
	t.Helper()
	nc, err := Connect(server.ClientURL(), nil)
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	return nc
}

func TestSubjects(t *testing.T) {
	s := Subjects{Prefix: "acme"}
	assert.Equal(t, "acme.integration.healthcare.technology.decided", s.Decided("technology", "healthcare"))
	assert.Equal(t, s.Decided("healthcare", "technology"), s.Decided("technology", "healthcare"))
	assert.Equal(t, "acme.integration.life_sci.tech_.decided", s.Decided("life.sci", "tech>"))
	assert.Equal(t, "acme.integration.*.*.decided", s.DecidedWildcard())
	assert.Equal(t, "acdkn.outcome", Subjects{}.Outcome())
	assert.Equal(t, "acdkn.applied", Subjects{}.Applied())
}

func TestNATSNotifier_Publishes(t *testing.T) {
	server := startTestNATSServer(t)
	nc := connect(t, server)

	notifier, err := NewNATSNotifier(nc, "acdkn", nil)
	require.NoError(t, err)

	ch := make(chan *nats.Msg, 1)
	sub, err := nc.ChanSubscribe(Subjects{}.DecidedWildcard(), ch)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	point := knowledge.IntegrationPoint{
		ID: "ip_1", UnitA: "a", UnitB: "b",
		DomainA: "technology", DomainB: "healthcare",
		Confidence: 0.738, Status: knowledge.StatusDecided, DecisionID: "dc_1",
	}
	decision := knowledge.StrategyDecision{ID: "dc_1", PointID: "ip_1", Strategy: "manual-review"}
	require.NoError(t, notifier.Notify(context.Background(), point, decision))

	select {
	case msg := <-ch:
		assert.Equal(t, "acdkn.integration.healthcare.technology.decided", msg.Subject)
		var n Notification
		require.NoError(t, json.Unmarshal(msg.Data, &n))
		assert.Equal(t, point, n.Point)
		assert.Equal(t, "manual-review", n.Decision.Strategy)
		assert.False(t, n.SentAt.IsZero())
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for decided event")
	}
}

func TestNATSNotifier_ClosedConnection(t *testing.T) {
	server := startTestNATSServer(t)
	nc := connect(t, server)
	notifier, err := NewNATSNotifier(nc, "", nil)
	require.NoError(t, err)
	nc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err = notifier.Notify(ctx, knowledge.IntegrationPoint{ID: "p"}, knowledge.StrategyDecision{ID: "d"})
	assert.Error(t, err)

	_, err = NewNATSNotifier(nil, "", nil)
	assert.Error(t, err)
}

type fakeEngine struct {
	mu       sync.Mutex
	applied  []string
	outcomes map[string]float64
	applyErr error
}

func (f *fakeEngine) handlers() Handlers {
	return Handlers{
		Apply: func(_ context.Context, pointID string) error {
			f.mu.Lock()
			defer f.mu.Unlock()
			if f.applyErr != nil {
				return f.applyErr
			}
			f.applied = append(f.applied, pointID)
			return nil
		},
		ReportOutcome: func(_ context.Context, decisionID string, score float64) error {
			f.mu.Lock()
			defer f.mu.Unlock()
			if _, done := f.outcomes[decisionID]; done {
				return fmt.Errorf("%w: decision %s", knowledge.ErrDuplicateTransition, decisionID)
			}
			f.outcomes[decisionID] = score
			return nil
		},
	}
}

func request(t *testing.T, nc *nats.Conn, subject string, v any) Reply {
	t.Helper()
	var data []byte
	switch m := v.(type) {
	case []byte:
		data = m
	default:
		var err error
		data, err = json.Marshal(v)
		require.NoError(t, err)
	}
	msg, err := nc.Request(subject, data, 2*time.Second)
	require.NoError(t, err)
	var r Reply
	require.NoError(t, json.Unmarshal(msg.Data, &r))
	return r
}

func TestSubscriber_DrivesEngine(t *testing.T) {
	server := startTestNATSServer(t)
	nc := connect(t, server)
	engine := &fakeEngine{outcomes: map[string]float64{}}

	sub, err := NewSubscriber(nc, "acdkn", engine.handlers(), time.Second, nil)
	require.NoError(t, err)
	require.NoError(t, sub.Start())
	defer sub.Stop()
	assert.Error(t, sub.Start(), "second start fails")

	subjects := Subjects{Prefix: "acdkn"}

	r := request(t, nc, subjects.Applied(), AppliedMessage{PointID: "ip_1"})
	assert.Equal(t, Reply{OK: true}, r)

	r = request(t, nc, subjects.Outcome(), OutcomeMessage{DecisionID: "dc_1", Score: 0.8})
	assert.Equal(t, Reply{OK: true}, r)

	r = request(t, nc, subjects.Outcome(), OutcomeMessage{DecisionID: "dc_1", Score: 0.1})
	assert.Equal(t, Reply{OK: true, Duplicate: true}, r)

	r = request(t, nc, subjects.Outcome(), []byte("not json"))
	assert.False(t, r.OK)
	assert.Contains(t, r.Error, "malformed")

	engine.mu.Lock()
	engine.applyErr = knowledge.ErrInvalidTransition
	engine.mu.Unlock()
	r = request(t, nc, subjects.Applied(), AppliedMessage{PointID: "ip_2"})
	assert.False(t, r.OK)
	assert.Contains(t, r.Error, knowledge.ErrInvalidTransition.Error())

	engine.mu.Lock()
	defer engine.mu.Unlock()
	assert.Equal(t, []string{"ip_1"}, engine.applied)
	assert.Equal(t, map[string]float64{"dc_1": 0.8}, engine.outcomes)
}

func TestSubscriber_StopDrains(t *testing.T) {
	server := startTestNATSServer(t)
	nc := connect(t, server)
	engine := &fakeEngine{outcomes: map[string]float64{}}

	sub, err := NewSubscriber(nc, "", engine.handlers(), 0, nil)
	require.NoError(t, err)
	require.NoError(t, sub.Start())
	require.NoError(t, sub.Stop())

	data, _ := json.Marshal(AppliedMessage{PointID: "ip_late"})
	_, err = nc.Request(Subjects{}.Applied(), data, 200*time.Millisecond)
	assert.True(t, errors.Is(err, nats.ErrNoResponders) || errors.Is(err, nats.ErrTimeout), "got %v", err)

	engine.mu.Lock()
	defer engine.mu.Unlock()
	assert.Empty(t, engine.applied)
}

func TestNewSubscriber_Validation(t *testing.T) {
	_, err := NewSubscriber(nil, "", Handlers{}, 0, nil)
	assert.Error(t, err)

	server := startTestNATSServer(t)
	nc := connect(t, server)
	_, err = NewSubscriber(nc, "", Handlers{Apply: func(context.Context, string) error { return nil }}, 0, nil)
	assert.Error(t, err)
}
