package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/loan-workflow/internal/application/dispatcher"
	"github.com/garyjia/loan-workflow/internal/domain/event"
)

type published struct {
	subject string
	data    []byte
}

// fakeConn records publishes and keeps subscription callbacks so tests can
// deliver messages by hand
type fakeConn struct {
	mu         sync.Mutex
	published  []published
	handlers   map[string]nats.MsgHandler
	publishErr error
	subErr     error
}

func newFakeConn() *fakeConn {
	return &fakeConn{handlers: make(map[string]nats.MsgHandler)}
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, published{subject: subject, data: data})
	return nil
}

func (f *fakeConn) Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subErr != nil {
		return nil, f.subErr
	}
	f.handlers[subject] = cb
	return &nats.Subscription{Subject: subject}, nil
}

func (f *fakeConn) deliver(t *testing.T, subject string, data []byte) {
	t.Helper()
	f.mu.Lock()
	cb, ok := f.handlers[subject]
	f.mu.Unlock()
	require.True(t, ok, "no subscription on %s", subject)
	cb(&nats.Msg{Subject: subject, Data: data})
}

func TestBridge_PublishesOutboundEvents(t *testing.T) {
	conn := newFakeConn()
	b := NewBridge(conn, Config{SubjectPrefix: "bank.loans."}, zap.NewNop(), nil)

	d := dispatcher.NewDispatcher()
	defer d.Close()
	b.Register(d)

	evt := event.NewEvent(event.TypeWorkflowTransitioned, "inst-1", "loan-1", map[string]interface{}{
		event.KeyFromStatus: "Draft",
		event.KeyToStatus:   "Submitted",
	})
	require.NoError(t, d.Dispatch(context.Background(), evt))

	require.Len(t, conn.published, 1)
	assert.Equal(t, "bank.loans.workflow.transitioned", conn.published[0].subject)

	var got event.Event
	require.NoError(t, json.Unmarshal(conn.published[0].data, &got))
	assert.Equal(t, evt.ID, got.ID)
	assert.Equal(t, evt.Type, got.Type)
	assert.Equal(t, "loan-1", got.LoanApplicationID)
	assert.Equal(t, "Submitted", got.Payload[event.KeyToStatus])
	assert.True(t, evt.Timestamp.Equal(got.Timestamp))
}

func TestBridge_DoesNotPublishInboundTypes(t *testing.T) {
	conn := newFakeConn()
	b := NewBridge(conn, Config{}, zap.NewNop(), nil)

	d := dispatcher.NewDispatcher()
	defer d.Close()
	b.Register(d)

	require.NoError(t, d.Dispatch(context.Background(),
		event.NewEvent(event.TypeCreditChecksCompleted, "loan-1", "loan-1", nil)))
	assert.Empty(t, conn.published)
}

func TestBridge_PublishError(t *testing.T) {
	conn := newFakeConn()
	conn.publishErr = nats.ErrConnectionClosed
	b := NewBridge(conn, Config{}, zap.NewNop(), nil)

	err := b.Publish(context.Background(), event.NewEvent(event.TypeWorkflowEscalated, "inst-1", "loan-1", nil))
	require.Error(t, err)
	assert.True(t, errors.Is(err, nats.ErrConnectionClosed))
}

func TestBridge_RelaysInboundEvents(t *testing.T) {
	conn := newFakeConn()
	b := NewBridge(conn, Config{SubjectPrefix: "loanflow"}, zap.NewNop(), nil)

	d := dispatcher.NewDispatcher()
	defer d.Close()

	received := make(chan *event.Event, 1)
	d.SubscribeNamed(event.TypeCreditChecksCompleted, "credit-checks-listener", func(ctx context.Context, evt *event.Event) error {
		received <- evt
		return nil
	})

	require.NoError(t, b.SubscribeInbound(context.Background(), d, event.TypeCreditChecksCompleted))
	defer b.Close()

	subject := "loanflow.credit_checks.completed"

	conn.deliver(t, subject, []byte("{not json"))
	conn.deliver(t, subject, mustJSON(t, event.NewEvent(event.TypeWorkflowTransitioned, "x", "loan-9", nil)))
	conn.deliver(t, subject, mustJSON(t, event.NewEvent(event.TypeCreditChecksCompleted, "loan-1", "loan-1", nil)))

	select {
	case evt := <-received:
		assert.Equal(t, "loan-1", evt.LoanApplicationID)
		assert.NotNil(t, evt.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("inbound event was not dispatched")
	}

	select {
	case evt := <-received:
		t.Fatalf("unexpected extra event %s", evt.ID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBridge_SubscribeError(t *testing.T) {
	conn := newFakeConn()
	conn.subErr = errors.New("no responders")
	b := NewBridge(conn, Config{}, zap.NewNop(), nil)

	d := dispatcher.NewDispatcher()
	defer d.Close()

	err := b.SubscribeInbound(context.Background(), d, event.TypeCreditChecksCompleted)
	assert.Error(t, err)
}

func mustJSON(t *testing.T, evt *event.Event) []byte {
	t.Helper()
	data, err := json.Marshal(evt)
	require.NoError(t, err)
	return data
}
