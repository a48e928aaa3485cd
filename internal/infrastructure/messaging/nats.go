package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/garyjia/loan-workflow/internal/application/dispatcher"
	"github.com/garyjia/loan-workflow/internal/domain/event"
	"github.com/garyjia/loan-workflow/internal/metrics"
)

const publisherHandlerName = "nats-publisher"

// Config holds NATS configuration
type Config struct {
	URL           string        // NATS server URL (e.g., "nats://localhost:4222")
	SubjectPrefix string        // Subjects are <prefix>.<event type>
	Timeout       time.Duration // Connection timeout
}

// Conn is the part of *nats.Conn the bridge uses
type Conn interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// Connect opens a NATS connection that reconnects forever
func Connect(cfg Config, logger *zap.Logger) (*nats.Conn, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name("loanflow"),
		nats.Timeout(cfg.Timeout),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	logger.Info("Connected to NATS", zap.String("url", cfg.URL))
	return nc, nil
}

// Bridge forwards outbound domain events to NATS and injects inbound NATS
// events into the local dispatcher
type Bridge struct {
	conn    Conn
	prefix  string
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewBridge creates a bridge over an open connection
func NewBridge(conn Conn, cfg Config, logger *zap.Logger, m *metrics.Metrics) *Bridge {
	prefix := strings.TrimSuffix(cfg.SubjectPrefix, ".")
	if prefix == "" {
		prefix = "loanflow"
	}
	return &Bridge{
		conn:    conn,
		prefix:  prefix,
		logger:  logger,
		metrics: m,
	}
}

// Subject returns the NATS subject an event type travels on
func (b *Bridge) Subject(t event.Type) string {
	return b.prefix + "." + string(t)
}

// Register subscribes the publisher to every outbound event type
func (b *Bridge) Register(d dispatcher.Dispatcher) {
	d.SubscribeAll(event.Outbound, publisherHandlerName, b.Publish)
}

// Publish sends one event as JSON. Delivery is at-most-once; consumers that
// need more use a JetStream stream bound to the subjects.
func (b *Bridge) Publish(ctx context.Context, evt *event.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		b.metrics.RecordEventPublished(string(evt.Type), false)
		return fmt.Errorf("failed to marshal event %s: %w", evt.ID, err)
	}

	subject := b.Subject(evt.Type)
	if err := b.conn.Publish(subject, data); err != nil {
		b.metrics.RecordEventPublished(string(evt.Type), false)
		b.logger.Error("Failed to publish event",
			zap.String("subject", subject),
			zap.String("event_id", evt.ID),
			zap.String("loan_application_id", evt.LoanApplicationID),
			zap.Error(err))
		return fmt.Errorf("failed to publish event %s: %w", evt.ID, err)
	}

	b.metrics.RecordEventPublished(string(evt.Type), true)
	b.logger.Debug("Event published",
		zap.String("subject", subject),
		zap.String("event_id", evt.ID))
	return nil
}

// SubscribeInbound relays events published by other services into d.
// Messages that do not decode, or carry a different type than their
// subject, are logged and dropped.
func (b *Bridge) SubscribeInbound(ctx context.Context, d dispatcher.Dispatcher, types ...event.Type) error {
	for _, t := range types {
		expected := t
		subject := b.Subject(expected)

		sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
			var evt event.Event
			if err := json.Unmarshal(msg.Data, &evt); err != nil {
				b.logger.Warn("Dropping undecodable inbound event",
					zap.String("subject", msg.Subject),
					zap.Error(err))
				return
			}
			if evt.Type != expected || evt.LoanApplicationID == "" {
				b.logger.Warn("Dropping malformed inbound event",
					zap.String("subject", msg.Subject),
					zap.String("type", string(evt.Type)),
					zap.String("event_id", evt.ID))
				return
			}
			if evt.Payload == nil {
				evt.Payload = map[string]interface{}{}
			}
			d.DispatchAsync(ctx, &evt)
		})
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
		}

		b.mu.Lock()
		b.subs = append(b.subs, sub)
		b.mu.Unlock()

		b.logger.Info("Subscribed to inbound events", zap.String("subject", subject))
	}
	return nil
}

// Close drops inbound subscriptions. The connection belongs to the caller.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		if sub == nil {
			continue
		}
		if err := sub.Unsubscribe(); err != nil {
			b.logger.Warn("Failed to unsubscribe", zap.String("subject", sub.Subject), zap.Error(err))
		}
	}
	b.subs = nil
	return nil
}
