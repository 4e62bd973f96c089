package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// NATSEventBus publishes search events to a JetStream stream and replays
// them into handlers through durable pull consumers
type NATSEventBus struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	logger *zap.Logger
	config *NATSConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewNATSEventBus connects and makes sure the stream exists with the
// configured limits
func NewNATSEventBus(config *NATSConfig, logger *zap.Logger) (*NATSEventBus, error) {
	if config == nil {
		config = DefaultNATSConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	bus := &NATSEventBus{
		logger: logger,
		config: config,
		ctx:    ctx,
		cancel: cancel,
	}

	if err := bus.connect(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	if err := bus.ensureStream(); err != nil {
		cancel()
		bus.conn.Close()
		return nil, fmt.Errorf("failed to setup JetStream: %w", err)
	}
	return bus, nil
}

func (n *NATSEventBus) connect() error {
	conn, err := nats.Connect(n.config.URL,
		nats.Name("rankplace-eventbus"),
		nats.Timeout(n.config.ConnectTimeout),
		nats.ReconnectWait(n.config.ReconnectWait),
		nats.MaxReconnects(n.config.MaxReconnectAttempts),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			n.logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			n.logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS server: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to get JetStream context: %w", err)
	}
	n.conn = conn
	n.js = js

	n.logger.Info("Connected to NATS JetStream",
		zap.String("url", n.config.URL),
		zap.String("stream", n.config.StreamName))
	return nil
}

// ensureStream creates the stream, or updates it when it already exists
func (n *NATSEventBus) ensureStream() error {
	cfg := &nats.StreamConfig{
		Name:       n.config.StreamName,
		Subjects:   n.config.StreamSubjects,
		Retention:  nats.LimitsPolicy,
		MaxAge:     n.config.MaxAge,
		MaxBytes:   n.config.MaxBytes,
		MaxMsgs:    n.config.MaxMsgs,
		Replicas:   n.config.Replicas,
		Storage:    nats.FileStorage,
		Duplicates: 5 * time.Minute,
	}

	_, err := n.js.StreamInfo(n.config.StreamName)
	switch {
	case errors.Is(err, nats.ErrStreamNotFound):
		if _, err := n.js.AddStream(cfg); err != nil {
			return fmt.Errorf("failed to create stream: %w", err)
		}
		n.logger.Info("Created JetStream stream", zap.String("stream", cfg.Name))
	case err != nil:
		return fmt.Errorf("failed to look up stream: %w", err)
	default:
		if _, err := n.js.UpdateStream(cfg); err != nil {
			return fmt.Errorf("failed to update stream: %w", err)
		}
		n.logger.Info("Updated JetStream stream", zap.String("stream", cfg.Name))
	}
	return nil
}

// PublishEvent publishes an event and waits for the stream to store it.
// The event ID doubles as the JetStream message ID, so republishing an
// event inside the duplicate window stores it once.
func (n *NATSEventBus) PublishEvent(ctx context.Context, event *Event) error {
	subject, data, err := n.encode(ctx, event)
	if err != nil {
		return err
	}
	if _, err := n.js.Publish(subject, data, nats.MsgId(event.ID), nats.Context(ctx)); err != nil {
		n.logger.Error("Failed to publish event",
			zap.String("event_id", event.ID),
			zap.String("subject", subject),
			zap.Error(err))
		return fmt.Errorf("failed to publish %s: %w", event.Type, err)
	}
	n.logger.Debug("Published event", zap.String("event_id", event.ID), zap.String("subject", subject))
	return nil
}

// PublishEventAsync hands an event to the stream without waiting for the
// acknowledgement; Flush waits for all outstanding ones
func (n *NATSEventBus) PublishEventAsync(ctx context.Context, event *Event) error {
	subject, data, err := n.encode(ctx, event)
	if err != nil {
		return err
	}
	if _, err := n.js.PublishAsync(subject, data, nats.MsgId(event.ID)); err != nil {
		return fmt.Errorf("failed to publish %s: %w", event.Type, err)
	}
	return nil
}

// Flush blocks until every asynchronous publish is acknowledged or ctx is
// done
func (n *NATSEventBus) Flush(ctx context.Context) error {
	select {
	case <-n.js.PublishAsyncComplete():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%d publishes unacknowledged: %w", n.js.PublishAsyncPending(), ctx.Err())
	}
}

func (n *NATSEventBus) encode(ctx context.Context, event *Event) (string, []byte, error) {
	if event.TraceID == "" {
		if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
			event.WithTraceID(sc.TraceID().String())
		}
	}
	data, err := json.Marshal(event)
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return n.subject(event.Type), data, nil
}

// Subscribe attaches handler to a durable consumer of one event type. The
// consumer starts at the beginning of the stream, so a consumer created
// after events were published still receives them; a durable name that
// already exists resumes where it stopped.
//
// A message the handler fails on is delivered at most three times. Messages
// that do not decode are terminated.
func (n *NATSEventBus) Subscribe(ctx context.Context, durable string, eventType EventType, handler EventHandler) error {
	consumer := consumerName(durable, eventType)
	sub, err := n.js.PullSubscribe(n.subject(eventType), consumer,
		nats.AckExplicit(),
		nats.DeliverAll(),
		nats.MaxDeliver(3),
		nats.AckWait(30*time.Second))
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", eventType, err)
	}

	n.wg.Add(1)
	go n.consume(ctx, sub, handler, n.logger.With(zap.String("consumer", consumer)))

	n.logger.Info("Subscribed to events",
		zap.String("event_type", string(eventType)),
		zap.String("consumer", consumer))
	return nil
}

func (n *NATSEventBus) consume(ctx context.Context, sub *nats.Subscription, handler EventHandler, logger *zap.Logger) {
	defer n.wg.Done()

	for ctx.Err() == nil && n.ctx.Err() == nil {
		msgs, err := sub.Fetch(10, nats.MaxWait(time.Second))
		switch {
		case errors.Is(err, nats.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
			continue
		case errors.Is(err, nats.ErrConnectionClosed), errors.Is(err, nats.ErrBadSubscription):
			return
		case err != nil:
			logger.Error("Failed to fetch events", zap.Error(err))
			continue
		}

		for _, msg := range msgs {
			var event Event
			if err := json.Unmarshal(msg.Data, &event); err != nil {
				logger.Error("Dropping undecodable event", zap.String("subject", msg.Subject), zap.Error(err))
				_ = msg.Term()
				continue
			}
			if err := handler.Handle(ctx, &event); err != nil {
				logger.Warn("Event handler failed",
					zap.String("event_id", event.ID),
					zap.Error(err))
				_ = msg.Nak()
				continue
			}
			if err := msg.AckSync(); err != nil {
				logger.Warn("Failed to acknowledge event", zap.String("event_id", event.ID), zap.Error(err))
			}
		}
	}
}

// Close stops all consumers and closes the connection. Durable consumers
// stay on the server, so a later Subscribe under the same name resumes after
// the last acknowledged event.
func (n *NATSEventBus) Close() error {
	n.cancel()
	n.wg.Wait()
	if n.conn != nil {
		n.conn.Close()
	}
	n.logger.Info("NATS EventBus closed")
	return nil
}

// subject maps "solution.recorded" to "rankplace.events.solution.recorded"
func (n *NATSEventBus) subject(eventType EventType) string {
	return n.config.SubjectPrefix() + "." + string(eventType)
}

// consumerName maps ("api", "solution.recorded") to "api-solution-recorded"
func consumerName(durable string, eventType EventType) string {
	return strings.NewReplacer(".", "-", "*", "star", ">", "gt").Replace(durable + "-" + string(eventType))
}
