// Package eventbus implements the optional crosscutting message bus
// described in spec §5: L3 publishes cancellation and step-completion
// events to it best-effort, on a fire-and-forget basis that never blocks
// the request hot path. An in-memory channel-based Bus is the default;
// setting resources.event_bus.nats_url activates a nats.go-backed Bus
// instead.
package eventbus

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	nats "github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/aios-systems/aios/config"
	"github.com/aios-systems/aios/core"
)

func encodePayload(payload map[string]interface{}) ([]byte, error) {
	return json.Marshal(payload)
}

func decodePayload(data []byte) (map[string]interface{}, error) {
	if len(data) == 0 {
		return map[string]interface{}{}, nil
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// Event is one message carried on the bus: a subject plus an opaque
// payload, stamped with the time it was published.
type Event struct {
	Subject   string
	Payload   map[string]interface{}
	Timestamp time.Time
}

// Handler receives one delivered Event. ctx carries the publisher's trace
// context when the NATS-backed Bus propagated one; it is context.Background
// for the in-memory Bus, which never crosses a process boundary.
type Handler func(ctx context.Context, event Event)

// Bus is the crosscutting publish/subscribe facility §5 describes. Publish
// never blocks the caller and never returns an error the caller must act
// on: a full subscriber or an unreachable broker drops the event and logs
// it, since nothing on the request path depends on an event being
// delivered.
type Bus interface {
	Publish(ctx context.Context, subject string, payload map[string]interface{})
	Subscribe(subject string, handler Handler) (unsubscribe func(), err error)
	Close() error
}

// New picks the in-memory or nats.go-backed Bus per cfg.NATSURL, falling
// back to in-memory and logging a warning if the NATS connection fails,
// the same degrade-rather-than-abort policy pipeline.Build uses for a
// failed MCP server connection.
func New(cfg config.EventBusConfig, logger core.Logger) Bus {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cfg.NATSURL == "" {
		return NewInMemoryBus(logger)
	}
	nc, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		logger.Warn("falling back to the in-memory event bus", map[string]interface{}{
			"nats_url": cfg.NATSURL, "error": err.Error(),
		})
		return NewInMemoryBus(logger)
	}
	return NewNATSBus(nc, logger)
}

// InMemoryBus fans a published event out to every subscriber of its
// subject over a small buffered channel each; a slow subscriber drops
// events rather than backing up the publisher.
type InMemoryBus struct {
	mu          sync.Mutex
	subscribers map[string]map[int]chan Event
	nextID      int
	logger      core.Logger
}

// NewInMemoryBus builds a Bus with no external dependency, used whenever
// no NATS URL is configured.
func NewInMemoryBus(logger core.Logger) *InMemoryBus {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &InMemoryBus{
		subscribers: map[string]map[int]chan Event{},
		logger:      logger,
	}
}

const subscriberBuffer = 32

// Publish delivers event to every current subscriber of subject without
// blocking: a subscriber whose channel is full simply misses this event.
func (b *InMemoryBus) Publish(_ context.Context, subject string, payload map[string]interface{}) {
	event := Event{Subject: subject, Payload: payload, Timestamp: time.Now()}

	b.mu.Lock()
	chans := make([]chan Event, 0, len(b.subscribers[subject]))
	for _, ch := range b.subscribers[subject] {
		chans = append(chans, ch)
	}
	b.mu.Unlock()

	for _, ch := range chans {
		select {
		case ch <- event:
		default:
			b.logger.Warn("dropped event bus message, subscriber channel full", map[string]interface{}{
				"subject": subject,
			})
		}
	}
}

// Subscribe registers handler on subject and starts one goroutine draining
// its channel into handler until unsubscribe is called.
func (b *InMemoryBus) Subscribe(subject string, handler Handler) (func(), error) {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	if b.subscribers[subject] == nil {
		b.subscribers[subject] = map[int]chan Event{}
	}
	id := b.nextID
	b.nextID++
	b.subscribers[subject][id] = ch
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for {
			select {
			case event := <-ch:
				handler(context.Background(), event)
			case <-done:
				return
			}
		}
	}()

	unsubscribe := func() {
		b.mu.Lock()
		delete(b.subscribers[subject], id)
		b.mu.Unlock()
		close(done)
	}
	return unsubscribe, nil
}

// Close is a no-op for the in-memory bus: there is no connection to tear
// down, and any still-running subscriber goroutines exit once their
// caller unsubscribes.
func (b *InMemoryBus) Close() error { return nil }

// NATSBus publishes and subscribes through a live *nats.Conn, injecting
// and extracting an OpenTelemetry trace context on each message the way
// natsctx.go does, so an event's consumer can link its span back to the
// request that published it.
type NATSBus struct {
	conn   *nats.Conn
	logger core.Logger
	tracer trace.Tracer
	subs   []*nats.Subscription
	mu     sync.Mutex
}

var propagator = propagation.TraceContext{}

// NewNATSBus wraps an already-connected NATS client.
func NewNATSBus(conn *nats.Conn, logger core.Logger) *NATSBus {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &NATSBus{
		conn:   conn,
		logger: logger,
		tracer: otel.Tracer("aios-eventbus"),
	}
}

// Publish JSON-encodes payload as the message body and injects the
// caller's trace context into the message header, per natsctx.go's
// Publish.
func (b *NATSBus) Publish(ctx context.Context, subject string, payload map[string]interface{}) {
	data, err := encodePayload(payload)
	if err != nil {
		b.logger.Warn("dropped event bus message, payload encoding failed", map[string]interface{}{
			"subject": subject, "error": err.Error(),
		})
		return
	}

	hdr := nats.Header{}
	propagator.Inject(ctx, propagation.HeaderCarrier(hdr))
	msg := &nats.Msg{Subject: subject, Data: data, Header: hdr}
	if err := b.conn.PublishMsg(msg); err != nil {
		b.logger.Warn("dropped event bus message, nats publish failed", map[string]interface{}{
			"subject": subject, "error": err.Error(),
		})
	}
}

// Subscribe wraps nc.Subscribe, extracting the publisher's trace context
// (if any) into a child span before invoking handler.
func (b *NATSBus) Subscribe(subject string, handler Handler) (func(), error) {
	sub, err := b.conn.Subscribe(subject, func(m *nats.Msg) {
		carrier := propagation.HeaderCarrier(m.Header)
		ctx := propagator.Extract(context.Background(), carrier)
		ctx, span := b.tracer.Start(ctx, "eventbus.consume", trace.WithSpanKind(trace.SpanKindConsumer))
		defer span.End()

		payload, err := decodePayload(m.Data)
		if err != nil {
			b.logger.Warn("dropped inbound event bus message, payload decoding failed", map[string]interface{}{
				"subject": subject, "error": err.Error(),
			})
			return
		}
		handler(ctx, Event{Subject: m.Subject, Payload: payload, Timestamp: time.Now()})
	})
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	unsubscribe := func() { _ = sub.Unsubscribe() }
	return unsubscribe, nil
}

// Close unsubscribes every subscription and closes the underlying NATS
// connection without draining it.
func (b *NATSBus) Close() error {
	b.mu.Lock()
	for _, sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	b.mu.Unlock()
	b.conn.Close()
	return nil
}
