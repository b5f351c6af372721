package bus

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"tradecore/internal/metrics"
	"tradecore/pkg/errors"
	"tradecore/pkg/logger"
)

const receiveRetryDelay = time.Second

// Handler processes one decoded message. msg is a pointer to the topic's
// registered type, or *structpb.Struct for unknown topics.
type Handler func(ctx context.Context, msg interface{}) error

// Handle adapts a typed function into a Handler
func Handle[T any](fn func(ctx context.Context, msg *T) error) Handler {
	return func(ctx context.Context, msg interface{}) error {
		m, ok := msg.(*T)
		if !ok {
			return errors.Wrapf(errors.ErrMalformedMessage, "unexpected payload type %T", msg)
		}
		return fn(ctx, m)
	}
}

// Keyed messages choose their own partition key
type Keyed interface {
	MessageKey() string
}

// Broker is the subscribe/publish surface agents depend on
type Broker interface {
	Subscribe(ctx context.Context, topic string, handler Handler) error
	Publish(ctx context.Context, topic string, msg interface{}) error
}

var _ Broker = (*Bus)(nil)

// Health is the bus connectivity snapshot
type Health struct {
	Connected bool     `json:"connected"`
	Topics    []string `json:"topics"`
	Error     string   `json:"error,omitempty"`
}

// Bus is a topic-based publish/subscribe dispatcher with one handler per topic.
//
// Delivery is at-most-once: Publish hands the message to the transport exactly
// once and never retries. Publishers that need a reply must track and expire
// their own outstanding requests.
type Bus struct {
	transport Transport
	codec     *Codec
	log       *logger.Logger

	mu       sync.RWMutex
	handlers map[string]Handler

	connected atomic.Bool
	running   atomic.Bool
	cancel    context.CancelFunc
	done      chan struct{}
}

func New(transport Transport, codec *Codec, log *logger.Logger) *Bus {
	if codec == nil {
		codec = DefaultCodec()
	}
	if log == nil {
		log = logger.Get()
	}
	return &Bus{
		transport: transport,
		codec:     codec,
		log:       log.With("component", "message_bus"),
		handlers:  make(map[string]Handler),
	}
}

// Subscribe registers the handler for topic, replacing any previous one
func (b *Bus) Subscribe(ctx context.Context, topic string, handler Handler) error {
	if err := b.transport.Subscribe(ctx, topic); err != nil {
		return errors.Wrapf(err, "subscribe %s", topic)
	}

	b.mu.Lock()
	_, replaced := b.handlers[topic]
	b.handlers[topic] = handler
	b.mu.Unlock()

	if replaced {
		b.log.Warnw("Replacing existing handler; only one handler per topic is kept", "topic", topic)
	} else {
		b.log.Debugw("Subscribed", "topic", topic)
	}
	return nil
}

// Publish serializes msg and hands it to the transport once
func (b *Bus) Publish(ctx context.Context, topic string, msg interface{}) error {
	payload, err := b.codec.Encode(msg)
	if err != nil {
		metrics.RecordBusMessage(topic, "out", "error")
		return errors.Wrapf(err, "publish %s", topic)
	}

	env := Envelope{Topic: topic, Payload: payload}
	if k, ok := msg.(Keyed); ok {
		env.Key = []byte(k.MessageKey())
	}

	if err := b.transport.Publish(ctx, env); err != nil {
		metrics.RecordBusMessage(topic, "out", "error")
		return errors.Wrapf(err, "publish %s", topic)
	}

	metrics.RecordBusMessage(topic, "out", "ok")
	return nil
}

// Start launches the dispatch loop in the background
func (b *Bus) Start(ctx context.Context) error {
	if !b.running.CompareAndSwap(false, true) {
		return errors.New("message bus already started")
	}
	if err := b.transport.Ping(ctx); err != nil {
		b.running.Store(false)
		return errors.Wrap(err, "message bus transport unreachable")
	}
	b.connected.Store(true)

	loopCtx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.done = make(chan struct{})

	go func() {
		defer close(b.done)
		b.Run(loopCtx)
	}()

	b.log.Info("Message bus started")
	return nil
}

// Stop ends the dispatch loop and closes the transport
func (b *Bus) Stop(ctx context.Context) error {
	if !b.running.CompareAndSwap(true, false) {
		return nil
	}
	b.cancel()

	select {
	case <-b.done:
	case <-ctx.Done():
		b.log.Warn("Dispatch loop did not exit before shutdown deadline")
	}

	b.connected.Store(false)
	if err := b.transport.Close(); err != nil {
		return errors.Wrap(err, "close transport")
	}
	b.log.Info("Message bus stopped")
	return nil
}

// Run receives and dispatches messages one at a time until ctx is cancelled
// or the transport is closed
func (b *Bus) Run(ctx context.Context) {
	for {
		env, err := b.transport.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, errors.ErrBusClosed) {
				return
			}
			b.connected.Store(false)
			b.log.Errorw("Failed to receive message", "error", err)

			select {
			case <-ctx.Done():
				return
			case <-time.After(receiveRetryDelay):
			}
			continue
		}

		b.connected.Store(true)
		b.dispatch(ctx, env)
	}
}

func (b *Bus) dispatch(ctx context.Context, env Envelope) {
	b.mu.RLock()
	handler, ok := b.handlers[env.Topic]
	b.mu.RUnlock()

	if !ok {
		b.log.Debugw("No handler for topic, message dropped", "topic", env.Topic)
		metrics.RecordBusMessage(env.Topic, "in", "dropped")
		return
	}

	msg, err := b.codec.Decode(env.Topic, env.Payload)
	if err != nil {
		if !errors.Is(err, errors.ErrUnknownTopic) {
			b.log.Warnw("Dropping malformed message", "topic", env.Topic, "error", err)
			metrics.RecordBusMessage(env.Topic, "in", "dropped")
			return
		}
		b.log.Warnw("Payload type not registered for topic, passing untyped document", "topic", env.Topic)
	}

	if err := b.invoke(ctx, handler, msg); err != nil {
		b.log.Errorw("Handler failed", "topic", env.Topic, "error", err)
		metrics.RecordBusMessage(env.Topic, "in", "error")
		return
	}
	metrics.RecordBusMessage(env.Topic, "in", "ok")
}

func (b *Bus) invoke(ctx context.Context, handler Handler, msg interface{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, msg)
}

// HealthCheck reports transport connectivity and subscribed topics
func (b *Bus) HealthCheck(ctx context.Context) Health {
	h := Health{Topics: b.Topics()}
	if err := b.transport.Ping(ctx); err != nil {
		h.Error = err.Error()
		return h
	}
	h.Connected = b.connected.Load() || !b.running.Load()
	return h
}

// Topics lists the subscribed topics in sorted order
func (b *Bus) Topics() []string {
	b.mu.RLock()
	topics := make([]string, 0, len(b.handlers))
	for t := range b.handlers {
		topics = append(topics, t)
	}
	b.mu.RUnlock()
	sort.Strings(topics)
	return topics
}
