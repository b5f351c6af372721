package bustest

import (
	"context"
	"sync"

	"tradecore/internal/bus"
	"tradecore/pkg/errors"
)

// Broker is an in-process bus.Broker for unit tests. Publish records the
// message instead of sending it; Deliver invokes the subscribed handler
// synchronously.
type Broker struct {
	mu         sync.Mutex
	handlers   map[string]bus.Handler
	published  map[string][]interface{}
	publishErr map[string]error
}

var _ bus.Broker = (*Broker)(nil)

func NewBroker() *Broker {
	return &Broker{
		handlers:   make(map[string]bus.Handler),
		published:  make(map[string][]interface{}),
		publishErr: make(map[string]error),
	}
}

func (b *Broker) Subscribe(ctx context.Context, topic string, handler bus.Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = handler
	return nil
}

func (b *Broker) Publish(ctx context.Context, topic string, msg interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.publishErr[topic]; err != nil {
		return err
	}
	b.published[topic] = append(b.published[topic], msg)
	return nil
}

// FailPublish makes every Publish on topic return err until cleared with nil
func (b *Broker) FailPublish(topic string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.publishErr, topic)
		return
	}
	b.publishErr[topic] = err
}

// Deliver runs the handler subscribed to topic
func (b *Broker) Deliver(ctx context.Context, topic string, msg interface{}) error {
	b.mu.Lock()
	h, ok := b.handlers[topic]
	b.mu.Unlock()
	if !ok {
		return errors.Wrapf(errors.ErrNotFound, "no handler for %s", topic)
	}
	return h(ctx, msg)
}

// Subscribed reports whether a handler is registered for topic
func (b *Broker) Subscribed(topic string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.handlers[topic]
	return ok
}

// Published returns the messages recorded for topic
func (b *Broker) Published(topic string) []interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]interface{}, len(b.published[topic]))
	copy(out, b.published[topic])
	return out
}

// Reset drops all recorded messages
func (b *Broker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = make(map[string][]interface{})
}

// PublishedAs returns the messages on topic that have type *T
func PublishedAs[T any](b *Broker, topic string) []*T {
	var out []*T
	for _, m := range b.Published(topic) {
		if v, ok := m.(*T); ok {
			out = append(out, v)
		}
	}
	return out
}
