package bus

import (
	"context"
	"sync"
	"time"

	"tradecore/pkg/errors"
)

const defaultBufferSize = 1024

// MemoryTransport delivers messages in-process through a buffered channel.
// Publishing to an unsubscribed topic is a silent no-op, and publishing into a
// full buffer drops the message with an error instead of blocking the caller.
type MemoryTransport struct {
	mu     sync.RWMutex
	topics map[string]struct{}
	inbox  chan Envelope
	closed chan struct{}
	once   sync.Once
}

func NewMemoryTransport(bufferSize int) *MemoryTransport {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &MemoryTransport{
		topics: make(map[string]struct{}),
		inbox:  make(chan Envelope, bufferSize),
		closed: make(chan struct{}),
	}
}

func (t *MemoryTransport) Publish(ctx context.Context, env Envelope) error {
	if t.isClosed() {
		return errors.ErrBusClosed
	}

	t.mu.RLock()
	_, ok := t.topics[env.Topic]
	t.mu.RUnlock()
	if !ok {
		return nil
	}

	env.ReceivedAt = time.Now()
	select {
	case t.inbox <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return errors.Wrapf(errors.ErrUnavailable, "memory transport buffer full, dropped message on %s", env.Topic)
	}
}

func (t *MemoryTransport) Subscribe(ctx context.Context, topic string) error {
	if t.isClosed() {
		return errors.ErrBusClosed
	}
	t.mu.Lock()
	t.topics[topic] = struct{}{}
	t.mu.Unlock()
	return nil
}

func (t *MemoryTransport) Receive(ctx context.Context) (Envelope, error) {
	select {
	case env := <-t.inbox:
		return env, nil
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	case <-t.closed:
		return Envelope{}, errors.ErrBusClosed
	}
}

func (t *MemoryTransport) Ping(ctx context.Context) error {
	if t.isClosed() {
		return errors.ErrBusClosed
	}
	return nil
}

func (t *MemoryTransport) Close() error {
	t.once.Do(func() { close(t.closed) })
	return nil
}

func (t *MemoryTransport) isClosed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}
