package bus

import (
	"context"
	"time"
)

// Envelope is one raw message as carried by a transport
type Envelope struct {
	Topic      string
	Key        []byte
	Payload    []byte
	ReceivedAt time.Time
}

// Transport moves raw payloads between processes.
// Implementations give at-most-once delivery and no retry.
type Transport interface {
	Publish(ctx context.Context, env Envelope) error
	// Subscribe starts delivering the topic's messages to Receive
	Subscribe(ctx context.Context, topic string) error
	// Receive blocks until a message arrives or ctx is done
	Receive(ctx context.Context) (Envelope, error)
	Ping(ctx context.Context) error
	Close() error
}
