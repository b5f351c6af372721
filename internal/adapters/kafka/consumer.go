package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"tradecore/internal/bus"
)

// Consumer reads one bus topic within the service's consumer group.
// Offsets are committed as each message is read, so delivery is at-most-once
// like the in-process transport.
type Consumer struct {
	reader *kafka.Reader
}

type ConsumerConfig struct {
	Brokers []string
	GroupID string
	Topic   string
}

func NewConsumer(cfg ConsumerConfig) *Consumer {
	return &Consumer{reader: kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 1 << 20,
		MaxWait:  250 * time.Millisecond,
		// Signals and risk traffic from before this process joined are stale
		StartOffset: kafka.LastOffset,
	})}
}

// Next blocks for the next message and returns it as a bus envelope.
// Once ctx is done it returns ctx.Err() instead of the reader's error.
func (c *Consumer) Next(ctx context.Context) (bus.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return bus.Envelope{}, err
	}

	msg, err := c.reader.ReadMessage(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return bus.Envelope{}, ctx.Err()
		}
		return bus.Envelope{}, err
	}
	return bus.Envelope{
		Topic:      msg.Topic,
		Key:        msg.Key,
		Payload:    msg.Value,
		ReceivedAt: time.Now(),
	}, nil
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
