package kafka

import (
	"context"
	"sync"

	"github.com/segmentio/kafka-go"

	"tradecore/pkg/errors"
	"tradecore/pkg/logger"
)

// Producer writes raw payloads with one synchronous writer per topic
type Producer struct {
	mu      sync.Mutex
	writers map[string]*kafka.Writer
	brokers []string
	log     *logger.Logger
}

func NewProducer(brokers []string) *Producer {
	return &Producer{
		writers: make(map[string]*kafka.Writer),
		brokers: brokers,
		log:     logger.Get().With("component", "kafka_producer"),
	}
}

func (p *Producer) writer(topic string) *kafka.Writer {
	p.mu.Lock()
	defer p.mu.Unlock()

	if w, ok := p.writers[topic]; ok {
		return w
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(p.brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		// No writer-level retry: the bus is at-most-once
		MaxAttempts: 1,
	}
	p.writers[topic] = w
	return w
}

// Write sends one message to topic
func (p *Producer) Write(ctx context.Context, topic string, key, value []byte) error {
	msg := kafka.Message{Key: key, Value: value}
	if err := p.writer(topic).WriteMessages(ctx, msg); err != nil {
		return errors.Wrapf(err, "kafka write to %s", topic)
	}
	p.log.Debugf("Published to %s: %s", topic, key)
	return nil
}

// Close closes all writers
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var merr errors.MultiError
	for topic, w := range p.writers {
		if err := w.Close(); err != nil {
			p.log.Errorf("Failed to close writer for %s: %v", topic, err)
			merr.Add(err)
		}
	}
	return merr.ToError()
}
