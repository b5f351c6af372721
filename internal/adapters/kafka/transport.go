package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"tradecore/internal/bus"
	"tradecore/pkg/errors"
	"tradecore/pkg/logger"
)

const (
	readRetryDelay = time.Second
	dialTimeout    = 5 * time.Second
)

// Transport carries bus envelopes over Kafka: a writer per published topic
// and a group reader per subscribed topic, fanned into one inbox
type Transport struct {
	brokers  []string
	groupID  string
	producer *Producer
	log      *logger.Logger

	mu        sync.Mutex
	consumers map[string]*Consumer

	inbox  chan bus.Envelope
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

var _ bus.Transport = (*Transport)(nil)

func NewTransport(brokers []string, groupID string, bufferSize int) *Transport {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Transport{
		brokers:   brokers,
		groupID:   groupID,
		producer:  NewProducer(brokers),
		log:       logger.Get().With("component", "kafka_transport"),
		consumers: make(map[string]*Consumer),
		inbox:     make(chan bus.Envelope, bufferSize),
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (t *Transport) Publish(ctx context.Context, env bus.Envelope) error {
	if t.ctx.Err() != nil {
		return errors.ErrBusClosed
	}
	return t.producer.Write(ctx, env.Topic, env.Key, env.Payload)
}

func (t *Transport) Subscribe(ctx context.Context, topic string) error {
	if t.ctx.Err() != nil {
		return errors.ErrBusClosed
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.consumers[topic]; ok {
		return nil
	}

	c := NewConsumer(ConsumerConfig{
		Brokers: t.brokers,
		GroupID: t.groupID,
		Topic:   topic,
	})
	t.consumers[topic] = c

	t.wg.Add(1)
	go t.pump(topic, c)

	t.log.Infow("Kafka consumer started", "topic", topic, "group_id", t.groupID)
	return nil
}

func (t *Transport) pump(topic string, c *Consumer) {
	defer t.wg.Done()

	for {
		env, err := c.Next(t.ctx)
		if err != nil {
			if t.ctx.Err() != nil {
				return
			}
			t.log.Errorw("Failed to read message", "topic", topic, "error", err)
			select {
			case <-t.ctx.Done():
				return
			case <-time.After(readRetryDelay):
			}
			continue
		}

		select {
		case t.inbox <- env:
		case <-t.ctx.Done():
			return
		}
	}
}

func (t *Transport) Receive(ctx context.Context) (bus.Envelope, error) {
	select {
	case env := <-t.inbox:
		return env, nil
	case <-ctx.Done():
		return bus.Envelope{}, ctx.Err()
	case <-t.ctx.Done():
		return bus.Envelope{}, errors.ErrBusClosed
	}
}

// Ping dials the first reachable broker
func (t *Transport) Ping(ctx context.Context) error {
	if t.ctx.Err() != nil {
		return errors.ErrBusClosed
	}

	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	var lastErr error
	for _, broker := range t.brokers {
		conn, err := kafka.DialContext(ctx, "tcp", broker)
		if err != nil {
			lastErr = err
			continue
		}
		_ = conn.Close()
		return nil
	}
	if lastErr == nil {
		lastErr = errors.New("no brokers configured")
	}
	return errors.Wrap(errors.ErrUnavailable, lastErr.Error())
}

func (t *Transport) Close() error {
	var merr errors.MultiError
	t.once.Do(func() {
		t.cancel()
		t.wg.Wait()

		t.mu.Lock()
		for topic, c := range t.consumers {
			if err := c.Close(); err != nil {
				merr.Add(errors.Wrapf(err, "close consumer %s", topic))
			}
		}
		t.mu.Unlock()

		merr.Add(t.producer.Close())
	})
	return merr.ToError()
}
