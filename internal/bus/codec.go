package bus

import (
	"encoding/json"
	"reflect"
	"sync"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"tradecore/internal/domain/trading"
	"tradecore/pkg/errors"
)

// Codec maps topics to payload types. Topics without a registered type decode
// into an untyped *structpb.Struct.
type Codec struct {
	mu    sync.RWMutex
	types map[string]reflect.Type
}

func NewCodec() *Codec {
	return &Codec{types: make(map[string]reflect.Type)}
}

// DefaultCodec knows the payload type of every core topic
func DefaultCodec() *Codec {
	c := NewCodec()
	c.Register(TopicSignals, trading.TradingSignal{})
	c.Register(TopicRiskRequests, trading.RiskRequest{})
	c.Register(TopicRiskResponses, trading.RiskResponse{})
	c.Register(TopicDecisions, trading.Decision{})
	c.Register(TopicAlerts, trading.Alert{})
	return c
}

// Register binds topic to the type of sample. Decoded values are pointers to that type.
func (c *Codec) Register(topic string, sample interface{}) {
	t := reflect.TypeOf(sample)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	c.mu.Lock()
	c.types[topic] = t
	c.mu.Unlock()
}

// Known reports whether topic has a registered type
func (c *Codec) Known(topic string) bool {
	c.mu.RLock()
	_, ok := c.types[topic]
	c.mu.RUnlock()
	return ok
}

// Encode serializes a message for the wire
func (c *Codec) Encode(msg interface{}) ([]byte, error) {
	if pm, ok := msg.(proto.Message); ok {
		data, err := protojson.Marshal(pm)
		return data, errors.Wrap(err, "encode proto payload")
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, errors.Wrap(err, "encode payload")
	}
	return data, nil
}

// Decode turns a payload into its registered type. For an unknown topic it
// returns the payload as *structpb.Struct together with ErrUnknownTopic so the
// caller can warn and still pass the document on.
func (c *Codec) Decode(topic string, payload []byte) (interface{}, error) {
	c.mu.RLock()
	t, ok := c.types[topic]
	c.mu.RUnlock()

	if !ok {
		doc := &structpb.Struct{}
		if err := protojson.Unmarshal(payload, doc); err != nil {
			return nil, errors.Wrapf(errors.ErrMalformedMessage, "topic %s: %v", topic, err)
		}
		return doc, errors.Wrapf(errors.ErrUnknownTopic, "topic %s", topic)
	}

	v := reflect.New(t).Interface()
	if err := json.Unmarshal(payload, v); err != nil {
		return nil, errors.Wrapf(errors.ErrMalformedMessage, "topic %s: %v", topic, err)
	}
	return v, nil
}
