package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	"tradecore/internal/domain/trading"
	"tradecore/pkg/errors"
	"tradecore/pkg/logger"
)

func newTestBus(t *testing.T) (*Bus, *MemoryTransport) {
	t.Helper()
	tr := NewMemoryTransport(16)
	b := New(tr, DefaultCodec(), logger.Nop())
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(func() { _ = b.Stop(context.Background()) })
	return b, tr
}

func TestBus_PublishDeliversTypedMessage(t *testing.T) {
	b, _ := newTestBus(t)
	ctx := context.Background()

	got := make(chan *trading.TradingSignal, 1)
	require.NoError(t, b.Subscribe(ctx, TopicSignals, Handle(func(ctx context.Context, s *trading.TradingSignal) error {
		got <- s
		return nil
	})))

	sig := &trading.TradingSignal{Symbol: "AAPL", Direction: trading.DirectionLong, Confidence: 0.9}
	require.NoError(t, b.Publish(ctx, TopicSignals, sig))

	select {
	case s := <-got:
		assert.Equal(t, "AAPL", s.Symbol)
		assert.Equal(t, 0.9, s.Confidence)
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
}

func TestBus_ResubscribeReplacesHandler(t *testing.T) {
	b, _ := newTestBus(t)
	ctx := context.Background()

	var first, second atomic.Int32
	done := make(chan struct{}, 1)
	require.NoError(t, b.Subscribe(ctx, TopicAlerts, func(ctx context.Context, msg interface{}) error {
		first.Add(1)
		return nil
	}))
	require.NoError(t, b.Subscribe(ctx, TopicAlerts, func(ctx context.Context, msg interface{}) error {
		second.Add(1)
		done <- struct{}{}
		return nil
	}))

	require.NoError(t, b.Publish(ctx, TopicAlerts, &trading.Alert{Source: "risk"}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
	assert.Equal(t, int32(0), first.Load())
	assert.Equal(t, int32(1), second.Load())
	assert.Equal(t, []string{TopicAlerts}, b.Topics())
}

func TestBus_HandlerFailureDoesNotStopDispatch(t *testing.T) {
	b, _ := newTestBus(t)
	ctx := context.Background()

	var calls atomic.Int32
	done := make(chan struct{}, 3)
	require.NoError(t, b.Subscribe(ctx, TopicDecisions, Handle(func(ctx context.Context, d *trading.Decision) error {
		defer func() { done <- struct{}{} }()
		switch calls.Add(1) {
		case 1:
			return errors.New("boom")
		case 2:
			panic("handler exploded")
		}
		return nil
	})))

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Publish(ctx, TopicDecisions, &trading.Decision{DecisionID: "d"}))
	}

	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatalf("only %d messages dispatched", i)
		}
	}
	assert.Equal(t, int32(3), calls.Load())
}

func TestBus_MalformedMessageDropped(t *testing.T) {
	b, tr := newTestBus(t)
	ctx := context.Background()

	got := make(chan string, 2)
	require.NoError(t, b.Subscribe(ctx, TopicRiskResponses, Handle(func(ctx context.Context, r *trading.RiskResponse) error {
		got <- r.RequestID
		return nil
	})))

	require.NoError(t, tr.Publish(ctx, Envelope{Topic: TopicRiskResponses, Payload: []byte("{not json")}))
	require.NoError(t, b.Publish(ctx, TopicRiskResponses, &trading.RiskResponse{RequestID: "ok"}))

	select {
	case id := <-got:
		assert.Equal(t, "ok", id)
	case <-time.After(time.Second):
		t.Fatal("valid message after malformed one was not delivered")
	}
	assert.Empty(t, got)
}

func TestBus_UnknownTopicPassesUntypedDocument(t *testing.T) {
	b, _ := newTestBus(t)
	ctx := context.Background()

	got := make(chan interface{}, 1)
	require.NoError(t, b.Subscribe(ctx, "custom.events", func(ctx context.Context, msg interface{}) error {
		got <- msg
		return nil
	}))

	require.NoError(t, b.Publish(ctx, "custom.events", map[string]interface{}{"kind": "ping", "n": 3}))

	select {
	case msg := <-got:
		doc, ok := msg.(*structpb.Struct)
		require.True(t, ok, "expected *structpb.Struct, got %T", msg)
		assert.Equal(t, "ping", doc.Fields["kind"].GetStringValue())
		assert.Equal(t, 3.0, doc.Fields["n"].GetNumberValue())
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
}

func TestBus_PublishWithoutSubscriberIsNoop(t *testing.T) {
	b, _ := newTestBus(t)
	assert.NoError(t, b.Publish(context.Background(), TopicDecisions, &trading.Decision{}))
}

func TestBus_HealthCheck(t *testing.T) {
	tr := NewMemoryTransport(4)
	b := New(tr, nil, logger.Nop())
	ctx := context.Background()

	require.NoError(t, b.Subscribe(ctx, TopicSignals, func(context.Context, interface{}) error { return nil }))
	require.NoError(t, b.Subscribe(ctx, TopicAlerts, func(context.Context, interface{}) error { return nil }))
	require.NoError(t, b.Start(ctx))

	h := b.HealthCheck(ctx)
	assert.True(t, h.Connected)
	assert.Equal(t, []string{TopicAlerts, TopicSignals}, h.Topics)

	require.NoError(t, b.Stop(ctx))
	h = b.HealthCheck(ctx)
	assert.False(t, h.Connected)
	assert.NotEmpty(t, h.Error)
}

func TestBus_HandlersRunSerially(t *testing.T) {
	b, _ := newTestBus(t)
	ctx := context.Background()

	var (
		mu       sync.Mutex
		active   int
		overlaps int
		wg       sync.WaitGroup
	)
	const n = 10
	wg.Add(n)
	require.NoError(t, b.Subscribe(ctx, TopicSignals, func(ctx context.Context, msg interface{}) error {
		defer wg.Done()
		mu.Lock()
		active++
		if active > 1 {
			overlaps++
		}
		mu.Unlock()
		time.Sleep(time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
		return nil
	}))

	for i := 0; i < n; i++ {
		require.NoError(t, b.Publish(ctx, TopicSignals, &trading.TradingSignal{Symbol: "X"}))
	}
	wg.Wait()
	assert.Zero(t, overlaps)
}
