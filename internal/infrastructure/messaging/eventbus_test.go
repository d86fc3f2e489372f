package messaging

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sparkquest/sparkquest-hub/internal/domain/shared"
)

func syncBus(t *testing.T) *InMemoryEventBus {
	t.Helper()
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: false})
	t.Cleanup(func() { bus.Close() })
	return bus
}

func TestInMemoryEventBus_RoutesByType(t *testing.T) {
	bus := syncBus(t)

	var typed, all int
	require.NoError(t, bus.Subscribe(shared.EventStreakUpdated, func(shared.Event) error { typed++; return nil }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { all++; return nil }))

	require.NoError(t, bus.Publish(shared.NewStreakUpdatedEvent("kid", 2, "2024-05-02", false, false)))
	require.NoError(t, bus.Publish(shared.NewTopicCreatedEvent("t1", "Bees", 3, 7)))

	assert.Equal(t, 1, typed)
	assert.Equal(t, 2, all)
}

func TestInMemoryEventBus_RecoversPanics(t *testing.T) {
	bus := syncBus(t)
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { panic("boom") }))

	assert.NotPanics(t, func() {
		_ = bus.Publish(shared.NewTopicCreatedEvent("t1", "Bees", 3, 7))
	})
}

func TestInMemoryEventBus_AsyncCloseWaits(t *testing.T) {
	bus := NewInMemoryEventBus(DefaultInMemoryEventBusConfig())

	var mu sync.Mutex
	delivered := 0
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		delivered++
		mu.Unlock()
		return nil
	}))

	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Publish(shared.NewTopicCreatedEvent("t1", "Bees", 3, 7)))
	}
	require.NoError(t, bus.Close())

	mu.Lock()
	assert.Equal(t, 5, delivered)
	mu.Unlock()
	assert.ErrorIs(t, bus.Publish(shared.NewTopicCreatedEvent("t1", "Bees", 3, 7)), ErrEventBusClosed)
}

// fakeRedis is a loopback Pub/Sub shared by several buses.
type fakeRedis struct {
	mu   sync.Mutex
	subs []chan RedisMessage
}

func (f *fakeRedis) Publish(_ context.Context, channel string, message interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		ch <- RedisMessage{Channel: channel, Payload: message.(string)}
	}
	return nil
}

func (f *fakeRedis) Subscribe(_ context.Context, _ ...string) (<-chan RedisMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan RedisMessage, 16)
	f.subs = append(f.subs, ch)
	return ch, nil
}

func (f *fakeRedis) Close() error { return nil }

func TestRedisEventBus_DeliversAcrossInstances(t *testing.T) {
	redis := &fakeRedis{}
	local := InMemoryEventBusConfig{AsyncMode: false}

	a, err := NewRedisEventBus(RedisEventBusConfig{Client: redis, InstanceID: "a", LocalBusConfig: local})
	require.NoError(t, err)
	defer a.Close()
	b, err := NewRedisEventBus(RedisEventBusConfig{Client: redis, InstanceID: "b", LocalBusConfig: local})
	require.NoError(t, err)
	defer b.Close()

	received := make(chan shared.Event, 4)
	require.NoError(t, b.SubscribeAll(func(e shared.Event) error { received <- e; return nil }))

	var onA int
	require.NoError(t, a.SubscribeAll(func(shared.Event) error { onA++; return nil }))

	sent := shared.NewTransactionAppendedEvent("kid", "tx-1", 10, "section", time.Now(), nil)
	require.NoError(t, a.Publish(sent))

	select {
	case got := <-received:
		assert.Equal(t, sent.EventID(), got.EventID())
		assert.Equal(t, "kid", got.AggregateID())
		assert.Equal(t, shared.EventTransactionAppended, got.EventType())
		assert.Equal(t, "tx-1", got.Payload()["transaction_id"])
	case <-time.After(time.Second):
		t.Fatal("event not delivered to the other instance")
	}

	// Instance a delivered locally once and ignored its own echo.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, onA)
}
