package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sparkquest/sparkquest-hub/internal/domain/shared"
	"github.com/sparkquest/sparkquest-hub/internal/domain/topic"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewCacheFromClient(client)
	t.Cleanup(func() { _ = cache.Close() })
	return cache, mr
}

func TestCache_GetSet(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	var out map[string]int
	assert.ErrorIs(t, cache.Get(ctx, "missing", &out), ErrCacheMiss)
	assert.ErrorIs(t, cache.Set(ctx, "", 1, time.Minute), ErrCacheKeyEmpty)
	assert.ErrorIs(t, cache.Set(ctx, "k", nil, time.Minute), ErrCacheNilValue)

	require.NoError(t, cache.Set(ctx, "k", map[string]int{"a": 1}, time.Minute))
	require.NoError(t, cache.Get(ctx, "k", &out))
	assert.Equal(t, 1, out["a"])

	require.NoError(t, cache.Delete(ctx, "k"))
	assert.ErrorIs(t, cache.Get(ctx, "k", &out), ErrCacheMiss)
}

func TestBalanceCache_FillRequiresCurrentGeneration(t *testing.T) {
	cache, mr := newTestCache(t)
	balances := NewBalanceCache(cache, time.Hour)
	ctx := context.Background()

	gen, err := balances.Generation(ctx, "kid")
	require.NoError(t, err)
	assert.Zero(t, gen)

	ok, err := balances.Fill(ctx, "kid", 40, gen)
	require.NoError(t, err)
	assert.True(t, ok)
	got, hit, err := balances.Get(ctx, "kid")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, int64(40), got)
	assert.Equal(t, time.Hour, mr.TTL(BalanceKey("kid")))

	// A reader captured gen, then a write committed.
	next, err := balances.Invalidate(ctx, "kid")
	require.NoError(t, err)
	assert.Equal(t, int64(1), next)
	_, hit, err = balances.Get(ctx, "kid")
	require.NoError(t, err)
	assert.False(t, hit, "invalidate drops the value")
	assert.Equal(t, TTLBalanceGeneration, mr.TTL(BalanceGenerationKey("kid")))

	ok, err = balances.Fill(ctx, "kid", 40, gen)
	require.NoError(t, err)
	assert.False(t, ok, "a sum taken before the write must be rejected")
	_, hit, err = balances.Get(ctx, "kid")
	require.NoError(t, err)
	assert.False(t, hit)

	ok, err = balances.Fill(ctx, "kid", 55, next)
	require.NoError(t, err)
	assert.True(t, ok)
	got, _, err = balances.Get(ctx, "kid")
	require.NoError(t, err)
	assert.Equal(t, int64(55), got)
}

func TestBalanceCache_CorruptValueIsMiss(t *testing.T) {
	cache, mr := newTestCache(t)
	balances := NewBalanceCache(cache, 0)
	require.NoError(t, mr.Set(BalanceKey("kid"), "not-a-number"))

	_, ok, err := balances.Get(context.Background(), "kid")
	require.NoError(t, err)
	assert.False(t, ok)
}

// memContent is an in-memory topic.ContentStore that counts reads.
type memContent struct {
	mu    sync.Mutex
	items map[string]*topic.SectionContent
	reads int
}

func newMemContent() *memContent {
	return &memContent{items: make(map[string]*topic.SectionContent)}
}

func (m *memContent) GetContent(_ context.Context, topicID string, index int) (*topic.SectionContent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	c, ok := m.items[SectionKey(topicID, index)]
	if !ok {
		return nil, shared.ErrContentNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memContent) PutContentIfAbsent(_ context.Context, c *topic.SectionContent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := SectionKey(c.TopicID, c.SectionIndex)
	if _, ok := m.items[key]; ok {
		return false, nil
	}
	cp := *c
	m.items[key] = &cp
	return true, nil
}

func (m *memContent) DeleteContent(_ context.Context, topicID string, index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, SectionKey(topicID, index))
	return nil
}

func sampleContent(body string) *topic.SectionContent {
	return &topic.SectionContent{
		TopicID:      "t1",
		SectionIndex: 0,
		Body:         body,
		Facts:        []string{"Bees dance."},
		WordCount:    topic.CountWords(body),
		GeneratedAt:  time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestSectionCache_ReadThrough(t *testing.T) {
	cache, _ := newTestCache(t)
	store := newMemContent()
	sections := NewSectionCache(store, cache, time.Hour, nil)
	ctx := context.Background()

	_, err := sections.GetContent(ctx, "t1", 0)
	assert.True(t, shared.IsNotFound(err))

	stored, err := sections.PutContentIfAbsent(ctx, sampleContent("Bees make honey."))
	require.NoError(t, err)
	assert.True(t, stored)

	stored, err = sections.PutContentIfAbsent(ctx, sampleContent("A different body."))
	require.NoError(t, err)
	assert.False(t, stored)

	readsBefore := store.reads
	got, err := sections.GetContent(ctx, "t1", 0)
	require.NoError(t, err)
	assert.Equal(t, "Bees make honey.", got.Body)
	assert.Equal(t, readsBefore, store.reads, "hit must be served from redis")

	require.NoError(t, sections.DeleteContent(ctx, "t1", 0))
	_, err = sections.GetContent(ctx, "t1", 0)
	assert.True(t, shared.IsNotFound(err))
}

func TestSectionCache_DegradesWhenRedisDown(t *testing.T) {
	cache, mr := newTestCache(t)
	store := newMemContent()
	_, err := store.PutContentIfAbsent(context.Background(), sampleContent("Bees make honey."))
	require.NoError(t, err)

	mr.Close()

	sections := NewSectionCache(store, cache, time.Hour, nil)
	got, err := sections.GetContent(context.Background(), "t1", 0)
	require.NoError(t, err)
	assert.Equal(t, "Bees make honey.", got.Body)
}

func TestPubSub_Roundtrip(t *testing.T) {
	cache, _ := newTestCache(t)
	ps := NewPubSub(cache)
	defer ps.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := ps.Subscribe(ctx, "sparkquest:events")
	require.NoError(t, err)

	require.NoError(t, ps.Publish(ctx, "sparkquest:events", `{"event_id":"e1"}`))

	select {
	case msg := <-msgs:
		assert.Equal(t, "sparkquest:events", msg.Channel)
		assert.Equal(t, `{"event_id":"e1"}`, msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("message not received")
	}
}
