package command

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/sparkquest/sparkquest-hub/internal/domain/shared"
	"github.com/sparkquest/sparkquest-hub/internal/domain/topic"
	"github.com/sparkquest/sparkquest-hub/internal/infrastructure/persistence/sqlite"
)

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(filepath.Join(t.TempDir(), "core.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedTopic(t *testing.T, s *sqlite.Store, titles ...string) *topic.Topic {
	t.Helper()
	outline := make([]topic.SectionOutline, len(titles))
	for i, title := range titles {
		outline[i] = topic.SectionOutline{Title: title, Description: "All about " + title}
	}
	tp, err := topic.NewTopic(topic.NewTopicParams{
		ID:        uuid.NewString(),
		Title:     "Volcanoes",
		Sections:  outline,
		TargetAge: 8,
		CreatedBy: "kid-1",
		Now:       time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.NoError(t, s.Create(context.Background(), tp))
	return tp
}

// stubGenerator returns fixed prose or a fixed error and counts calls.
type stubGenerator struct {
	mu     sync.Mutex
	calls  int
	err    error
	block  bool
	result *topic.GenerationResult
}

func (g *stubGenerator) Generate(ctx context.Context, req topic.GenerationRequest) (*topic.GenerationResult, error) {
	g.mu.Lock()
	g.calls++
	err, block, result := g.err, g.block, g.result
	g.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	if result != nil {
		return result, nil
	}
	return &topic.GenerationResult{
		Content: "Lava is melted rock about " + req.SectionTitle + ".",
		Facts:   []string{"Volcanoes can sleep for years"},
	}, nil
}

func (g *stubGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func (g *stubGenerator) set(err error, block bool) {
	g.mu.Lock()
	g.err, g.block = err, block
	g.mu.Unlock()
}

type stubIllustrator struct {
	mu    sync.Mutex
	calls int
	ref   string
	err   error
}

func (i *stubIllustrator) Illustrate(ctx context.Context, prompt string) (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.calls++
	return i.ref, i.err
}

// recordingPublisher keeps every published event.
type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (p *recordingPublisher) Publish(e shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Types() []shared.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]shared.EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.EventType()
	}
	return out
}

// memBalanceCache is an in-memory ledger.BalanceCache with the same
// generation rules as the Redis one.
type memBalanceCache struct {
	mu            sync.Mutex
	values        map[string]int64
	gens          map[string]int64
	invalidateErr error
}

func newMemBalanceCache() *memBalanceCache {
	return &memBalanceCache{values: make(map[string]int64), gens: make(map[string]int64)}
}

func (c *memBalanceCache) Get(ctx context.Context, childID string) (int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[childID]
	return v, ok, nil
}

func (c *memBalanceCache) Generation(ctx context.Context, childID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[childID], nil
}

func (c *memBalanceCache) Invalidate(ctx context.Context, childID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.invalidateErr != nil {
		return 0, c.invalidateErr
	}
	delete(c.values, childID)
	c.gens[childID]++
	return c.gens[childID], nil
}

func (c *memBalanceCache) Fill(ctx context.Context, childID string, balance, gen int64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[childID] != gen {
		return false, nil
	}
	c.values[childID] = balance
	return true, nil
}

// put seeds a cached value without touching the generation.
func (c *memBalanceCache) put(childID string, balance int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[childID] = balance
}

func (c *memBalanceCache) value(childID string) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[childID]
	return v, ok
}
