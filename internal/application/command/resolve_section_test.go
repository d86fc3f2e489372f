package command

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sparkquest/sparkquest-hub/internal/domain/shared"
	"github.com/sparkquest/sparkquest-hub/internal/domain/topic"
	"github.com/sparkquest/sparkquest-hub/internal/infrastructure/persistence/sqlite"
)

func newTestResolver(s *sqlite.Store, gen topic.Generator, ill topic.Illustrator, pub shared.EventPublisher) *SectionResolver {
	return NewSectionResolver(s, s, s, gen, ill, pub, ResolverConfig{
		GenerationTimeout:   50 * time.Millisecond,
		IllustrationTimeout: time.Second,
	})
}

func TestResolveSection_GeneratesOnceThenHits(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	tp := seedTopic(t, s, "Magma", "Eruptions")
	gen := &stubGenerator{}
	pub := &recordingPublisher{}
	r := newTestResolver(s, gen, nil, pub)

	first, err := r.ResolveSection(ctx, ResolveSectionCommand{TopicID: tp.ID, SectionIndex: 0})
	require.NoError(t, err)
	assert.Equal(t, ResolvedGenerated, first.Outcome)
	assert.False(t, first.Content.Fallback)
	assert.Contains(t, first.Content.Body, "Magma")

	second, err := r.ResolveSection(ctx, ResolveSectionCommand{TopicID: tp.ID, SectionIndex: 0})
	require.NoError(t, err)
	assert.Equal(t, ResolvedFromCache, second.Outcome)
	assert.Equal(t, first.Content.Body, second.Content.Body)

	assert.Equal(t, 1, gen.Calls())
	assert.Equal(t, []shared.EventType{shared.EventSectionGenerated}, pub.Types())
}

func TestResolveSection_OutOfRangeIndex(t *testing.T) {
	s := openStore(t)
	tp := seedTopic(t, s, "Magma")
	r := newTestResolver(s, &stubGenerator{}, nil, nil)

	_, err := r.ResolveSection(context.Background(), ResolveSectionCommand{TopicID: tp.ID, SectionIndex: 3})
	require.Error(t, err)
	assert.True(t, shared.IsNotFound(err))
}

func TestResolveSection_TimeoutFallsBackAndIsNotPersisted(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	tp := seedTopic(t, s, "Magma")
	gen := &stubGenerator{block: true}
	r := newTestResolver(s, gen, nil, nil)

	res, err := r.ResolveSection(ctx, ResolveSectionCommand{TopicID: tp.ID, SectionIndex: 0})
	require.NoError(t, err)
	assert.Equal(t, ResolvedFallback, res.Outcome)
	assert.True(t, res.Content.Fallback)
	assert.Contains(t, res.Content.Body, "Magma")
	assert.Contains(t, res.Content.Body, "All about Magma")

	_, err = s.GetContent(ctx, tp.ID, 0)
	assert.True(t, shared.IsNotFound(err), "fallback must not be stored")
}

func TestResolveSection_FallbackIsStickyUntilRegenerated(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	tp := seedTopic(t, s, "Magma")
	gen := &stubGenerator{err: errors.New("model overloaded")}
	r := newTestResolver(s, gen, nil, nil)
	cmd := ResolveSectionCommand{TopicID: tp.ID, SectionIndex: 0}

	first, err := r.ResolveSection(ctx, cmd)
	require.NoError(t, err)
	require.Equal(t, ResolvedFallback, first.Outcome)

	gen.set(nil, false)

	again, err := r.ResolveSection(ctx, cmd)
	require.NoError(t, err)
	assert.Equal(t, ResolvedMemo, again.Outcome)
	assert.Equal(t, first.Content.Body, again.Content.Body)
	assert.Equal(t, 1, gen.Calls())

	regen, err := r.RegenerateSection(ctx, cmd)
	require.NoError(t, err)
	assert.Equal(t, ResolvedGenerated, regen.Outcome)
	assert.False(t, regen.Content.Fallback)
	assert.Equal(t, 2, gen.Calls())

	hit, err := r.ResolveSection(ctx, cmd)
	require.NoError(t, err)
	assert.Equal(t, ResolvedFromCache, hit.Outcome)
}

func TestResolveSection_FallbackTTLExpires(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	tp := seedTopic(t, s, "Magma")
	gen := &stubGenerator{err: errors.New("down")}

	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	r := NewSectionResolver(s, s, s, gen, nil, nil, ResolverConfig{
		GenerationTimeout: 50 * time.Millisecond,
		FallbackTTL:       time.Minute,
		Now:               func() time.Time { return now },
	})
	cmd := ResolveSectionCommand{TopicID: tp.ID, SectionIndex: 0}

	_, err := r.ResolveSection(ctx, cmd)
	require.NoError(t, err)

	gen.set(nil, false)
	now = now.Add(2 * time.Minute)

	res, err := r.ResolveSection(ctx, cmd)
	require.NoError(t, err)
	assert.Equal(t, ResolvedGenerated, res.Outcome)
}

func TestResolveSection_MalformedGenerationFallsBack(t *testing.T) {
	s := openStore(t)
	tp := seedTopic(t, s, "Magma")
	gen := &stubGenerator{result: &topic.GenerationResult{Content: "   "}}
	r := newTestResolver(s, gen, nil, nil)

	res, err := r.ResolveSection(context.Background(), ResolveSectionCommand{TopicID: tp.ID, SectionIndex: 0})
	require.NoError(t, err)
	assert.Equal(t, ResolvedFallback, res.Outcome)
}

func TestResolveSection_LosingWriterReturnsWinner(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	tp := seedTopic(t, s, "Magma")

	winner := &topic.SectionContent{
		TopicID:      tp.ID,
		SectionIndex: 0,
		Body:         "The winning body.",
		Facts:        []string{},
		WordCount:    3,
		GeneratedAt:  time.Now().UTC(),
	}
	racer := &racingStore{Store: s, before: func() {
		_, err := s.PutContentIfAbsent(ctx, winner)
		require.NoError(t, err)
	}}

	r := NewSectionResolver(s, racer, s, &stubGenerator{}, nil, nil, ResolverConfig{GenerationTimeout: time.Second})
	res, err := r.ResolveSection(ctx, ResolveSectionCommand{TopicID: tp.ID, SectionIndex: 0})
	require.NoError(t, err)
	assert.Equal(t, ResolvedRaceLost, res.Outcome)
	assert.Equal(t, "The winning body.", res.Content.Body)
}

// racingStore lets another writer land between the miss and the put.
type racingStore struct {
	*sqlite.Store
	once   sync.Once
	before func()
}

func (r *racingStore) PutContentIfAbsent(ctx context.Context, c *topic.SectionContent) (bool, error) {
	r.once.Do(r.before)
	return r.Store.PutContentIfAbsent(ctx, c)
}

func TestResolveSection_ConcurrentMissesShareOneGeneration(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	tp := seedTopic(t, s, "Magma")
	gen := &slowGenerator{delay: 30 * time.Millisecond}
	r := NewSectionResolver(s, s, s, gen, nil, nil, ResolverConfig{GenerationTimeout: time.Second})

	var wg sync.WaitGroup
	bodies := make([]string, 8)
	for i := range bodies {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := r.ResolveSection(ctx, ResolveSectionCommand{TopicID: tp.ID, SectionIndex: 0})
			if assert.NoError(t, err) {
				bodies[i] = res.Content.Body
			}
		}(i)
	}
	wg.Wait()

	for _, b := range bodies {
		assert.Equal(t, bodies[0], b)
	}
	assert.LessOrEqual(t, gen.Calls(), 2)
}

type slowGenerator struct {
	stubGenerator
	delay time.Duration
}

func (g *slowGenerator) Generate(ctx context.Context, req topic.GenerationRequest) (*topic.GenerationResult, error) {
	time.Sleep(g.delay)
	return g.stubGenerator.Generate(ctx, req)
}

func TestResolveSection_EnrichesInBackground(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	tp := seedTopic(t, s, "Magma")
	ill := &stubIllustrator{ref: "https://img.example/magma.png"}
	pub := &recordingPublisher{}
	r := newTestResolver(s, &stubGenerator{}, ill, pub)
	cmd := ResolveSectionCommand{TopicID: tp.ID, SectionIndex: 0, Illustrate: true}

	res, err := r.ResolveSection(ctx, cmd)
	require.NoError(t, err)
	assert.Empty(t, res.Content.ImageRef)

	r.Wait()

	hit, err := r.ResolveSection(ctx, cmd)
	require.NoError(t, err)
	assert.Equal(t, ResolvedFromCache, hit.Outcome)
	assert.Equal(t, "https://img.example/magma.png", hit.Content.ImageRef)
	assert.Contains(t, pub.Types(), shared.EventSectionEnriched)

	stored, err := s.GetContent(ctx, tp.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, stored.ImageRef, "enrichment must not rewrite content")
}

func TestResolveSection_EnrichmentFailureIsInvisible(t *testing.T) {
	s := openStore(t)
	tp := seedTopic(t, s, "Magma")
	ill := &stubIllustrator{err: errors.New("quota")}
	r := newTestResolver(s, &stubGenerator{}, ill, nil)

	res, err := r.ResolveSection(context.Background(), ResolveSectionCommand{TopicID: tp.ID, SectionIndex: 0, Illustrate: true})
	require.NoError(t, err)
	assert.Equal(t, ResolvedGenerated, res.Outcome)
	r.Wait()
}

func TestInvalidateSection_ForcesRegeneration(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	tp := seedTopic(t, s, "Magma")
	gen := &stubGenerator{}
	r := newTestResolver(s, gen, nil, nil)
	cmd := ResolveSectionCommand{TopicID: tp.ID, SectionIndex: 0}

	_, err := r.ResolveSection(ctx, cmd)
	require.NoError(t, err)
	require.NoError(t, r.InvalidateSection(ctx, tp.ID, 0))

	res, err := r.ResolveSection(ctx, cmd)
	require.NoError(t, err)
	assert.Equal(t, ResolvedGenerated, res.Outcome)
	assert.Equal(t, 2, gen.Calls())
}

func TestInvalidateSection_DropsOldIllustration(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	tp := seedTopic(t, s, "Magma")
	ill := &stubIllustrator{ref: "https://img.example/old.png"}
	r := newTestResolver(s, &stubGenerator{}, ill, nil)
	cmd := ResolveSectionCommand{TopicID: tp.ID, SectionIndex: 0, Illustrate: true}

	_, err := r.ResolveSection(ctx, cmd)
	require.NoError(t, err)
	r.Wait()

	require.NoError(t, r.InvalidateSection(ctx, tp.ID, 0))
	ref, err := s.GetIllustration(ctx, tp.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, ref)

	ill.mu.Lock()
	ill.ref = "https://img.example/new.png"
	ill.mu.Unlock()

	regen, err := r.ResolveSection(ctx, cmd)
	require.NoError(t, err)
	require.Equal(t, ResolvedGenerated, regen.Outcome)
	assert.Empty(t, regen.Content.ImageRef)
	r.Wait()

	hit, err := r.ResolveSection(ctx, cmd)
	require.NoError(t, err)
	assert.Equal(t, ResolvedFromCache, hit.Outcome)
	assert.Equal(t, "https://img.example/new.png", hit.Content.ImageRef)
}

func TestResolveSection_FallbackMemoIsBounded(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	tp := seedTopic(t, s, "Magma", "Ash", "Lava")
	gen := &stubGenerator{err: errors.New("down")}

	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	r := NewSectionResolver(s, s, s, gen, nil, nil, ResolverConfig{
		GenerationTimeout: 50 * time.Millisecond,
		FallbackMemoSize:  2,
		Now:               func() time.Time { return now },
	})

	for i := 0; i < 3; i++ {
		res, err := r.ResolveSection(ctx, ResolveSectionCommand{TopicID: tp.ID, SectionIndex: i})
		require.NoError(t, err)
		require.Equal(t, ResolvedFallback, res.Outcome)
		now = now.Add(time.Second)
	}
	assert.Equal(t, 2, r.MemoSize())
	assert.Equal(t, 3, gen.Calls())

	newest, err := r.ResolveSection(ctx, ResolveSectionCommand{TopicID: tp.ID, SectionIndex: 2})
	require.NoError(t, err)
	assert.Equal(t, ResolvedMemo, newest.Outcome)

	oldest, err := r.ResolveSection(ctx, ResolveSectionCommand{TopicID: tp.ID, SectionIndex: 0})
	require.NoError(t, err)
	assert.Equal(t, ResolvedFallback, oldest.Outcome, "evicted fallback runs the miss path again")
	assert.Equal(t, 4, gen.Calls())
	assert.Equal(t, 2, r.MemoSize())
}
