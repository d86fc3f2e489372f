package command

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/sparkquest/sparkquest-hub/internal/domain/shared"
	"github.com/sparkquest/sparkquest-hub/internal/domain/topic"
	"github.com/sparkquest/sparkquest-hub/internal/infrastructure/metrics"
	"github.com/sparkquest/sparkquest-hub/pkg/circuitbreaker"
	"github.com/sparkquest/sparkquest-hub/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// SECTION CACHE RESOLVER
// Returns stored content when it exists (no generator call), otherwise
// generates with a bounded timeout and stores put-if-absent. A failed
// generation yields a deterministic fallback built from the outline only.
// Fallbacks are never persisted; they are remembered in-process so the same
// section keeps returning the same fallback until RegenerateSection runs the
// miss path again.
// ══════════════════════════════════════════════════════════════════════════════

// Resolution outcomes.
const (
	ResolvedFromCache = metrics.OutcomeHit
	ResolvedGenerated = metrics.OutcomeGenerated
	ResolvedRaceLost  = metrics.OutcomeRaceLost
	ResolvedFallback  = metrics.OutcomeFallback
	ResolvedMemo      = metrics.OutcomeMemo
)

// ResolveSectionCommand asks for one section's content.
type ResolveSectionCommand struct {
	TopicID      string
	SectionIndex int

	// ChildAge tunes the prose. Zero uses the topic's target age.
	ChildAge int

	// Illustrate enables best-effort image enrichment for this request.
	Illustrate bool
}

// ResolveSectionResult is always well formed unless the store failed.
type ResolveSectionResult struct {
	Content *topic.SectionContent
	Outcome string
}

// ResolverConfig contains configuration for the SectionResolver.
type ResolverConfig struct {
	// GenerationTimeout bounds one generator call.
	GenerationTimeout time.Duration

	// IllustrationTimeout bounds one background image request.
	IllustrationTimeout time.Duration

	// FallbackTTL expires remembered fallbacks. Zero keeps them until
	// RegenerateSection or InvalidateSection.
	FallbackTTL time.Duration

	// FallbackMemoSize caps remembered fallbacks; the oldest is evicted.
	FallbackMemoSize int

	Breaker *circuitbreaker.Breaker
	Retrier *retry.Retrier
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	Now     func() time.Time
}

// DefaultResolverConfig returns default configuration.
func DefaultResolverConfig() ResolverConfig {
	return ResolverConfig{
		GenerationTimeout:   20 * time.Second,
		IllustrationTimeout: 60 * time.Second,
		FallbackMemoSize:    1024,
	}
}

// SectionResolver implements the section cache resolver.
type SectionResolver struct {
	topics        topic.Repository
	content       topic.ContentStore
	illustrations topic.IllustrationStore
	generator     topic.Generator
	illustrator   topic.Illustrator
	publisher     shared.EventPublisher
	config        ResolverConfig
	logger        *slog.Logger

	group singleflight.Group

	memoMu sync.Mutex
	memo   map[string]memoEntry

	background sync.WaitGroup
}

type memoEntry struct {
	content *topic.SectionContent
	at      time.Time
}

// NewSectionResolver creates a resolver. illustrations and illustrator may be
// nil, which disables enrichment.
func NewSectionResolver(
	topics topic.Repository,
	content topic.ContentStore,
	illustrations topic.IllustrationStore,
	generator topic.Generator,
	illustrator topic.Illustrator,
	publisher shared.EventPublisher,
	config ResolverConfig,
) *SectionResolver {
	defaults := DefaultResolverConfig()
	if config.GenerationTimeout <= 0 {
		config.GenerationTimeout = defaults.GenerationTimeout
	}
	if config.IllustrationTimeout <= 0 {
		config.IllustrationTimeout = defaults.IllustrationTimeout
	}
	if config.FallbackMemoSize <= 0 {
		config.FallbackMemoSize = defaults.FallbackMemoSize
	}
	if config.Retrier == nil {
		config.Retrier = retry.StoreRetrier(shared.IsRetryable)
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if publisher == nil {
		publisher = shared.NopPublisher{}
	}

	return &SectionResolver{
		topics:        topics,
		content:       content,
		illustrations: illustrations,
		generator:     generator,
		illustrator:   illustrator,
		publisher:     publisher,
		config:        config,
		logger:        config.Logger.With("component", "section_resolver"),
		memo:          make(map[string]memoEntry),
	}
}

// ResolveSection returns the section's content. Generation failures are
// absorbed into fallback content; only store failures are returned.
func (r *SectionResolver) ResolveSection(ctx context.Context, cmd ResolveSectionCommand) (*ResolveSectionResult, error) {
	t, outline, err := r.outline(ctx, cmd)
	if err != nil {
		return nil, err
	}

	if res, ok, err := r.lookup(ctx, t.ID, outline.Index); err != nil || ok {
		return res, err
	}

	key := sectionKey(t.ID, outline.Index)
	if fb, ok := r.remembered(key); ok {
		r.config.Metrics.Resolution(ResolvedMemo)
		return &ResolveSectionResult{Content: fb, Outcome: ResolvedMemo}, nil
	}

	return r.miss(ctx, t, outline, r.age(cmd, t), cmd.Illustrate)
}

// RegenerateSection forgets a remembered fallback and runs the miss path
// again. Stored content is still returned as is.
func (r *SectionResolver) RegenerateSection(ctx context.Context, cmd ResolveSectionCommand) (*ResolveSectionResult, error) {
	t, outline, err := r.outline(ctx, cmd)
	if err != nil {
		return nil, err
	}

	r.forget(sectionKey(t.ID, outline.Index))

	if res, ok, err := r.lookup(ctx, t.ID, outline.Index); err != nil || ok {
		return res, err
	}
	return r.miss(ctx, t, outline, r.age(cmd, t), cmd.Illustrate)
}

// InvalidateSection deletes stored content, its illustration and any
// remembered fallback so the next access regenerates.
func (r *SectionResolver) InvalidateSection(ctx context.Context, topicID string, index int) error {
	r.forget(sectionKey(topicID, index))
	err := r.config.Retrier.Do(ctx, func(ctx context.Context) error {
		if r.illustrations != nil {
			if err := r.illustrations.DeleteIllustration(ctx, topicID, index); err != nil {
				return err
			}
		}
		return r.content.DeleteContent(ctx, topicID, index)
	})
	if err != nil {
		return fmt.Errorf("invalidate_section: %w", err)
	}
	r.logger.Info("section invalidated", "topic_id", topicID, "section_index", index)
	return nil
}

// Wait blocks until background enrichment has finished.
func (r *SectionResolver) Wait() {
	r.background.Wait()
}

func (r *SectionResolver) outline(ctx context.Context, cmd ResolveSectionCommand) (*topic.Topic, topic.SectionOutline, error) {
	t, err := retry.DoWithData(ctx, r.config.Retrier, func(ctx context.Context) (*topic.Topic, error) {
		return r.topics.GetByID(ctx, cmd.TopicID)
	})
	if err != nil {
		return nil, topic.SectionOutline{}, fmt.Errorf("resolve_section: %w", err)
	}
	outline, err := t.Outline(cmd.SectionIndex)
	if err != nil {
		return nil, topic.SectionOutline{}, fmt.Errorf("resolve_section: %w", err)
	}
	return t, outline, nil
}

func (r *SectionResolver) age(cmd ResolveSectionCommand, t *topic.Topic) int {
	if cmd.ChildAge == 0 {
		return t.TargetAge
	}
	return int(shared.ChildAge(cmd.ChildAge).Clamp())
}

// lookup reads stored content. ok is false on a miss.
func (r *SectionResolver) lookup(ctx context.Context, topicID string, index int) (*ResolveSectionResult, bool, error) {
	c, err := retry.DoWithData(ctx, r.config.Retrier, func(ctx context.Context) (*topic.SectionContent, error) {
		return r.content.GetContent(ctx, topicID, index)
	})
	switch {
	case err == nil:
		r.attachIllustration(ctx, c)
		r.config.Metrics.Resolution(ResolvedFromCache)
		return &ResolveSectionResult{Content: c, Outcome: ResolvedFromCache}, true, nil
	case shared.IsNotFound(err):
		return nil, false, nil
	default:
		return nil, false, fmt.Errorf("resolve_section: %w", err)
	}
}

// miss generates and stores content. Concurrent misses for one section in
// this process share a single generator call.
func (r *SectionResolver) miss(ctx context.Context, t *topic.Topic, outline topic.SectionOutline, age int, illustrate bool) (*ResolveSectionResult, error) {
	key := sectionKey(t.ID, outline.Index)
	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		return r.generateAndStore(context.WithoutCancel(ctx), t, outline, age, illustrate)
	})
	if err != nil {
		return nil, err
	}
	return v.(*ResolveSectionResult), nil
}

func (r *SectionResolver) generateAndStore(ctx context.Context, t *topic.Topic, outline topic.SectionOutline, age int, illustrate bool) (*ResolveSectionResult, error) {
	key := sectionKey(t.ID, outline.Index)

	result, err := r.generate(ctx, t, outline, age)
	var content *topic.SectionContent
	if err == nil {
		content, err = topic.NewSectionContent(t.ID, outline.Index, result, r.config.Now())
	}
	if err != nil {
		return r.fallback(key, t, outline, err), nil
	}

	stored, err := retry.DoWithData(ctx, r.config.Retrier, func(ctx context.Context) (bool, error) {
		return r.content.PutContentIfAbsent(ctx, content)
	})
	if err != nil {
		return nil, fmt.Errorf("resolve_section: %w", err)
	}

	if !stored {
		// Another writer won; its record is the one that survives.
		winner, err := retry.DoWithData(ctx, r.config.Retrier, func(ctx context.Context) (*topic.SectionContent, error) {
			return r.content.GetContent(ctx, t.ID, outline.Index)
		})
		if err != nil {
			return nil, fmt.Errorf("resolve_section: %w", err)
		}
		r.attachIllustration(ctx, winner)
		r.config.Metrics.Resolution(ResolvedRaceLost)
		return &ResolveSectionResult{Content: winner, Outcome: ResolvedRaceLost}, nil
	}

	r.config.Metrics.Resolution(ResolvedGenerated)
	r.publish(shared.NewSectionGeneratedEvent(t.ID, outline.Index, content.WordCount))
	r.logger.Info("section generated", "topic_id", t.ID, "section_index", outline.Index, "words", content.WordCount)

	if illustrate && content.ImageRef == "" {
		r.enrich(t, outline, age)
	}

	return &ResolveSectionResult{Content: content, Outcome: ResolvedGenerated}, nil
}

func (r *SectionResolver) generate(ctx context.Context, t *topic.Topic, outline topic.SectionOutline, age int) (*topic.GenerationResult, error) {
	if r.generator == nil {
		return nil, shared.ErrGeneratorUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, r.config.GenerationTimeout)
	defer cancel()

	req := topic.GenerationRequest{
		TopicTitle:         t.Title,
		SectionTitle:       outline.Title,
		SectionDescription: outline.Description,
		ChildAge:           age,
	}

	start := time.Now()
	var result *topic.GenerationResult
	call := func(ctx context.Context) error {
		var err error
		result, err = r.generator.Generate(ctx, req)
		return err
	}

	var err error
	if r.config.Breaker != nil {
		err = r.config.Breaker.Execute(ctx, call)
	} else {
		err = call(ctx)
	}
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}

	if !circuitbreaker.IsRejection(err) {
		r.config.Metrics.Generator(time.Since(start).Seconds(), err)
	}
	return result, err
}

func (r *SectionResolver) fallback(key string, t *topic.Topic, outline topic.SectionOutline, cause error) *ResolveSectionResult {
	fb := topic.BuildFallback(t.ID, outline)
	fb.GeneratedAt = r.config.Now().UTC()

	r.remember(key, fb)

	r.config.Metrics.Resolution(ResolvedFallback)
	r.publish(shared.NewSectionFallbackEvent(t.ID, outline.Index, cause.Error()))
	r.logger.Warn("generation failed, serving fallback",
		"topic_id", t.ID,
		"section_index", outline.Index,
		"error", cause,
	)
	return &ResolveSectionResult{Content: fb, Outcome: ResolvedFallback}
}

// remember stores a fallback, dropping expired entries and then the oldest
// entry once the memo is full.
func (r *SectionResolver) remember(key string, fb *topic.SectionContent) {
	r.memoMu.Lock()
	defer r.memoMu.Unlock()

	now := r.config.Now()
	if _, ok := r.memo[key]; !ok && len(r.memo) >= r.config.FallbackMemoSize {
		if r.config.FallbackTTL > 0 {
			for k, e := range r.memo {
				if now.Sub(e.at) >= r.config.FallbackTTL {
					delete(r.memo, k)
				}
			}
		}
		for len(r.memo) >= r.config.FallbackMemoSize {
			oldest, first := "", true
			for k, e := range r.memo {
				if first || e.at.Before(r.memo[oldest].at) {
					oldest, first = k, false
				}
			}
			delete(r.memo, oldest)
		}
	}
	r.memo[key] = memoEntry{content: fb, at: now}
}

// MemoSize reports how many fallbacks are remembered.
func (r *SectionResolver) MemoSize() int {
	r.memoMu.Lock()
	defer r.memoMu.Unlock()
	return len(r.memo)
}

func (r *SectionResolver) remembered(key string) (*topic.SectionContent, bool) {
	r.memoMu.Lock()
	defer r.memoMu.Unlock()

	e, ok := r.memo[key]
	if !ok {
		return nil, false
	}
	if r.config.FallbackTTL > 0 && r.config.Now().Sub(e.at) >= r.config.FallbackTTL {
		delete(r.memo, key)
		return nil, false
	}
	return e.content, true
}

func (r *SectionResolver) forget(key string) {
	r.memoMu.Lock()
	delete(r.memo, key)
	r.memoMu.Unlock()
}

// attachIllustration fills ImageRef from the illustration store. Failures
// leave the content as it is.
func (r *SectionResolver) attachIllustration(ctx context.Context, c *topic.SectionContent) {
	if r.illustrations == nil || c.ImageRef != "" {
		return
	}
	ref, err := r.illustrations.GetIllustration(ctx, c.TopicID, c.SectionIndex)
	if err != nil {
		r.logger.Debug("illustration lookup failed", "topic_id", c.TopicID, "error", err)
		return
	}
	c.ImageRef = ref
}

// enrich requests an illustration in the background. It never affects the
// content already returned.
func (r *SectionResolver) enrich(t *topic.Topic, outline topic.SectionOutline, age int) {
	if r.illustrator == nil || r.illustrations == nil {
		return
	}

	prompt := topic.IllustrationPrompt(t.Title, outline, age)
	topicID, index := t.ID, outline.Index

	r.background.Add(1)
	go func() {
		defer r.background.Done()
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("illustration panic recovered", "topic_id", topicID, "panic", p)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), r.config.IllustrationTimeout)
		defer cancel()

		ref, err := r.illustrator.Illustrate(ctx, prompt)
		r.config.Metrics.Illustration(err)
		if err != nil {
			r.logger.Warn("illustration failed", "topic_id", topicID, "section_index", index, "error", err)
			return
		}

		stored, err := r.illustrations.PutIllustrationIfAbsent(ctx, topicID, index, ref)
		if err != nil {
			r.logger.Warn("illustration store failed", "topic_id", topicID, "section_index", index, "error", err)
			return
		}
		if stored {
			r.publish(shared.NewSectionEnrichedEvent(topicID, index, ref))
		}
	}()
}

func (r *SectionResolver) publish(event shared.Event) {
	if err := r.publisher.Publish(event); err != nil {
		r.logger.Warn("failed to publish content event", "event_type", event.EventType(), "error", err)
	}
}

func sectionKey(topicID string, index int) string {
	return topicID + "/" + strconv.Itoa(index)
}
