package redis

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sparkquest/sparkquest-hub/internal/domain/topic"
)

// SectionCache is a read-through cache in front of a topic.ContentStore.
// The underlying store stays authoritative: writes go there first and the
// cache only ever holds content the store has accepted.
type SectionCache struct {
	store  topic.ContentStore
	cache  *Cache
	ttl    time.Duration
	logger *slog.Logger
}

var _ topic.ContentStore = (*SectionCache)(nil)

// NewSectionCache wraps store. ttl <= 0 uses TTLSection.
func NewSectionCache(store topic.ContentStore, cache *Cache, ttl time.Duration, logger *slog.Logger) *SectionCache {
	if ttl <= 0 {
		ttl = TTLSection
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SectionCache{
		store:  store,
		cache:  cache,
		ttl:    ttl,
		logger: logger.With("component", "section_cache"),
	}
}

// GetContent serves from Redis and falls back to the store. Redis errors
// degrade to a store read.
func (s *SectionCache) GetContent(ctx context.Context, topicID string, index int) (*topic.SectionContent, error) {
	key := SectionKey(topicID, index)

	var cached topic.SectionContent
	err := s.cache.Get(ctx, key, &cached)
	switch {
	case err == nil:
		return &cached, nil
	case !errors.Is(err, ErrCacheMiss):
		s.logger.Warn("section cache read failed", "key", key, "error", err)
	}

	content, err := s.store.GetContent(ctx, topicID, index)
	if err != nil {
		return nil, err
	}
	s.fill(ctx, key, content)
	return content, nil
}

// PutContentIfAbsent writes through to the store. Only the stored winner is
// cached; a lost race leaves the cache to be filled on the next read.
func (s *SectionCache) PutContentIfAbsent(ctx context.Context, c *topic.SectionContent) (bool, error) {
	stored, err := s.store.PutContentIfAbsent(ctx, c)
	if err != nil || !stored {
		return stored, err
	}
	s.fill(ctx, SectionKey(c.TopicID, c.SectionIndex), c)
	return true, nil
}

// DeleteContent removes the content from the store and the cache.
func (s *SectionCache) DeleteContent(ctx context.Context, topicID string, index int) error {
	if err := s.store.DeleteContent(ctx, topicID, index); err != nil {
		return err
	}
	if err := s.cache.Delete(ctx, SectionKey(topicID, index)); err != nil {
		s.logger.Warn("section cache delete failed", "topic_id", topicID, "index", index, "error", err)
	}
	return nil
}

func (s *SectionCache) fill(ctx context.Context, key string, c *topic.SectionContent) {
	if c == nil || c.Fallback {
		return
	}
	if err := s.cache.Set(ctx, key, c, s.ttl); err != nil {
		s.logger.Warn("section cache write failed", "key", key, "error", err)
	}
}
