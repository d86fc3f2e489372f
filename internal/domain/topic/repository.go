package topic

import "context"

// Repository persists topics and their outlines.
type Repository interface {
	// Create stores a new topic with its outline.
	Create(ctx context.Context, t *Topic) error

	// GetByID returns shared.ErrTopicNotFound when absent.
	GetByID(ctx context.Context, id string) (*Topic, error)

	// SaveLifecycle persists Status, CurrentSection and UpdatedAt. Stores must
	// not move either field backward even if a stale topic is written.
	SaveLifecycle(ctx context.Context, t *Topic) error
}

// ContentStore is key-value persistence keyed by (topicID, sectionIndex).
type ContentStore interface {
	// GetContent returns shared.ErrContentNotFound when nothing is stored.
	GetContent(ctx context.Context, topicID string, index int) (*SectionContent, error)

	// PutContentIfAbsent stores c unless content already exists for its key.
	// A lost race is not an error: stored is false and the caller should
	// re-read the winner.
	PutContentIfAbsent(ctx context.Context, c *SectionContent) (stored bool, err error)

	// DeleteContent invalidates stored content so the next access regenerates.
	DeleteContent(ctx context.Context, topicID string, index int) error
}

// IllustrationStore keeps best-effort illustrations apart from content so
// enrichment never changes persisted section content.
type IllustrationStore interface {
	PutIllustrationIfAbsent(ctx context.Context, topicID string, index int, imageRef string) (bool, error)

	// GetIllustration returns "" and no error when none exists.
	GetIllustration(ctx context.Context, topicID string, index int) (string, error)

	DeleteIllustration(ctx context.Context, topicID string, index int) error
}
