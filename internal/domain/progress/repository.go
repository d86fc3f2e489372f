package progress

import (
	"context"
	"time"
)

// Repository persists progress records. Every Mark* call is an atomic
// put-if-absent: it returns applied=false when another session already made
// the same change, which callers treat as a review.
type Repository interface {
	// Get returns the stored record or shared.ErrProgressNotFound.
	Get(ctx context.Context, childID, topicID string, totalSections int) (*Record, error)

	MarkSectionCompleted(ctx context.Context, childID, topicID string, index int, at time.Time) (applied bool, err error)
	MarkQuizCompleted(ctx context.Context, childID, topicID string, at time.Time) (applied bool, err error)
	MarkCertificateIssued(ctx context.Context, childID, topicID string, at time.Time) (applied bool, err error)

	// CountExplored returns how many distinct topics the child has completed
	// at least one section of.
	CountExplored(ctx context.Context, childID string) (int, error)
}
