package postgres

import (
	"context"
	"time"

	"github.com/sparkquest/sparkquest-hub/internal/domain/progress"
	"github.com/sparkquest/sparkquest-hub/internal/domain/shared"
)

const (
	markSection     = "section"
	markQuiz        = "quiz"
	markCertificate = "certificate"
)

// ProgressRepository implements progress.Repository for PostgreSQL.
type ProgressRepository struct {
	conn *Connection
}

// NewProgressRepository creates a new ProgressRepository.
func NewProgressRepository(conn *Connection) *ProgressRepository {
	return &ProgressRepository{conn: conn}
}

// Get rebuilds a record from its progress marks.
func (r *ProgressRepository) Get(ctx context.Context, childID, topicID string, totalSections int) (*progress.Record, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT kind, section_index, marked_at FROM progress_marks
		WHERE child_id = $1 AND topic_id = $2`, childID, topicID)
	if err != nil {
		return nil, storeErr("GetProgress", err)
	}
	defer rows.Close()

	var (
		completed            []int
		quizDone, certIssued bool
		updatedAt            time.Time
		found                bool
	)
	for rows.Next() {
		var (
			kind     string
			index    int
			markedAt time.Time
		)
		if err := rows.Scan(&kind, &index, &markedAt); err != nil {
			return nil, storeErr("GetProgress", err)
		}
		found = true
		switch kind {
		case markSection:
			completed = append(completed, index)
		case markQuiz:
			quizDone = true
		case markCertificate:
			certIssued = true
		}
		if markedAt.After(updatedAt) {
			updatedAt = markedAt
		}
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("GetProgress", err)
	}
	if !found {
		return nil, shared.ErrProgressNotFound
	}
	return progress.Restore(childID, topicID, totalSections, completed, quizDone, certIssued, updatedAt.UTC()), nil
}

// MarkSectionCompleted records a completed section once.
func (r *ProgressRepository) MarkSectionCompleted(ctx context.Context, childID, topicID string, index int, at time.Time) (bool, error) {
	return r.mark(ctx, "MarkSectionCompleted", childID, topicID, markSection, index, at)
}

// MarkQuizCompleted records the quiz once.
func (r *ProgressRepository) MarkQuizCompleted(ctx context.Context, childID, topicID string, at time.Time) (bool, error) {
	return r.mark(ctx, "MarkQuizCompleted", childID, topicID, markQuiz, -1, at)
}

// MarkCertificateIssued records the certificate once.
func (r *ProgressRepository) MarkCertificateIssued(ctx context.Context, childID, topicID string, at time.Time) (bool, error) {
	return r.mark(ctx, "MarkCertificateIssued", childID, topicID, markCertificate, -1, at)
}

func (r *ProgressRepository) mark(ctx context.Context, op, childID, topicID, kind string, index int, at time.Time) (bool, error) {
	tag, err := r.conn.Exec(ctx, `
		INSERT INTO progress_marks (child_id, topic_id, kind, section_index, marked_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (child_id, topic_id, kind, section_index) DO NOTHING`,
		childID, topicID, kind, index, at,
	)
	if err != nil {
		return false, storeErr(op, err)
	}
	return tag.RowsAffected() == 1, nil
}

// CountExplored counts topics with at least one completed section.
func (r *ProgressRepository) CountExplored(ctx context.Context, childID string) (int, error) {
	var n int
	err := r.conn.QueryRow(ctx, `
		SELECT COUNT(DISTINCT topic_id) FROM progress_marks
		WHERE child_id = $1 AND kind = $2`, childID, markSection,
	).Scan(&n)
	return n, storeErr("CountExplored", err)
}
