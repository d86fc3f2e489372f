package sqlite

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

// Get rebuilds the child's progress from its marks.
func (s *Store) Get(ctx context.Context, childID, topicID string, totalSections int) (*progress.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, section_index, marked_at FROM progress_marks
		WHERE child_id = ? AND topic_id = ?`, childID, topicID)
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
			markedAt string
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
		if at := parseTime(markedAt); at.After(updatedAt) {
			updatedAt = at
		}
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("GetProgress", err)
	}
	if !found {
		return nil, shared.ErrProgressNotFound
	}
	return progress.Restore(childID, topicID, totalSections, completed, quizDone, certIssued, updatedAt), nil
}

// MarkSectionCompleted records a completed section once.
func (s *Store) MarkSectionCompleted(ctx context.Context, childID, topicID string, index int, at time.Time) (bool, error) {
	return s.mark(ctx, "MarkSectionCompleted", childID, topicID, markSection, index, at)
}

// MarkQuizCompleted records the quiz once.
func (s *Store) MarkQuizCompleted(ctx context.Context, childID, topicID string, at time.Time) (bool, error) {
	return s.mark(ctx, "MarkQuizCompleted", childID, topicID, markQuiz, -1, at)
}

// MarkCertificateIssued records the certificate once.
func (s *Store) MarkCertificateIssued(ctx context.Context, childID, topicID string, at time.Time) (bool, error) {
	return s.mark(ctx, "MarkCertificateIssued", childID, topicID, markCertificate, -1, at)
}

func (s *Store) mark(ctx context.Context, op, childID, topicID, kind string, index int, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO progress_marks (child_id, topic_id, kind, section_index, marked_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (child_id, topic_id, kind, section_index) DO NOTHING`,
		childID, topicID, kind, index, formatTime(at),
	)
	if err != nil {
		return false, storeErr(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storeErr(op, err)
	}
	return n == 1, nil
}

// CountExplored counts topics with at least one completed section.
func (s *Store) CountExplored(ctx context.Context, childID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT topic_id) FROM progress_marks
		WHERE child_id = ? AND kind = ?`, childID, markSection,
	).Scan(&n)
	return n, storeErr("CountExplored", err)
}
