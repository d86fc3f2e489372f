package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/sparkquest/sparkquest-hub/internal/domain/shared"
	"github.com/sparkquest/sparkquest-hub/internal/domain/topic"
)

// ══════════════════════════════════════════════════════════════════════════════
// TOPICS
// ══════════════════════════════════════════════════════════════════════════════

// Create stores a topic and its outline atomically.
func (s *Store) Create(ctx context.Context, t *topic.Topic) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO topics (id, title, description, target_age, created_by, status, status_rank,
			                    current_section, total_sections, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.Title, t.Description, t.TargetAge, t.CreatedBy, string(t.Status), t.Status.Rank(),
			t.CurrentSection, t.TotalSections(), formatTime(t.CreatedAt), formatTime(t.UpdatedAt),
		)
		if err != nil {
			return err
		}
		for _, sec := range t.Sections {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO topic_sections (topic_id, section_index, title, description, estimated_minutes)
				VALUES (?, ?, ?, ?, ?)`,
				t.ID, sec.Index, sec.Title, sec.Description, sec.EstimatedMinutes,
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
	return storeErr("CreateTopic", err)
}

// GetByID loads a topic with its outline.
func (s *Store) GetByID(ctx context.Context, id string) (*topic.Topic, error) {
	var (
		t                    topic.Topic
		status               string
		createdAt, updatedAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, description, target_age, created_by, status, current_section, created_at, updated_at
		FROM topics WHERE id = ?`, id,
	).Scan(&t.ID, &t.Title, &t.Description, &t.TargetAge, &t.CreatedBy, &status, &t.CurrentSection, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrTopicNotFound
	}
	if err != nil {
		return nil, storeErr("GetTopic", err)
	}
	t.Status = topic.Status(status)
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)

	rows, err := s.db.QueryContext(ctx, `
		SELECT section_index, title, description, estimated_minutes
		FROM topic_sections WHERE topic_id = ? ORDER BY section_index`, id)
	if err != nil {
		return nil, storeErr("GetTopic", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sec topic.SectionOutline
		if err := rows.Scan(&sec.Index, &sec.Title, &sec.Description, &sec.EstimatedMinutes); err != nil {
			return nil, storeErr("GetTopic", err)
		}
		t.Sections = append(t.Sections, sec)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("GetTopic", err)
	}
	return &t, nil
}

// SaveLifecycle advances status and current section without moving either backward.
func (s *Store) SaveLifecycle(ctx context.Context, t *topic.Topic) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE topics SET
			status          = CASE WHEN status_rank < ? THEN ? ELSE status END,
			status_rank     = MAX(status_rank, ?),
			current_section = MIN(MAX(current_section, ?), total_sections),
			updated_at      = ?
		WHERE id = ?`,
		t.Status.Rank(), string(t.Status), t.Status.Rank(), t.CurrentSection, formatTime(t.UpdatedAt), t.ID,
	)
	if err != nil {
		return storeErr("SaveLifecycle", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("SaveLifecycle", err)
	}
	if n == 0 {
		return shared.ErrTopicNotFound
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CONTENT
// ══════════════════════════════════════════════════════════════════════════════

// GetContent returns stored section content.
func (s *Store) GetContent(ctx context.Context, topicID string, index int) (*topic.SectionContent, error) {
	var (
		c           topic.SectionContent
		facts       string
		generatedAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT topic_id, section_index, body, facts, image_ref, word_count, generated_at
		FROM section_content WHERE topic_id = ? AND section_index = ?`, topicID, index,
	).Scan(&c.TopicID, &c.SectionIndex, &c.Body, &facts, &c.ImageRef, &c.WordCount, &generatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrContentNotFound
	}
	if err != nil {
		return nil, storeErr("GetContent", err)
	}
	if err := json.Unmarshal([]byte(facts), &c.Facts); err != nil {
		return nil, storeErr("GetContent", err)
	}
	c.GeneratedAt = parseTime(generatedAt)
	return &c, nil
}

// PutContentIfAbsent inserts content unless the key already exists.
func (s *Store) PutContentIfAbsent(ctx context.Context, c *topic.SectionContent) (bool, error) {
	facts, err := json.Marshal(c.Facts)
	if err != nil {
		return false, storeErr("PutContent", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO section_content (topic_id, section_index, body, facts, image_ref, word_count, generated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (topic_id, section_index) DO NOTHING`,
		c.TopicID, c.SectionIndex, c.Body, string(facts), c.ImageRef, c.WordCount, formatTime(c.GeneratedAt),
	)
	if err != nil {
		return false, storeErr("PutContent", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storeErr("PutContent", err)
	}
	return n == 1, nil
}

// DeleteContent removes stored content for a section.
func (s *Store) DeleteContent(ctx context.Context, topicID string, index int) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM section_content WHERE topic_id = ? AND section_index = ?`, topicID, index)
	return storeErr("DeleteContent", err)
}

// PutIllustrationIfAbsent stores the first illustration for a section.
func (s *Store) PutIllustrationIfAbsent(ctx context.Context, topicID string, index int, imageRef string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO section_illustrations (topic_id, section_index, image_ref, created_at)
		VALUES (?, ?, ?, strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		ON CONFLICT (topic_id, section_index) DO NOTHING`,
		topicID, index, imageRef,
	)
	if err != nil {
		return false, storeErr("PutIllustration", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storeErr("PutIllustration", err)
	}
	return n == 1, nil
}

// DeleteIllustration removes a section's illustration.
func (s *Store) DeleteIllustration(ctx context.Context, topicID string, index int) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM section_illustrations WHERE topic_id = ? AND section_index = ?`, topicID, index)
	return storeErr("DeleteIllustration", err)
}

// GetIllustration returns "" when no illustration exists.
func (s *Store) GetIllustration(ctx context.Context, topicID string, index int) (string, error) {
	var ref string
	err := s.db.QueryRowContext(ctx,
		`SELECT image_ref FROM section_illustrations WHERE topic_id = ? AND section_index = ?`,
		topicID, index,
	).Scan(&ref)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return ref, storeErr("GetIllustration", err)
}
