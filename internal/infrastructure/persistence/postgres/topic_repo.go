package postgres

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/sparkquest/sparkquest-hub/internal/domain/shared"
	"github.com/sparkquest/sparkquest-hub/internal/domain/topic"
)

// ══════════════════════════════════════════════════════════════════════════════
// TOPIC REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// TopicRepository implements topic.Repository for PostgreSQL.
type TopicRepository struct {
	conn *Connection
}

// NewTopicRepository creates a new TopicRepository.
func NewTopicRepository(conn *Connection) *TopicRepository {
	return &TopicRepository{conn: conn}
}

// Create stores the topic and its outline in one transaction.
func (r *TopicRepository) Create(ctx context.Context, t *topic.Topic) error {
	err := r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO topics (
				id, title, description, target_age, created_by, status, status_rank,
				current_section, total_sections, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			t.ID, t.Title, t.Description, t.TargetAge, t.CreatedBy, string(t.Status), t.Status.Rank(),
			t.CurrentSection, t.TotalSections(), t.CreatedAt, t.UpdatedAt,
		)
		if err != nil {
			if IsUniqueViolation(err) {
				return shared.NewDomainError("topic", "Create", shared.ErrAlreadyExists, "topic already exists")
			}
			return err
		}

		batch := &pgx.Batch{}
		for _, s := range t.Sections {
			batch.Queue(`
				INSERT INTO topic_sections (topic_id, section_index, title, description, estimated_minutes)
				VALUES ($1, $2, $3, $4, $5)`,
				t.ID, s.Index, s.Title, s.Description, s.EstimatedMinutes,
			)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	return storeErr("CreateTopic", err)
}

// GetByID loads a topic with its ordered outline.
func (r *TopicRepository) GetByID(ctx context.Context, id string) (*topic.Topic, error) {
	var (
		t      topic.Topic
		status string
	)
	err := r.conn.QueryRow(ctx, `
		SELECT id::text, title, description, target_age, created_by, status, current_section, created_at, updated_at
		FROM topics WHERE id = $1`, id,
	).Scan(&t.ID, &t.Title, &t.Description, &t.TargetAge, &t.CreatedBy, &status, &t.CurrentSection, &t.CreatedAt, &t.UpdatedAt)
	if IsNoRows(err) {
		return nil, shared.ErrTopicNotFound
	}
	if err != nil {
		return nil, storeErr("GetTopic", err)
	}
	t.Status = topic.Status(status)

	rows, err := r.conn.Query(ctx, `
		SELECT section_index, title, description, estimated_minutes
		FROM topic_sections WHERE topic_id = $1 ORDER BY section_index`, id)
	if err != nil {
		return nil, storeErr("GetTopic", err)
	}
	defer rows.Close()

	for rows.Next() {
		var s topic.SectionOutline
		if err := rows.Scan(&s.Index, &s.Title, &s.Description, &s.EstimatedMinutes); err != nil {
			return nil, storeErr("GetTopic", err)
		}
		t.Sections = append(t.Sections, s)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("GetTopic", err)
	}
	return &t, nil
}

// SaveLifecycle advances status and current section monotonically.
func (r *TopicRepository) SaveLifecycle(ctx context.Context, t *topic.Topic) error {
	tag, err := r.conn.Exec(ctx, `
		UPDATE topics SET
			status          = CASE WHEN status_rank < $1 THEN $2 ELSE status END,
			status_rank     = GREATEST(status_rank, $1),
			current_section = LEAST(GREATEST(current_section, $3), total_sections),
			updated_at      = $4
		WHERE id = $5`,
		t.Status.Rank(), string(t.Status), t.CurrentSection, t.UpdatedAt, t.ID,
	)
	if err != nil {
		return storeErr("SaveLifecycle", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrTopicNotFound
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CONTENT REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// ContentRepository implements topic.ContentStore and topic.IllustrationStore.
type ContentRepository struct {
	conn *Connection
}

// NewContentRepository creates a new ContentRepository.
func NewContentRepository(conn *Connection) *ContentRepository {
	return &ContentRepository{conn: conn}
}

// GetContent returns stored section content.
func (r *ContentRepository) GetContent(ctx context.Context, topicID string, index int) (*topic.SectionContent, error) {
	var (
		c     topic.SectionContent
		facts []byte
	)
	err := r.conn.QueryRow(ctx, `
		SELECT topic_id::text, section_index, body, facts, image_ref, word_count, generated_at
		FROM section_content WHERE topic_id = $1 AND section_index = $2`, topicID, index,
	).Scan(&c.TopicID, &c.SectionIndex, &c.Body, &facts, &c.ImageRef, &c.WordCount, &c.GeneratedAt)
	if IsNoRows(err) {
		return nil, shared.ErrContentNotFound
	}
	if err != nil {
		return nil, storeErr("GetContent", err)
	}
	if err := json.Unmarshal(facts, &c.Facts); err != nil {
		return nil, storeErr("GetContent", err)
	}
	return &c, nil
}

// PutContentIfAbsent inserts content unless the key already exists.
func (r *ContentRepository) PutContentIfAbsent(ctx context.Context, c *topic.SectionContent) (bool, error) {
	facts, err := json.Marshal(c.Facts)
	if err != nil {
		return false, storeErr("PutContent", err)
	}
	tag, err := r.conn.Exec(ctx, `
		INSERT INTO section_content (topic_id, section_index, body, facts, image_ref, word_count, generated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (topic_id, section_index) DO NOTHING`,
		c.TopicID, c.SectionIndex, c.Body, facts, c.ImageRef, c.WordCount, c.GeneratedAt,
	)
	if err != nil {
		return false, storeErr("PutContent", err)
	}
	return tag.RowsAffected() == 1, nil
}

// DeleteContent removes stored content for a section.
func (r *ContentRepository) DeleteContent(ctx context.Context, topicID string, index int) error {
	_, err := r.conn.Exec(ctx,
		`DELETE FROM section_content WHERE topic_id = $1 AND section_index = $2`, topicID, index)
	return storeErr("DeleteContent", err)
}

// PutIllustrationIfAbsent stores the first illustration for a section.
func (r *ContentRepository) PutIllustrationIfAbsent(ctx context.Context, topicID string, index int, imageRef string) (bool, error) {
	tag, err := r.conn.Exec(ctx, `
		INSERT INTO section_illustrations (topic_id, section_index, image_ref)
		VALUES ($1, $2, $3)
		ON CONFLICT (topic_id, section_index) DO NOTHING`,
		topicID, index, imageRef,
	)
	if err != nil {
		return false, storeErr("PutIllustration", err)
	}
	return tag.RowsAffected() == 1, nil
}

// DeleteIllustration removes a section's illustration.
func (r *ContentRepository) DeleteIllustration(ctx context.Context, topicID string, index int) error {
	_, err := r.conn.Exec(ctx,
		`DELETE FROM section_illustrations WHERE topic_id = $1 AND section_index = $2`, topicID, index)
	return storeErr("DeleteIllustration", err)
}

// GetIllustration returns "" when no illustration exists.
func (r *ContentRepository) GetIllustration(ctx context.Context, topicID string, index int) (string, error) {
	var ref string
	err := r.conn.QueryRow(ctx,
		`SELECT image_ref FROM section_illustrations WHERE topic_id = $1 AND section_index = $2`,
		topicID, index,
	).Scan(&ref)
	if IsNoRows(err) {
		return "", nil
	}
	return ref, storeErr("GetIllustration", err)
}
