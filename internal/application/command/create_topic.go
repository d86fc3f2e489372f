package command

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sparkquest/sparkquest-hub/internal/domain/shared"
	"github.com/sparkquest/sparkquest-hub/internal/domain/topic"
)

// SectionInput is one planned section.
type SectionInput struct {
	Title            string
	Description      string
	EstimatedMinutes int
}

// CreateTopicCommand plans a topic and fixes its outline.
type CreateTopicCommand struct {
	// ID is optional; a UUID is generated when empty.
	ID          string
	Title       string
	Description string
	TargetAge   int
	CreatedBy   string
	Sections    []SectionInput
}

// CreateTopicHandler handles CreateTopicCommand.
type CreateTopicHandler struct {
	topics    topic.Repository
	publisher shared.EventPublisher
	now       func() time.Time
	logger    *slog.Logger
}

// NewCreateTopicHandler creates a new CreateTopicHandler.
func NewCreateTopicHandler(topics topic.Repository, publisher shared.EventPublisher, logger *slog.Logger) *CreateTopicHandler {
	if publisher == nil {
		publisher = shared.NopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CreateTopicHandler{
		topics:    topics,
		publisher: publisher,
		now:       time.Now,
		logger:    logger.With("handler", "create_topic"),
	}
}

// Handle validates and stores the topic in the planning state.
func (h *CreateTopicHandler) Handle(ctx context.Context, cmd CreateTopicCommand) (*topic.Topic, error) {
	id := cmd.ID
	if id == "" {
		id = uuid.NewString()
	}

	sections := make([]topic.SectionOutline, len(cmd.Sections))
	for i, s := range cmd.Sections {
		sections[i] = topic.SectionOutline{
			Title:            s.Title,
			Description:      s.Description,
			EstimatedMinutes: s.EstimatedMinutes,
		}
	}

	t, err := topic.NewTopic(topic.NewTopicParams{
		ID:          id,
		Title:       cmd.Title,
		Description: cmd.Description,
		Sections:    sections,
		TargetAge:   cmd.TargetAge,
		CreatedBy:   cmd.CreatedBy,
		Now:         h.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("create_topic: %w", err)
	}

	if err := h.topics.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("create_topic: %w", err)
	}

	if err := h.publisher.Publish(shared.NewTopicCreatedEvent(t.ID, t.Title, t.TotalSections(), t.TargetAge)); err != nil {
		h.logger.Warn("failed to publish topic event", "topic_id", t.ID, "error", err)
	}

	h.logger.Info("topic created", "topic_id", t.ID, "sections", t.TotalSections())
	return t, nil
}
