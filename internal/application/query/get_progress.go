package query

import (
	"context"
	"fmt"

	"github.com/sparkquest/sparkquest-hub/internal/domain/progress"
	"github.com/sparkquest/sparkquest-hub/internal/domain/shared"
	"github.com/sparkquest/sparkquest-hub/internal/domain/topic"
)

// GetProgressQuery asks for one child's progress through one topic.
type GetProgressQuery struct {
	ChildID string
	TopicID string
}

// SectionView is one outline entry with its unlock state.
type SectionView struct {
	Index            int    `json:"index"`
	Title            string `json:"title"`
	Description      string `json:"description"`
	EstimatedMinutes int    `json:"estimated_minutes"`
	Completed        bool   `json:"completed"`
	Unlocked         bool   `json:"unlocked"`
}

// ProgressView is the progress record joined with the topic outline.
type ProgressView struct {
	ChildID           string         `json:"child_id"`
	TopicID           string         `json:"topic_id"`
	TopicTitle        string         `json:"topic_title"`
	TopicStatus       topic.Status   `json:"topic_status"`
	State             progress.State `json:"state"`
	Sections          []SectionView  `json:"sections"`
	CompletedSections []int          `json:"completed_sections"`
	NextSection       int            `json:"next_section"`
	TotalSections     int            `json:"total_sections"`
	QuizCompleted     bool           `json:"quiz_completed"`
	CertificateIssued bool           `json:"certificate_issued"`
}

// GetProgressHandler reads progress.
type GetProgressHandler struct {
	topics   topic.Repository
	progress progress.Repository
}

// NewGetProgressHandler creates the handler.
func NewGetProgressHandler(topics topic.Repository, progressRepo progress.Repository) *GetProgressHandler {
	return &GetProgressHandler{topics: topics, progress: progressRepo}
}

// Handle executes the query. A child that has not started gets an empty
// NotStarted record.
func (h *GetProgressHandler) Handle(ctx context.Context, q GetProgressQuery) (*ProgressView, error) {
	if q.ChildID == "" {
		return nil, fmt.Errorf("get_progress: %w", shared.ErrEmptyChildID)
	}

	t, err := h.topics.GetByID(ctx, q.TopicID)
	if err != nil {
		return nil, fmt.Errorf("get_progress: %w", err)
	}

	rec, err := h.progress.Get(ctx, q.ChildID, q.TopicID, t.TotalSections())
	switch {
	case shared.IsNotFound(err):
		rec = progress.NewRecord(q.ChildID, q.TopicID, t.TotalSections())
	case err != nil:
		return nil, fmt.Errorf("get_progress: %w", err)
	}

	return BuildProgressView(t, rec), nil
}

// BuildProgressView joins a record with its topic.
func BuildProgressView(t *topic.Topic, rec *progress.Record) *ProgressView {
	sections := make([]SectionView, len(t.Sections))
	for i, s := range t.Sections {
		sections[i] = SectionView{
			Index:            s.Index,
			Title:            s.Title,
			Description:      s.Description,
			EstimatedMinutes: s.EstimatedMinutes,
			Completed:        rec.IsCompleted(s.Index),
			Unlocked:         rec.IsUnlocked(s.Index),
		}
	}

	return &ProgressView{
		ChildID:           rec.ChildID,
		TopicID:           t.ID,
		TopicTitle:        t.Title,
		TopicStatus:       t.Status,
		State:             rec.State(),
		Sections:          sections,
		CompletedSections: rec.CompletedSections(),
		NextSection:       rec.NextSection(),
		TotalSections:     t.TotalSections(),
		QuizCompleted:     rec.QuizCompleted,
		CertificateIssued: rec.CertificateIssued,
	}
}
