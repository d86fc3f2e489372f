package topic

import (
	"strings"
	"time"

	"github.com/sparkquest/sparkquest-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// STATUS
// ══════════════════════════════════════════════════════════════════════════════

// Status is the lifecycle stage of a topic.
type Status string

const (
	StatusPlanning   Status = "planning"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Rank orders statuses; transitions may only increase it. Unknown is -1.
func (s Status) Rank() int {
	switch s {
	case StatusPlanning:
		return 0
	case StatusInProgress:
		return 1
	case StatusCompleted:
		return 2
	default:
		return -1
	}
}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	return s.Rank() >= 0
}

// CanAdvanceTo reports whether moving from s to next is forward (or a no-op).
func (s Status) CanAdvanceTo(next Status) bool {
	return next.IsValid() && next.Rank() >= s.Rank()
}

// ══════════════════════════════════════════════════════════════════════════════
// SECTION OUTLINE
// ══════════════════════════════════════════════════════════════════════════════

// SectionOutline describes one section of a topic. Immutable after creation.
type SectionOutline struct {
	Index            int    `json:"index"`
	Title            string `json:"title"`
	Description      string `json:"description"`
	EstimatedMinutes int    `json:"estimated_minutes"`
}

// ══════════════════════════════════════════════════════════════════════════════
// TOPIC
// ══════════════════════════════════════════════════════════════════════════════

// Topic is an encyclopedia-style subject split into ordered sections.
type Topic struct {
	ID          string
	Title       string
	Description string
	Sections    []SectionOutline
	TargetAge   int

	// CreatedBy is the child the topic was planned for. Informational only.
	CreatedBy string

	Status Status

	// CurrentSection is the lowest section index not yet completed, capped at
	// TotalSections(). It never decreases.
	CurrentSection int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewTopicParams contains parameters for NewTopic.
type NewTopicParams struct {
	ID          string
	Title       string
	Description string
	Sections    []SectionOutline
	TargetAge   int
	CreatedBy   string
	Now         time.Time
}

// NewTopic validates params and returns a topic in the planning state.
// Section indices are assigned from the slice order.
func NewTopic(p NewTopicParams) (*Topic, error) {
	if strings.TrimSpace(p.ID) == "" {
		return nil, shared.NewDomainError("topic", "Create", shared.ErrInvalidID, "topic ID is required")
	}
	if strings.TrimSpace(p.Title) == "" {
		return nil, shared.NewDomainError("topic", "Create", shared.ErrEmptyValue, "topic title is required")
	}
	if len(p.Sections) == 0 {
		return nil, shared.ErrEmptyOutline
	}
	if !shared.ChildAge(p.TargetAge).IsValid() {
		return nil, shared.ErrInvalidAge
	}
	if p.Now.IsZero() {
		p.Now = time.Now()
	}

	sections := make([]SectionOutline, len(p.Sections))
	for i, s := range p.Sections {
		if strings.TrimSpace(s.Title) == "" {
			return nil, shared.NewDomainError("topic", "Create", shared.ErrEmptyValue, "section title is required")
		}
		s.Index = i
		s.Title = strings.TrimSpace(s.Title)
		s.Description = strings.TrimSpace(s.Description)
		if s.EstimatedMinutes <= 0 {
			s.EstimatedMinutes = 3
		}
		sections[i] = s
	}

	now := p.Now.UTC()
	return &Topic{
		ID:          p.ID,
		Title:       strings.TrimSpace(p.Title),
		Description: strings.TrimSpace(p.Description),
		Sections:    sections,
		TargetAge:   p.TargetAge,
		CreatedBy:   p.CreatedBy,
		Status:      StatusPlanning,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// TotalSections returns the number of sections in the outline.
func (t *Topic) TotalSections() int {
	return len(t.Sections)
}

// Outline returns the outline of section i.
func (t *Topic) Outline(i int) (SectionOutline, error) {
	if i < 0 || i >= len(t.Sections) {
		return SectionOutline{}, shared.ErrSectionNotFound
	}
	return t.Sections[i], nil
}

// AdvanceStatus moves the topic forward. Moving to the same status is a no-op;
// moving backward returns ErrInvalidTopicStatus.
func (t *Topic) AdvanceStatus(next Status, now time.Time) error {
	if !t.Status.CanAdvanceTo(next) {
		return shared.ErrInvalidTopicStatus
	}
	if t.Status != next {
		t.Status = next
		t.UpdatedAt = now.UTC()
	}
	return nil
}

// AdvanceSection raises CurrentSection to current, bounded by TotalSections.
// Lower values are ignored. Returns true if the topic changed.
func (t *Topic) AdvanceSection(current int, now time.Time) bool {
	if current > t.TotalSections() {
		current = t.TotalSections()
	}
	if current <= t.CurrentSection {
		return false
	}
	t.CurrentSection = current
	t.UpdatedAt = now.UTC()
	return true
}

// RecordCompletion applies a child's progress to the topic lifecycle: the
// first completion starts the topic, a completed quiz completes it.
func (t *Topic) RecordCompletion(nextSection int, quizDone bool, now time.Time) (changed bool) {
	before := *t
	_ = t.AdvanceStatus(StatusInProgress, now)
	t.AdvanceSection(nextSection, now)
	if quizDone {
		_ = t.AdvanceStatus(StatusCompleted, now)
	}
	return before.Status != t.Status || before.CurrentSection != t.CurrentSection
}
