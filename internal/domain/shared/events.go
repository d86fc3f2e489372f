package shared

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. Child-scoped events use the child ID as aggregate ID so
// the sync layer can route them to that child's sessions.
const (
	// Content events (aggregate: topic ID)
	EventTopicCreated     EventType = "topic.created"
	EventSectionGenerated EventType = "content.section_generated"
	EventSectionFallback  EventType = "content.section_fallback"
	EventSectionEnriched  EventType = "content.section_enriched"

	// Progress events (aggregate: child ID)
	EventSectionCompleted  EventType = "progress.section_completed"
	EventQuizCompleted     EventType = "progress.quiz_completed"
	EventCertificateIssued EventType = "progress.certificate_issued"

	// Ledger events (aggregate: child ID)
	EventTransactionAppended EventType = "ledger.transaction_appended"

	// Engagement events (aggregate: child ID)
	EventStreakUpdated        EventType = "streak.updated"
	EventAchievementUnlocked  EventType = "achievement.unlocked"
	EventCelebrationTriggered EventType = "achievement.celebration"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventID uniquely identifies this occurrence; consumers dedupe on it.
	EventID() string

	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	ID          string    `json:"id"`
	Type        EventType `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	AggregateId string    `json:"aggregate_id"`
	Version     int       `json:"version"`
}

// EventID implements Event interface.
func (e BaseEvent) EventID() string {
	return e.ID
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event with a random ID.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		ID:          uuid.NewString(),
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Content Events
// ═══════════════════════════════════════════════════════════════════════════

// TopicCreatedEvent is emitted when a planned topic and its outline are stored.
type TopicCreatedEvent struct {
	BaseEvent
	Title         string `json:"title"`
	TotalSections int    `json:"total_sections"`
	TargetAge     int    `json:"target_age"`
}

// Payload implements Event interface.
func (e TopicCreatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"topic_id":       e.AggregateId,
		"title":          e.Title,
		"total_sections": e.TotalSections,
		"target_age":     e.TargetAge,
	}
}

// NewTopicCreatedEvent creates a new TopicCreatedEvent.
func NewTopicCreatedEvent(topicID, title string, totalSections, targetAge int) TopicCreatedEvent {
	return TopicCreatedEvent{
		BaseEvent:     NewBaseEvent(EventTopicCreated, topicID),
		Title:         title,
		TotalSections: totalSections,
		TargetAge:     targetAge,
	}
}

// SectionResolvedEvent is emitted when the resolver generates, falls back on,
// or enriches a section. Cache hits emit nothing.
type SectionResolvedEvent struct {
	BaseEvent
	SectionIndex int    `json:"section_index"`
	WordCount    int    `json:"word_count"`
	ImageRef     string `json:"image_ref,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// Payload implements Event interface.
func (e SectionResolvedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"topic_id":      e.AggregateId,
		"section_index": e.SectionIndex,
		"word_count":    e.WordCount,
		"image_ref":     e.ImageRef,
		"reason":        e.Reason,
	}
}

// NewSectionGeneratedEvent records a successful generation that was persisted.
func NewSectionGeneratedEvent(topicID string, index, wordCount int) SectionResolvedEvent {
	return SectionResolvedEvent{
		BaseEvent:    NewBaseEvent(EventSectionGenerated, topicID),
		SectionIndex: index,
		WordCount:    wordCount,
	}
}

// NewSectionFallbackEvent records that fallback content was served.
func NewSectionFallbackEvent(topicID string, index int, reason string) SectionResolvedEvent {
	return SectionResolvedEvent{
		BaseEvent:    NewBaseEvent(EventSectionFallback, topicID),
		SectionIndex: index,
		Reason:       reason,
	}
}

// NewSectionEnrichedEvent records that an illustration was attached.
func NewSectionEnrichedEvent(topicID string, index int, imageRef string) SectionResolvedEvent {
	return SectionResolvedEvent{
		BaseEvent:    NewBaseEvent(EventSectionEnriched, topicID),
		SectionIndex: index,
		ImageRef:     imageRef,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Progress Events
// ═══════════════════════════════════════════════════════════════════════════

// ProgressUpdatedEvent carries the progress record after an effective transition.
type ProgressUpdatedEvent struct {
	BaseEvent
	TopicID           string `json:"topic_id"`
	State             string `json:"state"`
	CompletedSections []int  `json:"completed_sections"`
	SectionIndex      int    `json:"section_index"`
	QuizCompleted     bool   `json:"quiz_completed"`
	CertificateIssued bool   `json:"certificate_issued"`
}

// Payload implements Event interface.
func (e ProgressUpdatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"child_id":           e.AggregateId,
		"topic_id":           e.TopicID,
		"state":              e.State,
		"completed_sections": e.CompletedSections,
		"section_index":      e.SectionIndex,
		"quiz_completed":     e.QuizCompleted,
		"certificate_issued": e.CertificateIssued,
	}
}

// NewProgressUpdatedEvent creates a progress event of the given type.
// sectionIndex is -1 for quiz and certificate transitions.
func NewProgressUpdatedEvent(eventType EventType, childID, topicID, state string, completed []int, sectionIndex int, quizDone, certIssued bool) ProgressUpdatedEvent {
	return ProgressUpdatedEvent{
		BaseEvent:         NewBaseEvent(eventType, childID),
		TopicID:           topicID,
		State:             state,
		CompletedSections: completed,
		SectionIndex:      sectionIndex,
		QuizCompleted:     quizDone,
		CertificateIssued: certIssued,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Ledger Events
// ═══════════════════════════════════════════════════════════════════════════

// TransactionAppendedEvent carries a newly inserted ledger transaction and the
// balance the writer observed right after it.
type TransactionAppendedEvent struct {
	BaseEvent
	TransactionID string    `json:"transaction_id"`
	Amount        int64     `json:"amount"`
	Reason        string    `json:"reason"`
	CreatedAt     time.Time `json:"created_at"`

	// Balance is nil when the writer could not read it back.
	Balance *int64 `json:"balance,omitempty"`
}

// Payload implements Event interface.
func (e TransactionAppendedEvent) Payload() map[string]interface{} {
	payload := map[string]interface{}{
		"child_id":       e.AggregateId,
		"transaction_id": e.TransactionID,
		"amount":         e.Amount,
		"reason":         e.Reason,
		"created_at":     e.CreatedAt.Format(time.RFC3339Nano),
	}
	if e.Balance != nil {
		payload["balance"] = *e.Balance
	}
	return payload
}

// NewTransactionAppendedEvent creates a new TransactionAppendedEvent.
func NewTransactionAppendedEvent(childID, txID string, amount int64, reason string, createdAt time.Time, balance *int64) TransactionAppendedEvent {
	return TransactionAppendedEvent{
		BaseEvent:     NewBaseEvent(EventTransactionAppended, childID),
		TransactionID: txID,
		Amount:        amount,
		Reason:        reason,
		CreatedAt:     createdAt,
		Balance:       balance,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Engagement Events
// ═══════════════════════════════════════════════════════════════════════════

// StreakUpdatedEvent is emitted when a streak count or freeze changes.
type StreakUpdatedEvent struct {
	BaseEvent
	Count           int    `json:"count"`
	LastActivity    string `json:"last_activity"`
	FreezeUsedToday bool   `json:"freeze_used_today"`
	BonusDay        bool   `json:"bonus_day"`
}

// Payload implements Event interface.
func (e StreakUpdatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"child_id":          e.AggregateId,
		"count":             e.Count,
		"last_activity":     e.LastActivity,
		"freeze_used_today": e.FreezeUsedToday,
		"bonus_day":         e.BonusDay,
	}
}

// NewStreakUpdatedEvent creates a new StreakUpdatedEvent.
func NewStreakUpdatedEvent(childID string, count int, lastActivity string, freezeUsed, bonusDay bool) StreakUpdatedEvent {
	return StreakUpdatedEvent{
		BaseEvent:       NewBaseEvent(EventStreakUpdated, childID),
		Count:           count,
		LastActivity:    lastActivity,
		FreezeUsedToday: freezeUsed,
		BonusDay:        bonusDay,
	}
}

// AchievementsEvent lists achievements for a child. Used both for the
// edge-triggered unlock and for the debounced celebration.
type AchievementsEvent struct {
	BaseEvent
	AchievementIDs []string `json:"achievement_ids"`
	Labels         []string `json:"labels"`
}

// Payload implements Event interface.
func (e AchievementsEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"child_id":        e.AggregateId,
		"achievement_ids": e.AchievementIDs,
		"labels":          e.Labels,
	}
}

// NewAchievementUnlockedEvent creates an unlock event.
func NewAchievementUnlockedEvent(childID string, ids, labels []string) AchievementsEvent {
	return AchievementsEvent{
		BaseEvent:      NewBaseEvent(EventAchievementUnlocked, childID),
		AchievementIDs: ids,
		Labels:         labels,
	}
}

// NewCelebrationEvent creates a celebration event.
func NewCelebrationEvent(childID string, ids, labels []string) AchievementsEvent {
	return AchievementsEvent{
		BaseEvent:      NewBaseEvent(EventCelebrationTriggered, childID),
		AchievementIDs: ids,
		Labels:         labels,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Bus Contracts
// ═══════════════════════════════════════════════════════════════════════════

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}

// NopPublisher discards events.
type NopPublisher struct{}

// Publish implements EventPublisher.
func (NopPublisher) Publish(Event) error { return nil }
