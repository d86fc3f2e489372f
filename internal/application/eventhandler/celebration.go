// Package eventhandler contains handlers that react to domain events.
package eventhandler

import (
	"fmt"
	"log/slog"

	"github.com/sparkquest/sparkquest-hub/internal/domain/achievement"
	"github.com/sparkquest/sparkquest-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CELEBRATION HANDLER
// Turns achievement unlocks into debounced celebrations: at most one visible
// celebration per child per cooldown, with badges earned inside the cooldown
// merged into the next one. Flush releases the held ones.
// ══════════════════════════════════════════════════════════════════════════════

// CelebrationHandler reacts to EventAchievementUnlocked.
type CelebrationHandler struct {
	debouncer *achievement.Debouncer
	publisher shared.EventPublisher
	catalogue map[string]achievement.Definition
	enabled   func(childID string) bool
	logger    *slog.Logger
}

// CelebrationConfig configures the handler.
type CelebrationConfig struct {
	// Enabled gates celebrations per child. Nil means always.
	Enabled func(childID string) bool

	Evaluator *achievement.Evaluator
	Logger    *slog.Logger
}

// NewCelebrationHandler creates the handler.
func NewCelebrationHandler(debouncer *achievement.Debouncer, publisher shared.EventPublisher, config CelebrationConfig) *CelebrationHandler {
	if config.Evaluator == nil {
		config.Evaluator = achievement.NewEvaluator()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if publisher == nil {
		publisher = shared.NopPublisher{}
	}

	catalogue := make(map[string]achievement.Definition)
	for _, d := range config.Evaluator.Definitions() {
		catalogue[d.ID] = d
	}

	return &CelebrationHandler{
		debouncer: debouncer,
		publisher: publisher,
		catalogue: catalogue,
		enabled:   config.Enabled,
		logger:    config.Logger.With("handler", "celebration"),
	}
}

// Register subscribes the handler to unlock events.
func (h *CelebrationHandler) Register(bus shared.EventSubscriber) error {
	return bus.Subscribe(shared.EventAchievementUnlocked, h.Handle)
}

// Handle processes one unlock event. Events relayed from other instances
// arrive untyped and are skipped; the instance that granted the badge
// celebrates it.
func (h *CelebrationHandler) Handle(event shared.Event) error {
	unlocked, ok := event.(shared.AchievementsEvent)
	if !ok {
		return nil
	}
	if h.enabled != nil && !h.enabled(unlocked.AggregateID()) {
		return nil
	}

	statuses := make([]achievement.Status, 0, len(unlocked.AchievementIDs))
	for i, id := range unlocked.AchievementIDs {
		st := achievement.Status{ID: id, Earned: true, Progress: 1}
		if d, ok := h.catalogue[id]; ok {
			st.Label = d.Label
			st.Emoji = d.Emoji
			st.Numerator = d.Threshold
			st.Denominator = d.Threshold
		} else if i < len(unlocked.Labels) {
			st.Label = unlocked.Labels[i]
		}
		statuses = append(statuses, st)
	}
	if len(statuses) == 0 {
		return nil
	}

	c, fire := h.debouncer.Offer(unlocked.AggregateID(), statuses)
	if !fire {
		h.logger.Debug("celebration deferred", "child_id", unlocked.AggregateID(), "achievements", unlocked.AchievementIDs)
		return nil
	}
	return h.celebrate(c)
}

// Flush publishes every celebration whose cooldown has elapsed and returns how
// many were published.
func (h *CelebrationHandler) Flush() (int, error) {
	var (
		published int
		firstErr  error
	)
	for _, c := range h.debouncer.Due() {
		if err := h.celebrate(c); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		published++
	}
	return published, firstErr
}

func (h *CelebrationHandler) celebrate(c achievement.Celebration) error {
	ids := make([]string, len(c.Achievements))
	labels := make([]string, len(c.Achievements))
	for i, st := range c.Achievements {
		ids[i] = st.ID
		labels[i] = st.Label
	}

	if err := h.publisher.Publish(shared.NewCelebrationEvent(c.ChildID, ids, labels)); err != nil {
		return fmt.Errorf("celebration: publish: %w", err)
	}

	h.logger.Info("celebration triggered", "child_id", c.ChildID, "achievements", ids)
	return nil
}
