// Package saga contains business processes that orchestrate several domain
// operations in a coordinated manner.
package saga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sparkquest/sparkquest-hub/internal/domain/achievement"
	"github.com/sparkquest/sparkquest-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT FLOW SAGA
// Flow: Load Metrics → Load Previous Snapshot → Evaluate → Grant → Publish
//
// Badges are edge-triggered: a badge is reported once, by the session whose
// grant inserted it. Later evaluations with the same metrics report nothing.
// ══════════════════════════════════════════════════════════════════════════════

// MetricsSource loads the evaluator input for a child.
type MetricsSource interface {
	Load(ctx context.Context, childID string) (achievement.Metrics, error)
}

// AchievementCheckInput contains data needed to check for new achievements.
type AchievementCheckInput struct {
	ChildID string

	// Trigger names what caused the check, e.g. "section_completed". Logged only.
	Trigger string
}

// Validate checks if the input is valid.
func (i AchievementCheckInput) Validate() error {
	if i.ChildID == "" {
		return shared.ErrEmptyChildID
	}
	return nil
}

// AchievementFlowResult contains the result of achievement processing.
type AchievementFlowResult struct {
	ChildID string
	Metrics achievement.Metrics
	All     achievement.Set

	// NewlyEarned lists badges this run inserted.
	NewlyEarned []achievement.Status

	ProcessedAt time.Time
}

// HasNewAchievements returns true if any achievements were unlocked.
func (r *AchievementFlowResult) HasNewAchievements() bool {
	return len(r.NewlyEarned) > 0
}

// AchievementFlowStep represents a step in the achievement flow.
type AchievementFlowStep string

const (
	StepLoadMetrics      AchievementFlowStep = "load_metrics"
	StepLoadPrevious     AchievementFlowStep = "load_previous"
	StepEvaluate         AchievementFlowStep = "evaluate"
	StepGrant            AchievementFlowStep = "grant"
	StepPublishUnlocked  AchievementFlowStep = "publish"
	StepAchievementsDone AchievementFlowStep = "complete"
)

// AchievementFlowConfig contains configuration for the achievement flow saga.
type AchievementFlowConfig struct {
	Evaluator *achievement.Evaluator
	Logger    *slog.Logger
	Now       func() time.Time
}

// AchievementFlowSaga evaluates badges and records the newly earned ones.
type AchievementFlowSaga struct {
	metrics   MetricsSource
	snapshots achievement.SnapshotStore
	publisher shared.EventPublisher
	evaluator *achievement.Evaluator
	logger    *slog.Logger
	now       func() time.Time
}

// NewAchievementFlowSaga creates the saga.
func NewAchievementFlowSaga(
	metrics MetricsSource,
	snapshots achievement.SnapshotStore,
	publisher shared.EventPublisher,
	config AchievementFlowConfig,
) *AchievementFlowSaga {
	if publisher == nil {
		publisher = shared.NopPublisher{}
	}
	if config.Evaluator == nil {
		config.Evaluator = achievement.NewEvaluator()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &AchievementFlowSaga{
		metrics:   metrics,
		snapshots: snapshots,
		publisher: publisher,
		evaluator: config.Evaluator,
		logger:    config.Logger.With("saga", "achievement_flow"),
		now:       config.Now,
	}
}

// Execute runs the achievement flow.
func (s *AchievementFlowSaga) Execute(ctx context.Context, input AchievementCheckInput) (*AchievementFlowResult, error) {
	if err := input.Validate(); err != nil {
		return nil, s.wrapError(StepLoadMetrics, input.ChildID, err)
	}

	// Step 1: current metrics
	metrics, err := s.metrics.Load(ctx, input.ChildID)
	if err != nil {
		return nil, s.wrapError(StepLoadMetrics, input.ChildID, err)
	}

	// Step 2: previous snapshot
	earned, err := s.snapshots.EarnedIDs(ctx, input.ChildID)
	if err != nil {
		return nil, s.wrapError(StepLoadPrevious, input.ChildID, err)
	}

	// Step 3: diff
	eval := s.evaluator.Evaluate(achievement.EarnedSet(earned...), metrics)

	result := &AchievementFlowResult{
		ChildID: input.ChildID,
		Metrics: metrics,
		All:     eval.All,
	}
	if len(eval.NewlyEarned) == 0 {
		result.ProcessedAt = s.now().UTC()
		return result, nil
	}

	// Step 4: grant. Only the IDs this call inserted count as new.
	ids := make([]string, len(eval.NewlyEarned))
	for i, st := range eval.NewlyEarned {
		ids[i] = st.ID
	}
	inserted, err := s.snapshots.MarkEarned(ctx, input.ChildID, ids, s.now())
	if err != nil {
		return nil, s.wrapError(StepGrant, input.ChildID, err)
	}
	result.NewlyEarned = filterInserted(eval.NewlyEarned, inserted)

	// Step 5: publish. Non-critical.
	if len(result.NewlyEarned) > 0 {
		s.publishUnlocked(input.ChildID, result.NewlyEarned)
		s.logger.Info("achievements unlocked",
			"child_id", input.ChildID,
			"trigger", input.Trigger,
			"achievements", ids,
		)
	}

	result.ProcessedAt = s.now().UTC()
	return result, nil
}

func (s *AchievementFlowSaga) publishUnlocked(childID string, unlocked []achievement.Status) {
	ids := make([]string, len(unlocked))
	labels := make([]string, len(unlocked))
	for i, st := range unlocked {
		ids[i] = st.ID
		labels[i] = st.Label
	}
	if err := s.publisher.Publish(shared.NewAchievementUnlockedEvent(childID, ids, labels)); err != nil {
		s.logger.Warn("failed to publish achievement event", "child_id", childID, "error", err)
	}
}

func filterInserted(candidates []achievement.Status, inserted []string) []achievement.Status {
	keep := make(map[string]bool, len(inserted))
	for _, id := range inserted {
		keep[id] = true
	}
	out := make([]achievement.Status, 0, len(inserted))
	for _, st := range candidates {
		if keep[st.ID] {
			out = append(out, st)
		}
	}
	return out
}

func (s *AchievementFlowSaga) wrapError(step AchievementFlowStep, childID string, err error) error {
	return &FlowError{
		Flow:    "achievement_flow",
		Step:    string(step),
		ChildID: childID,
		Cause:   err,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

// FlowError records which saga step failed.
type FlowError struct {
	Flow    string
	Step    string
	ChildID string
	Cause   error
}

// Error implements the error interface.
func (e *FlowError) Error() string {
	return fmt.Sprintf("%s failed at step '%s' for child %s: %v", e.Flow, e.Step, e.ChildID, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *FlowError) Unwrap() error {
	return e.Cause
}

// FailedStep returns the failed step of a saga error, or "" when err is not one.
func FailedStep(err error) string {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Step
	}
	return ""
}
