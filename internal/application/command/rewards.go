package command

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sparkquest/sparkquest-hub/internal/domain/progress"
	"github.com/sparkquest/sparkquest-hub/internal/domain/shared"
	"github.com/sparkquest/sparkquest-hub/internal/domain/topic"
	"github.com/sparkquest/sparkquest-hub/internal/infrastructure/metrics"
)

// Reward kinds, used as metric labels.
const (
	RewardSection     = "section"
	RewardQuiz        = "quiz"
	RewardCertificate = "certificate"
	RewardStreakBonus = "streak_bonus"
)

// RewardSchedule is how many sparks each effective transition earns. A zero
// amount disables that reward.
type RewardSchedule struct {
	Section     int64
	Quiz        int64
	Certificate int64
	StreakBonus int64
}

// DefaultRewardSchedule returns the default spark amounts.
func DefaultRewardSchedule() RewardSchedule {
	return RewardSchedule{
		Section:     10,
		Quiz:        25,
		Certificate: 50,
		StreakBonus: 5,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS TRANSITIONS
// Shared flow of the three progress commands:
//   load -> transition in memory -> commit mark -> advance topic -> reward -> notify
// The mark is committed before the reward so a failure can at worst lose a
// reward, never issue one twice.
// ══════════════════════════════════════════════════════════════════════════════

// ProgressConfig wires the progress commands.
type ProgressConfig struct {
	Topics    topic.Repository
	Progress  progress.Repository
	Ledger    *AppendTransactionHandler
	Publisher shared.EventPublisher
	Rewards   RewardSchedule
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	Now       func() time.Time
}

func (c ProgressConfig) normalized() ProgressConfig {
	if c.Publisher == nil {
		c.Publisher = shared.NopPublisher{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// ProgressCommand identifies the record a transition applies to.
type ProgressCommand struct {
	ChildID string
	TopicID string

	// At overrides the transition time. Zero means now.
	At time.Time
}

// Validate validates the command.
func (c ProgressCommand) Validate() error {
	if strings.TrimSpace(c.ChildID) == "" {
		return shared.ErrEmptyChildID
	}
	if strings.TrimSpace(c.TopicID) == "" {
		return shared.NewDomainError("progress", "Validate", shared.ErrInvalidID, "topic ID is required")
	}
	return nil
}

// ProgressResult is returned by every progress command.
type ProgressResult struct {
	ChildID string
	TopicID string
	From    progress.State
	To      progress.State

	// Review is true when nothing changed: a completed section was re-entered,
	// or another session committed the same transition first.
	Review bool

	Record *progress.Record
	Topic  *topic.Topic

	// Reward is nil when no transaction was appended.
	Reward *AppendTransactionResult
}

type progressFlow struct {
	ProgressConfig
	op     string
	logger *slog.Logger
}

func newProgressFlow(op string, cfg ProgressConfig) progressFlow {
	cfg = cfg.normalized()
	return progressFlow{
		ProgressConfig: cfg,
		op:             op,
		logger:         cfg.Logger.With("handler", op),
	}
}

func (f progressFlow) load(ctx context.Context, cmd ProgressCommand) (*topic.Topic, *progress.Record, error) {
	t, err := f.Topics.GetByID(ctx, cmd.TopicID)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", f.op, err)
	}

	rec, err := f.Progress.Get(ctx, cmd.ChildID, cmd.TopicID, t.TotalSections())
	switch {
	case shared.IsNotFound(err):
		rec = progress.NewRecord(cmd.ChildID, cmd.TopicID, t.TotalSections())
	case err != nil:
		return nil, nil, fmt.Errorf("%s: %w", f.op, err)
	}
	return t, rec, nil
}

func (f progressFlow) at(cmd ProgressCommand) time.Time {
	if cmd.At.IsZero() {
		return f.Now().UTC()
	}
	return cmd.At.UTC()
}

// review records a skipped reward.
func (f progressFlow) review(res *ProgressResult, kind string) *ProgressResult {
	res.Review = true
	f.Metrics.Reward(kind, false)
	f.logger.Debug("transition was a review, no reward",
		"child_id", res.ChildID,
		"topic_id", res.TopicID,
		"error", shared.ErrDuplicateReward,
	)
	return res
}

// advanceTopic moves the topic lifecycle forward. The stored lifecycle is
// monotonic, so a failure here is repaired by the next completion.
func (f progressFlow) advanceTopic(ctx context.Context, t *topic.Topic, rec *progress.Record, now time.Time) {
	if !t.RecordCompletion(rec.NextSection(), rec.QuizCompleted, now) {
		return
	}
	if err := f.Topics.SaveLifecycle(ctx, t); err != nil {
		f.logger.Warn("topic lifecycle update failed", "topic_id", t.ID, "error", err)
	}
}

func (f progressFlow) reward(ctx context.Context, res *ProgressResult, kind string, amount int64, reason string) error {
	if amount == 0 || f.Ledger == nil {
		return nil
	}

	reward, err := f.Ledger.Handle(ctx, AppendTransactionCommand{
		ChildID: res.ChildID,
		Amount:  amount,
		Reason:  reason,
	})
	if err != nil {
		f.logger.Error("reward lost after committed transition",
			"child_id", res.ChildID,
			"topic_id", res.TopicID,
			"kind", kind,
			"error", err,
		)
		return fmt.Errorf("%s: %w", f.op, err)
	}

	f.Metrics.Reward(kind, true)
	res.Reward = reward
	return nil
}

func (f progressFlow) notify(eventType shared.EventType, rec *progress.Record, sectionIndex int) {
	event := shared.NewProgressUpdatedEvent(
		eventType,
		rec.ChildID,
		rec.TopicID,
		string(rec.State()),
		rec.CompletedSections(),
		sectionIndex,
		rec.QuizCompleted,
		rec.CertificateIssued,
	)
	if err := f.Publisher.Publish(event); err != nil {
		f.logger.Warn("failed to publish progress event", "event_type", eventType, "error", err)
	}
}
