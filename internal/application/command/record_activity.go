package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sparkquest/sparkquest-hub/internal/domain/ledger"
	"github.com/sparkquest/sparkquest-hub/internal/domain/shared"
	"github.com/sparkquest/sparkquest-hub/internal/domain/streak"
	"github.com/sparkquest/sparkquest-hub/internal/infrastructure/metrics"
	"github.com/sparkquest/sparkquest-hub/pkg/retry"
	"github.com/sparkquest/sparkquest-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD ACTIVITY COMMAND
// Applies one day of activity to the child's streak. Concurrent sessions are
// serialized by compare-and-set on the streak version; only the session whose
// write lands issues the bonus-day reward.
// ══════════════════════════════════════════════════════════════════════════════

// RecordActivityCommand contains the data to record an activity.
type RecordActivityCommand struct {
	ChildID string

	// At is when the activity happened. Zero means now.
	At time.Time
}

// Validate validates the command.
func (c RecordActivityCommand) Validate() error {
	if strings.TrimSpace(c.ChildID) == "" {
		return shared.ErrEmptyChildID
	}
	return nil
}

// RecordActivityResult contains the result of recording an activity.
type RecordActivityResult struct {
	State  streak.State
	Change streak.Change
	Day    timeutil.Day

	// Bonus is the streak bonus transaction, if one was issued.
	Bonus *AppendTransactionResult
}

// RecordActivityConfig contains configuration for the handler.
type RecordActivityConfig struct {
	// Location defines calendar days.
	Location *time.Location

	// FreezeAvailable is the freeze setting given to a child's first streak.
	// FreezeFor overrides it per child when set.
	FreezeAvailable bool
	FreezeFor       func(childID string) bool

	// BonusAmount is the streak bonus in sparks; zero disables it.
	BonusAmount int64

	Metrics *metrics.Metrics
	Logger  *slog.Logger
	Now     func() time.Time
}

// RecordActivityHandler handles RecordActivityCommand.
type RecordActivityHandler struct {
	repo      streak.Repository
	ledger    *AppendTransactionHandler
	publisher shared.EventPublisher
	retrier   *retry.Retrier
	config    RecordActivityConfig
	logger    *slog.Logger
}

// NewRecordActivityHandler creates a new RecordActivityHandler.
func NewRecordActivityHandler(
	repo streak.Repository,
	ledgerHandler *AppendTransactionHandler,
	publisher shared.EventPublisher,
	config RecordActivityConfig,
) *RecordActivityHandler {
	if config.Location == nil {
		config.Location = time.UTC
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if publisher == nil {
		publisher = shared.NopPublisher{}
	}

	return &RecordActivityHandler{
		repo:      repo,
		ledger:    ledgerHandler,
		publisher: publisher,
		retrier: retry.New(
			retry.WithMaxAttempts(4),
			retry.WithBaseDelay(10*time.Millisecond),
			retry.WithShouldRetry(func(err error) bool {
				return errors.Is(err, shared.ErrConcurrentModification)
			}),
		),
		config: config,
		logger: config.Logger.With("handler", "record_activity"),
	}
}

// Handle executes the command.
func (h *RecordActivityHandler) Handle(ctx context.Context, cmd RecordActivityCommand) (*RecordActivityResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("record_activity: %w", err)
	}

	at := cmd.At
	if at.IsZero() {
		at = h.config.Now()
	}
	day := timeutil.DayOf(at, h.config.Location)

	var (
		state  *streak.State
		change streak.Result
	)
	err := h.retrier.Do(ctx, func(ctx context.Context) error {
		s, err := h.repo.Get(ctx, cmd.ChildID)
		if err != nil {
			return err
		}
		if s.Version == 0 {
			s.FreezeAvailable = h.freezeFor(cmd.ChildID)
		}

		change = s.RecordActivity(day)
		state = s
		if !change.Changed() {
			return nil
		}
		return h.repo.Save(ctx, s)
	})
	if err != nil {
		return nil, fmt.Errorf("record_activity: %w", err)
	}

	res := &RecordActivityResult{State: *state, Change: change.Change, Day: day}
	if !change.Changed() {
		return res, nil
	}

	if change.BonusEarned && h.config.BonusAmount != 0 && h.ledger != nil {
		bonus, err := h.ledger.Handle(ctx, AppendTransactionCommand{
			ChildID: cmd.ChildID,
			Amount:  h.config.BonusAmount,
			Reason:  ledger.StreakBonusReason(day.String(), state.Count),
		})
		if err != nil {
			return nil, fmt.Errorf("record_activity: streak bonus: %w", err)
		}
		h.config.Metrics.Reward(RewardStreakBonus, true)
		res.Bonus = bonus
	}

	event := shared.NewStreakUpdatedEvent(cmd.ChildID, state.Count, day.String(), state.FreezeUsedOn(day), state.IsBonusDay())
	if err := h.publisher.Publish(event); err != nil {
		h.logger.Warn("failed to publish streak event", "child_id", cmd.ChildID, "error", err)
	}

	h.logger.Info("streak updated",
		"child_id", cmd.ChildID,
		"change", change.Change,
		"count", state.Count,
		"day", day.String(),
	)
	return res, nil
}

func (h *RecordActivityHandler) freezeFor(childID string) bool {
	if h.config.FreezeFor != nil {
		return h.config.FreezeFor(childID)
	}
	return h.config.FreezeAvailable
}
