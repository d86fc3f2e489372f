package query

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sparkquest/sparkquest-hub/internal/domain/achievement"
	"github.com/sparkquest/sparkquest-hub/internal/domain/ledger"
	"github.com/sparkquest/sparkquest-hub/internal/domain/progress"
	"github.com/sparkquest/sparkquest-hub/internal/domain/shared"
	"github.com/sparkquest/sparkquest-hub/internal/domain/streak"
	"github.com/sparkquest/sparkquest-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT METRICS
// ══════════════════════════════════════════════════════════════════════════════

// MetricsLoader gathers the evaluator inputs. Balance is always the ledger
// sum, never the cached counter.
type MetricsLoader struct {
	ledger   ledger.Store
	streaks  streak.Repository
	progress progress.Repository
	location *time.Location
	now      func() time.Time
}

// NewMetricsLoader creates a loader.
func NewMetricsLoader(ledgerStore ledger.Store, streaks streak.Repository, progressRepo progress.Repository, loc *time.Location, now func() time.Time) *MetricsLoader {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return &MetricsLoader{
		ledger:   ledgerStore,
		streaks:  streaks,
		progress: progressRepo,
		location: loc,
		now:      now,
	}
}

// Load reads the three metrics concurrently.
func (l *MetricsLoader) Load(ctx context.Context, childID string) (achievement.Metrics, error) {
	var m achievement.Metrics
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		balance, err := l.ledger.Balance(ctx, childID)
		if err != nil {
			return err
		}
		m.Balance = balance
		return nil
	})

	g.Go(func() error {
		s, err := l.streaks.Get(ctx, childID)
		if err != nil {
			return err
		}
		m.StreakDays = s.EffectiveCount(timeutil.DayOf(l.now(), l.location))
		return nil
	})

	g.Go(func() error {
		n, err := l.progress.CountExplored(ctx, childID)
		if err != nil {
			return err
		}
		m.Explorations = n
		return nil
	})

	if err := g.Wait(); err != nil {
		return achievement.Metrics{}, err
	}
	return m, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// GET ACHIEVEMENTS QUERY
// ══════════════════════════════════════════════════════════════════════════════

// AchievementsView lists every achievement with its progress.
type AchievementsView struct {
	ChildID      string              `json:"child_id"`
	Metrics      achievement.Metrics `json:"metrics"`
	Achievements achievement.Set     `json:"achievements"`
}

// GetAchievementsHandler evaluates achievements without recording anything.
// An achievement already recorded as earned stays earned even if the metric
// has since dropped.
type GetAchievementsHandler struct {
	loader    *MetricsLoader
	snapshots achievement.SnapshotStore
	evaluator *achievement.Evaluator
}

// NewGetAchievementsHandler creates the handler.
func NewGetAchievementsHandler(loader *MetricsLoader, snapshots achievement.SnapshotStore, evaluator *achievement.Evaluator) *GetAchievementsHandler {
	if evaluator == nil {
		evaluator = achievement.NewEvaluator()
	}
	return &GetAchievementsHandler{loader: loader, snapshots: snapshots, evaluator: evaluator}
}

// Handle executes the query.
func (h *GetAchievementsHandler) Handle(ctx context.Context, childID string) (*AchievementsView, error) {
	if childID == "" {
		return nil, fmt.Errorf("get_achievements: %w", shared.ErrEmptyChildID)
	}

	var (
		metrics achievement.Metrics
		earned  []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		metrics, err = h.loader.Load(gctx, childID)
		return err
	})
	g.Go(func() error {
		var err error
		earned, err = h.snapshots.EarnedIDs(gctx, childID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("get_achievements: %w", err)
	}

	all := h.evaluator.Evaluate(nil, metrics).All
	recorded := make(map[string]bool, len(earned))
	for _, id := range earned {
		recorded[id] = true
	}
	for i := range all {
		if recorded[all[i].ID] && !all[i].Earned {
			all[i].Earned = true
			all[i].Progress = 1
			all[i].Numerator = all[i].Denominator
		}
	}

	return &AchievementsView{ChildID: childID, Metrics: metrics, Achievements: all}, nil
}
