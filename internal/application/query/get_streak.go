package query

import (
	"context"
	"fmt"
	"time"

	"github.com/sparkquest/sparkquest-hub/internal/domain/shared"
	"github.com/sparkquest/sparkquest-hub/internal/domain/streak"
	"github.com/sparkquest/sparkquest-hub/pkg/timeutil"
)

// StreakView is the streak as seen today.
type StreakView struct {
	ChildID         string `json:"child_id"`
	Count           int    `json:"count"`
	StoredCount     int    `json:"stored_count"`
	BestCount       int    `json:"best_count"`
	LastActivity    string `json:"last_activity,omitempty"`
	FreezeAvailable bool   `json:"freeze_available"`
	FreezeUsedToday bool   `json:"freeze_used_today"`
	FreezeReturnsIn int    `json:"freeze_returns_in,omitempty"`
	BonusDay        bool   `json:"bonus_day"`
	DaysUntilBreak  int    `json:"days_until_break"`
}

// GetStreakHandler reads streaks.
type GetStreakHandler struct {
	repo     streak.Repository
	location *time.Location
	now      func() time.Time
}

// NewGetStreakHandler creates the handler.
func NewGetStreakHandler(repo streak.Repository, loc *time.Location, now func() time.Time) *GetStreakHandler {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return &GetStreakHandler{repo: repo, location: loc, now: now}
}

// Handle returns the streak for childID.
func (h *GetStreakHandler) Handle(ctx context.Context, childID string) (*StreakView, error) {
	if childID == "" {
		return nil, fmt.Errorf("get_streak: %w", shared.ErrEmptyChildID)
	}

	s, err := h.repo.Get(ctx, childID)
	if err != nil {
		return nil, fmt.Errorf("get_streak: %w", err)
	}
	return BuildStreakView(s, timeutil.DayOf(h.now(), h.location)), nil
}

// BuildStreakView projects s onto today.
func BuildStreakView(s *streak.State, today timeutil.Day) *StreakView {
	view := &StreakView{
		ChildID:         s.ChildID,
		Count:           s.EffectiveCount(today),
		StoredCount:     s.Count,
		BestCount:       s.BestCount,
		FreezeAvailable: s.FreezeAvailable,
		FreezeUsedToday: s.FreezeUsedOn(today),
		FreezeReturnsIn: s.FreezeRearmIn,
		DaysUntilBreak:  s.DaysUntilBreak(today),
	}
	if !s.LastActivity.IsZero() {
		view.LastActivity = s.LastActivity.String()
	}
	view.BonusDay = view.Count > 0 && view.Count%streak.BonusEvery == 0
	return view
}
