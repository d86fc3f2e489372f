// Package streak computes consecutive-day engagement with a freeze that can
// bridge a single missed day.
package streak

import (
	"context"

	"github.com/sparkquest/sparkquest-hub/pkg/timeutil"
)

// BonusEvery is the bonus-day period: every 3rd consecutive day.
const BonusEvery = 3

// FreezeRearmDays is how many active days after a bridge the freeze returns.
const FreezeRearmDays = 7

// Change describes what RecordActivity did.
type Change string

const (
	ChangeNone        Change = "none"
	ChangeStarted     Change = "started"
	ChangeIncremented Change = "incremented"
	ChangeBridged     Change = "bridged"
	ChangeReset       Change = "reset"
)

// State is a child's streak.
type State struct {
	ChildID string

	// Count is the current consecutive-day count.
	Count int

	// BestCount is the longest count ever reached.
	BestCount int

	// LastActivity is the last calendar day with activity (zero if never).
	LastActivity timeutil.Day

	// FreezeAvailable lets one missed day be bridged instead of resetting.
	// Bridging consumes it.
	FreezeAvailable bool

	// FreezeRearmIn counts the active days left until a consumed freeze
	// returns. Zero when no freeze is pending.
	FreezeRearmIn int

	// FreezeUsedToday is set when the freeze bridged the gap ending on
	// LastActivity. It is cleared on the first activity of a new day.
	FreezeUsedToday bool

	// Version increments on every save; stores use it for compare-and-set.
	Version int64
}

// New returns an empty streak.
func New(childID string, freezeAvailable bool) *State {
	return &State{ChildID: childID, FreezeAvailable: freezeAvailable}
}

// Result is returned by RecordActivity.
type Result struct {
	Change        Change
	PreviousCount int

	// BonusEarned is true when this activity moved the count onto a bonus day.
	BonusEarned bool
}

// Changed reports whether the state was mutated.
func (r Result) Changed() bool {
	return r.Change != ChangeNone
}

// RecordActivity applies activity on day. Activity dated before LastActivity
// (a late sync from an offline device) changes nothing.
func (s *State) RecordActivity(day timeutil.Day) Result {
	res := Result{Change: ChangeNone, PreviousCount: s.Count}

	if s.LastActivity.IsZero() {
		s.Count = 1
		s.LastActivity = day
		s.FreezeUsedToday = false
		s.bumpBest()
		res.Change = ChangeStarted
		return res
	}

	gap := day.DaysSince(s.LastActivity)
	if gap <= 0 {
		return res
	}

	// A new calendar day clears the previous day's freeze flag.
	s.FreezeUsedToday = false

	switch {
	case gap == 1:
		s.Count++
		s.tickRearm()
		res.Change = ChangeIncremented
	case gap == 2 && s.FreezeAvailable:
		s.FreezeUsedToday = true
		s.FreezeAvailable = false
		s.FreezeRearmIn = FreezeRearmDays
		res.Change = ChangeBridged
	default:
		s.Count = 1
		s.tickRearm()
		res.Change = ChangeReset
	}

	s.LastActivity = day
	s.bumpBest()
	res.BonusEarned = res.Change == ChangeIncremented && s.IsBonusDay()
	return res
}

func (s *State) tickRearm() {
	if s.FreezeRearmIn == 0 {
		return
	}
	s.FreezeRearmIn--
	if s.FreezeRearmIn == 0 {
		s.FreezeAvailable = true
	}
}

func (s *State) bumpBest() {
	if s.Count > s.BestCount {
		s.BestCount = s.Count
	}
}

// IsBonusDay reports whether the current count lands on a bonus day.
func (s *State) IsBonusDay() bool {
	return s.Count > 0 && s.Count%BonusEvery == 0
}

// EffectiveCount is the count as seen on today: zero once more than one day
// has been missed and the freeze can no longer bridge the gap.
func (s *State) EffectiveCount(today timeutil.Day) int {
	if s.LastActivity.IsZero() {
		return 0
	}
	gap := today.DaysSince(s.LastActivity)
	switch {
	case gap <= 1:
		return s.Count
	case gap == 2 && s.FreezeAvailable:
		return s.Count
	default:
		return 0
	}
}

// FreezeUsedOn reports whether the freeze bridged a gap ending on today.
func (s *State) FreezeUsedOn(today timeutil.Day) bool {
	return s.FreezeUsedToday && s.LastActivity == today
}

// DaysUntilBreak returns how many days the child may wait before the streak
// resets: 0 when already broken.
func (s *State) DaysUntilBreak(today timeutil.Day) int {
	if s.EffectiveCount(today) == 0 {
		return 0
	}
	limit := 2
	if s.FreezeAvailable {
		limit = 3
	}
	left := limit - today.DaysSince(s.LastActivity)
	if left < 0 {
		return 0
	}
	return left
}

// Repository persists streaks with optimistic concurrency.
type Repository interface {
	// Get returns the stored streak or a fresh one when none exists.
	Get(ctx context.Context, childID string) (*State, error)

	// Save writes s if the stored version still equals s.Version, then
	// increments s.Version. A stale write returns shared.ErrConcurrentModification.
	Save(ctx context.Context, s *State) error
}
