package streak

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sparkquest/sparkquest-hub/pkg/timeutil"
)

var dayN = timeutil.MustParseDay("2024-05-01")

func TestRecordActivity_FirstSameNext(t *testing.T) {
	s := New("kid", false)

	res := s.RecordActivity(dayN)
	assert.Equal(t, ChangeStarted, res.Change)
	assert.Equal(t, 1, s.Count)

	res = s.RecordActivity(dayN)
	assert.False(t, res.Changed())
	assert.Equal(t, 1, s.Count)

	res = s.RecordActivity(dayN.AddDays(1))
	assert.Equal(t, ChangeIncremented, res.Change)
	assert.Equal(t, 2, s.Count)
	assert.Equal(t, dayN.AddDays(1), s.LastActivity)
}

func TestRecordActivity_FreezeBridgesOneMissedDay(t *testing.T) {
	s := New("kid", true)
	s.RecordActivity(dayN)
	s.RecordActivity(dayN.AddDays(1))
	a := assert.New(t)
	a.Equal(2, s.Count)

	res := s.RecordActivity(dayN.AddDays(3))

	a.Equal(ChangeBridged, res.Change)
	a.Equal(2, s.Count)
	a.True(s.FreezeUsedToday)
	a.Equal(dayN.AddDays(3), s.LastActivity)
	a.True(s.FreezeUsedOn(dayN.AddDays(3)))
	a.False(s.FreezeAvailable, "bridging consumes the freeze")
	a.Equal(FreezeRearmDays, s.FreezeRearmIn)
}

func TestRecordActivity_EveryOtherDayBreaksAfterOneBridge(t *testing.T) {
	s := New("kid", true)
	s.RecordActivity(dayN)

	assert.Equal(t, ChangeBridged, s.RecordActivity(dayN.AddDays(2)).Change)
	assert.Equal(t, ChangeReset, s.RecordActivity(dayN.AddDays(4)).Change)
	assert.Equal(t, 1, s.Count)
}

func TestRecordActivity_FreezeRearmsAfterActiveDays(t *testing.T) {
	s := New("kid", true)
	s.RecordActivity(dayN)
	s.RecordActivity(dayN.AddDays(2))
	require.False(t, s.FreezeAvailable)

	// Six more active days leave the freeze one day short.
	for i := 3; i <= 8; i++ {
		s.RecordActivity(dayN.AddDays(i))
	}
	assert.False(t, s.FreezeAvailable)
	assert.Equal(t, 1, s.FreezeRearmIn)

	s.RecordActivity(dayN.AddDays(9))
	assert.True(t, s.FreezeAvailable)
	assert.Zero(t, s.FreezeRearmIn)
	assert.Equal(t, 8, s.Count)

	res := s.RecordActivity(dayN.AddDays(11))
	assert.Equal(t, ChangeBridged, res.Change)
	assert.Equal(t, 8, s.Count)
}

func TestRecordActivity_NoRearmWithoutBridge(t *testing.T) {
	s := New("kid", false)
	for i := 0; i < 2*FreezeRearmDays; i++ {
		s.RecordActivity(dayN.AddDays(i))
	}
	assert.False(t, s.FreezeAvailable)
}

func TestRecordActivity_NoFreezeResets(t *testing.T) {
	s := New("kid", false)
	s.RecordActivity(dayN)
	s.RecordActivity(dayN.AddDays(1))

	res := s.RecordActivity(dayN.AddDays(3))

	assert.Equal(t, ChangeReset, res.Change)
	assert.Equal(t, 1, s.Count)
	assert.False(t, s.FreezeUsedToday)
	assert.Equal(t, 2, s.BestCount)
}

func TestRecordActivity_FreezeBridgesSingleDayOnly(t *testing.T) {
	s := New("kid", true)
	s.RecordActivity(dayN)
	s.RecordActivity(dayN.AddDays(1))

	res := s.RecordActivity(dayN.AddDays(4))

	assert.Equal(t, ChangeReset, res.Change)
	assert.Equal(t, 1, s.Count)
}

func TestRecordActivity_FreezeFlagClearsNextDay(t *testing.T) {
	s := New("kid", true)
	s.RecordActivity(dayN)
	s.RecordActivity(dayN.AddDays(2))
	assert.True(t, s.FreezeUsedToday)

	s.RecordActivity(dayN.AddDays(2))
	assert.True(t, s.FreezeUsedToday, "same day keeps the flag")

	res := s.RecordActivity(dayN.AddDays(3))
	assert.Equal(t, ChangeIncremented, res.Change)
	assert.False(t, s.FreezeUsedToday)
	assert.Equal(t, 2, s.Count)
}

func TestRecordActivity_LateActivityIgnored(t *testing.T) {
	s := New("kid", false)
	s.RecordActivity(dayN.AddDays(5))

	res := s.RecordActivity(dayN)

	assert.False(t, res.Changed())
	assert.Equal(t, dayN.AddDays(5), s.LastActivity)
}

func TestBonusDay(t *testing.T) {
	s := New("kid", false)
	var bonuses []int
	for i := 0; i < 7; i++ {
		if res := s.RecordActivity(dayN.AddDays(i)); res.BonusEarned {
			bonuses = append(bonuses, s.Count)
		}
	}

	assert.Equal(t, []int{3, 6}, bonuses)
	assert.False(t, s.IsBonusDay())
	assert.False(t, New("kid", false).IsBonusDay())
}

func TestEffectiveCountAndDaysUntilBreak(t *testing.T) {
	s := New("kid", false)
	s.RecordActivity(dayN)
	s.RecordActivity(dayN.AddDays(1))
	last := dayN.AddDays(1)

	assert.Equal(t, 2, s.EffectiveCount(last))
	assert.Equal(t, 2, s.DaysUntilBreak(last))
	assert.Equal(t, 2, s.EffectiveCount(last.AddDays(1)))
	assert.Equal(t, 1, s.DaysUntilBreak(last.AddDays(1)))
	assert.Zero(t, s.EffectiveCount(last.AddDays(2)))
	assert.Zero(t, s.DaysUntilBreak(last.AddDays(2)))

	s.FreezeAvailable = true
	assert.Equal(t, 2, s.EffectiveCount(last.AddDays(2)))
	assert.Equal(t, 1, s.DaysUntilBreak(last.AddDays(2)))
	assert.Zero(t, s.EffectiveCount(last.AddDays(3)))
}
