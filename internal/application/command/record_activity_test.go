package command

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sparkquest/sparkquest-hub/internal/domain/shared"
	"github.com/sparkquest/sparkquest-hub/internal/domain/streak"
)

func day(d int) time.Time {
	return time.Date(2024, 5, d, 15, 0, 0, 0, time.UTC)
}

func TestRecordActivity_BonusOnEveryThirdDay(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	pub := &recordingPublisher{}
	ledgerHandler := NewAppendTransactionHandler(s, nil, pub, AppendTransactionConfig{})
	h := NewRecordActivityHandler(s.Streaks(), ledgerHandler, pub, RecordActivityConfig{BonusAmount: 5})

	var results []*RecordActivityResult
	for d := 1; d <= 3; d++ {
		res, err := h.Handle(ctx, RecordActivityCommand{ChildID: "kid-1", At: day(d)})
		require.NoError(t, err)
		results = append(results, res)
	}

	assert.Equal(t, streak.ChangeStarted, results[0].Change)
	assert.Nil(t, results[1].Bonus)
	require.NotNil(t, results[2].Bonus)
	assert.Equal(t, 3, results[2].State.Count)

	// A second activity on the same day changes nothing and pays nothing.
	again, err := h.Handle(ctx, RecordActivityCommand{ChildID: "kid-1", At: day(3).Add(time.Hour)})
	require.NoError(t, err)
	assert.Nil(t, again.Bonus)

	balance, err := s.Balance(ctx, "kid-1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), balance)
	assert.Contains(t, pub.Types(), shared.EventStreakUpdated)
}

func TestRecordActivity_FreezeBridgesOneMissedDay(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	h := NewRecordActivityHandler(s.Streaks(), nil, nil, RecordActivityConfig{FreezeAvailable: true})

	_, err := h.Handle(ctx, RecordActivityCommand{ChildID: "kid-1", At: day(1)})
	require.NoError(t, err)
	_, err = h.Handle(ctx, RecordActivityCommand{ChildID: "kid-1", At: day(2)})
	require.NoError(t, err)

	res, err := h.Handle(ctx, RecordActivityCommand{ChildID: "kid-1", At: day(4)})
	require.NoError(t, err)
	assert.Equal(t, streak.ChangeBridged, res.Change)
	assert.Equal(t, 2, res.State.Count)
	assert.True(t, res.State.FreezeUsedToday)
	assert.False(t, res.State.FreezeAvailable)
	assert.Equal(t, streak.FreezeRearmDays, res.State.FreezeRearmIn)

	stored, err := s.Streaks().Get(ctx, "kid-1")
	require.NoError(t, err)
	assert.False(t, stored.FreezeAvailable, "the consumed freeze is persisted")
	assert.Equal(t, streak.FreezeRearmDays, stored.FreezeRearmIn)

	reset, err := h.Handle(ctx, RecordActivityCommand{ChildID: "kid-1", At: day(7)})
	require.NoError(t, err)
	assert.Equal(t, streak.ChangeReset, reset.Change)
	assert.Equal(t, 1, reset.State.Count)
}

func TestRecordActivity_FreezeSettingPerChild(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	h := NewRecordActivityHandler(s.Streaks(), nil, nil, RecordActivityConfig{
		FreezeFor: func(childID string) bool { return childID == "kid-frozen" },
	})

	for _, child := range []string{"kid-frozen", "kid-plain"} {
		res, err := h.Handle(ctx, RecordActivityCommand{ChildID: child, At: day(1)})
		require.NoError(t, err)
		assert.Equal(t, child == "kid-frozen", res.State.FreezeAvailable, child)
	}
}
