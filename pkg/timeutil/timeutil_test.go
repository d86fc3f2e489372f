package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDayOf_UsesLocation(t *testing.T) {
	// 20:30 UTC is already the next day in UTC+5.
	ts := time.Date(2024, 3, 10, 20, 30, 0, 0, time.UTC)
	almaty := time.FixedZone("UTC+5", 5*60*60)

	assert.Equal(t, "2024-03-10", DayOf(ts, time.UTC).String())
	assert.Equal(t, "2024-03-11", DayOf(ts, almaty).String())
	assert.Equal(t, "2024-03-10", DayOf(ts, nil).String())
}

func TestDaysSince(t *testing.T) {
	tests := []struct {
		name    string
		later   string
		earlier string
		want    int
	}{
		{"same day", "2024-01-01", "2024-01-01", 0},
		{"next day", "2024-01-02", "2024-01-01", 1},
		{"across month", "2024-03-01", "2024-02-28", 2},
		{"across year", "2025-01-01", "2024-12-31", 1},
		{"backwards", "2024-01-01", "2024-01-03", -2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MustParseDay(tt.later).DaysSince(MustParseDay(tt.earlier))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDaysSince_DSTShiftIsStillOneDay(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata not available")
	}
	// 2024-03-10 is 23 hours long in New York.
	before := DayOf(time.Date(2024, 3, 10, 1, 0, 0, 0, ny), ny)
	after := DayOf(time.Date(2024, 3, 11, 1, 0, 0, 0, ny), ny)

	assert.Equal(t, 1, after.DaysSince(before))
}

func TestAddDaysAndParse(t *testing.T) {
	d, err := ParseDay("2024-02-28")
	require.NoError(t, err)

	assert.Equal(t, "2024-02-29", d.AddDays(1).String())
	assert.Equal(t, "2024-03-01", d.AddDays(2).String())
	assert.True(t, d.Before(d.AddDays(1)))
	assert.True(t, d.AddDays(1).After(d))

	_, err = ParseDay("28.02.2024")
	assert.Error(t, err)
}
