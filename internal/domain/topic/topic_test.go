package topic

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sparkquest/sparkquest-hub/internal/domain/shared"
)

var now = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func newVolcanoTopic(t *testing.T) *Topic {
	t.Helper()
	tp, err := NewTopic(NewTopicParams{
		ID:        "0b6f3c1e-9c7a-4d0a-8f51-3f1a2b3c4d5e",
		Title:     "Volcanoes",
		TargetAge: 8,
		Sections: []SectionOutline{
			{Title: "What is a volcano?", Description: "Mountains that breathe fire."},
			{Title: "Magma and lava", Description: "Hot rock inside and outside."},
			{Title: "Famous eruptions", Description: "Vesuvius, Krakatoa and more."},
		},
		Now: now,
	})
	require.NoError(t, err)
	return tp
}

func TestNewTopic_AssignsIndices(t *testing.T) {
	tp := newVolcanoTopic(t)

	assert.Equal(t, StatusPlanning, tp.Status)
	assert.Equal(t, 3, tp.TotalSections())
	for i, s := range tp.Sections {
		assert.Equal(t, i, s.Index)
		assert.Equal(t, 3, s.EstimatedMinutes)
	}

	_, err := tp.Outline(3)
	assert.True(t, shared.IsNotFound(err))
}

func TestNewTopic_Validation(t *testing.T) {
	_, err := NewTopic(NewTopicParams{ID: "x", Title: "Empty", TargetAge: 8})
	assert.ErrorIs(t, err, shared.ErrEmptyOutline)

	_, err = NewTopic(NewTopicParams{ID: "x", Title: "Old", TargetAge: 40, Sections: []SectionOutline{{Title: "a"}}})
	assert.ErrorIs(t, err, shared.ErrInvalidAge)
}

func TestStatus_OnlyForward(t *testing.T) {
	tp := newVolcanoTopic(t)

	require.NoError(t, tp.AdvanceStatus(StatusInProgress, now))
	require.NoError(t, tp.AdvanceStatus(StatusInProgress, now))
	require.NoError(t, tp.AdvanceStatus(StatusCompleted, now))

	err := tp.AdvanceStatus(StatusPlanning, now)
	assert.ErrorIs(t, err, shared.ErrStateTransition)
	assert.Equal(t, StatusCompleted, tp.Status)
}

func TestAdvanceSection_BoundedAndMonotonic(t *testing.T) {
	tp := newVolcanoTopic(t)

	assert.True(t, tp.AdvanceSection(2, now))
	assert.False(t, tp.AdvanceSection(1, now))
	assert.True(t, tp.AdvanceSection(10, now))
	assert.Equal(t, tp.TotalSections(), tp.CurrentSection)
}

func TestRecordCompletion(t *testing.T) {
	tp := newVolcanoTopic(t)

	assert.True(t, tp.RecordCompletion(1, false, now))
	assert.Equal(t, StatusInProgress, tp.Status)
	assert.Equal(t, 1, tp.CurrentSection)

	assert.False(t, tp.RecordCompletion(1, false, now))

	assert.True(t, tp.RecordCompletion(3, true, now))
	assert.Equal(t, StatusCompleted, tp.Status)
	assert.False(t, tp.RecordCompletion(3, true, now))
}

func TestBuildFallback_DeterministicFromOutline(t *testing.T) {
	tp := newVolcanoTopic(t)
	outline, err := tp.Outline(1)
	require.NoError(t, err)

	a := BuildFallback(tp.ID, outline)
	b := BuildFallback(tp.ID, outline)

	assert.Equal(t, a, b)
	assert.True(t, a.Fallback)
	assert.Contains(t, a.Body, "Magma and lava")
	assert.Contains(t, a.Body, "Hot rock inside and outside.")
	assert.Equal(t, 1, a.SectionIndex)
	assert.True(t, a.GeneratedAt.IsZero())
	assert.Equal(t, CountWords(a.Body), a.WordCount)
}

func TestNewSectionContent(t *testing.T) {
	_, err := NewSectionContent("t", 0, &GenerationResult{Content: "   "}, now)
	assert.True(t, shared.IsGenerationFailure(err))

	c, err := NewSectionContent("t", 0, &GenerationResult{
		Content: "Volcanoes are openings in the Earth.",
		Facts:   []string{" Lava is hot ", "", "Magma is underground"},
	}, now)
	require.NoError(t, err)
	assert.Equal(t, []string{"Lava is hot", "Magma is underground"}, c.Facts)
	assert.Equal(t, 6, c.WordCount)
	assert.False(t, c.Fallback)
}
