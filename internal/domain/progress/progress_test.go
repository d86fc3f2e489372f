package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sparkquest/sparkquest-hub/internal/domain/shared"
)

var now = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func TestRecord_FullScenario(t *testing.T) {
	r := NewRecord("kid", "topic", 3)
	assert.Equal(t, StateNotStarted, r.State())

	out, err := r.CompleteSection(0, now)
	require.NoError(t, err)
	assert.True(t, out.Changed)
	assert.Equal(t, StateNotStarted, out.From)
	assert.Equal(t, StateInProgress, out.To)
	assert.Equal(t, []int{0}, r.CompletedSections())

	_, err = r.CompleteSection(1, now)
	require.NoError(t, err)
	assert.Equal(t, StateInProgress, r.State())
	assert.Equal(t, []int{0, 1}, r.CompletedSections())

	out, err = r.CompleteSection(2, now)
	require.NoError(t, err)
	assert.Equal(t, StateQuizReady, out.To)

	out, err = r.CompleteQuiz(now)
	require.NoError(t, err)
	assert.Equal(t, StateQuizDone, out.To)

	out, err = r.IssueCertificate(now)
	require.NoError(t, err)
	assert.Equal(t, StateCertificateIssued, out.To)
	assert.True(t, r.State().IsTerminal())

	_, err = r.IssueCertificate(now)
	assert.ErrorIs(t, err, shared.ErrProgressTerminal)
	_, err = r.CompleteQuiz(now)
	assert.True(t, shared.IsSequenceViolation(err))
}

func TestRecord_OutOfOrderIsSequenceViolation(t *testing.T) {
	r := NewRecord("kid", "topic", 3)

	_, err := r.CompleteSection(2, now)
	assert.True(t, shared.IsSequenceViolation(err))
	assert.Zero(t, r.CompletedCount())

	_, err = r.CompleteSection(0, now)
	require.NoError(t, err)
	_, err = r.CompleteSection(2, now)
	assert.ErrorIs(t, err, shared.ErrSectionOutOfOrder)
	assert.Equal(t, 1, r.CompletedCount())
}

func TestRecord_OutOfRange(t *testing.T) {
	r := NewRecord("kid", "topic", 2)

	_, err := r.CompleteSection(-1, now)
	assert.ErrorIs(t, err, shared.ErrSectionOutOfRange)
	_, err = r.CompleteSection(2, now)
	assert.True(t, shared.IsSequenceViolation(err))
}

func TestRecord_ReviewIsNoOp(t *testing.T) {
	r := NewRecord("kid", "topic", 2)
	_, _ = r.CompleteSection(0, now)
	_, _ = r.CompleteSection(1, now)
	_, _ = r.CompleteQuiz(now)
	_, _ = r.IssueCertificate(now)

	out, err := r.CompleteSection(0, now.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, out.Review())
	assert.Equal(t, StateCertificateIssued, out.To)
	assert.Equal(t, now, r.UpdatedAt)
}

func TestRecord_QuizRequiresAllSections(t *testing.T) {
	r := NewRecord("kid", "topic", 2)
	_, _ = r.CompleteSection(0, now)

	_, err := r.CompleteQuiz(now)
	assert.ErrorIs(t, err, shared.ErrQuizNotReady)

	_, err = r.IssueCertificate(now)
	assert.ErrorIs(t, err, shared.ErrCertificateNotReady)
}

func TestRecord_CompletedSetNeverExceedsSequentialCompletions(t *testing.T) {
	r := NewRecord("kid", "topic", 5)
	attempts := []int{3, 0, 0, 2, 1, 1, 4, 2, 3, 4, 4}
	for _, i := range attempts {
		_, _ = r.CompleteSection(i, now)
	}

	assert.Equal(t, []int{0, 1, 2, 3, 4}, r.CompletedSections())
	assert.Equal(t, StateQuizReady, r.State())
}

func TestRestore_DropsInvalidIndices(t *testing.T) {
	r := Restore("kid", "topic", 2, []int{1, 0, 7}, false, false, now)

	assert.Equal(t, []int{0, 1}, r.CompletedSections())
	assert.Equal(t, StateQuizReady, r.State())
	assert.Equal(t, 2, r.NextSection())
}

func TestIsUnlocked(t *testing.T) {
	r := NewRecord("kid", "topic", 3)
	assert.True(t, r.IsUnlocked(0))
	assert.False(t, r.IsUnlocked(1))

	_, _ = r.CompleteSection(0, now)
	assert.True(t, r.IsUnlocked(1))
	assert.False(t, r.IsUnlocked(2))
	assert.False(t, r.IsUnlocked(3))
}

func TestTransitionTable(t *testing.T) {
	assert.True(t, Allows(StateInProgress, ActionCompleteSection))
	assert.False(t, Allows(StateInProgress, ActionCompleteQuiz))
	assert.True(t, Allows(StateQuizReady, ActionCompleteQuiz))
	assert.False(t, Allows(StateCertificateIssued, ActionIssueCertificate))
}
