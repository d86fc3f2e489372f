package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sparkquest/sparkquest-hub/internal/domain/shared"
)

func TestNewTransaction_Validation(t *testing.T) {
	now := time.Now()

	_, err := NewTransaction("id", "kid", 0, "reason", now)
	assert.ErrorIs(t, err, shared.ErrZeroAmount)

	_, err = NewTransaction("id", "kid", 5, "   ", now)
	assert.ErrorIs(t, err, shared.ErrEmptyReason)

	_, err = NewTransaction("id", "", 5, "reason", now)
	assert.True(t, shared.IsValidation(err))

	tx, err := NewTransaction("id", "kid", -20, " parent adjustment ", now)
	require.NoError(t, err)
	assert.Equal(t, int64(-20), tx.Amount)
	assert.Equal(t, "parent adjustment", tx.Reason)
}

func TestSum(t *testing.T) {
	txs := []Transaction{{Amount: 10}, {Amount: 25}, {Amount: -40}}
	assert.Equal(t, int64(-5), Sum(txs))
	assert.Zero(t, Sum(nil))
}

func TestReasons(t *testing.T) {
	assert.Equal(t, "section_completed:t1:2", SectionReason("t1", 2))
	assert.Equal(t, "quiz_completed:t1", QuizReason("t1"))
	assert.Equal(t, "certificate_issued:t1", CertificateReason("t1"))
	assert.Equal(t, "streak_bonus:2024-05-03:3", StreakBonusReason("2024-05-03", 3))
}

func TestQuery_EffectiveLimit(t *testing.T) {
	assert.Equal(t, DefaultHistoryLimit, Query{}.EffectiveLimit())
	assert.Equal(t, 10, Query{Limit: 10}.EffectiveLimit())
	assert.Equal(t, MaxHistoryLimit, Query{Limit: 10_000}.EffectiveLimit())
}
