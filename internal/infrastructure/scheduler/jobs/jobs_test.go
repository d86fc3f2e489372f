package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sparkquest/sparkquest-hub/internal/application/command"
)

type stubReconciler struct {
	got command.ReconcileBalancesCommand
	res *command.ReconcileBalancesResult
	err error
}

func (s *stubReconciler) Handle(ctx context.Context, cmd command.ReconcileBalancesCommand) (*command.ReconcileBalancesResult, error) {
	s.got = cmd
	return s.res, s.err
}

func TestReconcileBalancesJob_UsesLookback(t *testing.T) {
	now := time.Date(2024, 5, 3, 3, 0, 0, 0, time.UTC)
	rec := &stubReconciler{res: &command.ReconcileBalancesResult{Checked: 4, Drifted: 1}}
	job := NewReconcileBalancesJob(rec, ReconcileBalancesConfig{
		Lookback: 24 * time.Hour,
		Now:      func() time.Time { return now },
	})

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, now.Add(-24*time.Hour), rec.got.Since)
	assert.Equal(t, "reconcile_balances", job.Name())
}

func TestReconcileBalancesJob_ReportsFailures(t *testing.T) {
	rec := &stubReconciler{res: &command.ReconcileBalancesResult{Checked: 4, Failures: 2}}
	job := NewReconcileBalancesJob(rec, ReconcileBalancesConfig{})
	assert.Error(t, job.Run(context.Background()))

	rec.res, rec.err = nil, errors.New("db down")
	assert.Error(t, job.Run(context.Background()))
}

type countingFlusher struct{ calls int }

func (f *countingFlusher) Flush() (int, error) {
	f.calls++
	return 1, nil
}

func TestFlushCelebrationsJob(t *testing.T) {
	f := &countingFlusher{}
	job := NewFlushCelebrationsJob(f, nil)
	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 1, f.calls)
}
