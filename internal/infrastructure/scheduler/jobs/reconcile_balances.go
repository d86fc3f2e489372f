// Package jobs contains the scheduled jobs of the learning core.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sparkquest/sparkquest-hub/internal/application/command"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECONCILE BALANCES JOB
// Rewrites cached balances from the ledger sum for every child with recent
// transactions. Children outside the lookback window are repaired lazily by
// the next cache miss.
// ══════════════════════════════════════════════════════════════════════════════

// BalanceReconciler runs one reconciliation pass.
type BalanceReconciler interface {
	Handle(ctx context.Context, cmd command.ReconcileBalancesCommand) (*command.ReconcileBalancesResult, error)
}

// ReconcileBalancesConfig configures the job.
type ReconcileBalancesConfig struct {
	// Lookback selects children with transactions this recent.
	Lookback time.Duration

	Logger *slog.Logger
	Now    func() time.Time
}

// DefaultReconcileBalancesConfig returns default configuration.
func DefaultReconcileBalancesConfig() ReconcileBalancesConfig {
	return ReconcileBalancesConfig{Lookback: 48 * time.Hour}
}

// ReconcileBalancesJob implements scheduler.Job.
type ReconcileBalancesJob struct {
	reconciler BalanceReconciler
	config     ReconcileBalancesConfig
	logger     *slog.Logger
}

// NewReconcileBalancesJob creates the job.
func NewReconcileBalancesJob(reconciler BalanceReconciler, config ReconcileBalancesConfig) *ReconcileBalancesJob {
	if config.Lookback <= 0 {
		config.Lookback = DefaultReconcileBalancesConfig().Lookback
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &ReconcileBalancesJob{
		reconciler: reconciler,
		config:     config,
		logger:     config.Logger.With("job", "reconcile_balances"),
	}
}

// Name implements scheduler.Job.
func (j *ReconcileBalancesJob) Name() string { return "reconcile_balances" }

// Description implements scheduler.Job.
func (j *ReconcileBalancesJob) Description() string {
	return fmt.Sprintf("rewrite cached balances from the ledger for children active in the last %s", j.config.Lookback)
}

// Run implements scheduler.Job.
func (j *ReconcileBalancesJob) Run(ctx context.Context) error {
	res, err := j.reconciler.Handle(ctx, command.ReconcileBalancesCommand{
		Since: j.config.Now().Add(-j.config.Lookback),
	})
	if err != nil {
		return err
	}

	j.logger.Info("balances reconciled",
		"checked", res.Checked,
		"drifted", res.Drifted,
		"missing", res.Missing,
		"raced", res.Raced,
		"failures", res.Failures,
	)
	if res.Failures > 0 {
		return fmt.Errorf("reconcile_balances: %d of %d children failed", res.Failures, res.Checked)
	}
	return nil
}
