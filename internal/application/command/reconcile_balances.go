package command

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sparkquest/sparkquest-hub/internal/domain/ledger"
	"github.com/sparkquest/sparkquest-hub/internal/infrastructure/metrics"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECONCILE BALANCES COMMAND
// The cached balance is never the source of truth. Reconciliation recomputes
// the ledger sum for recently active children and replaces any drift, unless
// an append commits while the sum is taken.
// ══════════════════════════════════════════════════════════════════════════════

// ReconcileBalancesCommand selects the children to check.
type ReconcileBalancesCommand struct {
	// Since limits the check to children with transactions at or after it.
	Since time.Time

	// ChildIDs, when set, are checked instead of the active set.
	ChildIDs []string
}

// ReconcileBalancesResult summarizes a run.
type ReconcileBalancesResult struct {
	Checked  int
	Drifted  int
	Missing  int
	Failures int

	// Raced counts children whose fill lost to a concurrent append. The
	// append already refreshed their cache.
	Raced int
}

// ReconcileBalancesHandler handles ReconcileBalancesCommand.
type ReconcileBalancesHandler struct {
	store   ledger.Store
	cache   ledger.BalanceCache
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewReconcileBalancesHandler creates the handler.
func NewReconcileBalancesHandler(store ledger.Store, cache ledger.BalanceCache, m *metrics.Metrics, logger *slog.Logger) *ReconcileBalancesHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReconcileBalancesHandler{
		store:   store,
		cache:   cache,
		metrics: m,
		logger:  logger.With("handler", "reconcile_balances"),
	}
}

// Handle runs one reconciliation pass. Per-child failures are counted and
// logged; only a failure to list children aborts the pass.
func (h *ReconcileBalancesHandler) Handle(ctx context.Context, cmd ReconcileBalancesCommand) (*ReconcileBalancesResult, error) {
	res := &ReconcileBalancesResult{}
	if h.cache == nil {
		return res, nil
	}

	children := cmd.ChildIDs
	if len(children) == 0 {
		var err error
		children, err = h.store.ActiveChildren(ctx, cmd.Since)
		if err != nil {
			return nil, fmt.Errorf("reconcile_balances: %w", err)
		}
	}

	for _, childID := range children {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Checked++

		gen, err := h.cache.Generation(ctx, childID)
		if err != nil {
			res.Failures++
			h.logger.Warn("balance generation read failed", "child_id", childID, "error", err)
			continue
		}

		sum, err := h.store.Balance(ctx, childID)
		if err != nil {
			res.Failures++
			h.logger.Warn("ledger sum failed", "child_id", childID, "error", err)
			continue
		}

		cached, ok, err := h.cache.Get(ctx, childID)
		if err != nil {
			res.Failures++
			h.logger.Warn("balance cache read failed", "child_id", childID, "error", err)
			continue
		}
		if ok && cached == sum {
			continue
		}

		filled, err := h.cache.Fill(ctx, childID, sum, gen)
		switch {
		case err != nil:
			res.Failures++
			h.logger.Warn("balance cache write failed", "child_id", childID, "error", err)
		case !filled:
			res.Raced++
		case !ok:
			res.Missing++
		default:
			res.Drifted++
			h.metrics.Drift()
			h.logger.Warn("balance cache drift corrected",
				"child_id", childID,
				"cached", cached,
				"ledger", sum,
			)
		}
	}

	return res, nil
}
