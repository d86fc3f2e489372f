// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sparkquest/sparkquest-hub/internal/domain/ledger"
	"github.com/sparkquest/sparkquest-hub/internal/domain/shared"
)

// Balance sources.
const (
	SourceCache  = "cache"
	SourceLedger = "ledger"
)

// GetBalanceQuery asks for a child's spark balance.
type GetBalanceQuery struct {
	ChildID string

	// Consistent bypasses the cache and reads the ledger sum.
	Consistent bool
}

// BalanceView is the balance as served.
type BalanceView struct {
	ChildID string `json:"child_id"`
	Balance int64  `json:"balance"`
	Source  string `json:"source"`
}

// GetBalanceHandler serves balances from the cache with the ledger as truth.
// Writers refresh the cache after every append, so a session always sees its
// own transactions.
type GetBalanceHandler struct {
	store  ledger.Store
	cache  ledger.BalanceCache
	logger *slog.Logger
}

// NewGetBalanceHandler creates the handler. cache may be nil.
func NewGetBalanceHandler(store ledger.Store, cache ledger.BalanceCache, logger *slog.Logger) *GetBalanceHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GetBalanceHandler{store: store, cache: cache, logger: logger.With("query", "get_balance")}
}

// Handle executes the query.
func (h *GetBalanceHandler) Handle(ctx context.Context, q GetBalanceQuery) (*BalanceView, error) {
	childID := strings.TrimSpace(q.ChildID)
	if childID == "" {
		return nil, fmt.Errorf("get_balance: %w", shared.ErrEmptyChildID)
	}

	if h.cache != nil && !q.Consistent {
		balance, ok, err := h.cache.Get(ctx, childID)
		if err != nil {
			h.logger.Warn("balance cache read failed", "child_id", childID, "error", err)
		} else if ok {
			return &BalanceView{ChildID: childID, Balance: balance, Source: SourceCache}, nil
		}
	}

	// The generation must be read before the sum: a write that commits in
	// between advances it and the fill below is rejected.
	gen, fill := h.generation(ctx, childID)

	balance, err := h.store.Balance(ctx, childID)
	if err != nil {
		return nil, fmt.Errorf("get_balance: %w", err)
	}

	if fill {
		if _, err := h.cache.Fill(ctx, childID, balance, gen); err != nil {
			h.logger.Warn("balance cache fill failed", "child_id", childID, "error", err)
		}
	}

	return &BalanceView{ChildID: childID, Balance: balance, Source: SourceLedger}, nil
}

func (h *GetBalanceHandler) generation(ctx context.Context, childID string) (int64, bool) {
	if h.cache == nil {
		return 0, false
	}
	gen, err := h.cache.Generation(ctx, childID)
	if err != nil {
		h.logger.Warn("balance generation read failed", "child_id", childID, "error", err)
		return 0, false
	}
	return gen, true
}
