package query

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sparkquest/sparkquest-hub/internal/domain/ledger"
	"github.com/sparkquest/sparkquest-hub/internal/domain/shared"
)

// ListTransactionsQuery selects a page of history.
type ListTransactionsQuery struct {
	ChildID string
	From    time.Time
	To      time.Time
	Limit   int
}

// TransactionPage is a page of history, newest first.
type TransactionPage struct {
	ChildID      string               `json:"child_id"`
	Transactions []ledger.Transaction `json:"transactions"`

	// PageSum is the sum of this page only.
	PageSum int64 `json:"page_sum"`
}

// ListTransactionsHandler lists ledger history.
type ListTransactionsHandler struct {
	store ledger.Store
}

// NewListTransactionsHandler creates the handler.
func NewListTransactionsHandler(store ledger.Store) *ListTransactionsHandler {
	return &ListTransactionsHandler{store: store}
}

// Handle executes the query.
func (h *ListTransactionsHandler) Handle(ctx context.Context, q ListTransactionsQuery) (*TransactionPage, error) {
	childID := strings.TrimSpace(q.ChildID)
	if childID == "" {
		return nil, fmt.Errorf("list_transactions: %w", shared.ErrEmptyChildID)
	}
	if !q.From.IsZero() && !q.To.IsZero() && q.To.Before(q.From) {
		return nil, fmt.Errorf("list_transactions: %w",
			shared.NewDomainError("ledger", "List", shared.ErrInvalidInput, "range end is before range start"))
	}

	txs, err := h.store.List(ctx, childID, ledger.Query{From: q.From, To: q.To, Limit: q.Limit})
	if err != nil {
		return nil, fmt.Errorf("list_transactions: %w", err)
	}
	if txs == nil {
		txs = []ledger.Transaction{}
	}

	return &TransactionPage{ChildID: childID, Transactions: txs, PageSum: ledger.Sum(txs)}, nil
}
