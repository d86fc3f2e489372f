// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sparkquest/sparkquest-hub/internal/domain/ledger"
	"github.com/sparkquest/sparkquest-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// APPEND TRANSACTION COMMAND
// Appends one signed spark transaction to a child's ledger. Appends are never
// retried here: a retry after an ambiguous failure could double a reward.
// ══════════════════════════════════════════════════════════════════════════════

// AppendTransactionCommand contains the data for one ledger entry.
type AppendTransactionCommand struct {
	ChildID string
	Amount  int64
	Reason  string
}

// Validate validates the command.
func (c AppendTransactionCommand) Validate() error {
	if strings.TrimSpace(c.ChildID) == "" {
		return shared.ErrEmptyChildID
	}
	if c.Amount == 0 {
		return shared.ErrZeroAmount
	}
	if strings.TrimSpace(c.Reason) == "" {
		return shared.ErrEmptyReason
	}
	return nil
}

// AppendTransactionResult contains the stored transaction.
type AppendTransactionResult struct {
	Transaction ledger.Transaction

	// Balance is the ledger sum read right after the append. Nil when the
	// read failed; the transaction is committed either way.
	Balance *int64
}

// AppendTransactionConfig contains configuration for the handler.
type AppendTransactionConfig struct {
	NewID  func() string
	Now    func() time.Time
	Logger *slog.Logger
}

// AppendTransactionHandler handles AppendTransactionCommand.
type AppendTransactionHandler struct {
	store     ledger.Store
	cache     ledger.BalanceCache
	publisher shared.EventPublisher
	newID     func() string
	now       func() time.Time
	logger    *slog.Logger
}

// NewAppendTransactionHandler creates the handler. cache may be nil.
func NewAppendTransactionHandler(
	store ledger.Store,
	cache ledger.BalanceCache,
	publisher shared.EventPublisher,
	config AppendTransactionConfig,
) *AppendTransactionHandler {
	if config.NewID == nil {
		config.NewID = uuid.NewString
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if publisher == nil {
		publisher = shared.NopPublisher{}
	}

	return &AppendTransactionHandler{
		store:     store,
		cache:     cache,
		publisher: publisher,
		newID:     config.NewID,
		now:       config.Now,
		logger:    config.Logger.With("handler", "append_transaction"),
	}
}

// Handle appends the transaction, refreshes the balance cache and notifies
// the child's sessions.
func (h *AppendTransactionHandler) Handle(ctx context.Context, cmd AppendTransactionCommand) (*AppendTransactionResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("append_transaction: %w", err)
	}

	tx, err := ledger.NewTransaction(h.newID(), strings.TrimSpace(cmd.ChildID), cmd.Amount, cmd.Reason, h.now())
	if err != nil {
		return nil, fmt.Errorf("append_transaction: %w", err)
	}

	if err := h.store.Append(ctx, tx); err != nil {
		return nil, fmt.Errorf("append_transaction: %w", err)
	}

	result := &AppendTransactionResult{Transaction: *tx}

	// The cache is invalidated before the read-back so the sum below is
	// taken under the generation this write created.
	gen, invalidated := h.invalidate(ctx, tx)

	if balance, err := h.store.Balance(ctx, tx.ChildID); err != nil {
		h.logger.Error("balance read after append failed",
			"child_id", tx.ChildID,
			"transaction_id", tx.ID,
			"error", err,
		)
	} else {
		result.Balance = &balance
		if invalidated {
			h.fill(ctx, tx.ChildID, balance, gen)
		}
	}

	if err := h.publisher.Publish(shared.NewTransactionAppendedEvent(
		tx.ChildID, tx.ID, tx.Amount, tx.Reason, tx.CreatedAt, result.Balance,
	)); err != nil {
		h.logger.Warn("failed to publish transaction event", "transaction_id", tx.ID, "error", err)
	}

	h.logger.Info("transaction appended",
		"child_id", tx.ChildID,
		"transaction_id", tx.ID,
		"sparks", tx.Amount,
		"reason", tx.Reason,
	)

	return result, nil
}

func (h *AppendTransactionHandler) invalidate(ctx context.Context, tx *ledger.Transaction) (int64, bool) {
	if h.cache == nil {
		return 0, false
	}
	gen, err := h.cache.Invalidate(ctx, tx.ChildID)
	if err != nil {
		h.logger.Error("balance cache invalidation failed",
			"child_id", tx.ChildID,
			"transaction_id", tx.ID,
			"error", err,
		)
		return 0, false
	}
	return gen, true
}

func (h *AppendTransactionHandler) fill(ctx context.Context, childID string, balance, gen int64) {
	if _, err := h.cache.Fill(ctx, childID, balance, gen); err != nil {
		h.logger.Warn("balance cache fill failed", "child_id", childID, "error", err)
	}
}
