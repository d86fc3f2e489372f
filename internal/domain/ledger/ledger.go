// Package ledger is the append-only sparks ledger. A child's balance is the sum
// of their transactions; any stored counter is only a cache of that sum.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sparkquest/sparkquest-hub/internal/domain/shared"
)

// Transaction is one signed ledger entry. Immutable once written.
type Transaction struct {
	ID        string    `json:"id"`
	ChildID   string    `json:"child_id"`
	Amount    int64     `json:"amount"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// NewTransaction validates and builds a transaction. Any nonzero amount is
// accepted; the ledger places no floor on the balance.
func NewTransaction(id, childID string, amount int64, reason string, now time.Time) (*Transaction, error) {
	if strings.TrimSpace(childID) == "" {
		return nil, shared.ErrEmptyChildID
	}
	if amount == 0 {
		return nil, shared.ErrZeroAmount
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, shared.ErrEmptyReason
	}
	return &Transaction{
		ID:        id,
		ChildID:   childID,
		Amount:    amount,
		Reason:    reason,
		CreatedAt: now.UTC(),
	}, nil
}

// Sum folds transactions into a balance.
func Sum(txs []Transaction) int64 {
	var total int64
	for _, tx := range txs {
		total += tx.Amount
	}
	return total
}

// ══════════════════════════════════════════════════════════════════════════════
// REASONS
// ══════════════════════════════════════════════════════════════════════════════

// Reason builders for rewards issued by the core. The topic and section are
// embedded so the history explains every entry.
func SectionReason(topicID string, index int) string {
	return fmt.Sprintf("section_completed:%s:%d", topicID, index)
}

func QuizReason(topicID string) string {
	return "quiz_completed:" + topicID
}

func CertificateReason(topicID string) string {
	return "certificate_issued:" + topicID
}

func StreakBonusReason(day string, count int) string {
	return fmt.Sprintf("streak_bonus:%s:%d", day, count)
}

// ══════════════════════════════════════════════════════════════════════════════
// STORAGE CONTRACTS
// ══════════════════════════════════════════════════════════════════════════════

// Query narrows a history listing. Zero times are open bounds.
type Query struct {
	From  time.Time
	To    time.Time
	Limit int
}

// DefaultHistoryLimit applies when Query.Limit is not positive.
const DefaultHistoryLimit = 50

// MaxHistoryLimit caps a single history page.
const MaxHistoryLimit = 500

// EffectiveLimit returns the page size to query.
func (q Query) EffectiveLimit() int {
	switch {
	case q.Limit <= 0:
		return DefaultHistoryLimit
	case q.Limit > MaxHistoryLimit:
		return MaxHistoryLimit
	default:
		return q.Limit
	}
}

// Store is the append-only transaction log.
type Store interface {
	// Append inserts tx. It is never retried by callers.
	Append(ctx context.Context, tx *Transaction) error

	// Balance returns the sum of the child's transactions.
	Balance(ctx context.Context, childID string) (int64, error)

	// List returns the child's transactions, newest first.
	List(ctx context.Context, childID string, q Query) ([]Transaction, error)

	// ActiveChildren lists children with transactions at or after since.
	ActiveChildren(ctx context.Context, since time.Time) ([]string, error)
}

// BalanceCache mirrors Store.Balance for fast reads. It is never the source
// of truth.
//
// Every committed append advances the child's generation and drops the cached
// value. A balance computed from the ledger may only be stored with the
// generation read before the sum was taken, so a fill that raced a write is
// rejected instead of hiding that write.
type BalanceCache interface {
	// Get returns ok=false on a miss.
	Get(ctx context.Context, childID string) (balance int64, ok bool, err error)

	// Generation returns the child's current write generation, 0 if none.
	Generation(ctx context.Context, childID string) (int64, error)

	// Invalidate drops the cached value and returns the new generation.
	// Writers call it after every committed append.
	Invalidate(ctx context.Context, childID string) (int64, error)

	// Fill stores balance only while the generation still equals gen.
	Fill(ctx context.Context, childID string, balance, gen int64) (bool, error)
}
