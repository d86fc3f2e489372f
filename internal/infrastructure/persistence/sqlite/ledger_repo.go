package sqlite

import (
	"context"
	"time"

	"github.com/sparkquest/sparkquest-hub/internal/domain/ledger"
)

// Append inserts a transaction.
func (s *Store) Append(ctx context.Context, tx *ledger.Transaction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger_transactions (id, child_id, amount, reason, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		tx.ID, tx.ChildID, tx.Amount, tx.Reason, formatTime(tx.CreatedAt),
	)
	return storeErr("Append", err)
}

// Balance sums the child's transactions.
func (s *Store) Balance(ctx context.Context, childID string) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM ledger_transactions WHERE child_id = ?`, childID,
	).Scan(&balance)
	return balance, storeErr("Balance", err)
}

// List returns transactions newest first, bounded by q.
func (s *Store) List(ctx context.Context, childID string, q ledger.Query) ([]ledger.Transaction, error) {
	query := `SELECT id, child_id, amount, reason, created_at FROM ledger_transactions WHERE child_id = ?`
	args := []any{childID}
	if !q.From.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, formatTime(q.From))
	}
	if !q.To.IsZero() {
		query += ` AND created_at < ?`
		args = append(args, formatTime(q.To))
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, q.EffectiveLimit())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("List", err)
	}
	defer rows.Close()

	txs := []ledger.Transaction{}
	for rows.Next() {
		var (
			tx        ledger.Transaction
			createdAt string
		)
		if err := rows.Scan(&tx.ID, &tx.ChildID, &tx.Amount, &tx.Reason, &createdAt); err != nil {
			return nil, storeErr("List", err)
		}
		tx.CreatedAt = parseTime(createdAt)
		txs = append(txs, tx)
	}
	return txs, storeErr("List", rows.Err())
}

// ActiveChildren lists children with transactions since the given time.
func (s *Store) ActiveChildren(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT child_id FROM ledger_transactions WHERE created_at >= ? ORDER BY child_id`,
		formatTime(since))
	if err != nil {
		return nil, storeErr("ActiveChildren", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storeErr("ActiveChildren", err)
		}
		ids = append(ids, id)
	}
	return ids, storeErr("ActiveChildren", rows.Err())
}
