package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/sparkquest/sparkquest-hub/internal/domain/ledger"
)

// LedgerRepository implements ledger.Store for PostgreSQL.
type LedgerRepository struct {
	conn *Connection
}

// NewLedgerRepository creates a new LedgerRepository.
func NewLedgerRepository(conn *Connection) *LedgerRepository {
	return &LedgerRepository{conn: conn}
}

// Append inserts a transaction.
func (r *LedgerRepository) Append(ctx context.Context, tx *ledger.Transaction) error {
	_, err := r.conn.Exec(ctx, `
		INSERT INTO ledger_transactions (id, child_id, amount, reason, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		tx.ID, tx.ChildID, tx.Amount, tx.Reason, tx.CreatedAt,
	)
	return storeErr("Append", err)
}

// Balance sums the child's transactions.
func (r *LedgerRepository) Balance(ctx context.Context, childID string) (int64, error) {
	var balance int64
	err := r.conn.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0)::bigint FROM ledger_transactions WHERE child_id = $1`, childID,
	).Scan(&balance)
	return balance, storeErr("Balance", err)
}

// List returns transactions newest first, bounded by q.
func (r *LedgerRepository) List(ctx context.Context, childID string, q ledger.Query) ([]ledger.Transaction, error) {
	query := `SELECT id::text, child_id, amount, reason, created_at FROM ledger_transactions WHERE child_id = $1`
	args := []any{childID}
	if !q.From.IsZero() {
		args = append(args, q.From)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if !q.To.IsZero() {
		args = append(args, q.To)
		query += fmt.Sprintf(" AND created_at < $%d", len(args))
	}
	args = append(args, q.EffectiveLimit())
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))

	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, storeErr("List", err)
	}
	defer rows.Close()

	txs := []ledger.Transaction{}
	for rows.Next() {
		var tx ledger.Transaction
		if err := rows.Scan(&tx.ID, &tx.ChildID, &tx.Amount, &tx.Reason, &tx.CreatedAt); err != nil {
			return nil, storeErr("List", err)
		}
		tx.CreatedAt = tx.CreatedAt.UTC()
		txs = append(txs, tx)
	}
	return txs, storeErr("List", rows.Err())
}

// ActiveChildren lists children with transactions since the given time.
func (r *LedgerRepository) ActiveChildren(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := r.conn.Query(ctx,
		`SELECT DISTINCT child_id FROM ledger_transactions WHERE created_at >= $1 ORDER BY child_id`, since)
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
