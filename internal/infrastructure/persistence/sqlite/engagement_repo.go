package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/sparkquest/sparkquest-hub/internal/domain/shared"
	"github.com/sparkquest/sparkquest-hub/internal/domain/streak"
	"github.com/sparkquest/sparkquest-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// STREAKS
// ══════════════════════════════════════════════════════════════════════════════

// Streaks exposes the streak repository. Its Get and Save would otherwise
// collide with the topic and progress methods on Store.
func (s *Store) Streaks() streak.Repository {
	return streakRepo{db: s.db}
}

type streakRepo struct {
	db *sql.DB
}

func (r streakRepo) Get(ctx context.Context, childID string) (*streak.State, error) {
	var (
		st           streak.State
		lastActivity string
		freezeAvail  int
		freezeUsed   int
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT child_id, count, best_count, last_activity, freeze_available, freeze_used_today, freeze_rearm_in, version
		FROM streaks WHERE child_id = ?`, childID,
	).Scan(&st.ChildID, &st.Count, &st.BestCount, &lastActivity, &freezeAvail, &freezeUsed, &st.FreezeRearmIn, &st.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return streak.New(childID, false), nil
	}
	if err != nil {
		return nil, storeErr("GetStreak", err)
	}
	if lastActivity != "" {
		day, err := timeutil.ParseDay(lastActivity)
		if err != nil {
			return nil, storeErr("GetStreak", err)
		}
		st.LastActivity = day
	}
	st.FreezeAvailable = freezeAvail == 1
	st.FreezeUsedToday = freezeUsed == 1
	return &st, nil
}

func (r streakRepo) Save(ctx context.Context, st *streak.State) error {
	last := ""
	if !st.LastActivity.IsZero() {
		last = st.LastActivity.String()
	}

	var (
		res sql.Result
		err error
	)
	if st.Version == 0 {
		res, err = r.db.ExecContext(ctx, `
			INSERT INTO streaks (child_id, count, best_count, last_activity, freeze_available, freeze_used_today, freeze_rearm_in, version)
			VALUES (?, ?, ?, ?, ?, ?, ?, 1)
			ON CONFLICT (child_id) DO NOTHING`,
			st.ChildID, st.Count, st.BestCount, last, boolInt(st.FreezeAvailable), boolInt(st.FreezeUsedToday), st.FreezeRearmIn,
		)
	} else {
		res, err = r.db.ExecContext(ctx, `
			UPDATE streaks SET count = ?, best_count = ?, last_activity = ?,
			                   freeze_available = ?, freeze_used_today = ?, freeze_rearm_in = ?, version = version + 1
			WHERE child_id = ? AND version = ?`,
			st.Count, st.BestCount, last, boolInt(st.FreezeAvailable), boolInt(st.FreezeUsedToday), st.FreezeRearmIn,
			st.ChildID, st.Version,
		)
	}
	if err != nil {
		return storeErr("SaveStreak", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("SaveStreak", err)
	}
	if n == 0 {
		return shared.NewDomainError("streak", "Save", shared.ErrConcurrentModification, "streak changed concurrently")
	}
	st.Version++
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENTS
// ══════════════════════════════════════════════════════════════════════════════

// EarnedIDs returns the child's stored badges.
func (s *Store) EarnedIDs(ctx context.Context, childID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT achievement_id FROM achievements WHERE child_id = ? ORDER BY earned_at, achievement_id`, childID)
	if err != nil {
		return nil, storeErr("EarnedIDs", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storeErr("EarnedIDs", err)
		}
		ids = append(ids, id)
	}
	return ids, storeErr("EarnedIDs", rows.Err())
}

// MarkEarned inserts badges and returns the ones this call added.
func (s *Store) MarkEarned(ctx context.Context, childID string, ids []string, at time.Time) ([]string, error) {
	var inserted []string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			res, err := tx.ExecContext(ctx, `
				INSERT INTO achievements (child_id, achievement_id, earned_at) VALUES (?, ?, ?)
				ON CONFLICT (child_id, achievement_id) DO NOTHING`,
				childID, id, formatTime(at),
			)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if n == 1 {
				inserted = append(inserted, id)
			}
		}
		return nil
	})
	if err != nil {
		return nil, storeErr("MarkEarned", err)
	}
	return inserted, nil
}
