package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/sparkquest/sparkquest-hub/internal/domain/shared"
	"github.com/sparkquest/sparkquest-hub/internal/domain/streak"
	"github.com/sparkquest/sparkquest-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// STREAK REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// StreakRepository implements streak.Repository with version compare-and-set.
type StreakRepository struct {
	conn *Connection
}

// NewStreakRepository creates a new StreakRepository.
func NewStreakRepository(conn *Connection) *StreakRepository {
	return &StreakRepository{conn: conn}
}

// Get returns the stored streak or a fresh one.
func (r *StreakRepository) Get(ctx context.Context, childID string) (*streak.State, error) {
	var (
		st   streak.State
		last pgtype.Date
	)
	err := r.conn.QueryRow(ctx, `
		SELECT child_id, count, best_count, last_activity, freeze_available, freeze_used_today, freeze_rearm_in, version
		FROM streaks WHERE child_id = $1`, childID,
	).Scan(&st.ChildID, &st.Count, &st.BestCount, &last, &st.FreezeAvailable, &st.FreezeUsedToday, &st.FreezeRearmIn, &st.Version)
	if IsNoRows(err) {
		return streak.New(childID, false), nil
	}
	if err != nil {
		return nil, storeErr("GetStreak", err)
	}
	if last.Valid {
		st.LastActivity = timeutil.DayOf(last.Time, time.UTC)
	}
	return &st, nil
}

// Save writes the streak if nobody else saved it since it was read.
func (r *StreakRepository) Save(ctx context.Context, st *streak.State) error {
	var last pgtype.Date
	if !st.LastActivity.IsZero() {
		last = pgtype.Date{Time: st.LastActivity.Start(time.UTC), Valid: true}
	}

	var (
		tag pgconn.CommandTag
		err error
	)
	if st.Version == 0 {
		tag, err = r.conn.Exec(ctx, `
			INSERT INTO streaks (child_id, count, best_count, last_activity, freeze_available, freeze_used_today, freeze_rearm_in, version)
			VALUES ($1, $2, $3, $4, $5, $6, $7, 1)
			ON CONFLICT (child_id) DO NOTHING`,
			st.ChildID, st.Count, st.BestCount, last, st.FreezeAvailable, st.FreezeUsedToday, st.FreezeRearmIn,
		)
	} else {
		tag, err = r.conn.Exec(ctx, `
			UPDATE streaks SET count = $1, best_count = $2, last_activity = $3,
			       freeze_available = $4, freeze_used_today = $5, freeze_rearm_in = $6, version = version + 1
			WHERE child_id = $7 AND version = $8`,
			st.Count, st.BestCount, last, st.FreezeAvailable, st.FreezeUsedToday, st.FreezeRearmIn, st.ChildID, st.Version,
		)
	}
	if err != nil {
		return storeErr("SaveStreak", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.NewDomainError("streak", "Save", shared.ErrConcurrentModification, "streak changed concurrently")
	}
	st.Version++
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// AchievementRepository implements achievement.SnapshotStore.
type AchievementRepository struct {
	conn *Connection
}

// NewAchievementRepository creates a new AchievementRepository.
func NewAchievementRepository(conn *Connection) *AchievementRepository {
	return &AchievementRepository{conn: conn}
}

// EarnedIDs returns the child's stored badges.
func (r *AchievementRepository) EarnedIDs(ctx context.Context, childID string) ([]string, error) {
	rows, err := r.conn.Query(ctx,
		`SELECT achievement_id FROM achievements WHERE child_id = $1 ORDER BY earned_at, achievement_id`, childID)
	if err != nil {
		return nil, storeErr("EarnedIDs", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	return ids, storeErr("EarnedIDs", err)
}

// MarkEarned inserts badges and returns the ones this call added.
func (r *AchievementRepository) MarkEarned(ctx context.Context, childID string, ids []string, at time.Time) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.conn.Query(ctx, `
		INSERT INTO achievements (child_id, achievement_id, earned_at)
		SELECT $1, unnest($2::text[]), $3
		ON CONFLICT (child_id, achievement_id) DO NOTHING
		RETURNING achievement_id`,
		childID, ids, at,
	)
	if err != nil {
		return nil, storeErr("MarkEarned", err)
	}
	inserted, err := pgx.CollectRows(rows, pgx.RowTo[string])
	return inserted, storeErr("MarkEarned", err)
}
