package query

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sparkquest/sparkquest-hub/internal/application/command"
	"github.com/sparkquest/sparkquest-hub/internal/domain/ledger"
	"github.com/sparkquest/sparkquest-hub/internal/domain/progress"
	"github.com/sparkquest/sparkquest-hub/internal/domain/shared"
	"github.com/sparkquest/sparkquest-hub/internal/domain/topic"
	rediscache "github.com/sparkquest/sparkquest-hub/internal/infrastructure/persistence/redis"
	"github.com/sparkquest/sparkquest-hub/internal/infrastructure/persistence/sqlite"
	"github.com/sparkquest/sparkquest-hub/pkg/timeutil"
)

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(filepath.Join(t.TempDir(), "core.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

type memCache struct {
	mu     sync.Mutex
	values map[string]int64
	gens   map[string]int64
	getErr error
}

func newMemCache() *memCache {
	return &memCache{values: make(map[string]int64), gens: make(map[string]int64)}
}

func (c *memCache) Get(ctx context.Context, childID string) (int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return 0, false, c.getErr
	}
	v, ok := c.values[childID]
	return v, ok, nil
}

func (c *memCache) Generation(ctx context.Context, childID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[childID], nil
}

func (c *memCache) Invalidate(ctx context.Context, childID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, childID)
	c.gens[childID]++
	return c.gens[childID], nil
}

func (c *memCache) Fill(ctx context.Context, childID string, balance, gen int64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[childID] != gen {
		return false, nil
	}
	c.values[childID] = balance
	return true, nil
}

func (c *memCache) put(childID string, balance int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[childID] = balance
}

func newRedisBalances(t *testing.T) *rediscache.BalanceCache {
	t.Helper()
	mr := miniredis.RunT(t)
	cache := rediscache.NewCacheFromClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = cache.Close() })
	return rediscache.NewBalanceCache(cache, time.Hour)
}

func TestGetBalance_ReadAfterWrite(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	cache := newMemCache()
	appender := command.NewAppendTransactionHandler(s, cache, nil, command.AppendTransactionConfig{})
	q := NewGetBalanceHandler(s, cache, nil)

	view, err := q.Handle(ctx, GetBalanceQuery{ChildID: "kid-1"})
	require.NoError(t, err)
	assert.Zero(t, view.Balance)
	assert.Equal(t, SourceLedger, view.Source)

	for _, amount := range []int64{10, 25, -5} {
		_, err := appender.Handle(ctx, command.AppendTransactionCommand{ChildID: "kid-1", Amount: amount, Reason: "test"})
		require.NoError(t, err)

		view, err := q.Handle(ctx, GetBalanceQuery{ChildID: "kid-1"})
		require.NoError(t, err)
		sum, err := s.Balance(ctx, "kid-1")
		require.NoError(t, err)
		assert.Equal(t, sum, view.Balance)
		assert.Equal(t, SourceCache, view.Source)
	}
}

// midSumLedger runs hook once, after the first Balance read returns and
// before the caller uses the sum.
type midSumLedger struct {
	ledger.Store
	once sync.Once
	hook func()
}

func (l *midSumLedger) Balance(ctx context.Context, childID string) (int64, error) {
	b, err := l.Store.Balance(ctx, childID)
	l.once.Do(l.hook)
	return b, err
}

func TestGetBalance_StaleFillNeverHidesCommittedWrite(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	balances := newRedisBalances(t)
	writer := command.NewAppendTransactionHandler(s, balances, nil, command.AppendTransactionConfig{})

	tx, err := ledger.NewTransaction(uuid.NewString(), "kid-1", 10, "section", time.Now())
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, tx))

	// Session A misses the cache and sums 10; session B appends 25 before A
	// fills the cache.
	sessionA := NewGetBalanceHandler(&midSumLedger{Store: s, hook: func() {
		_, err := writer.Handle(ctx, command.AppendTransactionCommand{ChildID: "kid-1", Amount: 25, Reason: "quiz"})
		require.NoError(t, err)
	}}, balances, nil)

	view, err := sessionA.Handle(ctx, GetBalanceQuery{ChildID: "kid-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(10), view.Balance)

	sessionB := NewGetBalanceHandler(s, balances, nil)
	view, err = sessionB.Handle(ctx, GetBalanceQuery{ChildID: "kid-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(35), view.Balance)

	view, err = sessionA.Handle(ctx, GetBalanceQuery{ChildID: "kid-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(35), view.Balance)
}

func TestGetBalance_ConcurrentAppendsAndReads(t *testing.T) {
	for _, warm := range []bool{false, true} {
		t.Run(fmt.Sprintf("warm=%v", warm), func(t *testing.T) {
			ctx := context.Background()
			s := openStore(t)
			balances := newRedisBalances(t)
			writer := command.NewAppendTransactionHandler(s, balances, nil, command.AppendTransactionConfig{})
			reader := NewGetBalanceHandler(s, balances, nil)

			if warm {
				view, err := reader.Handle(ctx, GetBalanceQuery{ChildID: "kid-1"})
				require.NoError(t, err)
				require.Zero(t, view.Balance)
			}

			const writers = 12
			var want int64
			var wg sync.WaitGroup
			errs := make(chan error, 2*writers)
			for i := 1; i <= writers; i++ {
				amount := int64(i * 5)
				want += amount
				wg.Add(2)
				go func() {
					defer wg.Done()
					res, err := writer.Handle(ctx, command.AppendTransactionCommand{ChildID: "kid-1", Amount: amount, Reason: "burst"})
					if err != nil {
						errs <- err
						return
					}
					// Read-your-writes: this session's next read includes its append.
					view, err := reader.Handle(ctx, GetBalanceQuery{ChildID: "kid-1"})
					if err != nil {
						errs <- err
						return
					}
					if res.Balance != nil && view.Balance < *res.Balance {
						errs <- fmt.Errorf("read %d after own write saw %d", view.Balance, *res.Balance)
					}
				}()
				go func() {
					defer wg.Done()
					_, err := reader.Handle(ctx, GetBalanceQuery{ChildID: "kid-1"})
					if err != nil {
						errs <- err
					}
				}()
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				require.NoError(t, err)
			}

			sum, err := s.Balance(ctx, "kid-1")
			require.NoError(t, err)
			assert.Equal(t, want, sum)

			view, err := reader.Handle(ctx, GetBalanceQuery{ChildID: "kid-1"})
			require.NoError(t, err)
			assert.Equal(t, want, view.Balance)
		})
	}
}

func TestGetBalance_ConsistentBypassesCache(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	cache := newMemCache()
	cache.put("kid-1", 999)
	q := NewGetBalanceHandler(s, cache, nil)

	view, err := q.Handle(ctx, GetBalanceQuery{ChildID: "kid-1", Consistent: true})
	require.NoError(t, err)
	assert.Zero(t, view.Balance)
	assert.Equal(t, SourceLedger, view.Source)
}

func TestGetBalance_CacheErrorFallsBackToLedger(t *testing.T) {
	s := openStore(t)
	cache := newMemCache()
	cache.getErr = errors.New("redis down")
	q := NewGetBalanceHandler(s, cache, nil)

	view, err := q.Handle(context.Background(), GetBalanceQuery{ChildID: "kid-1"})
	require.NoError(t, err)
	assert.Equal(t, SourceLedger, view.Source)
}

func TestGetBalance_RequiresChild(t *testing.T) {
	q := NewGetBalanceHandler(openStore(t), nil, nil)
	_, err := q.Handle(context.Background(), GetBalanceQuery{})
	assert.True(t, shared.IsValidation(err))
}

func TestListTransactions_PageAndRange(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	appender := command.NewAppendTransactionHandler(s, nil, nil, command.AppendTransactionConfig{})
	for i := 0; i < 5; i++ {
		_, err := appender.Handle(ctx, command.AppendTransactionCommand{ChildID: "kid-1", Amount: 2, Reason: "test"})
		require.NoError(t, err)
	}

	q := NewListTransactionsHandler(s)
	page, err := q.Handle(ctx, ListTransactionsQuery{ChildID: "kid-1", Limit: 3})
	require.NoError(t, err)
	assert.Len(t, page.Transactions, 3)
	assert.Equal(t, int64(6), page.PageSum)

	empty, err := q.Handle(ctx, ListTransactionsQuery{ChildID: "kid-2"})
	require.NoError(t, err)
	assert.NotNil(t, empty.Transactions)
	assert.Empty(t, empty.Transactions)

	_, err = q.Handle(ctx, ListTransactionsQuery{ChildID: "kid-1", From: time.Now(), To: time.Now().Add(-time.Hour)})
	assert.True(t, shared.IsValidation(err))
}

func TestGetProgress_UnstartedAndStarted(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	tp, err := topic.NewTopic(topic.NewTopicParams{
		ID:        uuid.NewString(),
		Title:     "Oceans",
		Sections:  []topic.SectionOutline{{Title: "Waves"}, {Title: "Tides"}},
		TargetAge: 7,
		Now:       time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, s.Create(ctx, tp))

	q := NewGetProgressHandler(s, s)
	view, err := q.Handle(ctx, GetProgressQuery{ChildID: "kid-1", TopicID: tp.ID})
	require.NoError(t, err)
	assert.Equal(t, progress.StateNotStarted, view.State)
	assert.True(t, view.Sections[0].Unlocked)
	assert.False(t, view.Sections[1].Unlocked)

	_, err = s.MarkSectionCompleted(ctx, "kid-1", tp.ID, 0, time.Now())
	require.NoError(t, err)

	view, err = q.Handle(ctx, GetProgressQuery{ChildID: "kid-1", TopicID: tp.ID})
	require.NoError(t, err)
	assert.Equal(t, progress.StateInProgress, view.State)
	assert.Equal(t, []int{0}, view.CompletedSections)
	assert.Equal(t, 1, view.NextSection)
	assert.True(t, view.Sections[1].Unlocked)
}

func TestGetStreak_EffectiveCountDecays(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	repo := s.Streaks()

	st, err := repo.Get(ctx, "kid-1")
	require.NoError(t, err)
	for d := 1; d <= 3; d++ {
		day := timeutil.DayOf(time.Date(2024, 5, d, 12, 0, 0, 0, time.UTC), time.UTC)
		st.RecordActivity(day)
	}
	require.NoError(t, repo.Save(ctx, st))

	now := time.Date(2024, 5, 3, 20, 0, 0, 0, time.UTC)
	q := NewGetStreakHandler(repo, time.UTC, func() time.Time { return now })

	view, err := q.Handle(ctx, "kid-1")
	require.NoError(t, err)
	assert.Equal(t, 3, view.Count)
	assert.True(t, view.BonusDay)
	assert.Equal(t, "2024-05-03", view.LastActivity)

	now = now.AddDate(0, 0, 3)
	view, err = q.Handle(ctx, "kid-1")
	require.NoError(t, err)
	assert.Zero(t, view.Count)
	assert.Equal(t, 3, view.StoredCount)
	assert.Equal(t, 3, view.BestCount)
	assert.False(t, view.BonusDay)
}

func TestGetAchievements_RecordedBadgesStayEarned(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	loader := NewMetricsLoader(s, s.Streaks(), s, time.UTC, nil)

	_, err := s.MarkEarned(ctx, "kid-1", []string{"first_sparks"}, time.Now())
	require.NoError(t, err)

	q := NewGetAchievementsHandler(loader, s, nil)
	view, err := q.Handle(ctx, "kid-1")
	require.NoError(t, err)
	assert.Zero(t, view.Metrics.Balance)
	assert.True(t, view.Achievements.IsEarned("first_sparks"))
	assert.False(t, view.Achievements.IsEarned("spark_collector"))
}
