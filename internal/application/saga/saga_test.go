package saga

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sparkquest/sparkquest-hub/internal/application/command"
	"github.com/sparkquest/sparkquest-hub/internal/application/query"
	"github.com/sparkquest/sparkquest-hub/internal/domain/achievement"
	"github.com/sparkquest/sparkquest-hub/internal/domain/shared"
	"github.com/sparkquest/sparkquest-hub/internal/domain/topic"
	"github.com/sparkquest/sparkquest-hub/internal/infrastructure/persistence/sqlite"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (p *capturePublisher) Publish(e shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *capturePublisher) ofType(t shared.EventType) []shared.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []shared.Event
	for _, e := range p.events {
		if e.EventType() == t {
			out = append(out, e)
		}
	}
	return out
}

type fixedMetrics struct {
	m   achievement.Metrics
	err error
}

func (f *fixedMetrics) Load(ctx context.Context, childID string) (achievement.Metrics, error) {
	return f.m, f.err
}

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(filepath.Join(t.TempDir(), "core.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAchievementFlow_EdgeTriggered(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	src := &fixedMetrics{m: achievement.Metrics{Balance: 12}}
	pub := &capturePublisher{}
	flow := NewAchievementFlowSaga(src, s, pub, AchievementFlowConfig{})

	first, err := flow.Execute(ctx, AchievementCheckInput{ChildID: "kid-1"})
	require.NoError(t, err)
	require.Len(t, first.NewlyEarned, 1)
	assert.Equal(t, "first_sparks", first.NewlyEarned[0].ID)

	second, err := flow.Execute(ctx, AchievementCheckInput{ChildID: "kid-1"})
	require.NoError(t, err)
	assert.False(t, second.HasNewAchievements())

	src.m = achievement.Metrics{Balance: 120, StreakDays: 3}
	third, err := flow.Execute(ctx, AchievementCheckInput{ChildID: "kid-1"})
	require.NoError(t, err)
	ids := []string{}
	for _, st := range third.NewlyEarned {
		ids = append(ids, st.ID)
	}
	assert.ElementsMatch(t, []string{"spark_collector", "streak_3"}, ids)

	assert.Len(t, pub.ofType(shared.EventAchievementUnlocked), 2)
}

func TestAchievementFlow_LapsedStreakBadgeIsNotReported(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	src := &fixedMetrics{m: achievement.Metrics{StreakDays: 3}}
	flow := NewAchievementFlowSaga(src, s, nil, AchievementFlowConfig{})

	first, err := flow.Execute(ctx, AchievementCheckInput{ChildID: "kid-1"})
	require.NoError(t, err)
	require.Len(t, first.NewlyEarned, 1)
	assert.Equal(t, "streak_3", first.NewlyEarned[0].ID)

	// The streak breaks; the badge stays recorded.
	src.m = achievement.Metrics{StreakDays: 1}
	lapsed, err := flow.Execute(ctx, AchievementCheckInput{ChildID: "kid-1"})
	require.NoError(t, err)
	assert.False(t, lapsed.HasNewAchievements())

	ids, err := s.EarnedIDs(ctx, "kid-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"streak_3"}, ids)

	src.m = achievement.Metrics{StreakDays: 3}
	again, err := flow.Execute(ctx, AchievementCheckInput{ChildID: "kid-1"})
	require.NoError(t, err)
	assert.False(t, again.HasNewAchievements(), "a badge is celebrated once per child")
}

func TestAchievementFlow_ConcurrentSessionsReportOnce(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	src := &fixedMetrics{m: achievement.Metrics{Explorations: 1}}
	flow := NewAchievementFlowSaga(src, s, nil, AchievementFlowConfig{})

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := flow.Execute(ctx, AchievementCheckInput{ChildID: "kid-1"})
			if assert.NoError(t, err) {
				mu.Lock()
				total += len(res.NewlyEarned)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, total)
}

func TestAchievementFlow_ReportsFailedStep(t *testing.T) {
	s := openStore(t)
	flow := NewAchievementFlowSaga(&fixedMetrics{err: errors.New("db gone")}, s, nil, AchievementFlowConfig{})

	_, err := flow.Execute(context.Background(), AchievementCheckInput{ChildID: "kid-1"})
	require.Error(t, err)
	assert.Equal(t, string(StepLoadMetrics), FailedStep(err))

	_, err = flow.Execute(context.Background(), AchievementCheckInput{})
	assert.True(t, shared.IsValidation(err))
}

func TestLearningFlow_SectionRewardStreakAndBadge(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	pub := &capturePublisher{}

	tp, err := topic.NewTopic(topic.NewTopicParams{
		ID:        uuid.NewString(),
		Title:     "Dinosaurs",
		Sections:  []topic.SectionOutline{{Title: "Eggs"}, {Title: "Bones"}},
		TargetAge: 6,
		Now:       time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, s.Create(ctx, tp))

	ledgerHandler := command.NewAppendTransactionHandler(s, nil, pub, command.AppendTransactionConfig{})
	cfg := command.ProgressConfig{
		Topics:    s,
		Progress:  s,
		Ledger:    ledgerHandler,
		Publisher: pub,
		Rewards:   command.DefaultRewardSchedule(),
	}
	loader := query.NewMetricsLoader(s, s.Streaks(), s, time.UTC, nil)
	flow := NewLearningFlowSaga(LearningFlowDeps{
		Sections:     command.NewCompleteSectionHandler(cfg),
		Quizzes:      command.NewCompleteQuizHandler(cfg),
		Certificates: command.NewIssueCertificateHandler(cfg),
		Activity:     command.NewRecordActivityHandler(s.Streaks(), ledgerHandler, pub, command.RecordActivityConfig{BonusAmount: 5}),
		Achievements: NewAchievementFlowSaga(loader, s, pub, AchievementFlowConfig{}),
	})

	res, err := flow.CompleteSection(ctx, command.CompleteSectionCommand{
		ProgressCommand: command.ProgressCommand{ChildID: "kid-1", TopicID: tp.ID},
		SectionIndex:    0,
	})
	require.NoError(t, err)
	require.NotNil(t, res.Progress.Reward)
	require.NotNil(t, res.Streak)
	assert.Equal(t, 1, res.Streak.State.Count)
	require.NotNil(t, res.Achievements)

	ids := []string{}
	for _, st := range res.Achievements.NewlyEarned {
		ids = append(ids, st.ID)
	}
	assert.ElementsMatch(t, []string{"first_sparks", "explorer_1"}, ids)

	// Review: no reward, no new badges, but still counted as activity.
	again, err := flow.CompleteSection(ctx, command.CompleteSectionCommand{
		ProgressCommand: command.ProgressCommand{ChildID: "kid-1", TopicID: tp.ID},
		SectionIndex:    0,
	})
	require.NoError(t, err)
	assert.True(t, again.Progress.Review)
	require.NotNil(t, again.Achievements)
	assert.Empty(t, again.Achievements.NewlyEarned)

	_, err = flow.CompleteQuiz(ctx, command.CompleteQuizCommand{
		ProgressCommand: command.ProgressCommand{ChildID: "kid-1", TopicID: tp.ID},
	})
	assert.True(t, shared.IsSequenceViolation(err))
}
