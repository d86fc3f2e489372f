package eventhandler

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sparkquest/sparkquest-hub/internal/domain/achievement"
	"github.com/sparkquest/sparkquest-hub/internal/domain/shared"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []shared.AchievementsEvent
}

func (p *capturePublisher) Publish(e shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ae, ok := e.(shared.AchievementsEvent); ok {
		p.events = append(p.events, ae)
	}
	return nil
}

func (p *capturePublisher) celebrations() []shared.AchievementsEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]shared.AchievementsEvent(nil), p.events...)
}

func TestCelebration_DebouncesWithinCooldown(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	pub := &capturePublisher{}
	h := NewCelebrationHandler(achievement.NewDebouncer(5*time.Second, clock), pub, CelebrationConfig{})

	require.NoError(t, h.Handle(shared.NewAchievementUnlockedEvent("kid-1", []string{"first_sparks"}, []string{"First Sparks"})))
	require.Len(t, pub.celebrations(), 1)
	assert.Equal(t, shared.EventCelebrationTriggered, pub.celebrations()[0].EventType())

	now = now.Add(time.Second)
	require.NoError(t, h.Handle(shared.NewAchievementUnlockedEvent("kid-1", []string{"streak_3"}, nil)))
	require.NoError(t, h.Handle(shared.NewAchievementUnlockedEvent("kid-1", []string{"explorer_1"}, nil)))
	assert.Len(t, pub.celebrations(), 1, "held inside the cooldown")

	n, err := h.Flush()
	require.NoError(t, err)
	assert.Zero(t, n)

	now = now.Add(5 * time.Second)
	n, err = h.Flush()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	merged := pub.celebrations()[1]
	assert.Equal(t, []string{"streak_3", "explorer_1"}, merged.AchievementIDs)
	assert.Equal(t, []string{"Three in a Row", "Curious Mind"}, merged.Labels)
}

func TestCelebration_ChildrenAreIndependent(t *testing.T) {
	pub := &capturePublisher{}
	h := NewCelebrationHandler(achievement.NewDebouncer(time.Minute, nil), pub, CelebrationConfig{})

	require.NoError(t, h.Handle(shared.NewAchievementUnlockedEvent("kid-1", []string{"first_sparks"}, nil)))
	require.NoError(t, h.Handle(shared.NewAchievementUnlockedEvent("kid-2", []string{"first_sparks"}, nil)))
	assert.Len(t, pub.celebrations(), 2)
}

func TestCelebration_DisabledChildAndForeignEvents(t *testing.T) {
	pub := &capturePublisher{}
	h := NewCelebrationHandler(achievement.NewDebouncer(0, nil), pub, CelebrationConfig{
		Enabled: func(childID string) bool { return childID != "kid-quiet" },
	})

	require.NoError(t, h.Handle(shared.NewAchievementUnlockedEvent("kid-quiet", []string{"first_sparks"}, nil)))
	require.NoError(t, h.Handle(shared.NewStreakUpdatedEvent("kid-1", 3, "2024-05-01", false, true)))
	assert.Empty(t, pub.celebrations())
}
