package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

var errDown = errors.New("down")

func fail(context.Context) error    { return errDown }
func succeed(context.Context) error { return nil }

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	b := New("test", WithFailureThreshold(2), WithOpenTimeout(time.Minute), WithClock(clock.Now))

	assert.ErrorIs(t, b.Execute(context.Background(), fail), errDown)
	assert.Equal(t, StateClosed, b.State())
	assert.ErrorIs(t, b.Execute(context.Background(), fail), errDown)
	assert.Equal(t, StateOpen, b.State())

	called := false
	err := b.Execute(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrOpen)
	assert.True(t, IsRejection(err))
	assert.False(t, called)
}

func TestBreaker_HalfOpenProbeCloses(t *testing.T) {
	var transitions []string
	clock := &fakeClock{now: time.Unix(0, 0)}
	b := New("test",
		WithFailureThreshold(1),
		WithSuccessThreshold(1),
		WithOpenTimeout(time.Minute),
		WithClock(clock.Now),
		WithOnStateChange(func(_ string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		}),
	)

	_ = b.Execute(context.Background(), fail)
	clock.Advance(time.Minute)

	assert.NoError(t, b.Execute(context.Background(), succeed))
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	b := New("test", WithFailureThreshold(1), WithOpenTimeout(time.Second), WithClock(clock.Now))

	_ = b.Execute(context.Background(), fail)
	clock.Advance(time.Second)
	_ = b.Execute(context.Background(), fail)

	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Execute(context.Background(), succeed), ErrOpen)
}

func TestBreaker_IsFailureFilter(t *testing.T) {
	ignored := errors.New("caller error")
	b := New("test", WithFailureThreshold(1), WithIsFailure(func(err error) bool { return !errors.Is(err, ignored) }))

	_ = b.Execute(context.Background(), func(context.Context) error { return ignored })
	assert.Equal(t, StateClosed, b.State())
}
