// Package circuitbreaker stops calling a failing dependency for a cool-down
// period and lets a limited number of probes through before closing again.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State of a breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var (
	// ErrOpen is returned without calling the dependency while the breaker is open.
	ErrOpen = errors.New("circuit breaker is open")
	// ErrProbeLimit is returned when half-open probes are already in flight.
	ErrProbeLimit = errors.New("circuit breaker probe limit reached")
)

// Settings configures a Breaker.
type Settings struct {
	Name string

	// FailureThreshold consecutive failures open the breaker. Default: 5.
	FailureThreshold int

	// SuccessThreshold consecutive half-open successes close it. Default: 2.
	SuccessThreshold int

	// OpenTimeout is how long the breaker stays open. Default: 30s.
	OpenTimeout time.Duration

	// MaxProbes bounds concurrent half-open calls. Default: 1.
	MaxProbes int

	// IsFailure filters which errors count. Nil counts every non-nil error.
	IsFailure func(error) bool

	// OnStateChange observes transitions.
	OnStateChange func(name string, from, to State)

	// Now is the clock. Default: time.Now.
	Now func() time.Time
}

// Option mutates Settings.
type Option func(*Settings)

func WithFailureThreshold(n int) Option {
	return func(s *Settings) {
		if n > 0 {
			s.FailureThreshold = n
		}
	}
}

func WithSuccessThreshold(n int) Option {
	return func(s *Settings) {
		if n > 0 {
			s.SuccessThreshold = n
		}
	}
}

func WithOpenTimeout(d time.Duration) Option {
	return func(s *Settings) {
		if d > 0 {
			s.OpenTimeout = d
		}
	}
}

func WithMaxProbes(n int) Option {
	return func(s *Settings) {
		if n > 0 {
			s.MaxProbes = n
		}
	}
}

func WithIsFailure(fn func(error) bool) Option {
	return func(s *Settings) { s.IsFailure = fn }
}

func WithOnStateChange(fn func(name string, from, to State)) Option {
	return func(s *Settings) { s.OnStateChange = fn }
}

// WithClock replaces time.Now, used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Settings) {
		if now != nil {
			s.Now = now
		}
	}
}

// Breaker is safe for concurrent use.
type Breaker struct {
	settings Settings

	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	openedAt    time.Time
	probesInUse int
}

// New creates a closed Breaker.
func New(name string, opts ...Option) *Breaker {
	s := Settings{
		Name:             name,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
		MaxProbes:        1,
		Now:              time.Now,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return &Breaker{settings: s}
}

// Execute calls fn unless the breaker rejects the call.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}
	err = fn(ctx)
	b.record(err, probe)
	return err
}

func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.settings.Now().Sub(b.openedAt) < b.settings.OpenTimeout {
			return false, ErrOpen
		}
		b.transition(StateHalfOpen)
		fallthrough
	case StateHalfOpen:
		if b.probesInUse >= b.settings.MaxProbes {
			return false, ErrProbeLimit
		}
		b.probesInUse++
		return true, nil
	default:
		return false, nil
	}
}

func (b *Breaker) record(err error, probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe && b.probesInUse > 0 {
		b.probesInUse--
	}

	failed := err != nil
	if failed && b.settings.IsFailure != nil {
		failed = b.settings.IsFailure(err)
	}

	if failed {
		b.successes = 0
		b.failures++
		if b.state == StateHalfOpen || b.failures >= b.settings.FailureThreshold {
			b.openedAt = b.settings.Now()
			b.transition(StateOpen)
		}
		return
	}

	b.failures = 0
	if b.state == StateHalfOpen {
		b.successes++
		if b.successes >= b.settings.SuccessThreshold {
			b.transition(StateClosed)
		}
	}
}

func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	b.failures = 0
	b.successes = 0
	if to != StateHalfOpen {
		b.probesInUse = 0
	}
	if b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.settings.Name, from, to)
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Name returns the breaker name.
func (b *Breaker) Name() string { return b.settings.Name }

// IsRejection reports whether err came from the breaker rather than the dependency.
func IsRejection(err error) bool {
	return errors.Is(err, ErrOpen) || errors.Is(err, ErrProbeLimit)
}

// GeneratorBreaker is tuned for the content generator: a handful of failures
// opens it, and one successful probe closes it.
func GeneratorBreaker(threshold int, openTimeout time.Duration, onStateChange func(name string, from, to State)) *Breaker {
	return New(
		"content-generator",
		WithFailureThreshold(threshold),
		WithSuccessThreshold(1),
		WithOpenTimeout(openTimeout),
		WithMaxProbes(1),
		WithOnStateChange(onStateChange),
	)
}
