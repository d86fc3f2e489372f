// Package handlers contains reusable HTTP pieces: health checks and middleware.
package handlers

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH CHECKS
// Critical probes (the stores) decide readiness. Optional probes (Redis, the
// generator breaker) only mark the service degraded: sections still resolve
// from storage or as fallbacks, and balances fall back to the ledger sum.
// ══════════════════════════════════════════════════════════════════════════════

// HealthChecker is what the server's probe endpoints depend on.
type HealthChecker interface {
	Check(ctx context.Context) HealthStatus
	AddCheck(name string, check HealthCheckFunc)
	RemoveCheck(name string)
}

// HealthCheckFunc returns an error when the dependency is unusable.
type HealthCheckFunc func(ctx context.Context) error

// HealthStatus is the aggregated probe result.
type HealthStatus struct {
	Healthy  bool   `json:"healthy"`
	Ready    bool   `json:"ready"`
	Degraded bool   `json:"degraded,omitempty"`
	Message  string `json:"message,omitempty"`

	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Uptime    string                 `json:"uptime,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
}

// CheckResult is one probe's outcome.
type CheckResult struct {
	Healthy  bool   `json:"healthy"`
	Critical bool   `json:"critical"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration,omitempty"`
}

type probe struct {
	check    HealthCheckFunc
	critical bool
}

// CompositeHealthChecker runs every registered probe concurrently, each under
// its own timeout.
type CompositeHealthChecker struct {
	mu      sync.RWMutex
	probes  map[string]probe
	started time.Time
	version string
	timeout time.Duration
}

// NewCompositeHealthChecker creates a checker with a 5s per-probe timeout.
func NewCompositeHealthChecker(version string) *CompositeHealthChecker {
	return &CompositeHealthChecker{
		probes:  make(map[string]probe),
		started: time.Now(),
		version: version,
		timeout: 5 * time.Second,
	}
}

// SetTimeout changes the per-probe timeout.
func (c *CompositeHealthChecker) SetTimeout(timeout time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeout = timeout
}

// AddCheck registers a critical probe.
func (c *CompositeHealthChecker) AddCheck(name string, check HealthCheckFunc) {
	c.set(name, probe{check: check, critical: true})
}

// AddOptionalCheck registers a probe whose failure only degrades the service.
func (c *CompositeHealthChecker) AddOptionalCheck(name string, check HealthCheckFunc) {
	c.set(name, probe{check: check})
}

// RemoveCheck drops a probe.
func (c *CompositeHealthChecker) RemoveCheck(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.probes, name)
}

func (c *CompositeHealthChecker) set(name string, p probe) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probes[name] = p
}

// Check runs all probes and aggregates them.
func (c *CompositeHealthChecker) Check(ctx context.Context) HealthStatus {
	c.mu.RLock()
	names := make([]string, 0, len(c.probes))
	probes := make([]probe, 0, len(c.probes))
	for name, p := range c.probes {
		names = append(names, name)
		probes = append(probes, p)
	}
	timeout := c.timeout
	c.mu.RUnlock()

	status := HealthStatus{
		Healthy:   true,
		Ready:     true,
		Checks:    make(map[string]CheckResult, len(names)),
		Uptime:    time.Since(c.started).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
		Version:   c.version,
	}
	if len(probes) == 0 {
		status.Message = "No health checks registered"
		return status
	}

	// Probe errors are results, not group failures, so Wait never returns one.
	results := make([]CheckResult, len(probes))
	var g errgroup.Group
	for i, p := range probes {
		g.Go(func() error {
			results[i] = runProbe(ctx, p, timeout)
			return nil
		})
	}
	_ = g.Wait()

	var failed []string
	for i, res := range results {
		status.Checks[names[i]] = res
		switch {
		case res.Healthy:
		case res.Critical:
			status.Healthy = false
			status.Ready = false
			failed = append(failed, names[i])
		default:
			status.Degraded = true
		}
	}

	switch {
	case !status.Healthy:
		sort.Strings(failed)
		status.Message = "Some checks failed: " + strings.Join(failed, ", ")
	case status.Degraded:
		status.Message = "Degraded"
	default:
		status.Message = "All checks passed"
	}
	return status
}

func runProbe(ctx context.Context, p probe, timeout time.Duration) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := p.check(ctx)

	res := CheckResult{
		Healthy:  err == nil,
		Critical: p.critical,
		Message:  "OK",
		Duration: time.Since(start).Round(time.Millisecond).String(),
	}
	if err != nil {
		res.Message = err.Error()
	}
	return res
}

// ══════════════════════════════════════════════════════════════════════════════
// PROBES
// ══════════════════════════════════════════════════════════════════════════════

// Pinger is implemented by the stores and the Redis client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewPingCheck probes a dependency with Ping.
func NewPingCheck(p Pinger) HealthCheckFunc {
	return p.Ping
}

var errGeneratorDegraded = errors.New("generator circuit open, serving fallback content")

// NewGeneratorCheck fails while open reports the generator breaker as open.
func NewGeneratorCheck(open func() bool) HealthCheckFunc {
	return func(context.Context) error {
		if open() {
			return errGeneratorDegraded
		}
		return nil
	}
}
