package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorders(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Resolution(OutcomeHit)
	m.Resolution(OutcomeHit)
	m.Resolution(OutcomeFallback)
	m.Reward("section", true)
	m.Reward("section", false)
	m.Drift()
	m.Job("reconcile_balances", 0.1, errors.New("boom"))
	m.Request("GET", "/v1/balance", 404, 0.01)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SectionResolutions.WithLabelValues(OutcomeHit)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SectionResolutions.WithLabelValues(OutcomeFallback)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RewardsIssued.WithLabelValues("section")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RewardsSkipped.WithLabelValues("section")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BalanceDrift))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobRuns.WithLabelValues("reconcile_balances", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/v1/balance", "4xx")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Resolution(OutcomeHit)
		m.Generator(1, nil)
		m.Reward("quiz", true)
		m.StreamOpened()
		m.StreamClosed()
	})
}
