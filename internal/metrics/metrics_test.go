package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RefreshCompleted(OutcomeSuccess)
	m.RefreshCompleted(OutcomeSuccess)
	m.RefreshCompleted(OutcomeTerminalFailure)
	m.RefreshJoined()
	m.RefreshShortCircuited(ReasonCooldown)
	m.Unauthorized(RetryDispatched)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.refreshOperations.WithLabelValues(OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.refreshOperations.WithLabelValues(OutcomeTerminalFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.refreshJoined))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.shortCircuits.WithLabelValues(ReasonCooldown)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.shortCircuits.WithLabelValues(ReasonNoCredential)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retries.WithLabelValues(RetryDispatched)))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RefreshCompleted(OutcomeSuccess)
		m.RefreshJoined()
		m.RefreshShortCircuited(ReasonNoCredential)
		m.Unauthorized(RetryNotEligible)
	})
}

func TestRegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)

	assert.Panics(t, func() { NewMetrics(reg) })
}
