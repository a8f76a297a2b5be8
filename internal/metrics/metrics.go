// Package metrics exposes prometheus counters for the refresh and retry paths.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "authclient"

const (
	OutcomeSuccess          = "success"
	OutcomeTransientFailure = "transient_failure"
	OutcomeTerminalFailure  = "terminal_failure"
	// the credential was cleared or replaced while the refresh was running
	OutcomeSuperseded = "superseded"

	ReasonCooldown     = "cooldown"
	ReasonNoCredential = "no_credential"

	RetryDispatched    = "retried"
	RetryRefreshFailed = "refresh_failed"
	RetryNotEligible   = "not_eligible"
)

// Metrics is safe to use as a nil pointer, in which case nothing is recorded.
type Metrics struct {
	refreshOperations *prometheus.CounterVec
	refreshJoined     prometheus.Counter
	shortCircuits     *prometheus.CounterVec
	retries           *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		refreshOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_operations_total",
			Help:      "Backend refresh calls by outcome.",
		}, []string{"outcome"}),
		refreshJoined: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_joined_total",
			Help:      "Refresh requests that subscribed to an operation already in flight.",
		}),
		shortCircuits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_short_circuits_total",
			Help:      "Refresh requests answered without contacting the backend.",
		}, []string{"reason"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_retries_total",
			Help:      "Unauthorized responses handled by the interceptor.",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) RefreshCompleted(outcome string) {
	if m == nil {
		return
	}
	m.refreshOperations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RefreshJoined() {
	if m == nil {
		return
	}
	m.refreshJoined.Inc()
}

func (m *Metrics) RefreshShortCircuited(reason string) {
	if m == nil {
		return
	}
	m.shortCircuits.WithLabelValues(reason).Inc()
}

func (m *Metrics) Unauthorized(outcome string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(outcome).Inc()
}
