// Package metrics exposes the watchdog's Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "watchdog"

// Funding attempt outcomes used as the "outcome" label.
const (
	OutcomeSuccess      = "success"
	OutcomeTransferFail = "transfer_failed"
	OutcomeDepositFail  = "deposit_failed"
	OutcomeInsufficient = "insufficient_reserve"
)

// Metrics holds the watchdog's collectors in a dedicated registry. All
// methods are safe to call on a nil *Metrics and do nothing in that case.
type Metrics struct {
	registry *prometheus.Registry

	checks            prometheus.Counter
	fundingAttempts   *prometheus.CounterVec
	wakeupsRegistered prometheus.Counter
	escrowBalance     prometheus.Gauge
	checkCount        prometheus.Gauge
	stopped           prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()

	checks := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "checks_total",
		Help:      "Deployment balance checks run.",
	})
	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "funding_attempts_total",
		Help:      "Funding workflow runs by outcome.",
	}, []string{"outcome"})
	wakeups := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "wakeups_registered_total",
		Help:      "Wakeups registered with the timer service.",
	})
	escrow := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "escrow_balance",
		Help:      "Reserve held in escrow, in minor units.",
	})
	count := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "check_count",
		Help:      "Current check counter of the scheduler.",
	})
	stopped := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "stopped",
		Help:      "1 once the scheduler has stopped.",
	})

	reg.MustRegister(checks, attempts, wakeups, escrow, count, stopped)

	return &Metrics{
		registry:          reg,
		checks:            checks,
		fundingAttempts:   attempts,
		wakeupsRegistered: wakeups,
		escrowBalance:     escrow,
		checkCount:        count,
		stopped:           stopped,
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) CheckRan() {
	if m == nil {
		return
	}
	m.checks.Inc()
}

func (m *Metrics) FundingAttempt(outcome string) {
	if m == nil {
		return
	}
	m.fundingAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) WakeupRegistered() {
	if m == nil {
		return
	}
	m.wakeupsRegistered.Inc()
}

// SetEscrowBalance records the reserve. Values beyond float64 precision are
// approximated.
func (m *Metrics) SetEscrowBalance(v float64) {
	if m == nil {
		return
	}
	m.escrowBalance.Set(v)
}

func (m *Metrics) SetCheckCount(n int) {
	if m == nil {
		return
	}
	m.checkCount.Set(float64(n))
}

func (m *Metrics) SetStopped() {
	if m == nil {
		return
	}
	m.stopped.Set(1)
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
