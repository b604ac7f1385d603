package entitymanager

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "entity_manager"
)

// Metrics holds the collectors updated by entity managers. One Metrics value
// is shared by every session of a process.
type Metrics struct {
	flushDuration *prometheus.HistogramVec
	statements    *prometheus.CounterVec
	flushFailures prometheus.Counter
	lookups       *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil
// registerer creates unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		flushDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "flush_duration_seconds",
				Help:      "Duration of flushes in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		statements: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "statements_total",
				Help:      "Total number of committed write statements by operation",
			},
			[]string{"op"},
		),
		flushFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "flush_failures_total",
				Help:      "Total number of flushes rolled back",
			},
		),
		lookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "identity_lookups_total",
				Help:      "Total number of Find lookups by identity map result",
			},
			[]string{"result"},
		),
	}
}

func (m *Metrics) observeFlush(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.flushDuration.WithLabelValues(status).Observe(d.Seconds())
	if status == "failed" {
		m.flushFailures.Inc()
	}
}

func (m *Metrics) addStatements(inserts, updates, deletes int) {
	if m == nil {
		return
	}
	m.statements.WithLabelValues("insert").Add(float64(inserts))
	m.statements.WithLabelValues("update").Add(float64(updates))
	m.statements.WithLabelValues("delete").Add(float64(deletes))
}

func (m *Metrics) lookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.lookups.WithLabelValues(result).Inc()
}
