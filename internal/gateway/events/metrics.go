package events

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ai_gateway"

// latencyBuckets are in seconds.
var latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 120}

// Metrics exports lifecycle events as Prometheus series.
type Metrics struct {
	events   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	failover *prometheus.CounterVec
}

// NewMetrics registers the gateway collectors on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_total",
				Help:      "Gateway lifecycle events by type and provider",
			},
			[]string{"type", "provider"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "attempt_latency_seconds",
				Help:      "Latency of individual provider attempts",
				Buckets:   latencyBuckets,
			},
			[]string{"provider", "outcome"},
		),
		failover: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "failovers_total",
				Help:      "Providers abandoned in favour of the next candidate",
			},
			[]string{"provider"},
		),
	}

	for _, c := range []prometheus.Collector{m.events, m.latency, m.failover} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Observe implements Observer.
func (m *Metrics) Observe(_ context.Context, e Event) {
	m.events.WithLabelValues(string(e.Type), e.Provider).Inc()

	switch e.Type {
	case TypeResponse:
		m.latency.WithLabelValues(e.Provider, "success").Observe(e.Latency.Seconds())
	case TypeError:
		m.latency.WithLabelValues(e.Provider, "error").Observe(e.Latency.Seconds())
	case TypeFailover:
		m.failover.WithLabelValues(e.Provider).Inc()
	}
}

// RegisterAsync exports the drop and failure counts of a on reg.
func RegisterAsync(reg prometheus.Registerer, a *Async) error {
	collectors := []prometheus.Collector{
		prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sink_events_dropped_total",
				Help:      "Events discarded because the sink queue was full or closed",
			},
			func() float64 { return float64(a.Dropped()) },
		),
		prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sink_events_failed_total",
				Help:      "Events the sink failed to record",
			},
			func() float64 { return float64(a.Failed()) },
		),
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
