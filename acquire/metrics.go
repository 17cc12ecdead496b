package acquire

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inflight prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "propacq",
			Subsystem: "acquire",
			Name:      "requests_total",
			Help:      "Acquisition requests by operation, portal and outcome.",
		}, []string{"operation", "portal", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "propacq",
			Subsystem: "acquire",
			Name:      "duration_seconds",
			Help:      "Acquisition latency by operation and outcome.",
			Buckets:   []float64{.005, .05, .5, 1, 2.5, 5, 10, 20, 40, 80},
		}, []string{"operation", "outcome"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "propacq",
			Subsystem: "acquire",
			Name:      "sessions_in_flight",
			Help:      "Browser sessions currently open.",
		}),
	}
	if reg == nil {
		return m
	}
	m.requests = register(reg, m.requests)
	m.duration = register(reg, m.duration)
	m.inflight = register(reg, m.inflight)
	return m
}

// register returns the already registered collector when reg has one with
// the same descriptor, so several services can share a registry.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

func (m *metrics) observe(operation, portal, outcome string, elapsed time.Duration) {
	m.requests.WithLabelValues(operation, portal, outcome).Inc()
	m.duration.WithLabelValues(operation, outcome).Observe(elapsed.Seconds())
}
