package lock

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var waitBuckets = []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60}

type metrics struct {
	waitSeconds *prometheus.HistogramVec
	held        *prometheus.GaugeVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		waitSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "portal",
			Subsystem: "lock",
			Name:      "wait_seconds",
			Help:      "Time spent waiting to acquire a keyed lock",
			Buckets:   waitBuckets,
		}, []string{"mode"}),
		held: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "portal",
			Subsystem: "lock",
			Name:      "held",
			Help:      "Number of keyed locks currently held",
		}, []string{"mode"}),
	}
	if err := reg.Register(m.waitSeconds); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(*prometheus.HistogramVec); ok {
				m.waitSeconds = existing
			}
		}
	}
	if err := reg.Register(m.held); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(*prometheus.GaugeVec); ok {
				m.held = existing
			}
		}
	}
	return m
}

func (m *metrics) acquired(mode string, waited time.Duration) {
	if m == nil {
		return
	}
	m.waitSeconds.WithLabelValues(mode).Observe(waited.Seconds())
	m.held.WithLabelValues(mode).Inc()
}

func (m *metrics) released(mode string) {
	if m == nil {
		return
	}
	m.held.WithLabelValues(mode).Dec()
}
