package deployment

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var durationBuckets = []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600}

type metrics struct {
	results  *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portal",
			Subsystem: "deployment",
			Name:      "results_total",
			Help:      "Number of deployment outcomes",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "portal",
			Subsystem: "deployment",
			Name:      "duration_seconds",
			Help:      "Time spent running a deployment once its lock is held",
			Buckets:   durationBuckets,
		}, []string{"outcome"}),
	}
	for _, collector := range []prometheus.Collector{m.results, m.duration} {
		if err := reg.Register(collector); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				continue
			}
			switch existing := already.ExistingCollector.(type) {
			case *prometheus.CounterVec:
				m.results = existing
			case *prometheus.HistogramVec:
				m.duration = existing
			}
		}
	}
	return m
}

func (m *metrics) observe(outcome Outcome, err error, took time.Duration) {
	if m == nil {
		return
	}
	label := "ready"
	switch {
	case err != nil:
		label = "error"
	case !outcome.Ready():
		label = "not_deployed"
	}
	m.results.WithLabelValues(label).Inc()
	m.duration.WithLabelValues(label).Observe(took.Seconds())
}
