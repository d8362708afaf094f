package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	JobsTotal      *prometheus.CounterVec
	PollIterations prometheus.Counter
	JobDuration    *prometheus.HistogramVec
	InFlight       prometheus.Gauge
}

// NewMetrics creates the generation metrics and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		JobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reelstudio",
			Name:      "generation_jobs_total",
			Help:      "Generation requests by kind and outcome.",
		}, []string{"kind", "outcome"}),
		PollIterations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "reelstudio",
			Name:      "generation_poll_iterations_total",
			Help:      "Poll iterations of video jobs.",
		}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "reelstudio",
			Name:      "generation_duration_seconds",
			Help:      "Time from start of processing to terminal state.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"kind"}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "reelstudio",
			Name:      "generation_in_flight",
			Help:      "Generations currently being processed.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.JobsTotal, m.PollIterations, m.JobDuration, m.InFlight)
	}
	return m
}

func (m *Metrics) observe(kind, outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.JobsTotal.WithLabelValues(kind, outcome).Inc()
	m.JobDuration.WithLabelValues(kind).Observe(time.Since(started).Seconds())
}
