package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Ticks           prometheus.Counter
	TickDuration    prometheus.Histogram
	DueItems        prometheus.Gauge
	Outcomes        *prometheus.CounterVec
	PublishAttempts *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Ticks: factory.NewCounter(prometheus.CounterOpts{
			Name: "plume_scheduler_ticks_total",
			Help: "Scheduler ticks executed",
		}),
		TickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "plume_tick_duration_seconds",
			Help:    "Wall time of one scheduler tick",
			Buckets: prometheus.DefBuckets,
		}),
		DueItems: factory.NewGauge(prometheus.GaugeOpts{
			Name: "plume_due_items",
			Help: "Due posts found by the last tick",
		}),
		Outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "plume_runner_outcomes_total",
			Help: "Job runner outcomes by terminal state",
		}, []string{"state"}),
		PublishAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "plume_publish_attempts_total",
			Help: "Publish gateway calls by platform and result",
		}, []string{"platform", "result"}),
	}
}

func (m *Metrics) observeOutcome(state RunState) {
	if m == nil {
		return
	}
	m.Outcomes.WithLabelValues(string(state)).Inc()
}

func (m *Metrics) observeAttempt(platform string, success bool) {
	if m == nil {
		return
	}
	result := "failure"
	if success {
		result = "success"
	}
	m.PublishAttempts.WithLabelValues(platform, result).Inc()
}

func (m *Metrics) observeTick(summary TickSummary) {
	if m == nil {
		return
	}
	m.Ticks.Inc()
	m.TickDuration.Observe(summary.Duration.Seconds())
	m.DueItems.Set(float64(summary.Due))
}
