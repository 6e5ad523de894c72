// Package metrics holds the service's Prometheus collectors. A nil *Metrics
// is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "clipper"

type Metrics struct {
	reg *prometheus.Registry

	jobs         *prometheus.CounterVec
	stageSeconds *prometheus.HistogramVec
	renders      *prometheus.CounterVec
	publishes    *prometheus.CounterVec
	degradations *prometheus.CounterVec
	renderSlots  prometheus.Gauge
	queueDepth   prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		jobs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Jobs that reached a terminal status.",
		}, []string{"status"}),
		stageSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time per pipeline stage.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
		}, []string{"stage"}),
		renders: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "renders_total",
			Help:      "Render attempts by aspect ratio and result.",
		}, []string{"aspect", "result"}),
		publishes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publishes_total",
			Help:      "Output publications by result.",
		}, []string{"result"}),
		degradations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "degradations_total",
			Help:      "Jobs that continued in degraded mode, by cause.",
		}, []string{"kind"}),
		renderSlots: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "render_slots_busy",
			Help:      "Render pool slots currently held.",
		}),
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "job_queue_depth",
			Help:      "Jobs waiting for a worker.",
		}),
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) JobFinished(status string) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageSeconds.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) RenderAttempt(aspect string, err error) {
	if m == nil {
		return
	}
	m.renders.WithLabelValues(aspect, result(err)).Inc()
}

func (m *Metrics) Published(err error) {
	if m == nil {
		return
	}
	m.publishes.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) Degraded(kind string) {
	if m == nil {
		return
	}
	m.degradations.WithLabelValues(kind).Inc()
}

// RenderSlot tracks one held render slot; call the returned func on release.
func (m *Metrics) RenderSlot() func() {
	if m == nil {
		return func() {}
	}
	m.renderSlots.Inc()
	return m.renderSlots.Dec
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
