package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/samber/do"
)

const namespace = "fanreply"

const (
	ReplySent      = "sent"
	ReplyExhausted = "exhausted"
	ReplyFailed    = "failed"

	GenerationOK       = "ok"
	GenerationFallback = "fallback"
)

// Metrics exposes counters for the monitor fleet. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	cyclesTotal      *prometheus.CounterVec
	cycleDuration    prometheus.Histogram
	repliesTotal     *prometheus.CounterVec
	generationsTotal *prometheus.CounterVec
	runningMonitors  prometheus.Gauge
}

func New(_ *do.Injector) (*Metrics, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := NewMetrics(registry)
	m.registry = registry

	return m, nil
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "cycles_total",
			Help:      "Polling cycles by result",
		}, []string{"result"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of a polling cycle",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		repliesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "replies_total",
			Help:      "Reply dispatch attempts by result",
		}, []string{"result"}),
		generationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "total",
			Help:      "Reply generations by backend and outcome",
		}, []string{"backend", "result"}),
		runningMonitors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fleet",
			Name:      "running_monitors",
			Help:      "Monitors currently running",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.cyclesTotal, m.cycleDuration, m.repliesTotal, m.generationsTotal, m.runningMonitors)
	return m
}

// Gatherer returns the registry the metrics were registered with when built
// through the injector, otherwise the default gatherer.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil || m.registry == nil {
		return prometheus.DefaultGatherer
	}
	return m.registry
}

func (m *Metrics) ObserveCycle(err error, duration time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.cyclesTotal.WithLabelValues(result).Inc()
	m.cycleDuration.Observe(duration.Seconds())
}

func (m *Metrics) ObserveReply(result string) {
	if m == nil {
		return
	}
	m.repliesTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveGeneration(backend, result string) {
	if m == nil {
		return
	}
	m.generationsTotal.WithLabelValues(backend, result).Inc()
}

func (m *Metrics) SetRunningMonitors(n int) {
	if m == nil {
		return
	}
	m.runningMonitors.Set(float64(n))
}
