package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors the engine updates as it runs
// pipelines. Callers mount Registerer wherever they expose /metrics
// (internal/httpapi does this via promhttp).
type Metrics struct {
	StageDuration     *prometheus.HistogramVec
	StageRetries      *prometheus.CounterVec
	PipelinesInFlight prometheus.Gauge
}

// NewMetrics registers the engine's collectors against reg. Passing a
// fresh prometheus.NewRegistry() per Engine keeps tests isolated from the
// global default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "attractor",
			Name:      "stage_duration_seconds",
			Help:      "Duration of a single node execution.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"node_id", "status"}),
		StageRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "attractor",
			Name:      "stage_retries_total",
			Help:      "Number of retry attempts made per node.",
		}, []string{"node_id"}),
		PipelinesInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "attractor",
			Name:      "pipelines_in_flight",
			Help:      "Number of pipeline runs currently executing.",
		}),
	}
	reg.MustRegister(m.StageDuration, m.StageRetries, m.PipelinesInFlight)
	return m
}
