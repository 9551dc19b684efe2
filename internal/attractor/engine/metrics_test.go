package engine

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewMetricsRegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.StageDuration.WithLabelValues("node-a", "success").Observe(0.5)
	m.StageRetries.WithLabelValues("node-a").Inc()
	m.PipelinesInFlight.Inc()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{"attractor_stage_duration_seconds", "attractor_stage_retries_total", "attractor_pipelines_in_flight"} {
		if !names[want] {
			t.Errorf("missing metric family %q in %v", want, names)
		}
	}
}

func TestNewMetricsRegisteringTwiceOnSameRegistryPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)
	defer func() {
		if r := recover(); r == nil {
			t.Error("expected a panic from double-registering the same collectors")
		}
	}()
	NewMetrics(reg)
}
