package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/Najia-afk/Aria-moltbot-sub001/internal/agentpool"
	"github.com/Najia-afk/Aria-moltbot-sub001/pkg/models"
)

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetGauge().GetValue()
}

func TestPoolGauges_Observe(t *testing.T) {
	reg := prometheus.NewRegistry()
	gauges := NewPoolGauges(reg)

	gauges.Observe(agentpool.StatusSummary{
		CountsByStatus: map[models.AgentStatus]int{
			models.AgentBusy:  2,
			models.AgentIdle:  3,
			models.AgentError: 1,
		},
	})

	if got := gaugeValue(t, gauges.busy); got != 2 {
		t.Fatalf("busy gauge = %v, want 2", got)
	}
	if got := gaugeValue(t, gauges.idle); got != 3 {
		t.Fatalf("idle gauge = %v, want 3", got)
	}
	if got := gaugeValue(t, gauges.errored); got != 1 {
		t.Fatalf("error gauge = %v, want 1", got)
	}
}

func TestNewTracerProvider(t *testing.T) {
	tp := NewTracerProvider("ariad-test")
	if tp == nil {
		t.Fatal("expected non-nil tracer provider")
	}
}
