// Package observability wires the Prometheus gauges and OpenTelemetry
// tracing for the runtime's hot paths: agent pool status
// gauges and a turn-level tracing span around the chat engine.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Najia-afk/Aria-moltbot-sub001/internal/agentpool"
	"github.com/Najia-afk/Aria-moltbot-sub001/pkg/models"
)

// PoolGauges exports agentpool.Pool.Status() as Prometheus gauges.
type PoolGauges struct {
	busy    prometheus.Gauge
	idle    prometheus.Gauge
	errored prometheus.Gauge
	other   prometheus.Gauge
}

// NewPoolGauges registers the pool gauges against reg. Pass
// prometheus.DefaultRegisterer for the process-wide default registry.
func NewPoolGauges(reg prometheus.Registerer) *PoolGauges {
	factory := promauto.With(reg)
	return &PoolGauges{
		busy:    factory.NewGauge(prometheus.GaugeOpts{Name: "aria_agent_pool_busy", Help: "Number of agents currently processing a turn."}),
		idle:    factory.NewGauge(prometheus.GaugeOpts{Name: "aria_agent_pool_idle", Help: "Number of agents idle and available for dispatch."}),
		errored: factory.NewGauge(prometheus.GaugeOpts{Name: "aria_agent_pool_error", Help: "Number of agents in the error state."}),
		other:   factory.NewGauge(prometheus.GaugeOpts{Name: "aria_agent_pool_other", Help: "Agents disabled or terminated."}),
	}
}

// Observe updates the gauges from a StatusSummary snapshot.
func (g *PoolGauges) Observe(s agentpool.StatusSummary) {
	g.busy.Set(float64(s.CountsByStatus[models.AgentBusy]))
	g.idle.Set(float64(s.CountsByStatus[models.AgentIdle]))
	g.errored.Set(float64(s.CountsByStatus[models.AgentError]))
	g.other.Set(float64(s.CountsByStatus[models.AgentDisabled] + s.CountsByStatus[models.AgentTerminated]))
}

// SchedulerGauges exports cron job concurrency.
type SchedulerGauges struct {
	RunningJobs  prometheus.Gauge
	SkippedFires prometheus.Counter
}

// NewSchedulerGauges registers the scheduler gauges against reg.
func NewSchedulerGauges(reg prometheus.Registerer) *SchedulerGauges {
	factory := promauto.With(reg)
	return &SchedulerGauges{
		RunningJobs: factory.NewGauge(prometheus.GaugeOpts{Name: "aria_scheduler_running_jobs", Help: "Cron jobs currently executing."}),
		SkippedFires: factory.NewCounter(prometheus.CounterOpts{Name: "aria_scheduler_skipped_fires_total", Help: "Fires skipped because the concurrency cap was reached."}),
	}
}

// JobStarted, JobFinished, and FireSkipped satisfy scheduler.MetricsHook.
func (g *SchedulerGauges) JobStarted()  { g.RunningJobs.Inc() }
func (g *SchedulerGauges) JobFinished() { g.RunningJobs.Dec() }
func (g *SchedulerGauges) FireSkipped() { g.SkippedFires.Inc() }
