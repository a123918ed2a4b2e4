// Package obsmetrics is an in-process Prometheus registry for engine
// diagnostics. No HTTP endpoint is exposed here — exposition is a transport
// concern outside this module's scope — but the registry itself is real,
// tested, and the natural handoff point for one.
package obsmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Registry bundles the counters and gauges engine/batch code updates as it
// runs. Safe for concurrent use — prometheus collectors are internally
// synchronized.
type Registry struct {
	reg *prometheus.Registry

	FillsTotal        *prometheus.CounterVec // labels: side
	RejectionsTotal   *prometheus.CounterVec // labels: reason
	OrdersRejected    prometheus.Counter
	RunsTotal         prometheus.Counter
	BatchTasksRunning prometheus.Gauge
}

// New creates a Registry with all collectors registered.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		FillsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "channelhf_fills_total",
			Help: "Number of broker fills, by side.",
		}, []string{"side"}),
		RejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "channelhf_rejections_total",
			Help: "Number of risk-overlay order rejections, by rule.",
		}, []string{"reason"}),
		OrdersRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "channelhf_orders_rejected_total",
			Help: "Number of orders the broker could not fill (bad symbol, non-positive qty, cash, or limit).",
		}),
		RunsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "channelhf_runs_total",
			Help: "Number of engine runs started.",
		}),
		BatchTasksRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "channelhf_batch_tasks_running",
			Help: "Current number of running batch tasks.",
		}),
	}

	reg.MustRegister(r.FillsTotal, r.RejectionsTotal, r.OrdersRejected, r.RunsTotal, r.BatchTasksRunning)
	return r
}

// Gather returns the current metric families of the registry.
func (r *Registry) Gather() ([]*dto.MetricFamily, error) {
	return r.reg.Gather()
}

// Snapshot flattens the scalar (unlabeled) collectors into a plain map,
// cheap to embed in an NDJSON event without dragging the protobuf metric
// family shape onto the wire.
func (r *Registry) Snapshot() map[string]float64 {
	out := make(map[string]float64, 3)

	var m dto.Metric
	if err := r.RunsTotal.Write(&m); err == nil {
		out["runs_total"] = m.GetCounter().GetValue()
	}
	m = dto.Metric{}
	if err := r.OrdersRejected.Write(&m); err == nil {
		out["orders_rejected_total"] = m.GetCounter().GetValue()
	}
	m = dto.Metric{}
	if err := r.BatchTasksRunning.Write(&m); err == nil {
		out["batch_tasks_running"] = m.GetGauge().GetValue()
	}
	return out
}
