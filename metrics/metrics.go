// Package metrics exposes the session's Prometheus collectors:
//   - session_orders_total{side}        – orders submitted to the broker
//   - session_rejects_total{code}       – pre-trade rejections by violation code
//   - session_fills_total               – execution reports applied
//   - session_halts_total{reason}       – risk gate halt transitions
//   - session_reconcile_drift_total     – nonzero reconciliation deltas
//   - session_checkpoint_drops_total    – snapshots dropped by a full queue
//   - session_equity                    – latest equity mark (gauge)
//   - session_checkpoint_queue_depth    – snapshots waiting for the worker
//   - session_open_orders               – orders submitted but not yet terminal
//
// Served in Prometheus text format at /metrics by the run command.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	Orders          *prometheus.CounterVec
	Rejects         *prometheus.CounterVec
	Fills           prometheus.Counter
	Halts           *prometheus.CounterVec
	ReconcileDrift  prometheus.Counter
	CheckpointDrops prometheus.Counter
	Equity          prometheus.Gauge
	CheckpointQueue prometheus.Gauge
	OpenOrders      prometheus.Gauge

	reg *prometheus.Registry
}

// New builds a metrics set on its own registry so tests can construct
// several without collisions.
func New() *Metrics {
	m := &Metrics{
		Orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "session_orders_total",
			Help: "Orders submitted to the broker",
		}, []string{"side"}),
		Rejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "session_rejects_total",
			Help: "Pre-trade rejections by violation code",
		}, []string{"code"}),
		Fills: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "session_fills_total",
			Help: "Execution reports applied to the ledger",
		}),
		Halts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "session_halts_total",
			Help: "Risk gate halt transitions",
		}, []string{"reason"}),
		ReconcileDrift: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "session_reconcile_drift_total",
			Help: "Nonzero position deltas found by reconciliation",
		}),
		CheckpointDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "session_checkpoint_drops_total",
			Help: "Snapshots dropped because the checkpoint queue was full",
		}),
		Equity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "session_equity",
			Help: "Latest equity mark",
		}),
		CheckpointQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "session_checkpoint_queue_depth",
			Help: "Snapshots waiting for the checkpoint worker",
		}),
		OpenOrders: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "session_open_orders",
			Help: "Orders submitted but not yet terminal",
		}),
		reg: prometheus.NewRegistry(),
	}
	m.reg.MustRegister(
		m.Orders, m.Rejects, m.Fills, m.Halts,
		m.ReconcileDrift, m.CheckpointDrops,
		m.Equity, m.CheckpointQueue, m.OpenOrders,
	)
	return m
}

// Handler serves the registry in Prometheus text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// SideLabel maps signed units to the side label used on order counters.
func SideLabel(units float64) string {
	if units < 0 {
		return "sell"
	}
	return "buy"
}
