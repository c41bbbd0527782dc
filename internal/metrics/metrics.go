// Package metrics exposes the terminal's Prometheus instruments, served at
// /metrics by the dashboard in text exposition format.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// Ticks counts feed ticks consumed, labeled by source (live|replay).
	Ticks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "probedge_ticks_total",
			Help: "Feed ticks consumed",
		},
		[]string{"source"},
	)

	// Bars counts closed 5-minute bars per symbol.
	Bars = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "probedge_bars_total",
			Help: "Closed 5-minute bars",
		},
		[]string{"symbol"},
	)

	// TagsComputed counts classifier outputs per tag kind (pdc|ol|ot).
	TagsComputed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "probedge_tags_computed_total",
			Help: "Session tags computed at cutovers",
		},
		[]string{"tag"},
	)

	// Fills counts journaled fills by reason (ENTRY|SL|TP1|TP2|TIME|KILL).
	Fills = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "probedge_fills_total",
			Help: "Paper fills journaled",
		},
		[]string{"reason"},
	)

	// PlanRows reports the size of the day's locked plan by pick.
	PlanRows = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "probedge_plan_rows",
			Help: "Plan rows in the locked snapshot",
		},
		[]string{"pick"},
	)

	// OpenPositions is the current PENDING+OPEN book size.
	OpenPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "probedge_open_positions",
			Help: "Positions not yet closed",
		},
	)

	// DayPnL is the running day P&L in rupees (realized + open).
	DayPnL = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "probedge_day_pnl_rs",
			Help: "Day P&L in rupees",
		},
	)

	// FeedReconnects counts live websocket reconnect attempts.
	FeedReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "probedge_feed_reconnects_total",
			Help: "Live feed reconnect attempts",
		},
	)

	// StateWrites counts persisted live_state.json flushes.
	StateWrites = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "probedge_state_writes_total",
			Help: "live_state.json flushes",
		},
	)
)

func init() {
	prometheus.MustRegister(Ticks, Bars, TagsComputed, Fills)
	prometheus.MustRegister(PlanRows, OpenPositions, DayPnL)
	prometheus.MustRegister(FeedReconnects, StateWrites)
}
