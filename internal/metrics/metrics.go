// Package metrics registers the Prometheus series the engine updates
// during operation. They are served at /metrics by the HTTP server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OpenPositions tracks the current number of open positions.
	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "riskbot_open_positions",
		Help: "Number of currently open positions",
	})

	// OrdersSubmitted counts order submissions by mode and outcome.
	OrdersSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riskbot_orders_total",
		Help: "Orders submitted, by mode and outcome",
	}, []string{"mode", "outcome"})

	// Decisions counts arbiter decisions by action.
	Decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riskbot_decisions_total",
		Help: "Arbiter decisions taken, by action",
	}, []string{"action"})

	// Closes counts closed positions by exit reason and side.
	Closes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riskbot_exit_reasons_total",
		Help: "Closed positions split by reason and side",
	}, []string{"reason", "side"})

	// RealizedPnL accumulates realized PnL in USD, losses included.
	RealizedPnL = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "riskbot_realized_pnl_usd",
		Help: "Cumulative realized PnL in USD, including losses",
	})

	// RiskFraction reports the current adaptive per-trade risk fraction.
	RiskFraction = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "riskbot_risk_fraction",
		Help: "Current Sharpe- and volatility-adjusted risk fraction",
	})

	// RetrainRequests counts retrain requests sent to the model service.
	RetrainRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "riskbot_retrain_requests_total",
		Help: "Retrain requests sent to the model service",
	})

	// SnapshotWrites counts state snapshot flushes to disk.
	SnapshotWrites = promauto.NewCounter(prometheus.CounterOpts{
		Name: "riskbot_snapshot_writes_total",
		Help: "State snapshot writes to disk",
	})
)
