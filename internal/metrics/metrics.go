// Package metrics registers the engine's Prometheus series, generalizing
// the teacher's metrics.go registration style (package-level vectors,
// MustRegister in init, thin setter helpers) from per-bot trade counters
// to the kernel's own order/position/candle/orderbook instrumentation.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	OrdersPlaced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_orders_placed_total",
			Help: "Orders placed, by exchange, symbol and side.",
		},
		[]string{"exchange", "symbol", "side"},
	)

	OrdersFilled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_orders_filled_total",
			Help: "Orders filled, by exchange, symbol and side.",
		},
		[]string{"exchange", "symbol", "side"},
	)

	OrdersCanceled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_orders_canceled_total",
			Help: "Orders canceled, by exchange and symbol.",
		},
		[]string{"exchange", "symbol"},
	)

	OrdersRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_orders_rejected_total",
			Help: "Orders rejected at admission, by exchange, symbol and side.",
		},
		[]string{"exchange", "symbol", "side"},
	)

	ExitsByReason = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_exits_total",
			Help: "Position exits, by exchange, symbol and reason (take_profit|stop_loss|manual|liquidation).",
		},
		[]string{"exchange", "symbol", "reason"},
	)

	Equity = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "engine_equity_usd",
			Help: "Current equity in USD, by exchange.",
		},
		[]string{"exchange"},
	)

	AvailableMargin = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "engine_available_margin_usd",
			Help: "Available margin in USD, by exchange and asset.",
		},
		[]string{"exchange", "asset"},
	)

	CandlesIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_candles_ingested_total",
			Help: "Candles ingested, by exchange, symbol and timeframe.",
		},
		[]string{"exchange", "symbol", "timeframe"},
	)

	OrderbookBucketsWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_orderbook_bucket_writes_total",
			Help: "Order-book bucket writes, by exchange and symbol.",
		},
		[]string{"exchange", "symbol"},
	)

	Liquidations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_liquidations_total",
			Help: "Liquidation events, by exchange and symbol.",
		},
		[]string{"exchange", "symbol"},
	)
)

func init() {
	prometheus.MustRegister(
		OrdersPlaced,
		OrdersFilled,
		OrdersCanceled,
		OrdersRejected,
		ExitsByReason,
		Equity,
		AvailableMargin,
		CandlesIngested,
		OrderbookBucketsWritten,
		Liquidations,
	)
}
