package usecase

import "github.com/prometheus/client_golang/prometheus"

var (
	mtxTicks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bot_ticks_total",
			Help: "Loop iterations",
		},
	)

	mtxOrders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_orders_total",
			Help: "Orders placed",
		},
		[]string{"side", "result"}, // result: filled|failed|ambiguous
	)

	mtxTrades = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_trades_total",
			Help: "Trades by result",
		},
		[]string{"result"}, // open|win|loss
	)

	mtxBreakerTrips = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_circuit_breaker_trips_total",
			Help: "Entries blocked by circuit breaker, by breaker kind",
		},
		[]string{"breaker"},
	)

	mtxCommands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_commands_total",
			Help: "External commands processed",
		},
		[]string{"command"},
	)

	gaugeEquity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_equity_usd",
			Help: "Mark-to-market portfolio value in USD",
		},
	)

	// One labeled series per state, flipped between 0/1 to keep dashboards
	// simple.
	gaugeLoopState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bot_loop_state",
			Help: "Execution loop state indicator",
		},
		[]string{"state"},
	)
)

func init() {
	prometheus.MustRegister(
		mtxTicks,
		mtxOrders,
		mtxTrades,
		mtxBreakerTrips,
		mtxCommands,
		gaugeEquity,
		gaugeLoopState,
	)
}

func setLoopStateMetric(state LoopState) {
	for _, s := range []LoopState{StateRunning, StatePaused, StateStopped} {
		v := 0.0
		if s == state {
			v = 1.0
		}
		gaugeLoopState.WithLabelValues(string(s)).Set(v)
	}
}
