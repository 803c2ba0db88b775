// Package telemetry wires structured logging and prometheus metrics for
// the core, plus the minimal gin-based ops surface the headless CLI
// exposes (/healthz, /metrics, /why-no-trade).
package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Registry is the custom prometheus registry for goldcore metrics.
	Registry = prometheus.NewRegistry()

	mu sync.RWMutex

	// DecisionsTotal tallies every DecisionOutput by stage and fail code
	// (fail_code is empty for TRADE_ALLOWED).
	DecisionsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "goldcore",
			Subsystem: "decision",
			Name:      "total",
			Help:      "Total decisions evaluated by outcome",
		},
		[]string{"decision", "stage", "fail_code"},
	)

	// OpenPositionsGauge tracks the current open position count.
	OpenPositionsGauge = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: "goldcore",
			Subsystem: "position",
			Name:      "open_count",
			Help:      "Number of currently open positions",
		},
	)

	// EquityGauge tracks the broker-reported account equity.
	EquityGauge = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: "goldcore",
			Subsystem: "account",
			Name:      "equity",
			Help:      "Current account equity",
		},
	)

	// TradesTotal tracks closed trades by win/loss outcome.
	TradesTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "goldcore",
			Subsystem: "trade",
			Name:      "total",
			Help:      "Total closed trades by outcome",
		},
		[]string{"outcome"}, // "win" | "loss"
	)

	// PersistenceFailuresTotal counts atomic-write and DB-write failures.
	PersistenceFailuresTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: "goldcore",
			Subsystem: "persistence",
			Name:      "failures_total",
			Help:      "Total persistence write failures",
		},
	)

	// BrokerReconnectsTotal counts ConnectionLost recovery attempts.
	BrokerReconnectsTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: "goldcore",
			Subsystem: "broker",
			Name:      "reconnects_total",
			Help:      "Total broker reconnect attempts after ConnectionLost",
		},
	)

	// UIEventsDroppedTotal counts events dropped past the bounded UI
	// update queue capacity.
	UIEventsDroppedTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: "goldcore",
			Subsystem: "ui",
			Name:      "events_dropped_total",
			Help:      "Total UI events dropped due to a full bounded queue",
		},
	)
)

// RecordDecision updates DecisionsTotal for a single pipeline evaluation.
func RecordDecision(decision, stage, failCode string) {
	mu.Lock()
	defer mu.Unlock()
	DecisionsTotal.WithLabelValues(decision, stage, failCode).Inc()
}

// SetOpenPositions updates the open-position gauge.
func SetOpenPositions(count int) {
	mu.Lock()
	defer mu.Unlock()
	OpenPositionsGauge.Set(float64(count))
}

// SetEquity updates the account equity gauge.
func SetEquity(equity float64) {
	mu.Lock()
	defer mu.Unlock()
	EquityGauge.Set(equity)
}

// RecordTrade increments the trade counter for a single closed trade.
func RecordTrade(isWinner bool) {
	mu.Lock()
	defer mu.Unlock()
	outcome := "loss"
	if isWinner {
		outcome = "win"
	}
	TradesTotal.WithLabelValues(outcome).Inc()
}

// RecordPersistenceFailure increments the persistence failure counter.
func RecordPersistenceFailure() {
	mu.Lock()
	defer mu.Unlock()
	PersistenceFailuresTotal.Inc()
}

// RecordBrokerReconnect increments the broker reconnect counter.
func RecordBrokerReconnect() {
	mu.Lock()
	defer mu.Unlock()
	BrokerReconnectsTotal.Inc()
}

// RecordUIEventDropped increments the dropped-UI-event counter.
func RecordUIEventDropped() {
	mu.Lock()
	defer mu.Unlock()
	UIEventsDroppedTotal.Inc()
}

// Init registers the standard Go/process collectors alongside the
// domain-specific metrics above.
func Init() {
	Registry.MustRegister(prometheus.NewGoCollector())
	Registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
}
