// Package metrics declares the Prometheus collectors exported by the bot.
// Collectors register on the default registry and are served at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "densitybot"

// Market-structure engine.
var (
	BookUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "market",
		Name:      "book_updates_total",
		Help:      "Order-book updates processed by the engine.",
	}, []string{"symbol"})

	ProcessLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "market",
		Name:      "process_latency_ms",
		Help:      "Time to run density, cluster and lifecycle processing for one update.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 50},
	}, []string{"symbol"})

	ProcessErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "market",
		Name:      "process_errors_total",
		Help:      "Updates whose processing failed.",
	}, []string{"symbol"})

	ActiveDensities = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "market",
		Name:      "active_densities",
		Help:      "Densities currently detected per symbol and side.",
	}, []string{"symbol", "side"})

	DensityLifecycle = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "market",
		Name:      "density_lifecycle_total",
		Help:      "Density appearances and disappearances.",
	}, []string{"symbol", "event"})

	PersistErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "market",
		Name:      "persist_errors_total",
		Help:      "Failed persistence calls by operation.",
	}, []string{"op"})
)

// Feed.
var (
	FeedReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "feed",
		Name:      "reconnects_total",
		Help:      "Websocket reconnect attempts.",
	})

	FeedDroppedLevels = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "feed",
		Name:      "dropped_levels_total",
		Help:      "Malformed price levels dropped from feed messages.",
	}, []string{"symbol"})
)

// Risk and safety.
var (
	MonitoredPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "risk",
		Name:      "monitored_positions",
		Help:      "Positions currently under risk monitoring.",
	})

	PositionExits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "risk",
		Name:      "exits_total",
		Help:      "Exit decisions by reason.",
	}, []string{"reason"})

	BreakevenMoves = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "risk",
		Name:      "breakeven_moves_total",
		Help:      "Stops moved to entry price.",
	})

	LossPercent = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "safety",
		Name:      "loss_percent",
		Help:      "Capital loss relative to the recorded baseline.",
	})

	EmergencyShutdowns = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "safety",
		Name:      "emergency_shutdowns_total",
		Help:      "Emergency shutdown sequences started.",
	})

	EmergencyCloses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "safety",
		Name:      "emergency_closes_total",
		Help:      "Per-position close results during emergency unwind.",
	}, []string{"result"})
)
