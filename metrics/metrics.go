// Package metrics exposes the Prometheus instruments of the escrow ledger.
//
// All collectors register on the default registry at package init, so the
// /metrics handler only needs promhttp.Handler().
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// TASK REGISTRY
// =============================================================================

// TasksCreated counts committed task creations.
var TasksCreated = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "escrow",
	Subsystem: "tasks",
	Name:      "created_total",
	Help:      "Total tasks committed, by funding kind.",
}, []string{"kind"})

// TaskRejections counts task creations rejected before commit.
var TaskRejections = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "escrow",
	Subsystem: "tasks",
	Name:      "rejections_total",
	Help:      "Total task creations rejected, by reason.",
}, []string{"reason"})

// PointsEscrowed sums rewards debited from creators.
var PointsEscrowed = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "escrow",
	Subsystem: "points",
	Name:      "escrowed_total",
	Help:      "Total points debited from creators into task escrow.",
})

// =============================================================================
// COMPLETION LEDGER
// =============================================================================

// Completions counts completion attempts that reached an outcome.
var Completions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "escrow",
	Subsystem: "completions",
	Name:      "total",
	Help:      "Total completion attempts, by outcome (credited, already_completed).",
}, []string{"outcome"})

// CompletionRejections counts completion attempts rejected by a rule.
var CompletionRejections = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "escrow",
	Subsystem: "completions",
	Name:      "rejections_total",
	Help:      "Total completion attempts rejected, by reason.",
}, []string{"reason"})

// PointsCredited sums rewards credited to completers.
var PointsCredited = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "escrow",
	Subsystem: "points",
	Name:      "credited_total",
	Help:      "Total points credited to completers.",
})

// PointsPurchased sums points credited by the wallet flow.
var PointsPurchased = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "escrow",
	Subsystem: "points",
	Name:      "purchased_total",
	Help:      "Total points credited through package purchases.",
})

// =============================================================================
// RECOVERY
// =============================================================================

// RecoverySettled counts completion rows settled by the recovery pass.
var RecoverySettled = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "escrow",
	Subsystem: "recovery",
	Name:      "settled_total",
	Help:      "Total unsettled completions credited by the recovery pass.",
})

// RecoveryFailures counts rows the recovery pass could not settle.
var RecoveryFailures = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "escrow",
	Subsystem: "recovery",
	Name:      "failures_total",
	Help:      "Total unsettled completions the recovery pass failed to credit.",
})

// =============================================================================
// STORE
// =============================================================================

// TxDuration observes ledger transaction latency.
var TxDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "escrow",
	Subsystem: "store",
	Name:      "tx_duration_seconds",
	Help:      "Ledger transaction duration, by operation.",
	Buckets:   prometheus.DefBuckets,
}, []string{"op"})

// ObserveTx records one transaction duration.
func ObserveTx(op string, d time.Duration) {
	TxDuration.WithLabelValues(op).Observe(d.Seconds())
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

// NotificationsDropped counts events dropped because the queue was full.
var NotificationsDropped = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "escrow",
	Subsystem: "notify",
	Name:      "dropped_total",
	Help:      "Total notification events dropped on a full queue.",
})

// NotificationFailures counts sink delivery failures.
var NotificationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "escrow",
	Subsystem: "notify",
	Name:      "failures_total",
	Help:      "Total notification deliveries that failed, by sink.",
}, []string{"sink"})
