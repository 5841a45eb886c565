// Package metrics registers the service's prometheus instrumentation.
package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "enp_"

	resultSuccess = "success"
)

var (
	registerOnce sync.Once

	scanRequests *prometheus.CounterVec
	scanErrors   *prometheus.CounterVec
	scanLatency  *prometheus.HistogramVec

	dedupHits prometheus.Counter

	settlements     *prometheus.CounterVec
	conflictRetries prometheus.Counter
	replayReturns   prometheus.Counter

	alertEvents *prometheus.CounterVec

	reconciliationReplays *prometheus.CounterVec
)

// Init registers service metrics and DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		scanRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "scan_requests_total",
				Help: "Total checkpoint scan requests by result",
			},
			[]string{"result"},
		)
		scanErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "scan_errors_total",
				Help: "Total scan ingestion errors by reason",
			},
			[]string{"reason"},
		)
		scanLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "scan_latency_seconds",
				Help:    "Scan settlement latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		dedupHits = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "dedup_hits_total",
				Help: "Scan requests answered from the dedup window",
			},
		)

		settlements = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "settlements_total",
				Help: "Total settled transactions by kind and status",
			},
			[]string{"kind", "status"},
		)
		conflictRetries = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "balance_conflict_retries_total",
				Help: "Balance CAS conflicts retried by the engine",
			},
		)
		replayReturns = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "idempotent_replays_total",
				Help: "Requests answered with a previously stored outcome",
			},
		)

		alertEvents = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alert_events_total",
				Help: "Total alert lifecycle events by type and reason",
			},
			[]string{"event", "reason"},
		)

		reconciliationReplays = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "recharge_reconciliation_replays_total",
				Help: "Replay attempts for failed recharges by result",
			},
			[]string{"result"},
		)

		prometheus.MustRegister(
			scanRequests,
			scanErrors,
			scanLatency,
			dedupHits,
			settlements,
			conflictRetries,
			replayReturns,
			alertEvents,
			reconciliationReplays,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveScan records scan request duration and result.
func ObserveScan(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if scanRequests != nil {
		scanRequests.WithLabelValues(result).Inc()
	}
	if scanLatency != nil {
		scanLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncScanError increments the scan error counter.
func IncScanError(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if scanErrors != nil {
		scanErrors.WithLabelValues(reason).Inc()
	}
}

// IncDedupHit counts a request answered from the dedup window.
func IncDedupHit() {
	if dedupHits != nil {
		dedupHits.Inc()
	}
}

// IncSettlement counts a settled transaction.
func IncSettlement(kind, status string) {
	if settlements != nil {
		settlements.WithLabelValues(kind, status).Inc()
	}
}

// IncConflictRetry counts one CAS conflict retry.
func IncConflictRetry() {
	if conflictRetries != nil {
		conflictRetries.Inc()
	}
}

// IncIdempotentReplay counts a stored-outcome replay.
func IncIdempotentReplay() {
	if replayReturns != nil {
		replayReturns.Inc()
	}
}

// IncAlertEvent counts an alert lifecycle event.
func IncAlertEvent(event, reason string) {
	if event == "" {
		event = "unknown"
	}
	if reason == "" {
		reason = "unknown"
	}
	if alertEvents != nil {
		alertEvents.WithLabelValues(event, reason).Inc()
	}
}

// IncReconciliationReplay counts a recharge replay attempt.
func IncReconciliationReplay(result string) {
	if result == "" {
		result = "unknown"
	}
	if reconciliationReplays != nil {
		reconciliationReplays.WithLabelValues(result).Inc()
	}
}
