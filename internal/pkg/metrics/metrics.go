// Package metrics registers the Prometheus collectors exposed on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CollectEventsTotal counts stored events by type (pageview, click).
	CollectEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "folio_collect_events_total",
			Help: "Total number of analytics events stored",
		},
		[]string{"type"},
	)

	// CollectRejectedTotal counts collector requests that stored nothing.
	CollectRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "folio_collect_rejected_total",
			Help: "Total number of collector requests that were not stored",
		},
		[]string{"reason"}, // authenticated, invalid, not_configured, store_error
	)

	// SessionUpsertRetriesTotal counts upserts retried without the ip column.
	SessionUpsertRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "folio_session_upsert_retries_total",
			Help: "Total number of session upserts retried without the raw ip",
		},
	)

	// ReportDuration tracks how long the aggregate bundle takes to compute.
	ReportDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "folio_report_duration_seconds",
			Help:    "Duration of analytics report computation in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"window"},
	)

	// PurgedRowsTotal counts deleted rows by table and purge mode.
	PurgedRowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "folio_purged_rows_total",
			Help: "Total number of analytics rows deleted by purges",
		},
		[]string{"table", "mode"},
	)

	// PurgeBatchFailuresTotal counts purge batches that failed and left a job partial.
	PurgeBatchFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "folio_purge_batch_failures_total",
			Help: "Total number of purge batches that failed",
		},
		[]string{"mode"},
	)

	// BotPolicyPatterns reports the size of the active bot policy.
	BotPolicyPatterns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "folio_bot_policy_patterns",
			Help: "Number of patterns in the active bot classification policy",
		},
	)
)

// RecordEvent increments the stored-event counter.
func RecordEvent(eventType string) {
	CollectEventsTotal.WithLabelValues(eventType).Inc()
}

// RecordRejected increments the rejected-request counter.
func RecordRejected(reason string) {
	CollectRejectedTotal.WithLabelValues(reason).Inc()
}

// ObserveReport records a report computation that started at start.
func ObserveReport(window string, start time.Time) {
	ReportDuration.WithLabelValues(window).Observe(time.Since(start).Seconds())
}

// RecordPurged adds deleted row counts for one batch.
func RecordPurged(mode string, events, sessions int64) {
	PurgedRowsTotal.WithLabelValues("events", mode).Add(float64(events))
	PurgedRowsTotal.WithLabelValues("sessions", mode).Add(float64(sessions))
}
