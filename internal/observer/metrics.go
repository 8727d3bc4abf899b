package observer

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ilovespectra/solo-silo-sub000/internal/apperrors"
)

var (
	metricsEnabled = true // Flag to control metric collection

	actionLabels        = []string{"action"}
	deliveryLabels      = []string{"action", "outcome", "error_type"}
	abandonLabels       = []string{"action", "reason"}
	storeOperationLabel = []string{"operation", "entity", "status"}

	ItemsAddedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "silo_feedback_items_added_total",
			Help: "Total number of feedback items accepted into the queue, labeled by action.",
		},
		actionLabels,
	)
	QueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "silo_feedback_queue_length",
		Help: "Current number of feedback items waiting for delivery.",
	})

	DeliveryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "silo_feedback_delivery_attempts_total",
			Help: "Total number of delivery attempts to the backend, labeled by action and outcome.",
		},
		deliveryLabels,
	)
	DeliveryDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "silo_feedback_delivery_duration_seconds",
			Help:    "Histogram of backend delivery durations.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		},
		actionLabels,
	)
	DeliveryRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "silo_feedback_delivery_retries_total",
			Help: "Total number of failed attempts that left the item queued for a later retry.",
		},
		actionLabels,
	)
	ItemsAbandonedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "silo_feedback_items_abandoned_total",
			Help: "Total number of feedback items dropped after exhausting retries or being rejected.",
		},
		abandonLabels,
	)

	SyncSessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "silo_feedback_sync_sessions_total",
		Help: "Total number of sync sessions started.",
	})
	SyncTriggersIgnoredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "silo_feedback_sync_triggers_ignored_total",
			Help: "Total number of sync triggers that did not start a session, labeled by reason.",
		},
		[]string{"reason"},
	)
	Online = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "silo_feedback_online",
		Help: "1 when the backend is considered reachable, 0 otherwise.",
	})

	StoreOperationDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "silo_feedback_store_operation_duration_seconds",
			Help:    "Histogram of durable store operation durations.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
		},
		storeOperationLabel,
	)
)

// Metrics used by the load generator
var (
	loadgenLabels = []string{"endpoint"}

	loadgenRequestsAttemptedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loadgen_requests_attempted_total",
			Help: "Total number of requests the load generator attempted against the local API.",
		},
		loadgenLabels,
	)
	loadgenRequestErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loadgen_request_errors_total",
			Help: "Total number of failed load generator requests.",
		},
		loadgenLabels,
	)
)

// InitMetrics turns metric collection on or off.
// Metrics are registered by promauto; this only flips the helpers.
func InitMetrics(enabled bool) {
	metricsEnabled = enabled
}

// IncItemsAdded increments the items added counter.
func IncItemsAdded(action string) {
	if !metricsEnabled {
		return
	}
	ItemsAddedTotal.WithLabelValues(action).Inc()
}

// SetQueueLength sets the current queue length.
func SetQueueLength(length int) {
	if !metricsEnabled {
		return
	}
	QueueLength.Set(float64(length))
}

// IncDeliveryAttempt counts one delivery attempt. A nil err is recorded as a success.
func IncDeliveryAttempt(action string, err error) {
	if !metricsEnabled {
		return
	}
	outcome, errType := "success", "none"
	if err != nil {
		outcome = "failure"
		errType = deliveryErrorType(err)
	}
	DeliveryAttemptsTotal.WithLabelValues(action, outcome, errType).Inc()
}

// ObserveDeliveryDuration records the duration of one delivery attempt.
func ObserveDeliveryDuration(action string, duration time.Duration) {
	if !metricsEnabled {
		return
	}
	DeliveryDurationSeconds.WithLabelValues(action).Observe(duration.Seconds())
}

// IncDeliveryRetry increments the counter of attempts that will be retried.
func IncDeliveryRetry(action string) {
	if !metricsEnabled {
		return
	}
	DeliveryRetriesTotal.WithLabelValues(action).Inc()
}

// IncItemsAbandoned increments the abandoned counter. reason is "exhausted" or "rejected".
func IncItemsAbandoned(action, reason string) {
	if !metricsEnabled {
		return
	}
	ItemsAbandonedTotal.WithLabelValues(action, reason).Inc()
}

// IncSyncSessions increments the session counter.
func IncSyncSessions() {
	if !metricsEnabled {
		return
	}
	SyncSessionsTotal.Inc()
}

// IncSyncTriggerIgnored counts a trigger that was a no-op.
func IncSyncTriggerIgnored(reason string) {
	if !metricsEnabled {
		return
	}
	SyncTriggersIgnoredTotal.WithLabelValues(reason).Inc()
}

// SetOnline records the current connectivity.
func SetOnline(online bool) {
	if !metricsEnabled {
		return
	}
	if online {
		Online.Set(1)
		return
	}
	Online.Set(0)
}

// ObserveStoreOperationDuration records the duration for a durable store operation.
func ObserveStoreOperationDuration(operation, entity string, duration time.Duration, err error) {
	if !metricsEnabled {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	StoreOperationDurationSeconds.WithLabelValues(operation, entity, status).Observe(duration.Seconds())
}

func deliveryErrorType(err error) string {
	switch {
	case apperrors.IsTimeoutError(err):
		return "timeout"
	case apperrors.IsDeliveryRejected(err):
		return "rejected"
	}
	errType := SanitizeErrorType(err.Error())
	if errType == "unknown" && apperrors.IsDeliveryTransient(err) {
		return "transient"
	}
	return errType
}

// SanitizeErrorType maps an error string to a small set of categories.
// Keep this simple to avoid high cardinality.
func SanitizeErrorType(errStr string) string {
	if errStr == "" || errStr == "none" {
		return "none"
	}

	switch {
	case strings.Contains(errStr, "timeout"), strings.Contains(errStr, "deadline exceeded"):
		return "timeout"
	case strings.Contains(errStr, "delivery rejected"):
		return "rejected"
	case strings.Contains(errStr, "status 5"):
		return "server_error"
	case strings.Contains(errStr, "connection refused"), strings.Contains(errStr, "no such host"), strings.Contains(errStr, "connection reset"):
		return "network"
	case strings.Contains(errStr, "database"), strings.Contains(errStr, "SQL"), strings.Contains(errStr, "constraint"):
		return "database"
	case strings.Contains(errStr, "validation failed"), strings.Contains(errStr, "bad request"):
		return "validation"
	case strings.Contains(errStr, "panic"):
		return "panic"
	default:
		return "unknown"
	}
}

// --- Load Generator Metric Helpers ---

// IncLoadgenRequestsAttempted increments the counter for attempted load generator requests.
func IncLoadgenRequestsAttempted(endpoint string) {
	if !metricsEnabled {
		return
	}
	loadgenRequestsAttemptedTotal.WithLabelValues(endpoint).Inc()
}

// IncLoadgenRequestErrors increments the counter for failed load generator requests.
func IncLoadgenRequestErrors(endpoint string) {
	if !metricsEnabled {
		return
	}
	loadgenRequestErrorsTotal.WithLabelValues(endpoint).Inc()
}
