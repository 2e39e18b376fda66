package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketpay_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marketpay_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	TransactionsSyncedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketpay_transactions_synced_total",
			Help: "Bank transactions handled by reconciliation, by outcome",
		},
		[]string{"outcome"},
	)

	TransactionAssignmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketpay_transaction_assignments_total",
			Help: "Transaction-to-user assignment attempts, by result",
		},
		[]string{"result"},
	)

	TopUpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketpay_topups_total",
			Help: "Processor top-up operations, by status",
		},
		[]string{"status"},
	)

	PaymentsRecordedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketpay_payments_recorded_total",
			Help: "Payment history records created, by payment method",
		},
		[]string{"method"},
	)

	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketpay_webhook_events_total",
			Help: "Processor webhook events received, by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	NotificationsQueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketpay_notifications_queued_total",
			Help: "Notifications pushed to the delivery queue, by alias",
		},
		[]string{"alias"},
	)

	NotificationQueueLength = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "marketpay_notification_queue_length",
			Help: "Current length of the notification queue",
		},
	)
)

func RecordHTTPRequest(method, path, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}

func RecordSyncedTransaction(outcome string) {
	TransactionsSyncedTotal.WithLabelValues(outcome).Inc()
}

func RecordAssignment(result string) {
	TransactionAssignmentsTotal.WithLabelValues(result).Inc()
}

func RecordTopUp(status string) {
	TopUpsTotal.WithLabelValues(status).Inc()
}

func RecordPayment(method string) {
	PaymentsRecordedTotal.WithLabelValues(method).Inc()
}

func RecordWebhookEvent(eventType, outcome string) {
	WebhookEventsTotal.WithLabelValues(eventType, outcome).Inc()
}

func RecordNotificationQueued(alias string) {
	NotificationsQueuedTotal.WithLabelValues(alias).Inc()
}
