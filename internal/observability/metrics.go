package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Outcomes recorded by notifications_routed_total.
const (
	OutcomeRouted    = "routed"
	OutcomeUnmatched = "unmatched"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
)

// Results recorded by deliveries_total and backups_total.
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultSkipped = "skipped"
)

var (
	notificationsRouted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_routed_total",
			Help: "Inbound notifications by routing outcome.",
		},
		[]string{"outcome"},
	)

	deliveryIntents = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "delivery_intents_total",
			Help: "Delivery intents produced by the coordinator.",
		},
	)

	deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deliveries_total",
			Help: "Delivery attempts handed to the transport, by final result.",
		},
		[]string{"result"},
	)

	queueDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "delivery_queue_dropped_total",
			Help: "Delivery intents dropped because the dispatch queue was full.",
		},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "delivery_queue_depth",
			Help: "Delivery intents waiting for a worker.",
		},
	)

	groupsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "groups_created_total",
			Help: "Delivery groups created by the directory or by admins.",
		},
	)

	backups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backups_total",
			Help: "Database snapshots by result.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		notificationsRouted, deliveryIntents, deliveries,
		queueDropped, queueDepth, groupsCreated, backups,
	)
}

// RecordRouted counts one inbound notification with the given outcome.
func RecordRouted(outcome string) { notificationsRouted.WithLabelValues(outcome).Inc() }

// AddDeliveryIntents counts n produced intents.
func AddDeliveryIntents(n int) {
	if n > 0 {
		deliveryIntents.Add(float64(n))
	}
}

// RecordDelivery counts one finished delivery.
func RecordDelivery(result string) { deliveries.WithLabelValues(result).Inc() }

// RecordQueueDrop counts one intent dropped on a full queue.
func RecordQueueDrop() { queueDropped.Inc() }

// SetQueueDepth reports the current dispatch backlog.
func SetQueueDepth(n int) { queueDepth.Set(float64(n)) }

// RecordGroupCreated counts one new delivery group.
func RecordGroupCreated() { groupsCreated.Inc() }

// RecordBackup counts one snapshot attempt.
func RecordBackup(result string) { backups.WithLabelValues(result).Inc() }
