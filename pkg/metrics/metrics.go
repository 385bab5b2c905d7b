// Package metrics defines and registers the gateway's Prometheus
// collectors and exposes the scrape handler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Pipeline metrics
	MessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tacgate_messages_total",
			Help: "Total messages processed by precedence and terminal pipeline status",
		},
		[]string{"precedence", "status"},
	)

	MessageLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tacgate_message_latency_seconds",
			Help:    "Send pipeline processing latency by precedence",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1.0, 2.5, 5.0},
		},
		[]string{"precedence"},
	)

	AuthFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tacgate_auth_failures_total",
			Help: "Authentication failures by reason",
		},
		[]string{"reason"},
	)

	// Queue metrics
	MessagesEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tacgate_messages_enqueued_total",
			Help: "Messages accepted into the store-and-forward queue",
		},
		[]string{"precedence"},
	)

	MessagesDequeued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tacgate_messages_dequeued_total",
			Help: "Messages popped from the queue, whatever the delivery outcome",
		},
		[]string{"precedence"},
	)

	MessagesExpired = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tacgate_messages_expired_total",
			Help: "Messages dropped at TTL expiry without delivery",
		},
		[]string{"precedence"},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tacgate_queue_depth",
			Help: "Current store-and-forward queue depth by precedence",
		},
		[]string{"precedence"},
	)

	// Audit metrics
	AuditEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tacgate_audit_events_total",
			Help: "Audit events accepted by type and control family",
		},
		[]string{"event_type", "control_family"},
	)

	AuditFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tacgate_audit_failures_total",
			Help: "Audit appends that failed from the pipeline (alert counter)",
		},
	)

	AuditDiskFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tacgate_audit_disk_failures_total",
			Help: "Audit events that could not be persisted to the daily file",
		},
	)
)

func init() {
	prometheus.MustRegister(MessagesTotal)
	prometheus.MustRegister(MessageLatency)
	prometheus.MustRegister(AuthFailures)
	prometheus.MustRegister(MessagesEnqueued)
	prometheus.MustRegister(MessagesDequeued)
	prometheus.MustRegister(MessagesExpired)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(AuditEvents)
	prometheus.MustRegister(AuditFailures)
	prometheus.MustRegister(AuditDiskFailures)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
