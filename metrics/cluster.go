package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	sessionsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessions_started_total",
			Help: "Job sessions created on this node",
		},
		[]string{"job", "role"},
	)

	sessionsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessions_completed_total",
			Help: "Job sessions removed from this node, by final state",
		},
		[]string{"job", "role", "state"},
	)

	activeSessions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sessions_active",
			Help: "Job sessions currently held by this node",
		},
		[]string{"job", "role"},
	)

	sessionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "master_session_duration_seconds",
			Help:    "Time from initialization to result of master sessions",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		},
		[]string{"job", "state"},
	)

	messagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cluster_messages_sent_total",
			Help: "Cluster messages delivered to other nodes",
		},
		[]string{"kind"},
	)

	messagesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cluster_messages_received_total",
			Help: "Cluster messages received from other nodes",
		},
		[]string{"kind"},
	)

	deliveryFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cluster_delivery_failures_total",
			Help: "Cluster messages which could not be delivered",
		},
	)
)

func clusterCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		sessionsStarted,
		sessionsCompleted,
		activeSessions,
		sessionDuration,
		messagesSent,
		messagesReceived,
		deliveryFailures,
	}
}

func SessionStarted(job, role string) {
	sessionsStarted.WithLabelValues(job, role).Inc()
	activeSessions.WithLabelValues(job, role).Inc()
}

func SessionCompleted(job, role, state string) {
	sessionsCompleted.WithLabelValues(job, role, state).Inc()
	activeSessions.WithLabelValues(job, role).Dec()
}

func ObserveMasterSession(job, state string, elapsed time.Duration) {
	sessionDuration.WithLabelValues(job, state).Observe(elapsed.Seconds())
}

func MessageSent(kind string) {
	messagesSent.WithLabelValues(kind).Inc()
}

func MessageReceived(kind string) {
	messagesReceived.WithLabelValues(kind).Inc()
}

func DeliveryFailed() {
	deliveryFailures.Inc()
}
