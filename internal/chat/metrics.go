package chat

import "github.com/prometheus/client_golang/prometheus"

var (
	metricMessagesAppended = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_messages_appended_total",
		Help: "Messages durably appended to the message log (duplicates excluded).",
	})

	metricFanouts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_fanout_notifications_total",
		Help: "Snapshot notifications delivered to subscribers.",
	})

	metricSubscriptions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_subscriptions_live",
		Help: "Currently registered message and typing subscriptions.",
	})

	metricWSConnections = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_ws_connections_total",
		Help: "Accepted websocket connections.",
	})
)

func init() {
	prometheus.MustRegister(
		metricMessagesAppended,
		metricFanouts,
		metricSubscriptions,
		metricWSConnections,
	)
}
