package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	ProviderSend = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "waconnect_provider_send_total", Help: "Outbound provider send outcomes"},
		[]string{"provider", "result"},
	)
	ProviderSendLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "waconnect_provider_send_latency_seconds", Help: "Outbound send latency"},
		[]string{"provider"},
	)
	WebhookRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "waconnect_webhook_requests_total", Help: "Webhook requests by provider and disposition"},
		[]string{"provider", "disposition"},
	)
	StatusTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "waconnect_delivery_transitions_total", Help: "Delivery status transition outcomes"},
		[]string{"provider", "result"},
	)
	ConnectionPolls = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "waconnect_connection_polls_total", Help: "Connection poll outcomes per instance"},
		[]string{"result"},
	)
	ConnectionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "waconnect_connection_state", Help: "Current connection state per instance (1 for the active state)"},
		[]string{"instance_id", "state"},
	)
	QRUpdates = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "waconnect_qr_updates_total", Help: "QR-updated events emitted"},
	)
	EventPublishes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "waconnect_event_publish_total", Help: "Notification queue publish results"},
		[]string{"kind", "result"},
	)
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(ProviderSend, ProviderSendLatency, WebhookRequests,
		StatusTransitions, ConnectionPolls, ConnectionState, QRUpdates, EventPublishes)
}
