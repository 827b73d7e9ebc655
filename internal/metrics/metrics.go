package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Inbound pipeline metrics
	InboundMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crmpro_inbound_messages_total",
			Help: "Total number of inbound channel events processed by result",
		},
		[]string{"result"},
	)

	LeadsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crmpro_leads_created_total",
			Help: "Total number of leads created by source",
		},
		[]string{"source"},
	)

	// Campaign metrics
	CampaignMessagesSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crmpro_campaign_messages_sent_total",
			Help: "Total number of campaign messages sent",
		},
	)

	CampaignMessagesFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crmpro_campaign_messages_failed_total",
			Help: "Total number of campaign messages that failed to send",
		},
	)

	// Channel session metrics
	ConnectedDevices = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "crmpro_connected_devices",
			Help: "Number of currently connected channel sessions",
		},
	)

	DeviceReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crmpro_device_reconnects_total",
			Help: "Total number of channel session reconnect attempts",
		},
	)

	// WebSocket metrics
	WSClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "crmpro_ws_clients",
			Help: "Number of connected WebSocket clients",
		},
	)
)

func init() {
	prometheus.MustRegister(InboundMessagesTotal)
	prometheus.MustRegister(LeadsCreatedTotal)
	prometheus.MustRegister(CampaignMessagesSent)
	prometheus.MustRegister(CampaignMessagesFailed)
	prometheus.MustRegister(ConnectedDevices)
	prometheus.MustRegister(DeviceReconnectsTotal)
	prometheus.MustRegister(WSClients)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
