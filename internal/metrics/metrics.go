package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "restrict_ws_connections",
		Help: "Authenticated realtime connections held by this instance",
	})
	WSHandshakes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "restrict_ws_handshakes_total",
		Help: "Realtime handshakes by outcome",
	}, []string{"outcome"})
	PushDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "restrict_push_deliveries_total",
		Help: "Push deliveries by kind and outcome",
	}, []string{"kind", "outcome"})
	Mutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "restrict_admin_mutations_total",
		Help: "Admin restriction mutations by action and outcome",
	}, []string{"action", "outcome"})
	RelayMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "restrict_relay_messages_total",
		Help: "Cross-instance relay traffic by direction and outcome",
	}, []string{"direction", "outcome"})
	AuditRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "restrict_audit_records_total",
		Help: "Audit records by outcome",
	}, []string{"outcome"})
	ClientReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "restrict_client_reconnects_total",
		Help: "Reconnect attempts scheduled by the realtime client",
	})
)

func Handler() http.Handler {
	return promhttp.Handler()
}
