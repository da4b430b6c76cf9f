// Package prom exports internal/observability's GatewayObserver to
// Prometheus, following flowersec-go/observability/prom's
// one-gauge/counter-per-event shape.
package prom

import (
	"net/http"

	"github.com/cockpit-project/cockpit-ws-go/internal/observability"
	"github.com/cockpit-project/cockpit-ws-go/internal/problem"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry returns a fresh Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// Handler returns a Prometheus HTTP handler bound to the registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// GatewayObserver exports gateway metrics to Prometheus.
type GatewayObserver struct {
	sessionGauge    prometheus.Gauge
	channelOpened   *prometheus.CounterVec
	channelClosed   *prometheus.CounterVec
	transportDialed *prometheus.CounterVec
	authorizeTotal  *prometheus.CounterVec
}

// NewGatewayObserver registers gateway metrics on the registry.
func NewGatewayObserver(reg *prometheus.Registry) *GatewayObserver {
	o := &GatewayObserver{
		sessionGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cockpit_ws_sessions",
			Help: "Current live bridge/SSH sessions.",
		}),
		channelOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cockpit_ws_channel_opened_total",
			Help: "Channels that reached the ready state, by kind.",
		}, []string{"kind"}),
		channelClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cockpit_ws_channel_closed_total",
			Help: "Channel closes, by kind and problem (empty for clean close).",
		}, []string{"kind", "problem"}),
		transportDialed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cockpit_ws_transport_dial_total",
			Help: "Transport dial attempts, by kind and outcome.",
		}, []string{"kind", "result"}),
		authorizeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cockpit_ws_authorize_total",
			Help: "Authorize round-trips, by outcome.",
		}, []string{"result"}),
	}
	reg.MustRegister(
		o.sessionGauge,
		o.channelOpened,
		o.channelClosed,
		o.transportDialed,
		o.authorizeTotal,
	)
	return o
}

func (o *GatewayObserver) SessionCount(n int) {
	o.sessionGauge.Set(float64(n))
}

func (o *GatewayObserver) ChannelOpened(kind observability.ChannelKind) {
	o.channelOpened.WithLabelValues(string(kind)).Inc()
}

func (o *GatewayObserver) ChannelClosed(kind observability.ChannelKind, prob problem.Problem) {
	o.channelClosed.WithLabelValues(string(kind), string(prob)).Inc()
}

func (o *GatewayObserver) TransportDialed(kind observability.TransportKind, ok bool) {
	result := "ok"
	if !ok {
		result = "fail"
	}
	o.transportDialed.WithLabelValues(string(kind), result).Inc()
}

func (o *GatewayObserver) AuthorizeAttempt(ok bool) {
	result := "ok"
	if !ok {
		result = "fail"
	}
	o.authorizeTotal.WithLabelValues(result).Inc()
}
