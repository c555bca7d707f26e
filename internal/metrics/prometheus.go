// Registers on Registry:
//
//	#livetape_events_total{kind,venue}
//	#livetape_reconnects_total{kind,venue}
//	#livetape_decode_rejects_total{kind,venue,reason}
//	#livetape_link_state{kind,venue}
//	#livetape_drops_total{metric,venue}
//	#go_* and process_* system metrics
//
// Served by the dashboard on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"livetape/internal/stream"
)

// Registry holds every livetape collector.
var Registry = prometheus.NewRegistry()

var (
	events = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livetape_events_total",
			Help: "Normalized events delivered per venue",
		},
		[]string{"kind", "venue"},
	)
	reconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livetape_reconnects_total",
			Help: "Reconnect attempts per venue",
		},
		[]string{"kind", "venue"},
	)
	rejects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livetape_decode_rejects_total",
			Help: "Frames dropped by the venue decoder",
		},
		[]string{"kind", "venue", "reason"},
	)
	linkState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "livetape_link_state",
			Help: "Link state: 0 disconnected, 1 connecting, 2 open, 3 reconnect pending",
		},
		[]string{"kind", "venue"},
	)
	drops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livetape_drops_total",
			Help: "Messages dropped on full buffers",
		},
		[]string{"metric", "venue"},
	)
)

func init() {
	Registry.MustRegister(events, reconnects, rejects, linkState, drops)
	Registry.MustRegister(collectors.NewGoCollector())
	Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// Handler exposes Registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// StreamObserver feeds link lifecycle events into the Prometheus
// collectors under one kind label ("trade" or "liquidation").
type StreamObserver struct {
	kind string
}

func NewStreamObserver(kind string) *StreamObserver {
	return &StreamObserver{kind: kind}
}

var _ stream.Observer = (*StreamObserver)(nil)

func (o *StreamObserver) ObserveState(venue string, state stream.State) {
	linkState.WithLabelValues(o.kind, venue).Set(float64(state))
}

func (o *StreamObserver) ObserveReconnect(venue string) {
	reconnects.WithLabelValues(o.kind, venue).Inc()
}

func (o *StreamObserver) ObserveReject(venue string, reason string) {
	rejects.WithLabelValues(o.kind, venue, reason).Inc()
}

func (o *StreamObserver) ObserveEvents(venue string, n int) {
	events.WithLabelValues(o.kind, venue).Add(float64(n))
}
