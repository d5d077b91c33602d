// Package metrics exposes the Prometheus collectors recorded by the chat relay
// and the HTTP handler used to scrape them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "roomchat"

// Collectors groups every metric the relay records. A nil *Collectors is valid
// and records nothing, which keeps callers free of nil checks.
type Collectors struct {
	registry *prometheus.Registry

	Rooms         prometheus.Gauge
	Connections   prometheus.Gauge
	Messages      *prometheus.CounterVec
	DroppedFrames prometheus.Counter
}

// New creates the relay collectors and registers them on registry.
func New(registry *prometheus.Registry) *Collectors {
	c := &Collectors{
		registry: registry,
		Rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms",
			Help:      "Rooms created since the process started.",
		}),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Live websocket connections registered in a room.",
		}),
		Messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Messages produced, by kind.",
		}, []string{"kind"}),
		DroppedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_frames_total",
			Help:      "Outbound frames that could not be handed to a connection.",
		}),
	}
	registry.MustRegister(c.Rooms, c.Connections, c.Messages, c.DroppedFrames)
	return c
}

// RoomCreated records a new room.
func (c *Collectors) RoomCreated() {
	if c == nil {
		return
	}
	c.Rooms.Inc()
}

// ConnectionOpened records a connection joining a room.
func (c *Collectors) ConnectionOpened() {
	if c == nil {
		return
	}
	c.Connections.Inc()
}

// ConnectionClosed records a connection leaving a room.
func (c *Collectors) ConnectionClosed() {
	if c == nil {
		return
	}
	c.Connections.Dec()
}

// MessageProduced counts one message of the given wire kind.
func (c *Collectors) MessageProduced(kind string) {
	if c == nil {
		return
	}
	c.Messages.WithLabelValues(kind).Inc()
}

// FrameDropped counts one outbound frame that was not delivered.
func (c *Collectors) FrameDropped() {
	if c == nil {
		return
	}
	c.DroppedFrames.Inc()
}

// Handler returns an http.Handler for Prometheus scraping.
func (c *Collectors) Handler() http.Handler {
	if c == nil || c.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
