package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a dedicated prometheus registry for the realtime layer.
// All methods are nil-safe so the core can run without metrics wired.
type Metrics struct {
	registry *prometheus.Registry

	connections  prometheus.Gauge
	rooms        prometheus.Gauge
	eventsCnt    *prometheus.CounterVec
	deliveries   *prometheus.CounterVec
	droppedFrame prometheus.Counter
}

func New(namespace string) *Metrics {
	r := prometheus.NewRegistry()
	// Register standard process and Go collectors
	r.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	r.MustRegister(collectors.NewGoCollector())

	connections := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "connections_open"})
	rooms := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "rooms_active"})
	eventsCnt := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "events_emitted_total"}, []string{"event"})
	deliveries := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "event_deliveries_total"}, []string{"event"})
	droppedFrame := prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "frames_dropped_total"})
	r.MustRegister(connections, rooms, eventsCnt, deliveries, droppedFrame)

	return &Metrics{
		registry:     r,
		connections:  connections,
		rooms:        rooms,
		eventsCnt:    eventsCnt,
		deliveries:   deliveries,
		droppedFrame: droppedFrame,
	}
}

func (m *Metrics) ConnOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

func (m *Metrics) ConnClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

func (m *Metrics) SetRooms(n int) {
	if m == nil {
		return
	}
	m.rooms.Set(float64(n))
}

func (m *Metrics) EventEmitted(event string, delivered int) {
	if m == nil {
		return
	}
	m.eventsCnt.WithLabelValues(event).Inc()
	m.deliveries.WithLabelValues(event).Add(float64(delivered))
}

func (m *Metrics) FrameDropped() {
	if m == nil {
		return
	}
	m.droppedFrame.Inc()
}

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
