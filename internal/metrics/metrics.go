// Package metrics holds the prometheus collectors of the server. A nil
// *Metrics records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gospace"

type Metrics struct {
	reg          prometheus.Registerer
	rooms        prometheus.Gauge
	connections  prometheus.Gauge
	roomsCreated prometheus.Counter
	workerDeaths prometheus.Counter
	requests     *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	broadcasts   *prometheus.CounterVec
	dropped      prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "rooms", Help: "Rooms currently open.",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "signal_connections", Help: "Open signaling connections.",
		}),
		roomsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "rooms_created_total", Help: "Rooms created.",
		}),
		workerDeaths: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "worker_deaths_total", Help: "Media workers that died.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "signal_requests_total", Help: "Signaling requests by event and result code.",
		}, []string{"event", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "signal_request_seconds", Help: "Signaling request handling time.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"event"}),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "broadcasts_total", Help: "Server initiated notifications sent.",
		}, []string{"event"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "signal_frames_dropped_total", Help: "Outbound frames dropped on a full queue.",
		}),
	}
	m.reg = reg
	reg.MustRegister(m.rooms, m.connections, m.roomsCreated, m.workerDeaths,
		m.requests, m.latency, m.broadcasts, m.dropped)
	return m
}

func (m *Metrics) RoomOpened() {
	if m == nil {
		return
	}
	m.rooms.Inc()
	m.roomsCreated.Inc()
}

func (m *Metrics) RoomClosed() {
	if m == nil {
		return
	}
	m.rooms.Dec()
}

// ObservePeers exports the number of joined peers as reported by fn.
func (m *Metrics) ObservePeers(fn func() int) {
	if m == nil {
		return
	}
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace, Name: "peers", Help: "Peers currently joined across all rooms.",
	}, func() float64 { return float64(fn()) }))
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

func (m *Metrics) WorkerDied() {
	if m == nil {
		return
	}
	m.workerDeaths.Inc()
}

// Request records one handled signaling request. code is empty on success.
func (m *Metrics) Request(event, code string, took time.Duration) {
	if m == nil {
		return
	}
	if code == "" {
		code = "ok"
	}
	m.requests.WithLabelValues(event, code).Inc()
	m.latency.WithLabelValues(event).Observe(took.Seconds())
}

func (m *Metrics) Broadcast(event string) {
	if m == nil {
		return
	}
	m.broadcasts.WithLabelValues(event).Inc()
}

func (m *Metrics) FrameDropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}
