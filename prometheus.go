package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// TowerMetrics holds every Prometheus collector the tower exports.
type TowerMetrics struct {
	registry *prometheus.Registry

	framesBroadcast   prometheus.Counter
	fallbackFrames    prometheus.Counter
	pcmFramesIngested prometheus.Counter
	encoderRestarts   prometheus.Counter

	streamClients prometheus.Gauge
	wsSubscribers prometheus.Gauge
	clientDrops   *prometheus.CounterVec

	eventsAccepted *prometheus.CounterVec
	eventsRejected prometheus.Counter

	pcmBufferDepth prometheus.GaugeFunc
	mp3BufferDepth prometheus.GaugeFunc
}

// NewTowerMetrics registers all collectors on a private registry so
// tests can instantiate freely.
func NewTowerMetrics() *TowerMetrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &TowerMetrics{
		registry: reg,
		framesBroadcast: factory.NewCounter(prometheus.CounterOpts{
			Name: "tower_frames_broadcast_total",
			Help: "MP3 frames handed to the stream fanout",
		}),
		fallbackFrames: factory.NewCounter(prometheus.CounterOpts{
			Name: "tower_fallback_frames_total",
			Help: "Cached fallback MP3 frames spliced into the broadcast",
		}),
		pcmFramesIngested: factory.NewCounter(prometheus.CounterOpts{
			Name: "tower_pcm_frames_ingested_total",
			Help: "Canonical PCM frames re-assembled from the station bridge",
		}),
		encoderRestarts: factory.NewCounter(prometheus.CounterOpts{
			Name: "tower_encoder_restarts_total",
			Help: "Encoder process restarts triggered by stall or exit",
		}),
		streamClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tower_stream_clients",
			Help: "Currently connected /stream listeners",
		}),
		wsSubscribers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tower_event_subscribers",
			Help: "Currently connected /tower/events WebSocket subscribers",
		}),
		clientDrops: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tower_client_drops_total",
			Help: "Stream clients dropped, by reason",
		}, []string{"reason"}),
		eventsAccepted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tower_events_accepted_total",
			Help: "Station events accepted at ingest, by type",
		}, []string{"type"}),
		eventsRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "tower_events_rejected_total",
			Help: "Station events refused at ingest (deprecated or unknown type)",
		}),
	}
}

// ObserveBuffers exports the ring depths as gauges computed at scrape
// time.
func (m *TowerMetrics) ObserveBuffers(pcm, mp3 *FrameRing) {
	m.pcmBufferDepth = promauto.With(m.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "tower_pcm_buffer_frames",
		Help: "Frames waiting in the upstream PCM buffer",
	}, func() float64 { return float64(pcm.Len()) })
	m.mp3BufferDepth = promauto.With(m.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "tower_mp3_buffer_frames",
		Help: "Frames staged for the broadcast loop",
	}, func() float64 { return float64(mp3.Len()) })
}

// Handler returns the /metrics HTTP handler.
func (m *TowerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
