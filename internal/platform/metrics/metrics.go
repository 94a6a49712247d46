package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Failure stages recorded by IncFailure.
const (
	StageManifest = "manifest"
	StageDownload = "download"
	StageUpload   = "upload"
	StagePlaylist = "playlist"
	StageSweep    = "sweep"
)

// Metrics holds Prometheus counters and gauges for the relay.
// A nil *Metrics is valid and records nothing, which keeps tests free of registries.
type Metrics struct {
	registry              *prometheus.Registry
	requestsTotal         prometheus.Counter
	errorsTotal           prometheus.Counter
	streamsStartedTotal   prometheus.Counter
	streamsStoppedTotal   prometheus.Counter
	activeStreams         prometheus.Gauge
	segmentsRelayedTotal  prometheus.Counter
	segmentsExpiredTotal  prometheus.Counter
	playlistRebuildsTotal prometheus.Counter
	failuresTotal         *prometheus.CounterVec
}

// New creates and registers Prometheus metrics for the relay.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hls_relay_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hls_relay_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		streamsStartedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hls_relay_streams_started_total",
			Help: "Total number of streams started",
		}),
		streamsStoppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hls_relay_streams_stopped_total",
			Help: "Total number of streams whose engine has exited",
		}),
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hls_relay_active_streams",
			Help: "Number of streams currently registered",
		}),
		segmentsRelayedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hls_relay_segments_relayed_total",
			Help: "Total number of segments downloaded and stored at a destination",
		}),
		segmentsExpiredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hls_relay_segments_expired_total",
			Help: "Total number of segments deleted by the retention sweep",
		}),
		playlistRebuildsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hls_relay_playlist_rebuilds_total",
			Help: "Total number of destination playlists written",
		}),
		failuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hls_relay_failures_total",
			Help: "Total number of transient relay failures by stage",
		}, []string{"stage"}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.streamsStartedTotal,
		m.streamsStoppedTotal,
		m.activeStreams,
		m.segmentsRelayedTotal,
		m.segmentsExpiredTotal,
		m.playlistRebuildsTotal,
		m.failuresTotal,
	)

	return m
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	if m == nil {
		return
	}
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	if m == nil {
		return
	}
	m.errorsTotal.Inc()
}

func (m *Metrics) IncStreamsStarted() {
	if m == nil {
		return
	}
	m.streamsStartedTotal.Inc()
}

func (m *Metrics) IncStreamsStopped() {
	if m == nil {
		return
	}
	m.streamsStoppedTotal.Inc()
}

// SetActiveStreams sets the active streams gauge.
func (m *Metrics) SetActiveStreams(n int) {
	if m == nil {
		return
	}
	m.activeStreams.Set(float64(n))
}

func (m *Metrics) IncSegmentsRelayed() {
	if m == nil {
		return
	}
	m.segmentsRelayedTotal.Inc()
}

func (m *Metrics) AddSegmentsExpired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.segmentsExpiredTotal.Add(float64(n))
}

func (m *Metrics) IncPlaylistRebuilds() {
	if m == nil {
		return
	}
	m.playlistRebuildsTotal.Inc()
}

// IncFailure counts a transient failure at the given stage (see the Stage constants).
func (m *Metrics) IncFailure(stage string) {
	if m == nil {
		return
	}
	m.failuresTotal.WithLabelValues(stage).Inc()
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. active streams).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
