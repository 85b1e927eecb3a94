package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Live detection counters
	FramesCaptured atomic.Uint64
	FramesSent     atomic.Uint64
	FramesDropped  atomic.Uint64
	CaptureErrors  atomic.Uint64

	// Result counters
	ResultsReceived   atomic.Uint64
	MalformedMessages atomic.Uint64
	MalformedBoxes    atomic.Uint64

	// Session lifecycle
	SessionsStarted atomic.Uint64
	SessionActive   atomic.Uint64 // 0 = idle, 1 = streaming
	CameraDenied    atomic.Uint64
	SocketErrors    atomic.Uint64

	// Display clients (MJPEG viewers)
	ActiveViewers       atomic.Uint64
	ViewerFramesSkipped atomic.Uint64

	// Upload flow
	UploadsOK       atomic.Uint64
	UploadsFailed   atomic.Uint64
	UploadLatencyMs atomic.Uint64

	// Latency tracking
	EncodeLatencyMs atomic.Uint64

	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.registerPrometheusMetrics()

	return m
}

type gauge struct {
	name  string
	help  string
	value *atomic.Uint64
}

func (m *Metrics) gauges() []gauge {
	return []gauge{
		{"vision_frames_captured_total", "Total frames snapshotted from the camera", &m.FramesCaptured},
		{"vision_frames_sent_total", "Total frames handed to the detection socket", &m.FramesSent},
		{"vision_frames_dropped_total", "Total frames dropped because the socket was busy", &m.FramesDropped},
		{"vision_capture_errors_total", "Total camera snapshot or encode errors", &m.CaptureErrors},
		{"vision_results_received_total", "Total detection results rendered", &m.ResultsReceived},
		{"vision_malformed_messages_total", "Total detection messages that were not a box array", &m.MalformedMessages},
		{"vision_malformed_boxes_total", "Total individual boxes skipped as invalid", &m.MalformedBoxes},
		{"vision_sessions_started_total", "Total live sessions started", &m.SessionsStarted},
		{"vision_session_active", "Live session streaming (0=idle, 1=streaming)", &m.SessionActive},
		{"vision_camera_denied_total", "Total camera acquisitions refused", &m.CameraDenied},
		{"vision_socket_errors_total", "Total detection socket errors", &m.SocketErrors},
		{"vision_active_viewers", "Number of connected MJPEG viewers", &m.ActiveViewers},
		{"vision_viewer_frames_skipped_total", "Total display frames skipped for slow MJPEG viewers", &m.ViewerFramesSkipped},
		{"vision_uploads_ok_total", "Total successful caption uploads", &m.UploadsOK},
		{"vision_uploads_failed_total", "Total failed caption uploads", &m.UploadsFailed},
		{"vision_upload_latency_ms", "Latency of the last caption upload in milliseconds", &m.UploadLatencyMs},
		{"vision_encode_latency_ms", "Latency of the last frame JPEG encode in milliseconds", &m.EncodeLatencyMs},
	}
}

// registerPrometheusMetrics exposes every counter as a gauge func so the
// atomics remain the single source of truth.
func (m *Metrics) registerPrometheusMetrics() {
	for _, g := range m.gauges() {
		v := g.value
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: g.name, Help: g.help},
			func() float64 { return float64(v.Load()) },
		))
	}
}

// UpdateUploadLatency records how long the last upload took
func (m *Metrics) UpdateUploadLatency(d time.Duration) {
	m.UploadLatencyMs.Store(uint64(d.Milliseconds()))
}

// UpdateEncodeLatency records how long the last frame encode took
func (m *Metrics) UpdateEncodeLatency(d time.Duration) {
	m.EncodeLatencyMs.Store(uint64(d.Milliseconds()))
}

// SetSessionActive flips the streaming gauge
func (m *Metrics) SetSessionActive(active bool) {
	if active {
		m.SessionActive.Store(1)
		return
	}
	m.SessionActive.Store(0)
}

// Registry exposes the underlying registry (used by tests)
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
