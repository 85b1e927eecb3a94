package monitor

import (
	"bytes"
	"image"
	"image/jpeg"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dj-oyu/vision-console/internal/logger"
	"github.com/dj-oyu/vision-console/internal/metrics"
	"github.com/dj-oyu/vision-console/pkg/types"
)

// Alert is a user-facing notification raised by the session.
type Alert struct {
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Display is the local stand-in for the page canvas and alert box. It
// implements live.CanvasSink and live.Notifier.
type Display struct {
	frames  *FrameBroadcaster
	quality int
	metrics *metrics.Metrics
	seq     atomic.Uint64

	mu        sync.Mutex
	alerts    []Alert
	maxAlerts int
}

// NewDisplay creates a display that fans JPEG-encoded canvases out through
// frames.
func NewDisplay(frames *FrameBroadcaster, cfg Config, m *metrics.Metrics) *Display {
	cfg = cfg.withDefaults()
	return &Display{
		frames:    frames,
		quality:   cfg.DisplayQuality,
		metrics:   m,
		maxAlerts: cfg.MaxAlerts,
	}
}

// Publish encodes the canvas and hands it to every viewer.
func (d *Display) Publish(canvas *image.RGBA) {
	if canvas == nil {
		return
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, canvas, &jpeg.Options{Quality: d.quality}); err != nil {
		logger.Warn("Display", "Failed to encode canvas: %v", err)
		return
	}
	b := canvas.Bounds()
	d.frames.Broadcast(types.JPEGFrame{
		Data:      buf.Bytes(),
		Timestamp: time.Now(),
		FrameNum:  d.seq.Add(1),
		Width:     b.Dx(),
		Height:    b.Dy(),
	})
}

// Notify records an alert for the page. The newest alerts are kept.
func (d *Display) Notify(msg string) {
	logger.Warn("Display", "Alert: %s", msg)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.alerts = append(d.alerts, Alert{Message: msg, At: time.Now()})
	if over := len(d.alerts) - d.maxAlerts; over > 0 {
		d.alerts = append(d.alerts[:0], d.alerts[over:]...)
	}
}

// Alerts returns a copy of the retained alerts, oldest first.
func (d *Display) Alerts() []Alert {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Alert, len(d.alerts))
	copy(out, d.alerts)
	return out
}

// Frames reports how many canvases have been published.
func (d *Display) Frames() uint64 {
	return d.seq.Load()
}
