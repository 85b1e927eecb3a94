package live

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/dj-oyu/vision-console/internal/camera"
	"github.com/dj-oyu/vision-console/internal/detect"
	"github.com/dj-oyu/vision-console/internal/logger"
	"github.com/dj-oyu/vision-console/internal/metrics"
	"github.com/dj-oyu/vision-console/internal/transport"
)

var (
	// ErrAlreadyStreaming is returned by Start while a session is running.
	ErrAlreadyStreaming = errors.New("session already streaming")
	// ErrStopped is returned when the dispatcher is no longer running.
	ErrStopped = errors.New("session dispatcher stopped")
)

const (
	// CameraDeniedMessage is shown when the capture handle cannot be acquired.
	CameraDeniedMessage = "could not access the camera"
	// CameraLostMessage is shown when a running capture stops delivering frames.
	CameraLostMessage = "the camera stopped delivering frames"
)

// Socket is the duplex connection the session streams over.
type Socket interface {
	Events() <-chan transport.Event
	TrySend(frame []byte) bool
	IsOpen() bool
	Close() error
}

// Connector opens a Socket without blocking; the outcome arrives as an
// Open or Error event.
type Connector func(ctx context.Context, url string) Socket

// DefaultConnector connects with transport.DefaultOptions.
func DefaultConnector(ctx context.Context, url string) Socket {
	return transport.Connect(ctx, url, transport.DefaultOptions())
}

// Notifier shows a message to the user.
type Notifier interface {
	Notify(msg string)
}

// CanvasSink receives every redrawn display canvas.
type CanvasSink interface {
	Publish(canvas *image.RGBA)
}

// Config holds the session constants.
type Config struct {
	Endpoint      string // ws:// or wss:// detection URL
	SampleEvery   int
	JPEGQuality   int
	RefreshPeriod time.Duration
	OpenTimeout   time.Duration
}

// DefaultConfig matches the live page: one frame every 5 refreshes at 60 Hz,
// JPEG quality 70.
func DefaultConfig() Config {
	return Config{
		Endpoint:      "ws://localhost:8000/ws",
		SampleEvery:   5,
		JPEGQuality:   70,
		RefreshPeriod: time.Second / 60,
		OpenTimeout:   10 * time.Second,
	}
}

type uiKind int

const (
	uiStart uiKind = iota
	uiStop
)

type uiEvent struct {
	kind  uiKind
	reply chan error
}

// Session owns one camera capture and one socket at a time. All session
// state is touched only by the dispatcher goroutine started with Run.
type Session struct {
	cfg      Config
	source   camera.Source
	connect  Connector
	renderer *detect.Renderer
	notifier Notifier
	sink     CanvasSink
	metrics  *metrics.Metrics
	ticks    <-chan time.Time

	ui      chan uiEvent
	stopped chan struct{}

	// dispatcher-owned
	state      State
	capture    camera.Capture
	sock       Socket
	sockEvents <-chan transport.Event
	open       bool
	counter    int
	sessionID  string
	stats      counters
	lastErr    string

	statusMu sync.RWMutex
	status   Status

	dropLog    rate.Sometimes
	captureLog rate.Sometimes
	parseLog   rate.Sometimes
}

// Option configures a Session.
type Option func(*Session)

// WithTicks replaces the refresh ticker, mainly for tests.
func WithTicks(ticks <-chan time.Time) Option {
	return func(s *Session) {
		s.ticks = ticks
	}
}

// WithConnector replaces the socket factory.
func WithConnector(c Connector) Option {
	return func(s *Session) {
		s.connect = c
	}
}

// WithMetrics records session counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

// NewSession creates an idle session. Call Run to start the dispatcher.
func NewSession(cfg Config, source camera.Source, notifier Notifier, sink CanvasSink, opts ...Option) *Session {
	def := DefaultConfig()
	if cfg.SampleEvery <= 0 {
		cfg.SampleEvery = def.SampleEvery
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = def.JPEGQuality
	}
	if cfg.RefreshPeriod <= 0 {
		cfg.RefreshPeriod = def.RefreshPeriod
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}

	s := &Session{
		cfg:        cfg,
		source:     source,
		connect:    DefaultConnector,
		renderer:   detect.NewRenderer(),
		notifier:   notifier,
		sink:       sink,
		ui:         make(chan uiEvent),
		stopped:    make(chan struct{}),
		dropLog:    rate.Sometimes{First: 1, Interval: 5 * time.Second},
		captureLog: rate.Sometimes{First: 1, Interval: 5 * time.Second},
		parseLog:   rate.Sometimes{First: 3, Interval: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.publishStatus()
	return s
}

// Start asks the dispatcher to begin a session and waits for the outcome.
func (s *Session) Start(ctx context.Context) error {
	return s.post(ctx, uiStart)
}

// Stop asks the dispatcher to end the session. Stopping an idle session is
// a no-op.
func (s *Session) Stop(ctx context.Context) error {
	return s.post(ctx, uiStop)
}

func (s *Session) post(ctx context.Context, kind uiKind) error {
	ev := uiEvent{kind: kind, reply: make(chan error, 1)}
	select {
	case s.ui <- ev:
	case <-s.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-ev.reply:
		return err
	case <-s.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run is the dispatcher. It returns when ctx is done, after releasing any
// capture and socket.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.stopped)

	ticks := s.ticks
	if ticks == nil {
		ticker := time.NewTicker(s.cfg.RefreshPeriod)
		defer ticker.Stop()
		ticks = ticker.C
	}

	logger.Info("Session", "Dispatcher running (sample every %d, quality %d, refresh %v)",
		s.cfg.SampleEvery, s.cfg.JPEGQuality, s.cfg.RefreshPeriod)

	for {
		select {
		case <-ctx.Done():
			s.teardown("shutdown")
			s.publishStatus()
			return ctx.Err()

		case ev := <-s.ui:
			ev.reply <- s.handleUI(ctx, ev.kind)

		case ev, ok := <-s.sockEvents:
			if !ok {
				// closed without a terminal event reaching us
				s.teardown("connection gone")
				break
			}
			s.handleTransport(ev)

		case <-ticks:
			s.handleTick()
		}
		s.publishStatus()
	}
}

func (s *Session) handleUI(ctx context.Context, kind uiKind) error {
	switch kind {
	case uiStart:
		return s.start(ctx)
	case uiStop:
		if s.state == Idle {
			return nil
		}
		s.teardown("stopped by user")
		return nil
	default:
		return fmt.Errorf("unknown ui event %d", kind)
	}
}

func (s *Session) start(ctx context.Context) error {
	if s.state == Streaming {
		return ErrAlreadyStreaming
	}

	openCtx, cancel := context.WithTimeout(ctx, s.cfg.OpenTimeout)
	capture, err := s.source.Open(openCtx)
	cancel()
	if err != nil {
		logger.Warn("Session", "Camera %s unavailable: %v", s.source, err)
		if s.metrics != nil {
			s.metrics.CameraDenied.Add(1)
		}
		s.lastErr = err.Error()
		if s.notifier != nil {
			s.notifier.Notify(CameraDeniedMessage)
		}
		return fmt.Errorf("open camera: %w", err)
	}

	s.capture = capture
	s.sessionID = uuid.NewString()
	s.stats = counters{}
	s.lastErr = ""
	s.counter = 0
	s.open = false

	w, h := capture.Size()
	if s.sink != nil {
		s.sink.Publish(s.renderer.Placeholder(w, h))
	}

	s.sock = s.connect(ctx, s.cfg.Endpoint)
	s.sockEvents = s.sock.Events()
	s.state = Streaming

	if s.metrics != nil {
		s.metrics.SessionsStarted.Add(1)
		s.metrics.SetSessionActive(true)
	}
	logger.Info("Session", "Session %s started (camera %s %dx%d, endpoint %s)", s.sessionID, s.source, w, h, s.cfg.Endpoint)
	return nil
}

func (s *Session) handleTransport(ev transport.Event) {
	if s.state != Streaming {
		return
	}

	switch ev.Kind {
	case transport.EventOpen:
		s.open = true
		logger.Info("Session", "Session %s connected, frame loop running", s.sessionID)
	case transport.EventMessage:
		s.handleMessage(ev.Data)
	case transport.EventClose:
		s.teardown(fmt.Sprintf("connection closed (code %d)", ev.Code))
	case transport.EventError:
		if ev.Err != nil {
			s.lastErr = ev.Err.Error()
		}
		if s.metrics != nil {
			s.metrics.SocketErrors.Add(1)
		}
		s.teardown(fmt.Sprintf("connection error: %v", ev.Err))
	}
}

func (s *Session) handleTick() {
	if s.state != Streaming || !s.open || s.sock == nil || !s.sock.IsOpen() {
		return
	}
	s.counter++
	if s.counter%s.cfg.SampleEvery != 0 {
		return
	}
	s.sendFrame()
}

func (s *Session) sendFrame() {
	frame, err := s.capture.Snapshot()
	if err != nil {
		s.captureFailed(err)
		return
	}
	if s.metrics != nil {
		s.metrics.FramesCaptured.Add(1)
	}

	start := time.Now()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame, &jpeg.Options{Quality: s.cfg.JPEGQuality}); err != nil {
		s.captureFailed(err)
		return
	}
	if s.metrics != nil {
		s.metrics.UpdateEncodeLatency(time.Since(start))
	}

	if s.sock.TrySend(buf.Bytes()) {
		s.stats.sent++
		if s.metrics != nil {
			s.metrics.FramesSent.Add(1)
		}
		return
	}

	s.stats.dropped++
	if s.metrics != nil {
		s.metrics.FramesDropped.Add(1)
	}
	s.dropLog.Do(func() {
		logger.Debug("Session", "Frame dropped, socket busy (%d dropped this session)", s.stats.dropped)
	})
}

// captureFailed records a snapshot or encode failure. A capture that has
// ended tears the session down, and true is returned.
func (s *Session) captureFailed(err error) bool {
	if errors.Is(err, camera.ErrNoFrame) {
		return false
	}
	if s.metrics != nil {
		s.metrics.CaptureErrors.Add(1)
	}
	if errors.Is(err, camera.ErrEnded) {
		s.lastErr = err.Error()
		if s.notifier != nil {
			s.notifier.Notify(CameraLostMessage)
		}
		s.teardown(fmt.Sprintf("capture ended: %v", err))
		return true
	}
	s.captureLog.Do(func() {
		logger.Warn("Session", "Snapshot failed: %v", err)
	})
	return false
}

func (s *Session) handleMessage(payload []byte) {
	boxes, skipped, err := detect.ParseBoxes(payload)
	if err != nil {
		s.stats.malformed++
		if s.metrics != nil {
			s.metrics.MalformedMessages.Add(1)
		}
		s.parseLog.Do(func() {
			logger.Warn("Session", "Ignoring malformed detection message: %v", err)
		})
		return
	}
	if skipped > 0 && s.metrics != nil {
		s.metrics.MalformedBoxes.Add(uint64(skipped))
	}

	frame, err := s.capture.Snapshot()
	if err != nil {
		if s.captureFailed(err) {
			return
		}
		w, h := s.capture.Size()
		frame = image.NewRGBA(image.Rect(0, 0, w, h))
	}

	canvas := s.renderer.Render(frame, boxes)
	s.stats.results++
	if s.metrics != nil {
		s.metrics.ResultsReceived.Add(1)
	}
	if s.sink != nil {
		s.sink.Publish(canvas)
	}
}

// teardown releases the socket and the capture together and returns to
// Idle. It is the only exit path out of Streaming.
func (s *Session) teardown(reason string) {
	if s.state == Idle && s.sock == nil && s.capture == nil {
		return
	}

	if s.sock != nil {
		if err := s.sock.Close(); err != nil {
			logger.Debug("Session", "Socket close: %v", err)
		}
		s.sock = nil
		s.sockEvents = nil
	}
	if s.capture != nil {
		if err := s.capture.Close(); err != nil {
			logger.Debug("Session", "Capture close: %v", err)
		}
		s.capture = nil
	}

	s.state = Idle
	s.open = false
	s.counter = 0
	if s.metrics != nil {
		s.metrics.SetSessionActive(false)
	}
	logger.Info("Session", "Session %s ended: %s (sent %d, dropped %d, results %d)",
		s.sessionID, reason, s.stats.sent, s.stats.dropped, s.stats.results)
}
