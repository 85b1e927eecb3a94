package monitor

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/cors"

	"github.com/dj-oyu/vision-console/internal/camera"
	"github.com/dj-oyu/vision-console/internal/live"
	"github.com/dj-oyu/vision-console/internal/logger"
	"github.com/dj-oyu/vision-console/internal/metrics"
	"github.com/dj-oyu/vision-console/pkg/types"
)

// Controller is the part of live.Session the server drives.
type Controller interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Status() live.Status
}

// Server serves the local display: the annotated stream, the Start/Stop
// controls and status.
type Server struct {
	cfg     Config
	session Controller
	display *Display
	frames  *FrameBroadcaster
	metrics *metrics.Metrics
}

// NewServer wires a server around an existing display. m may be nil, in
// which case /metrics is not mounted.
func NewServer(cfg Config, session Controller, display *Display, frames *FrameBroadcaster, m *metrics.Metrics) *Server {
	return &Server{
		cfg:     cfg.withDefaults(),
		session: session,
		display: display,
		frames:  frames,
		metrics: m,
	}
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/stream", s.handleStream)
	mux.HandleFunc("/api/start", s.handleStart)
	mux.HandleFunc("/api/stop", s.handleStop)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/status/stream", s.handleStatusStream)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	if len(s.cfg.AllowedOrigins) == 0 {
		return mux
	}
	return cors.New(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
	}).Handler(mux)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id, frameCh := s.frames.Subscribe()
	defer s.frames.Unsubscribe(id)
	streamMJPEG(w, r, frameCh, s.cfg.IdleBlank)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	err := s.session.Start(r.Context())
	switch {
	case err == nil:
		writeJSON(w, s.statusPayload())
	case errors.Is(err, live.ErrAlreadyStreaming):
		writeJSONWithStatus(w, http.StatusConflict, map[string]any{"error": err.Error()})
	case errors.Is(err, camera.ErrPermission):
		writeJSONWithStatus(w, http.StatusForbidden, map[string]any{"error": live.CameraDeniedMessage})
	case errors.Is(err, live.ErrStopped):
		writeJSONWithStatus(w, http.StatusServiceUnavailable, map[string]any{"error": err.Error()})
	default:
		logger.Warn("Monitor", "Start failed: %v", err)
		writeJSONWithStatus(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
	}
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.session.Stop(r.Context()); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, live.ErrStopped) {
			status = http.StatusServiceUnavailable
		}
		writeJSONWithStatus(w, status, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, s.statusPayload())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, s.statusPayload())
}

func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(s.cfg.StatusInterval)
	defer ticker.Stop()

	for {
		if err := writeSSE(w, s.statusPayload()); err != nil {
			return
		}
		flusher.Flush()
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) statusPayload() map[string]any {
	return map[string]any{
		"session":   s.session.Status(),
		"alerts":    s.display.Alerts(),
		"viewers":   s.frames.ClientCount(),
		"frames":    s.display.Frames(),
		"timestamp": float64(time.Now().Unix()),
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, http.StatusOK, payload)
}

func writeJSONWithStatus(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", types.ContentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
