package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dj-oyu/vision-console/internal/camera"
	"github.com/dj-oyu/vision-console/internal/config"
	"github.com/dj-oyu/vision-console/internal/live"
	"github.com/dj-oyu/vision-console/internal/logger"
	"github.com/dj-oyu/vision-console/internal/metrics"
	"github.com/dj-oyu/vision-console/internal/monitor"
	"github.com/dj-oyu/vision-console/internal/transport"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("Failed to load .env: %v", err)
	}
	cfg := config.DefaultConfig()
	if err := cfg.ApplyEnv(); err != nil {
		log.Fatalf("Invalid environment: %v", err)
	}

	var (
		autoStart bool
		origins   string
	)

	flag.StringVar(&cfg.DetectOrigin, "endpoint", cfg.DetectOrigin, "Detection service origin (http(s):// or ws(s)://)")
	flag.StringVar(&cfg.Camera, "camera", cfg.Camera, "Camera source (pattern:[WxH], file:<dir>, http(s)://mjpeg, /dev/videoN)")
	flag.StringVar(&cfg.MonitorAddr, "http", cfg.MonitorAddr, "Display server address")
	flag.IntVar(&cfg.SampleEvery, "sample-every", cfg.SampleEvery, "Send one frame every N refresh ticks")
	flag.IntVar(&cfg.JPEGQuality, "quality", cfg.JPEGQuality, "JPEG quality of frames sent for detection")
	flag.IntVar(&cfg.RefreshHz, "refresh", cfg.RefreshHz, "Refresh rate in Hz")
	flag.BoolVar(&autoStart, "start", false, "Start the camera immediately")
	flag.StringVar(&origins, "cors", "", "Comma-separated origins allowed to call the API")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error, silent)")
	flag.BoolVar(&cfg.LogColor, "log-color", cfg.LogColor, "Enable colored log output")
	flag.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "Also write logs to this rotating file")
	flag.Parse()

	if err := cfg.Validate(); err != nil {
		log.Fatalf("%v", err)
	}

	// Initialize logger
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, cfg.LogColor)
	if cfg.LogFile != "" {
		logger.SetFile(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
	}
	defer logger.Close()

	source, err := camera.Parse(cfg.Camera)
	if err != nil {
		log.Fatalf("Invalid camera: %v", err)
	}
	endpoint, err := transport.EndpointURL(cfg.DetectOrigin)
	if err != nil {
		log.Fatalf("Invalid endpoint: %v", err)
	}

	m := metrics.New()

	monCfg := monitor.DefaultConfig()
	monCfg.Addr = cfg.MonitorAddr
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			monCfg.AllowedOrigins = append(monCfg.AllowedOrigins, o)
		}
	}
	frames := monitor.NewFrameBroadcaster(m)
	display := monitor.NewDisplay(frames, monCfg, m)

	sessCfg := live.DefaultConfig()
	sessCfg.Endpoint = endpoint
	sessCfg.SampleEvery = cfg.SampleEvery
	sessCfg.JPEGQuality = cfg.JPEGQuality
	sessCfg.RefreshPeriod = cfg.RefreshInterval()
	session := live.NewSession(sessCfg, source, display, display, live.WithMetrics(m))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := session.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Main", "Session loop exited: %v", err)
		}
	}()

	server := monitor.NewServer(monCfg, session, display, frames, m)
	httpServer := &http.Server{
		Addr:              monCfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Main", "Live detection display listening on %s", monCfg.Addr)
	logger.Info("Main", "Camera: %s, endpoint: %s", source, endpoint)
	logger.Info("Main", "Log level: %s", level)

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Main", "HTTP server error: %v", err)
			cancel()
		}
	}()

	if autoStart {
		if err := session.Start(ctx); err != nil {
			logger.Warn("Main", "Auto start failed: %v", err)
		}
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigChan:
	case <-ctx.Done():
	}

	logger.Info("Main", "Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	frames.Close()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Main", "HTTP shutdown: %v", err)
	}
	cancel()
	<-runDone

	logger.Info("Main", "Stopped")
}
