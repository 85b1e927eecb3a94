package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/dj-oyu/vision-console/internal/caption"
	"github.com/dj-oyu/vision-console/internal/config"
	"github.com/dj-oyu/vision-console/internal/logger"
	"github.com/dj-oyu/vision-console/internal/metrics"
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
		file        string
		outDir      string
		interactive bool
	)

	flag.StringVar(&cfg.CaptionEndpoint, "endpoint", cfg.CaptionEndpoint, "Upload endpoint URL")
	flag.Int64Var(&cfg.MaxUploadBytes, "max-bytes", cfg.MaxUploadBytes, "Maximum image size in bytes")
	flag.DurationVar(&cfg.RequestTimeout, "timeout", cfg.RequestTimeout, "Request timeout")
	flag.StringVar(&file, "file", "", "Image to caption")
	flag.StringVar(&outDir, "out", "", "Directory to write the returned image to")
	flag.BoolVar(&interactive, "i", false, "Interactive mode (open <path>, analyze, quit)")
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	client := caption.NewClient(cfg.CaptionEndpoint,
		caption.WithTimeout(cfg.RequestTimeout),
		caption.WithMetrics(m),
	)
	view := newTermView(os.Stdout, outDir)
	flow := caption.NewFlow(client, view, cfg.MaxUploadBytes)

	code := 0
	if interactive {
		repl(ctx, flow, view, os.Stdin)
	} else if !analyzeOnce(ctx, flow, view, file) {
		code = 1
	}

	logger.Info("Main", "%s", uploadSummary(m))
	if code != 0 {
		logger.Close()
		os.Exit(code)
	}
}

// analyzeOnce selects file, if given, and uploads it. Failures are already
// shown on the view.
func analyzeOnce(ctx context.Context, flow *caption.Flow, view *termView, file string) bool {
	if file != "" {
		if err := flow.SelectFile(file); err != nil {
			return false
		}
		view.setSelection(file)
	}
	_, err := flow.Analyze(ctx)
	return err == nil
}

func uploadSummary(m *metrics.Metrics) string {
	return fmt.Sprintf("Uploads: %d ok, %d failed (last took %d ms)",
		m.UploadsOK.Load(), m.UploadsFailed.Load(), m.UploadLatencyMs.Load())
}

// repl reads commands until quit or EOF. analyze runs in the background, so
// a second analyze while one is in flight reports busy instead of queueing.
func repl(ctx context.Context, flow *caption.Flow, view *termView, in io.Reader) {
	var wg sync.WaitGroup
	defer wg.Wait()

	view.printf("commands: open <path>, analyze, quit")
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		cmd, arg, _ := strings.Cut(strings.TrimSpace(scanner.Text()), " ")
		switch cmd {
		case "":
		case "open":
			path := strings.TrimSpace(arg)
			if path == "" {
				view.ShowError("usage: open <path>")
				continue
			}
			if err := flow.SelectFile(path); err != nil {
				continue
			}
			view.setSelection(path)
		case "analyze":
			if flow.Busy() {
				view.ShowError(caption.ErrBusy.Error())
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := flow.Analyze(ctx); errors.Is(err, caption.ErrBusy) {
					view.ShowError(err.Error())
				}
			}()
		case "quit", "exit":
			return
		default:
			view.ShowError(fmt.Sprintf("unknown command %q", cmd))
		}
	}
}
