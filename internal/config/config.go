package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config is shared by both command line programs. Each program only reads
// the fields it needs.
type Config struct {
	// Upload-and-caption flow
	CaptionEndpoint string        `validate:"required,url"`
	MaxUploadBytes  int64         `validate:"gt=0"`
	RequestTimeout  time.Duration `validate:"gt=0"`

	// Live detection flow
	DetectOrigin string `validate:"required,url"`
	Camera       string `validate:"required"`
	SampleEvery  int    `validate:"min=1"`
	JPEGQuality  int    `validate:"min=1,max=100"`
	RefreshHz    int    `validate:"min=1,max=240"`
	MonitorAddr  string `validate:"required"`

	// Logging
	LogLevel      string `validate:"oneof=debug info warn error silent DEBUG INFO WARN ERROR SILENT"`
	LogColor      bool
	LogFile       string
	LogMaxSizeMB  int `validate:"min=1"`
	LogMaxBackups int `validate:"min=0"`
}

// DefaultConfig returns the settings used when neither the environment nor
// flags say otherwise.
func DefaultConfig() Config {
	return Config{
		CaptionEndpoint: "http://localhost:8000/upload",
		MaxUploadBytes:  10 << 20,
		RequestTimeout:  60 * time.Second,
		DetectOrigin:    "http://localhost:8000",
		Camera:          "pattern:",
		SampleEvery:     5,
		JPEGQuality:     70,
		RefreshHz:       60,
		MonitorAddr:     ":8080",
		LogLevel:        "info",
		LogColor:        true,
		LogMaxSizeMB:    100,
		LogMaxBackups:   3,
	}
}

// LoadDotEnv loads key=value files into the process environment. Missing
// files are not an error; with no arguments ".env" is tried.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides fields from environment variables.
func (c *Config) ApplyEnv() error {
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) {
		v, ok := os.LookupEnv(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}

	str("CAPTION_ENDPOINT", &c.CaptionEndpoint)
	str("DETECT_ENDPOINT", &c.DetectOrigin)
	str("CAMERA", &c.Camera)
	str("MONITOR_ADDR", &c.MonitorAddr)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FILE", &c.LogFile)
	num("SAMPLE_EVERY", &c.SampleEvery)
	num("JPEG_QUALITY", &c.JPEGQuality)
	num("REFRESH_HZ", &c.RefreshHz)

	if v, ok := os.LookupEnv("MAX_UPLOAD_BYTES"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("MAX_UPLOAD_BYTES: %w", err))
		} else {
			c.MaxUploadBytes = n
		}
	}
	if v, ok := os.LookupEnv("REQUEST_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("REQUEST_TIMEOUT: %w", err))
		} else {
			c.RequestTimeout = d
		}
	}
	if v, ok := os.LookupEnv("LOG_COLOR"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("LOG_COLOR: %w", err))
		} else {
			c.LogColor = b
		}
	}

	return errors.Join(errs...)
}

// RefreshInterval converts RefreshHz into a ticker period.
func (c Config) RefreshInterval() time.Duration {
	if c.RefreshHz <= 0 {
		return time.Second / 60
	}
	return time.Second / time.Duration(c.RefreshHz)
}

var validate = validator.New()

// Validate checks field constraints and reports every violation at once.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s fails %q (value %v)", fe.Field(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}
