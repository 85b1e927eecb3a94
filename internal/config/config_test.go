package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "http://localhost:8000/upload", cfg.CaptionEndpoint)
	assert.Equal(t, 5, cfg.SampleEvery)
	assert.Equal(t, 70, cfg.JPEGQuality)
	assert.Equal(t, int64(10<<20), cfg.MaxUploadBytes)
	assert.Equal(t, time.Second/60, cfg.RefreshInterval())
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("CAPTION_ENDPOINT", "https://gw.example.com/upload")
	t.Setenv("DETECT_ENDPOINT", "https://gw.example.com")
	t.Setenv("SAMPLE_EVERY", "10")
	t.Setenv("JPEG_QUALITY", "85")
	t.Setenv("REQUEST_TIMEOUT", "5s")
	t.Setenv("LOG_COLOR", "false")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := DefaultConfig()
	require.NoError(t, cfg.ApplyEnv())

	assert.Equal(t, "https://gw.example.com/upload", cfg.CaptionEndpoint)
	assert.Equal(t, "https://gw.example.com", cfg.DetectOrigin)
	assert.Equal(t, 10, cfg.SampleEvery)
	assert.Equal(t, 85, cfg.JPEGQuality)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
	assert.False(t, cfg.LogColor)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.NoError(t, cfg.Validate())
}

func TestApplyEnvReportsBadNumbers(t *testing.T) {
	t.Setenv("SAMPLE_EVERY", "five")
	t.Setenv("REQUEST_TIMEOUT", "soon")

	cfg := DefaultConfig()
	err := cfg.ApplyEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SAMPLE_EVERY")
	assert.Contains(t, err.Error(), "REQUEST_TIMEOUT")
	assert.Equal(t, 5, cfg.SampleEvery)
}

func TestValidateRejectsOutOfRange(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SampleEvery = 0
	cfg.JPEGQuality = 101
	cfg.CaptionEndpoint = "not a url"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SampleEvery")
	assert.Contains(t, err.Error(), "JPEGQuality")
	assert.Contains(t, err.Error(), "CaptionEndpoint")
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("VISION_CONSOLE_TEST_KEY=from-file\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("VISION_CONSOLE_TEST_KEY") })

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env"), path))
	assert.Equal(t, "from-file", os.Getenv("VISION_CONSOLE_TEST_KEY"))
}
