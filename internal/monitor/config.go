package monitor

import "time"

// Config defines the runtime configuration for the local display server.
type Config struct {
	Addr           string
	StatusInterval time.Duration // SSE status push period
	IdleBlank      time.Duration // send a blank frame when no canvas arrives for this long
	DisplayQuality int           // JPEG quality of the MJPEG display stream
	MaxAlerts      int           // notifications kept for the page
	AllowedOrigins []string      // CORS origins for the API; empty disables CORS
}

// DefaultConfig returns the settings used by cmd/livedetect.
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		StatusInterval: time.Second,
		IdleBlank:      5 * time.Second,
		DisplayQuality: 80,
		MaxAlerts:      20,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.StatusInterval <= 0 {
		c.StatusInterval = def.StatusInterval
	}
	if c.IdleBlank <= 0 {
		c.IdleBlank = def.IdleBlank
	}
	if c.DisplayQuality <= 0 || c.DisplayQuality > 100 {
		c.DisplayQuality = def.DisplayQuality
	}
	if c.MaxAlerts <= 0 {
		c.MaxAlerts = def.MaxAlerts
	}
	return c
}
