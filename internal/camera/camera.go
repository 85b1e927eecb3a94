// Package camera provides capture handles for the live detection session.
//
// A Source is opened once per session; the returned Capture is owned by
// that session and must be closed on every exit path.
package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
)

var (
	// ErrPermission means the camera could not be acquired: access was
	// denied or the device does not exist.
	ErrPermission = errors.New("camera access denied or unavailable")
	// ErrClosed is returned by Snapshot after Close.
	ErrClosed = errors.New("capture closed")
	// ErrNoFrame is returned while a capture has not produced its first frame.
	ErrNoFrame = errors.New("no frame available yet")
	// ErrEnded is returned by Snapshot once the device or stream stopped
	// delivering frames without Close being called.
	ErrEnded = errors.New("camera stream ended")
)

// Source acquires a capture handle.
type Source interface {
	Open(ctx context.Context) (Capture, error)
	String() string
}

// Capture is a live camera handle.
type Capture interface {
	// Snapshot returns the current frame at native resolution.
	Snapshot() (image.Image, error)
	// Size reports the native frame size.
	Size() (width, height int)
	Close() error
}

// Parse picks a source from a URI-like spec:
//
//	pattern:           synthetic colour bars (default)
//	pattern:WxH        colour bars at a given size
//	file:<dir>         loop over the images in dir
//	http(s)://...      MJPEG (multipart/x-mixed-replace) camera
//	/dev/videoN        V4L2 device
func Parse(spec string) (Source, error) {
	spec = strings.TrimSpace(spec)
	switch {
	case spec == "" || spec == "pattern:" || spec == "pattern":
		return NewPatternSource(DefaultWidth, DefaultHeight), nil
	case strings.HasPrefix(spec, "pattern:"):
		var w, h int
		if _, err := fmt.Sscanf(strings.TrimPrefix(spec, "pattern:"), "%dx%d", &w, &h); err != nil || w <= 0 || h <= 0 {
			return nil, fmt.Errorf("invalid pattern size %q", spec)
		}
		return NewPatternSource(w, h), nil
	case strings.HasPrefix(spec, "file:"):
		dir := strings.TrimPrefix(spec, "file:")
		if dir == "" {
			return nil, errors.New("file: source needs a directory")
		}
		return NewFilesSource(dir), nil
	case strings.HasPrefix(spec, "http://"), strings.HasPrefix(spec, "https://"):
		return NewMJPEGSource(spec, nil), nil
	case strings.HasPrefix(spec, "/dev/"):
		return NewDeviceSource(spec), nil
	default:
		return nil, fmt.Errorf("unknown camera source %q", spec)
	}
}
