//go:build !linux

package camera

import (
	"context"
	"fmt"
)

// DeviceSource is only backed by V4L2 on linux.
type DeviceSource struct {
	Path string
}

// NewDeviceSource creates a source for a device path.
func NewDeviceSource(path string) *DeviceSource {
	return &DeviceSource{Path: path}
}

func (s *DeviceSource) String() string {
	return s.Path
}

// Open always fails on this platform.
func (s *DeviceSource) Open(ctx context.Context) (Capture, error) {
	return nil, fmt.Errorf("%w: V4L2 devices are not supported on this platform", ErrPermission)
}
