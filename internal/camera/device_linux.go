//go:build linux

package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"sync"

	"github.com/blackjack/webcam"

	"github.com/dj-oyu/vision-console/internal/logger"
)

// V4L2 pixel formats (fourcc)
const (
	pixFmtYUYV  webcam.PixelFormat = 0x56595559 // 'YUYV'
	pixFmtMJPEG webcam.PixelFormat = 0x47504A4D // 'MJPG'
)

// preferredWidth steers frame size selection towards VGA, which keeps the
// upload small enough for a frame every few refreshes.
const preferredWidth = 640

// DeviceSource opens a V4L2 device such as /dev/video0.
type DeviceSource struct {
	Path string
}

// NewDeviceSource creates a source for a V4L2 device path.
func NewDeviceSource(path string) *DeviceSource {
	return &DeviceSource{Path: path}
}

func (s *DeviceSource) String() string {
	return s.Path
}

// Open negotiates a pixel format and starts streaming. Any failure to open
// the device itself is reported as ErrPermission.
func (s *DeviceSource) Open(ctx context.Context) (Capture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cam, err := webcam.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrPermission, s.Path, err)
	}

	format, w, h, err := negotiate(cam)
	if err != nil {
		cam.Close()
		return nil, err
	}
	if err := cam.SetBufferCount(2); err != nil {
		cam.Close()
		return nil, fmt.Errorf("set buffer count for %s: %w", s.Path, err)
	}
	if err := cam.StartStreaming(); err != nil {
		cam.Close()
		return nil, fmt.Errorf("%w: start streaming %s: %v", ErrPermission, s.Path, err)
	}

	logger.Info("Camera", "Opened %s (%dx%d, format 0x%08x)", s.Path, w, h, uint32(format))

	c := &deviceCapture{
		cam:    cam,
		format: format,
		width:  int(w),
		height: int(h),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func negotiate(cam *webcam.Webcam) (webcam.PixelFormat, uint32, uint32, error) {
	supported := cam.GetSupportedFormats()

	var format webcam.PixelFormat
	for _, f := range []webcam.PixelFormat{pixFmtMJPEG, pixFmtYUYV} {
		if _, ok := supported[f]; ok && len(cam.GetSupportedFrameSizes(f)) > 0 {
			format = f
			break
		}
	}
	if format == 0 {
		return 0, 0, 0, fmt.Errorf("no supported pixel format, device offers %v", supported)
	}

	sizes := cam.GetSupportedFrameSizes(format)
	best := 0
	for i, sz := range sizes {
		if absDiff(sz.MaxWidth, preferredWidth) < absDiff(sizes[best].MaxWidth, preferredWidth) {
			best = i
		}
	}

	got, w, h, err := cam.SetImageFormat(format, sizes[best].MaxWidth, sizes[best].MaxHeight)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("set image format: %w", err)
	}
	return got, w, h, nil
}

func absDiff(a, b uint32) uint32 {
	if a > b {
		return a - b
	}
	return b - a
}

type deviceCapture struct {
	cam    *webcam.Webcam
	format webcam.PixelFormat
	width  int
	height int

	mu      sync.Mutex
	latest  []byte
	readErr error
	closed  bool
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

func (c *deviceCapture) readLoop() {
	defer close(c.done)

	for {
		select {
		case <-c.stop:
			return
		default:
		}

		err := c.cam.WaitForFrame(1)
		if err != nil {
			var timeout *webcam.Timeout
			if errors.As(err, &timeout) {
				continue
			}
			logger.Warn("Camera", "Wait for frame failed: %v", err)
			c.setErr(err)
			return
		}

		frame, err := c.cam.ReadFrame()
		if err != nil {
			logger.Warn("Camera", "Read frame failed: %v", err)
			c.setErr(err)
			return
		}
		if len(frame) == 0 {
			continue
		}

		buf := make([]byte, len(frame))
		copy(buf, frame)
		c.mu.Lock()
		c.latest = buf
		c.mu.Unlock()
	}
}

func (c *deviceCapture) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr == nil {
		c.readErr = err
	}
}

func (c *deviceCapture) Snapshot() (image.Image, error) {
	c.mu.Lock()
	closed, data, readErr := c.closed, c.latest, c.readErr
	c.mu.Unlock()

	if closed {
		return nil, ErrClosed
	}
	select {
	case <-c.done:
		return nil, fmt.Errorf("%w: %v", ErrEnded, readErr)
	default:
	}
	if data == nil {
		return nil, ErrNoFrame
	}
	return c.decode(data)
}

func (c *deviceCapture) decode(frame []byte) (image.Image, error) {
	switch c.format {
	case pixFmtMJPEG:
		return jpeg.Decode(bytes.NewReader(frame))
	case pixFmtYUYV:
		img := image.NewYCbCr(image.Rect(0, 0, c.width, c.height), image.YCbCrSubsampleRatio422)
		if len(frame) < len(img.Cb)*4 {
			return nil, fmt.Errorf("short YUYV frame: %d bytes", len(frame))
		}
		for i := range img.Cb {
			ii := i * 4
			img.Y[i*2] = frame[ii]
			img.Y[i*2+1] = frame[ii+2]
			img.Cb[i] = frame[ii+1]
			img.Cr[i] = frame[ii+3]
		}
		return img, nil
	default:
		return nil, fmt.Errorf("unsupported pixel format 0x%08x", uint32(c.format))
	}
}

func (c *deviceCapture) Size() (int, int) {
	return c.width, c.height
}

func (c *deviceCapture) Close() error {
	var err error
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		close(c.stop)
		<-c.done
		if serr := c.cam.StopStreaming(); serr != nil {
			logger.Debug("Camera", "Stop streaming: %v", serr)
		}
		err = c.cam.Close()
	})
	return err
}
