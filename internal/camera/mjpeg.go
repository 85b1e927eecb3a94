package camera

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"

	"github.com/dj-oyu/vision-console/internal/logger"
)

// maxPartBytes bounds a single MJPEG part.
const maxPartBytes = 16 << 20

// MJPEGSource reads a multipart/x-mixed-replace stream from an HTTP camera.
type MJPEGSource struct {
	URL    string
	Client *http.Client
}

// NewMJPEGSource creates a source for url. A nil client uses a client
// without timeout since the response body never ends.
func NewMJPEGSource(url string, client *http.Client) *MJPEGSource {
	if client == nil {
		client = &http.Client{}
	}
	return &MJPEGSource{URL: url, Client: client}
}

func (s *MJPEGSource) String() string {
	return s.URL
}

// Open connects and waits for the first frame (bounded by ctx).
func (s *MJPEGSource) Open(ctx context.Context) (Capture, error) {
	streamCtx, cancel := context.WithCancel(context.Background())

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, s.URL, nil)
	if err != nil {
		cancel()
		return nil, err
	}

	// the dial itself honours ctx; the stream outlives it
	stopDial := context.AfterFunc(ctx, cancel)
	resp, err := s.Client.Do(req)
	if err != nil {
		stopDial()
		cancel()
		return nil, fmt.Errorf("%w: %v", ErrPermission, err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		resp.Body.Close()
		stopDial()
		cancel()
		return nil, fmt.Errorf("%w: camera returned %s", ErrPermission, resp.Status)
	default:
		resp.Body.Close()
		stopDial()
		cancel()
		return nil, fmt.Errorf("camera returned %s", resp.Status)
	}

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") || params["boundary"] == "" {
		resp.Body.Close()
		stopDial()
		cancel()
		return nil, fmt.Errorf("not an MJPEG stream: %q", resp.Header.Get("Content-Type"))
	}

	c := &mjpegCapture{
		cancel: cancel,
		body:   resp.Body,
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}
	go c.readLoop(multipart.NewReader(resp.Body, params["boundary"]))

	select {
	case <-c.ready:
		stopDial()
		return c, nil
	case <-c.done:
		stopDial()
		c.Close()
		return nil, fmt.Errorf("stream ended before first frame: %v", c.err())
	case <-ctx.Done():
		c.Close()
		return nil, ctx.Err()
	}
}

type mjpegCapture struct {
	cancel context.CancelFunc
	body   io.ReadCloser

	mu       sync.Mutex
	latest   []byte
	width    int
	height   int
	readErr  error
	closed   bool
	ready    chan struct{}
	done     chan struct{}
	once     sync.Once
	readOnce sync.Once
}

func (c *mjpegCapture) readLoop(mr *multipart.Reader) {
	defer close(c.done)

	for {
		part, err := mr.NextPart()
		if err != nil {
			c.setErr(err)
			return
		}
		data, err := io.ReadAll(io.LimitReader(part, maxPartBytes))
		part.Close()
		if err != nil {
			c.setErr(err)
			return
		}

		cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			logger.Debug("Camera", "Skipping undecodable MJPEG part: %v", err)
			continue
		}

		c.mu.Lock()
		c.latest = data
		c.width, c.height = cfg.Width, cfg.Height
		c.mu.Unlock()
		c.readOnce.Do(func() { close(c.ready) })
	}
}

func (c *mjpegCapture) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr == nil {
		c.readErr = err
	}
}

func (c *mjpegCapture) err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readErr
}

func (c *mjpegCapture) Snapshot() (image.Image, error) {
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
	return jpeg.Decode(bytes.NewReader(data))
}

func (c *mjpegCapture) Size() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.width, c.height
}

func (c *mjpegCapture) Close() error {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.cancel()
		c.body.Close()
	})
	return nil
}
