package monitor

import (
	"sync"

	"github.com/dj-oyu/vision-console/internal/logger"
	"github.com/dj-oyu/vision-console/internal/metrics"
	"github.com/dj-oyu/vision-console/pkg/types"
)

// FrameBroadcaster fans out display frames to every MJPEG client. Slow
// clients skip frames rather than holding up the others.
type FrameBroadcaster struct {
	mu      sync.Mutex
	clients map[int]chan types.JPEGFrame
	nextID  int
	latest  *types.JPEGFrame
	metrics *metrics.Metrics
}

// NewFrameBroadcaster creates an empty broadcaster. m may be nil.
func NewFrameBroadcaster(m *metrics.Metrics) *FrameBroadcaster {
	return &FrameBroadcaster{
		clients: make(map[int]chan types.JPEGFrame),
		metrics: m,
	}
}

// Subscribe adds a new client and returns a channel for receiving frames.
// The latest frame, if any, is queued immediately so a new viewer does not
// wait for the next result.
func (fb *FrameBroadcaster) Subscribe() (int, <-chan types.JPEGFrame) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	id := fb.nextID
	fb.nextID++
	ch := make(chan types.JPEGFrame, 2) // Buffer 2 frames to avoid blocking
	if fb.latest != nil {
		ch <- *fb.latest
	}
	fb.clients[id] = ch
	if fb.metrics != nil {
		fb.metrics.ActiveViewers.Store(uint64(len(fb.clients)))
	}

	logger.Debug("FrameBroadcaster", "Client #%d subscribed (total clients: %d)", id, len(fb.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (fb *FrameBroadcaster) Unsubscribe(id int) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if ch, ok := fb.clients[id]; ok {
		close(ch)
		delete(fb.clients, id)
		if fb.metrics != nil {
			fb.metrics.ActiveViewers.Store(uint64(len(fb.clients)))
		}
		logger.Debug("FrameBroadcaster", "Client #%d unsubscribed (remaining clients: %d)", id, len(fb.clients))
	}
}

// Broadcast remembers frame as the latest and hands it to every client
// that has room.
func (fb *FrameBroadcaster) Broadcast(frame types.JPEGFrame) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	fb.latest = &frame
	for _, ch := range fb.clients {
		select {
		case ch <- frame:
		default:
			if fb.metrics != nil {
				fb.metrics.ViewerFramesSkipped.Add(1)
			}
		}
	}
}

// Latest returns the last broadcast frame.
func (fb *FrameBroadcaster) Latest() (types.JPEGFrame, bool) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if fb.latest == nil {
		return types.JPEGFrame{}, false
	}
	return *fb.latest, true
}

// ClientCount reports connected viewers.
func (fb *FrameBroadcaster) ClientCount() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return len(fb.clients)
}

// Close disconnects every client.
func (fb *FrameBroadcaster) Close() {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	for id, ch := range fb.clients {
		close(ch)
		delete(fb.clients, id)
	}
	if fb.metrics != nil {
		fb.metrics.ActiveViewers.Store(0)
	}
}
