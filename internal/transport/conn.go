package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dj-oyu/vision-console/internal/logger"
)

// EventKind identifies what happened on a connection.
type EventKind int

const (
	EventOpen EventKind = iota
	EventMessage
	EventClose
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventMessage:
		return "message"
	case EventClose:
		return "close"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is delivered on Conn.Events. Close and Error are terminal: exactly
// one of them is the last event before the channel closes.
type Event struct {
	Kind EventKind
	Data []byte // Message payload
	Code int    // close code for EventClose
	Err  error  // cause for EventError
}

// Options tunes a connection.
type Options struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReadLimit        int64
	Header           http.Header
	EventBuffer      int
}

// DefaultOptions returns the options used by the live session.
func DefaultOptions() Options {
	return Options{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		ReadLimit:        1 << 20,
		EventBuffer:      16,
	}
}

const (
	stateConnecting int32 = iota
	stateOpen
	stateClosed
)

// Conn is a client WebSocket with an event channel instead of callbacks.
// Outbound frames go through a single writer goroutine that holds at most
// one frame; TrySend never queues.
type Conn struct {
	url  string
	opts Options

	state  atomic.Int32
	events chan Event
	sendCh chan []byte
	quit   chan struct{}
	cancel context.CancelFunc

	mu          sync.Mutex
	ws          *websocket.Conn
	closeOnce   sync.Once
	closedLocal atomic.Bool
}

// Connect starts dialing url and returns immediately. The outcome arrives
// on Events as EventOpen or a terminal EventError.
func Connect(ctx context.Context, url string, opts Options) *Conn {
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = DefaultOptions().EventBuffer
	}
	dialCtx, cancel := context.WithCancel(ctx)
	c := &Conn{
		url:    url,
		opts:   opts,
		events: make(chan Event, opts.EventBuffer),
		sendCh: make(chan []byte),
		quit:   make(chan struct{}),
		cancel: cancel,
	}
	go c.run(dialCtx)
	return c
}

// Dial connects synchronously. On success the EventOpen has already been
// consumed from Events.
func Dial(ctx context.Context, url string, opts Options) (*Conn, error) {
	c := Connect(ctx, url, opts)
	select {
	case ev := <-c.events:
		if ev.Kind == EventOpen {
			return c, nil
		}
		c.Close()
		if ev.Err != nil {
			return nil, ev.Err
		}
		return nil, fmt.Errorf("connection closed during handshake (code %d)", ev.Code)
	case <-ctx.Done():
		c.Close()
		return nil, ctx.Err()
	}
}

// Events returns the connection's event stream.
func (c *Conn) Events() <-chan Event {
	return c.events
}

// IsOpen reports whether the handshake completed and the connection has not
// closed since.
func (c *Conn) IsOpen() bool {
	return c.state.Load() == stateOpen
}

// TrySend hands one binary frame to the writer. It returns false, dropping
// the frame, when the writer is still busy with the previous one or the
// connection is not open.
func (c *Conn) TrySend(frame []byte) bool {
	if !c.IsOpen() {
		return false
	}
	select {
	case c.sendCh <- frame:
		return true
	default:
		return false
	}
}

// Close sends a normal close frame and releases the socket. Safe to call
// more than once and from any goroutine.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closedLocal.Store(true)
		c.state.Store(stateClosed)
		close(c.quit)
		c.cancel()

		c.mu.Lock()
		ws := c.ws
		c.mu.Unlock()
		if ws == nil {
			return
		}
		deadline := time.Now().Add(c.writeTimeout())
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if werr := ws.WriteControl(websocket.CloseMessage, msg, deadline); werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
			logger.Debug("WebSocket", "Close frame to %s: %v", c.url, werr)
		}
		err = ws.Close()
	})
	return err
}

func (c *Conn) writeTimeout() time.Duration {
	if c.opts.WriteTimeout > 0 {
		return c.opts.WriteTimeout
	}
	return DefaultOptions().WriteTimeout
}

func (c *Conn) run(ctx context.Context) {
	defer close(c.events)

	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.opts.HandshakeTimeout,
	}
	ws, _, err := dialer.DialContext(ctx, c.url, c.opts.Header)
	if err != nil {
		c.state.Store(stateClosed)
		if c.closedLocal.Load() {
			c.finish(Event{Kind: EventClose, Code: websocket.CloseNormalClosure})
			return
		}
		c.finish(Event{Kind: EventError, Err: fmt.Errorf("dial %s: %w", c.url, err)})
		return
	}

	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()

	// Close may have raced the handshake
	if c.closedLocal.Load() {
		ws.Close()
		c.finish(Event{Kind: EventClose, Code: websocket.CloseNormalClosure})
		return
	}

	if c.opts.ReadLimit > 0 {
		ws.SetReadLimit(c.opts.ReadLimit)
	}
	ws.SetPingHandler(func(appData string) error {
		err := ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(c.writeTimeout()))
		if err != nil {
			logger.Debug("WebSocket", "Error sending pong: %v", err)
		}
		return nil
	})

	c.state.Store(stateOpen)
	logger.Info("WebSocket", "Connected to %s", c.url)
	if !c.emit(Event{Kind: EventOpen}) {
		ws.Close()
		c.finish(Event{Kind: EventClose, Code: websocket.CloseNormalClosure})
		return
	}

	writerDone := make(chan error, 1)
	stopWriter := make(chan struct{})
	go c.writeLoop(ws, stopWriter, writerDone)

	terminal := c.readLoop(ws)
	c.state.Store(stateClosed)
	close(stopWriter)
	ws.Close()

	// a write failure usually surfaces as a read failure too; prefer the
	// write error since it is the root cause
	select {
	case werr := <-writerDone:
		if werr != nil && terminal.Kind == EventError {
			terminal.Err = werr
		}
	default:
	}
	c.finish(terminal)
}

func (c *Conn) readLoop(ws *websocket.Conn) Event {
	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			if c.closedLocal.Load() {
				return Event{Kind: EventClose, Code: websocket.CloseNormalClosure}
			}
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				logger.Info("WebSocket", "Closed by %s (code %d)", c.url, ce.Code)
				return Event{Kind: EventClose, Code: ce.Code}
			}
			logger.Warn("WebSocket", "Read from %s failed: %v", c.url, err)
			return Event{Kind: EventError, Err: err}
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		if !c.emit(Event{Kind: EventMessage, Data: data}) {
			return Event{Kind: EventClose, Code: websocket.CloseNormalClosure}
		}
	}
}

func (c *Conn) writeLoop(ws *websocket.Conn, stop <-chan struct{}, done chan<- error) {
	for {
		select {
		case <-c.quit:
			done <- nil
			return
		case <-stop:
			done <- nil
			return
		case frame := <-c.sendCh:
			_ = ws.SetWriteDeadline(time.Now().Add(c.writeTimeout()))
			if err := ws.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				logger.Warn("WebSocket", "Write to %s failed: %v", c.url, err)
				c.state.Store(stateClosed)
				done <- err
				// unblock the reader
				ws.Close()
				return
			}
		}
	}
}

// emit delivers a non-terminal event unless the connection was closed
// locally first.
func (c *Conn) emit(ev Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.quit:
		return false
	}
}

// finish delivers the terminal event. After a local Close nobody may be
// listening, so it is dropped if the buffer is full.
func (c *Conn) finish(ev Event) {
	select {
	case c.events <- ev:
	case <-c.quit:
		select {
		case c.events <- ev:
		default:
		}
	}
}
