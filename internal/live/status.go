package live

import "fmt"

// State is the session lifecycle state.
type State int

const (
	Idle State = iota
	Streaming
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Streaming:
		return "streaming"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText renders the state as its name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type counters struct {
	sent      uint64
	dropped   uint64
	results   uint64
	malformed uint64
}

// Status is a read-only snapshot of the session for the UI.
type Status struct {
	State         State  `json:"state"`
	SessionID     string `json:"session_id,omitempty"`
	Connected     bool   `json:"connected"`
	Camera        string `json:"camera"`
	Endpoint      string `json:"endpoint"`
	Counter       int    `json:"frame_counter"`
	FramesSent    uint64 `json:"frames_sent"`
	FramesDropped uint64 `json:"frames_dropped"`
	Results       uint64 `json:"results"`
	Malformed     uint64 `json:"malformed"`
	LastError     string `json:"last_error,omitempty"`
}

// Status returns the latest snapshot. Safe from any goroutine.
func (s *Session) Status() Status {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status
}

func (s *Session) publishStatus() {
	st := Status{
		State:         s.state,
		SessionID:     s.sessionID,
		Connected:     s.open && s.sock != nil,
		Endpoint:      s.cfg.Endpoint,
		Counter:       s.counter,
		FramesSent:    s.stats.sent,
		FramesDropped: s.stats.dropped,
		Results:       s.stats.results,
		Malformed:     s.stats.malformed,
		LastError:     s.lastErr,
	}
	if s.source != nil {
		st.Camera = s.source.String()
	}

	s.statusMu.Lock()
	s.status = st
	s.statusMu.Unlock()
}
