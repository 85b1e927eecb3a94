package types

import "time"

// JPEGFrame is one encoded display canvas fanned out to the local MJPEG
// viewers.
type JPEGFrame struct {
	Data      []byte    // Encoded JPEG bytes
	Timestamp time.Time // Time the canvas was encoded
	FrameNum  uint64    // Sequential canvas number
	Width     int
	Height    int
}

// Content types exchanged with the inference service.
const (
	ContentTypeJPEG = "image/jpeg"
	ContentTypeJSON = "application/json"
)
