package detect

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNotArray is returned when a detection message is not a JSON array.
var ErrNotArray = errors.New("detection payload is not a JSON array")

// Box is one labeled rectangle returned by the inference service.
// Coordinates are pixels in the sent frame's space.
type Box struct {
	X1    float64  `json:"x1"`
	Y1    float64  `json:"y1"`
	X2    float64  `json:"x2"`
	Y2    float64  `json:"y2"`
	Label *string  `json:"label,omitempty"`
	Conf  *float64 `json:"conf,omitempty"`
}

// Caption returns "<label>: <percent>%" when both the label and a non-zero
// confidence are present.
func (b Box) Caption() (string, bool) {
	if b.Label == nil || *b.Label == "" || b.Conf == nil || *b.Conf == 0 {
		return "", false
	}
	return fmt.Sprintf("%s: %d%%", *b.Label, int(math.Round(*b.Conf*100))), true
}

// ParseBoxes decodes one server message. The message as a whole must be a
// JSON array; individual elements that are not objects with four numeric
// bounds are skipped and counted in skipped.
func ParseBoxes(payload []byte) (boxes []Box, skipped int, err error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, 0, ErrNotArray
	}

	var elems []jsoniter.RawMessage
	if err := json.Unmarshal(trimmed, &elems); err != nil {
		return nil, 0, fmt.Errorf("decode detection payload: %w", err)
	}

	boxes = make([]Box, 0, len(elems))
	for _, raw := range elems {
		box, ok := parseBox(raw)
		if !ok {
			skipped++
			continue
		}
		boxes = append(boxes, box)
	}
	return boxes, skipped, nil
}

func parseBox(raw []byte) (Box, bool) {
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return Box{}, false
	}

	var box Box
	for key, dst := range map[string]*float64{"x1": &box.X1, "y1": &box.Y1, "x2": &box.X2, "y2": &box.Y2} {
		v, ok := fields[key].(float64)
		if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
			return Box{}, false
		}
		*dst = v
	}

	if label, ok := fields["label"].(string); ok {
		box.Label = &label
	}
	if conf, ok := fields["conf"].(float64); ok && !math.IsNaN(conf) {
		conf = math.Max(0, math.Min(1, conf))
		box.Conf = &conf
	}
	return box, true
}
