package camera

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sync"
)

// Default synthetic frame size.
const (
	DefaultWidth  = 640
	DefaultHeight = 480
)

// Colour bars: White, Yellow, Cyan, Green, Magenta, Red, Blue, Black
var barColors = []color.RGBA{
	{R: 255, G: 255, B: 255, A: 255},
	{R: 255, G: 255, B: 0, A: 255},
	{R: 0, G: 255, B: 255, A: 255},
	{R: 0, G: 255, B: 0, A: 255},
	{R: 255, G: 0, B: 255, A: 255},
	{R: 255, G: 0, B: 0, A: 255},
	{R: 0, G: 0, B: 255, A: 255},
	{R: 0, G: 0, B: 0, A: 255},
}

// ColorBars renders the test pattern used for placeholders and the
// synthetic camera.
func ColorBars(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	barWidth := width / len(barColors)
	if barWidth == 0 {
		barWidth = 1
	}
	for i, c := range barColors {
		x0 := i * barWidth
		x1 := x0 + barWidth
		if i == len(barColors)-1 {
			x1 = width
		}
		draw.Draw(img, image.Rect(x0, 0, x1, height), &image.Uniform{C: c}, image.Point{}, draw.Src)
	}
	return img
}

// PatternSource is an always-available synthetic camera. A grey square
// sweeps across the bars so consecutive frames differ.
type PatternSource struct {
	Width, Height int
}

// NewPatternSource creates a synthetic source.
func NewPatternSource(width, height int) *PatternSource {
	return &PatternSource{Width: width, Height: height}
}

func (p *PatternSource) String() string {
	return fmt.Sprintf("pattern:%dx%d", p.Width, p.Height)
}

// Open never fails unless ctx is already done.
func (p *PatternSource) Open(ctx context.Context) (Capture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &patternCapture{
		base:   ColorBars(p.Width, p.Height),
		width:  p.Width,
		height: p.Height,
	}, nil
}

type patternCapture struct {
	mu     sync.Mutex
	base   *image.RGBA
	width  int
	height int
	tick   int
	closed bool
}

func (c *patternCapture) Snapshot() (image.Image, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}

	frame := image.NewRGBA(c.base.Bounds())
	copy(frame.Pix, c.base.Pix)

	side := c.height / 6
	if side > 0 && c.width > side {
		x := (c.tick * 8) % (c.width - side)
		y := (c.height - side) / 2
		draw.Draw(frame, image.Rect(x, y, x+side, y+side), &image.Uniform{C: color.RGBA{R: 128, G: 128, B: 128, A: 255}}, image.Point{}, draw.Src)
	}
	c.tick++
	return frame, nil
}

func (c *patternCapture) Size() (int, int) {
	return c.width, c.height
}

func (c *patternCapture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
