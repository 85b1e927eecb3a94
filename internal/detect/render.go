package detect

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

// Overlay style
const (
	StrokeWidth   = 3.0
	FontSize      = 18.0
	LabelHeight   = 24
	LabelPadding  = 4
	LabelBaseline = 18
)

var (
	BoxColor        = color.RGBA{R: 0x32, G: 0xCD, B: 0x32, A: 0xFF} // #32CD32
	LabelBackground = color.NRGBA{R: 0, G: 0, B: 0, A: 178}           // rgba(0,0,0,0.7)
)

// PlaceholderText is shown once the camera is live and before any result.
const PlaceholderText = "Waiting for data..."

var labelFont *truetype.Font

func init() {
	var err error
	labelFont, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

// Overlay is the resolved geometry of one box on the canvas.
type Overlay struct {
	Rect      image.Rectangle
	Label     string
	LabelRect image.Rectangle // zero when Label is empty
	TextAt    image.Point     // baseline origin of the label text
}

// Renderer draws detection overlays. It keeps a font face and is not safe
// for concurrent use.
type Renderer struct {
	face font.Face
}

// NewRenderer creates a renderer with the default label font.
func NewRenderer() *Renderer {
	return &Renderer{
		face: truetype.NewFace(labelFont, &truetype.Options{Size: FontSize}),
	}
}

// Layout resolves every box into canvas geometry without drawing.
func (r *Renderer) Layout(boxes []Box) []Overlay {
	dc := gg.NewContext(1, 1)
	dc.SetFontFace(r.face)

	out := make([]Overlay, 0, len(boxes))
	for _, b := range boxes {
		x1 := int(math.Round(b.X1))
		y1 := int(math.Round(b.Y1))
		w := int(math.Round(b.X2 - float64(x1)))
		h := int(math.Round(b.Y2 - float64(y1)))

		ov := Overlay{Rect: image.Rect(x1, y1, x1+w, y1+h).Canon()}
		if text, ok := b.Caption(); ok {
			textW, _ := dc.MeasureString(text)
			textY := y1
			if y1 > LabelHeight {
				textY = y1 - LabelHeight
			}
			ov.Label = text
			ov.LabelRect = image.Rect(x1, textY, x1+int(math.Ceil(textW))+2*LabelPadding, textY+LabelHeight)
			ov.TextAt = image.Pt(x1+LabelPadding, textY+LabelBaseline)
		}
		out = append(out, ov)
	}
	return out
}

// Render redraws frame and overlays every box on top of it. The result is a
// fresh canvas; nothing from a previous render carries over.
func (r *Renderer) Render(frame image.Image, boxes []Box) *image.RGBA {
	dc := gg.NewContextForImage(frame)
	dc.SetFontFace(r.face)

	for _, ov := range r.Layout(boxes) {
		dc.SetColor(BoxColor)
		dc.SetLineWidth(StrokeWidth)
		dc.DrawRectangle(float64(ov.Rect.Min.X), float64(ov.Rect.Min.Y), float64(ov.Rect.Dx()), float64(ov.Rect.Dy()))
		dc.Stroke()

		if ov.Label == "" {
			continue
		}
		dc.SetColor(LabelBackground)
		dc.DrawRectangle(float64(ov.LabelRect.Min.X), float64(ov.LabelRect.Min.Y), float64(ov.LabelRect.Dx()), float64(ov.LabelRect.Dy()))
		dc.Fill()

		dc.SetColor(BoxColor)
		dc.DrawString(ov.Label, float64(ov.TextAt.X), float64(ov.TextAt.Y))
	}
	return toRGBA(dc.Image())
}

// Placeholder returns a black canvas with a centred waiting message.
func (r *Renderer) Placeholder(width, height int) *image.RGBA {
	if width <= 0 || height <= 0 {
		width, height = 640, 480
	}
	dc := gg.NewContext(width, height)
	dc.SetColor(color.Black)
	dc.Clear()
	dc.SetFontFace(r.face)
	dc.SetColor(color.White)
	dc.DrawStringAnchored(PlaceholderText, float64(width)/2, float64(height)/2, 0.5, 0)
	return toRGBA(dc.Image())
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	out := image.NewRGBA(img.Bounds())
	draw.Draw(out, out.Bounds(), img, img.Bounds().Min, draw.Src)
	return out
}
