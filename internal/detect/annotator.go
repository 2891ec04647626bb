// -----------------------------------------------------------------------
// Annotator - Draw detection boxes and labels onto frames
// -----------------------------------------------------------------------

package detect

import (
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/ternarybob/visum/internal/common"
	"github.com/ternarybob/visum/internal/media"
	"github.com/ternarybob/visum/internal/models"
)

// labelOffset is how far above the box top the label baseline sits
const labelOffset = 10

// Annotator draws detections onto frames in place
type Annotator struct {
	boxColor   color.RGBA
	labelColor color.RGBA
	thickness  int
	face       font.Face
}

// NewAnnotator creates an annotator from configuration
func NewAnnotator(cfg *common.AnnotateConfig) *Annotator {
	thickness := cfg.Thickness
	if thickness <= 0 {
		thickness = 2
	}
	return &Annotator{
		boxColor:   rgbFromSlice(cfg.BoxColor, color.RGBA{G: 255, A: 255}),
		labelColor: rgbFromSlice(cfg.LabelColor, color.RGBA{R: 255, G: 255, A: 255}),
		thickness:  thickness,
		face:       basicfont.Face7x13,
	}
}

// Annotate draws all detections onto the frame.
// Each detection gets a box and a "<label> <conf>" caption anchored just
// above the box's top-left corner, clamped into the frame.
func (a *Annotator) Annotate(frame *media.Frame, detections []models.Detection) {
	for _, d := range detections {
		a.drawRect(frame, d.X1, d.Y1, d.X2, d.Y2)

		caption := fmt.Sprintf("%s %.2f", d.Label, d.Confidence)
		y := d.Y1 - labelOffset
		if y < 0 {
			y = 0
		}
		a.drawText(frame, caption, d.X1, y)
	}
}

// drawRect draws a rectangle outline of the configured thickness
func (a *Annotator) drawRect(frame *media.Frame, x1, y1, x2, y2 int) {
	if x2 < x1 {
		x1, x2 = x2, x1
	}
	if y2 < y1 {
		y1, y2 = y2, y1
	}

	for t := 0; t < a.thickness; t++ {
		// Horizontal edges
		for x := x1; x <= x2; x++ {
			frame.Set(x, y1+t, a.boxColor)
			frame.Set(x, y2-t, a.boxColor)
		}
		// Vertical edges
		for y := y1; y <= y2; y++ {
			frame.Set(x1+t, y, a.boxColor)
			frame.Set(x2-t, y, a.boxColor)
		}
	}
}

// drawText renders the caption with the bitmap face. (x, y) is the text
// baseline; glyphs rising above the frame push the baseline down so the
// caption stays visible.
func (a *Annotator) drawText(frame *media.Frame, text string, x, y int) {
	metrics := a.face.Metrics()
	baseline := fixed.I(y)
	if baseline < metrics.Ascent {
		baseline = metrics.Ascent
	}
	drawer := &font.Drawer{
		Dst:  (*frameImage)(frame),
		Src:  image.NewUniform(a.labelColor),
		Face: a.face,
		Dot: fixed.Point26_6{
			X: fixed.I(x),
			Y: baseline,
		},
	}
	drawer.DrawString(text)
}

// frameImage adapts a media.Frame to draw.Image so the font drawer can
// render glyphs directly into the rgb24 buffer.
type frameImage media.Frame

func (f *frameImage) ColorModel() color.Model {
	return color.RGBAModel
}

func (f *frameImage) Bounds() image.Rectangle {
	return image.Rect(0, 0, f.Width, f.Height)
}

func (f *frameImage) At(x, y int) color.Color {
	return (*media.Frame)(f).At(x, y)
}

func (f *frameImage) Set(x, y int, c color.Color) {
	r, g, b, _ := c.RGBA()
	(*media.Frame)(f).Set(x, y, color.RGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8), A: 255})
}

func rgbFromSlice(rgb []int, fallback color.RGBA) color.RGBA {
	if len(rgb) != 3 {
		return fallback
	}
	return color.RGBA{R: uint8(rgb[0]), G: uint8(rgb[1]), B: uint8(rgb[2]), A: 255}
}
