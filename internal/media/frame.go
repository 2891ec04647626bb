package media

import (
	"fmt"
	"image"
	"image/color"
)

// Frame is a single decoded video frame in packed RGB24 layout,
// exactly as ffmpeg's rawvideo/rgb24 output delivers it.
type Frame struct {
	Width  int
	Height int
	Pix    []byte // len = Width * Height * 3
}

// NewFrame allocates an empty frame
func NewFrame(width, height int) *Frame {
	return &Frame{
		Width:  width,
		Height: height,
		Pix:    make([]byte, width*height*3),
	}
}

// ByteSize returns the expected pixel buffer size for the frame dimensions
func (f *Frame) ByteSize() int {
	return f.Width * f.Height * 3
}

// Validate checks that the pixel buffer matches the frame dimensions
func (f *Frame) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("invalid frame dimensions %dx%d", f.Width, f.Height)
	}
	if len(f.Pix) != f.ByteSize() {
		return fmt.Errorf("frame buffer size %d does not match %dx%d rgb24 (%d bytes)",
			len(f.Pix), f.Width, f.Height, f.ByteSize())
	}
	return nil
}

// At returns the color at (x, y). Out-of-bounds coordinates return black.
func (f *Frame) At(x, y int) color.RGBA {
	if x < 0 || y < 0 || x >= f.Width || y >= f.Height {
		return color.RGBA{A: 255}
	}
	i := (y*f.Width + x) * 3
	return color.RGBA{R: f.Pix[i], G: f.Pix[i+1], B: f.Pix[i+2], A: 255}
}

// Set writes a color at (x, y). Out-of-bounds coordinates are ignored.
func (f *Frame) Set(x, y int, c color.RGBA) {
	if x < 0 || y < 0 || x >= f.Width || y >= f.Height {
		return
	}
	i := (y*f.Width + x) * 3
	f.Pix[i] = c.R
	f.Pix[i+1] = c.G
	f.Pix[i+2] = c.B
}

// ToRGBA converts the frame to an image.RGBA (used for JPEG encoding)
func (f *Frame) ToRGBA() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for y := 0; y < f.Height; y++ {
		src := y * f.Width * 3
		dst := y * img.Stride
		for x := 0; x < f.Width; x++ {
			img.Pix[dst] = f.Pix[src]
			img.Pix[dst+1] = f.Pix[src+1]
			img.Pix[dst+2] = f.Pix[src+2]
			img.Pix[dst+3] = 255
			src += 3
			dst += 4
		}
	}
	return img
}
