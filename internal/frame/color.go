package frame

import (
	"image"
	"image/jpeg"
	"image/png"
	"io"
)

// ColorFrame is a projector-ready frame: an RGBA canvas produced by the
// transform engine from one depth frame and one calibration snapshot.
type ColorFrame struct {
	FrameID       uint64
	RenderedNanos int64
	Image         *image.RGBA
}

// Width returns the canvas width in projector pixels.
func (c *ColorFrame) Width() int { return c.Image.Rect.Dx() }

// Height returns the canvas height in projector pixels.
func (c *ColorFrame) Height() int { return c.Image.Rect.Dy() }

// EncodePNG writes the canvas as PNG.
func (c *ColorFrame) EncodePNG(w io.Writer) error {
	return png.Encode(w, c.Image)
}

// EncodeJPEG writes the canvas as JPEG at the quality used by the MJPEG
// preview stream.
func (c *ColorFrame) EncodeJPEG(w io.Writer) error {
	return jpeg.Encode(w, c.Image, &jpeg.Options{Quality: 80})
}
