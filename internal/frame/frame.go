// Package frame defines the frame types exchanged between sensor sources,
// the transform engine and output sinks: depth frames coming off a sensor
// and colorized frames headed for the projector.
package frame

import (
	"fmt"
	"image"
)

// DepthFrame is a single depth capture: a dense row-major grid of
// millimetre distances with a per-cell validity flag. A cell is invalid
// when the sensor could not measure it (dropout, occlusion, out of range).
// Frames are immutable once constructed; sources build a fresh frame per
// poll and hand ownership to the caller.
type DepthFrame struct {
	sensorID string
	frameID  uint64
	takenNs  int64

	width  int
	height int
	depth  []float32 // millimetres, row-major
	valid  []bool
}

// NewDepthFrame builds an immutable depth frame from row-major depth and
// validity slices. Both slices must have exactly width*height entries; the
// data is copied so callers may reuse their buffers.
func NewDepthFrame(sensorID string, frameID uint64, takenNanos int64, width, height int, depthMM []float32, valid []bool) (*DepthFrame, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("bad frame dimensions %dx%d", width, height)
	}
	n := width * height
	if len(depthMM) != n {
		return nil, fmt.Errorf("depth slice has %d cells, want %d", len(depthMM), n)
	}
	if len(valid) != n {
		return nil, fmt.Errorf("validity slice has %d cells, want %d", len(valid), n)
	}

	f := &DepthFrame{
		sensorID: sensorID,
		frameID:  frameID,
		takenNs:  takenNanos,
		width:    width,
		height:   height,
		depth:    make([]float32, n),
		valid:    make([]bool, n),
	}
	copy(f.depth, depthMM)
	copy(f.valid, valid)
	return f, nil
}

// NewInvalidFrame builds a frame of the given dimensions with every cell
// marked invalid. Sources return these on total capture failure so the
// pipeline can keep rendering (the whole canvas comes out as background).
func NewInvalidFrame(sensorID string, frameID uint64, takenNanos int64, width, height int) *DepthFrame {
	n := width * height
	return &DepthFrame{
		sensorID: sensorID,
		frameID:  frameID,
		takenNs:  takenNanos,
		width:    width,
		height:   height,
		depth:    make([]float32, n),
		valid:    make([]bool, n),
	}
}

func (f *DepthFrame) SensorID() string      { return f.sensorID }
func (f *DepthFrame) FrameID() uint64       { return f.frameID }
func (f *DepthFrame) TimestampNanos() int64 { return f.takenNs }
func (f *DepthFrame) Width() int            { return f.width }
func (f *DepthFrame) Height() int           { return f.height }

// At returns the depth in millimetres at (x, y) and whether the cell is
// valid. Coordinates outside the grid report an invalid cell.
func (f *DepthFrame) At(x, y int) (float32, bool) {
	if x < 0 || y < 0 || x >= f.width || y >= f.height {
		return 0, false
	}
	i := y*f.width + x
	return f.depth[i], f.valid[i]
}

// ValidCount reports how many cells carry a measurement.
func (f *DepthFrame) ValidCount() int {
	n := 0
	for _, ok := range f.valid {
		if ok {
			n++
		}
	}
	return n
}

// MinMax returns the smallest and largest valid depth in the frame. The
// third return is false when no cell is valid.
func (f *DepthFrame) MinMax() (float32, float32, bool) {
	var min, max float32
	found := false
	for i, ok := range f.valid {
		if !ok {
			continue
		}
		z := f.depth[i]
		if !found {
			min, max = z, z
			found = true
			continue
		}
		if z < min {
			min = z
		}
		if z > max {
			max = z
		}
	}
	return min, max, found
}

// Gray16 renders the raw depth as a 16-bit grayscale image, one millimetre
// per grey level, invalid cells black. Used by the offline analysis tool
// for frame dumps; the projector path goes through the transform engine
// instead.
func (f *DepthFrame) Gray16() *image.Gray16 {
	img := image.NewGray16(image.Rect(0, 0, f.width, f.height))
	for y := 0; y < f.height; y++ {
		for x := 0; x < f.width; x++ {
			i := y*f.width + x
			if !f.valid[i] {
				continue
			}
			z := f.depth[i]
			if z < 0 {
				z = 0
			}
			if z > 65535 {
				z = 65535
			}
			off := img.PixOffset(x, y)
			v := uint16(z)
			img.Pix[off] = uint8(v >> 8)
			img.Pix[off+1] = uint8(v)
		}
	}
	return img
}
