package frame

import (
	"testing"
)

func buildTestFrame(t *testing.T, w, h int) *DepthFrame {
	t.Helper()
	depth := make([]float32, w*h)
	valid := make([]bool, w*h)
	for i := range depth {
		depth[i] = float32(1000 + i)
		valid[i] = true
	}
	f, err := NewDepthFrame("test-sensor", 1, 42, w, h, depth, valid)
	if err != nil {
		t.Fatalf("NewDepthFrame failed: %v", err)
	}
	return f
}

func TestNewDepthFrameRejectsBadDimensions(t *testing.T) {
	if _, err := NewDepthFrame("s", 1, 0, 0, 4, nil, nil); err == nil {
		t.Error("Expected error for zero width, got nil")
	}
	if _, err := NewDepthFrame("s", 1, 0, 4, -1, nil, nil); err == nil {
		t.Error("Expected error for negative height, got nil")
	}
	if _, err := NewDepthFrame("s", 1, 0, 2, 2, make([]float32, 3), make([]bool, 4)); err == nil {
		t.Error("Expected error for short depth slice, got nil")
	}
	if _, err := NewDepthFrame("s", 1, 0, 2, 2, make([]float32, 4), make([]bool, 5)); err == nil {
		t.Error("Expected error for mismatched validity slice, got nil")
	}
}

func TestDepthFrameCopiesInput(t *testing.T) {
	depth := []float32{100, 200, 300, 400}
	valid := []bool{true, true, true, true}
	f, err := NewDepthFrame("s", 1, 0, 2, 2, depth, valid)
	if err != nil {
		t.Fatalf("NewDepthFrame failed: %v", err)
	}

	// Mutating the caller's slices must not affect the frame.
	depth[0] = 999
	valid[1] = false

	if z, ok := f.At(0, 0); !ok || z != 100 {
		t.Errorf("Expected cell (0,0) = 100 valid, got %v valid=%v", z, ok)
	}
	if _, ok := f.At(1, 0); !ok {
		t.Error("Expected cell (1,0) to stay valid after caller mutation")
	}
}

func TestDepthFrameAtOutOfBounds(t *testing.T) {
	f := buildTestFrame(t, 4, 3)
	for _, p := range [][2]int{{-1, 0}, {0, -1}, {4, 0}, {0, 3}, {100, 100}} {
		if _, ok := f.At(p[0], p[1]); ok {
			t.Errorf("Expected invalid cell at out-of-bounds (%d,%d)", p[0], p[1])
		}
	}
}

func TestDepthFrameMinMax(t *testing.T) {
	depth := []float32{1500, 1200, 1800, 900}
	valid := []bool{true, true, true, false}
	f, err := NewDepthFrame("s", 1, 0, 2, 2, depth, valid)
	if err != nil {
		t.Fatalf("NewDepthFrame failed: %v", err)
	}

	min, max, ok := f.MinMax()
	if !ok {
		t.Fatal("Expected MinMax to find valid cells")
	}
	if min != 1200 {
		t.Errorf("Expected min 1200, got %v (invalid cell must be skipped)", min)
	}
	if max != 1800 {
		t.Errorf("Expected max 1800, got %v", max)
	}
}

func TestInvalidFrameHasNoValidCells(t *testing.T) {
	f := NewInvalidFrame("s", 7, 0, 8, 4)
	if f.ValidCount() != 0 {
		t.Errorf("Expected 0 valid cells, got %d", f.ValidCount())
	}
	if _, _, ok := f.MinMax(); ok {
		t.Error("Expected MinMax to report no valid cells")
	}
	if f.Width() != 8 || f.Height() != 4 {
		t.Errorf("Expected 8x4 frame, got %dx%d", f.Width(), f.Height())
	}
}

func TestGray16ClampsAndSkipsInvalid(t *testing.T) {
	depth := []float32{-5, 1234, 70000, 500}
	valid := []bool{true, true, true, false}
	f, err := NewDepthFrame("s", 1, 0, 4, 1, depth, valid)
	if err != nil {
		t.Fatalf("NewDepthFrame failed: %v", err)
	}

	img := f.Gray16()
	if got := img.Gray16At(0, 0).Y; got != 0 {
		t.Errorf("Expected negative depth clamped to 0, got %d", got)
	}
	if got := img.Gray16At(1, 0).Y; got != 1234 {
		t.Errorf("Expected depth 1234, got %d", got)
	}
	if got := img.Gray16At(2, 0).Y; got != 65535 {
		t.Errorf("Expected oversized depth clamped to 65535, got %d", got)
	}
	if got := img.Gray16At(3, 0).Y; got != 0 {
		t.Errorf("Expected invalid cell to stay black, got %d", got)
	}
}
