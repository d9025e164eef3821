package sensor

import (
	"math"
	"testing"

	"github.com/relief-labs/topobox/internal/frame"
)

// scriptedSource replays a fixed frame sequence, holding the last
// frame once the script runs out.
type scriptedSource struct {
	frames []*frame.DepthFrame
	i      int
}

func (s *scriptedSource) ID() string { return "scripted" }

func (s *scriptedSource) Poll() *frame.DepthFrame {
	f := s.frames[s.i]
	if s.i < len(s.frames)-1 {
		s.i++
	}
	return f
}

func (s *scriptedSource) Close() error { return nil }

func scriptFrame(t *testing.T, w, h int, depth []float32, valid []bool) *frame.DepthFrame {
	t.Helper()
	f, err := frame.NewDepthFrame("scripted", 1, 0, w, h, depth, valid)
	if err != nil {
		t.Fatalf("Failed to build frame: %v", err)
	}
	return f
}

func uniform(w, h int, z float32) ([]float32, []bool) {
	depth := make([]float32, w*h)
	valid := make([]bool, w*h)
	for i := range depth {
		depth[i] = z
		valid[i] = true
	}
	return depth, valid
}

func TestTemporalFilterAveragesWindow(t *testing.T) {
	d1, v1 := uniform(2, 2, 100)
	d2, v2 := uniform(2, 2, 200)
	src := &scriptedSource{frames: []*frame.DepthFrame{
		scriptFrame(t, 2, 2, d1, v1),
		scriptFrame(t, 2, 2, d2, v2),
	}}
	filter := NewTemporalFilter(src, FilterConfig{Frames: 2, Sigma: -1})

	if z, _ := filter.Poll().At(0, 0); z != 100 {
		t.Errorf("Expected first poll to pass through 100, got %v", z)
	}
	if z, _ := filter.Poll().At(0, 0); z != 150 {
		t.Errorf("Expected mean of 100 and 200, got %v", z)
	}
}

func TestTemporalFilterSkipsInvalidSamples(t *testing.T) {
	d1, v1 := uniform(2, 2, 100)
	v1[0] = false // (0,0) missing in the first frame
	v1[3] = false // (1,1) missing in both
	d2, v2 := uniform(2, 2, 200)
	v2[3] = false
	src := &scriptedSource{frames: []*frame.DepthFrame{
		scriptFrame(t, 2, 2, d1, v1),
		scriptFrame(t, 2, 2, d2, v2),
	}}
	filter := NewTemporalFilter(src, FilterConfig{Frames: 2, Sigma: -1})
	filter.Poll()
	f := filter.Poll()

	if z, ok := f.At(0, 0); !ok || z != 200 {
		t.Errorf("Expected the single valid sample 200, got %v (valid %v)", z, ok)
	}
	if z, ok := f.At(1, 0); !ok || z != 150 {
		t.Errorf("Expected mean 150 at a fully sampled cell, got %v (valid %v)", z, ok)
	}
	if _, ok := f.At(1, 1); ok {
		t.Error("Expected a cell with no valid samples to stay invalid")
	}
}

func TestTemporalFilterBlurKeepsHoles(t *testing.T) {
	depth, valid := uniform(9, 9, 100)
	valid[4*9+4] = false // hole in the middle
	src := &scriptedSource{frames: []*frame.DepthFrame{
		scriptFrame(t, 9, 9, depth, valid),
	}}
	filter := NewTemporalFilter(src, FilterConfig{Frames: 1, Sigma: 1})
	f := filter.Poll()

	if _, ok := f.At(4, 4); ok {
		t.Error("Expected the hole to stay invalid through the blur")
	}
	for y := 0; y < 9; y++ {
		for x := 0; x < 9; x++ {
			if x == 4 && y == 4 {
				continue
			}
			z, ok := f.At(x, y)
			if !ok {
				t.Fatalf("Expected (%d,%d) to stay valid", x, y)
			}
			// A uniform surface must come out of a renormalized blur
			// unchanged, holes and edges included.
			if math.Abs(float64(z)-100) > 1e-3 {
				t.Fatalf("Expected 100 at (%d,%d), got %v", x, y, z)
			}
		}
	}
}

func TestTemporalFilterResetsOnGeometryChange(t *testing.T) {
	d1, v1 := uniform(2, 2, 100)
	d2, v2 := uniform(4, 4, 300)
	src := &scriptedSource{frames: []*frame.DepthFrame{
		scriptFrame(t, 2, 2, d1, v1),
		scriptFrame(t, 4, 4, d2, v2),
	}}
	filter := NewTemporalFilter(src, FilterConfig{Frames: 3, Sigma: -1})
	filter.Poll()
	f := filter.Poll()

	if f.Width() != 4 || f.Height() != 4 {
		t.Fatalf("Expected the new 4x4 geometry, got %dx%d", f.Width(), f.Height())
	}
	if z, ok := f.At(3, 3); !ok || z != 300 {
		t.Errorf("Expected 300 with no sample mixing across geometries, got %v (valid %v)", z, ok)
	}
}

func TestTemporalFilterDelegatesIDAndClose(t *testing.T) {
	src, err := NewSynthetic(SyntheticConfig{Name: "filter-delegate", Width: 8, Height: 8, Seed: 5})
	if err != nil {
		t.Fatalf("Failed to create source: %v", err)
	}
	filter := NewTemporalFilter(src, FilterConfig{})

	if filter.ID() != src.ID() {
		t.Errorf("Expected the wrapped source id %q, got %q", src.ID(), filter.ID())
	}
	if err := filter.Close(); err != nil {
		t.Fatalf("Failed to close filter: %v", err)
	}
	// The claim travelled through to the wrapped source.
	reopened, err := NewSynthetic(SyntheticConfig{Name: "filter-delegate", Width: 8, Height: 8, Seed: 5})
	if err != nil {
		t.Fatalf("Expected the claim to be released through the filter, got %v", err)
	}
	reopened.Close()
}
