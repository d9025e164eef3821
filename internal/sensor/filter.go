package sensor

import (
	"math"
	"sync"

	"github.com/relief-labs/topobox/internal/frame"
)

// FilterConfig tunes the temporal filter decorator. Zero values mean
// a 3-frame window and a sigma-3 gaussian, the stack the original
// sandbox rigs run.
type FilterConfig struct {
	Frames int     // temporal window, default 3
	Sigma  float64 // gaussian sigma in px, 0 = default 3, negative disables the blur
}

// TemporalFilter wraps a Source and smooths its frames: each cell is
// averaged over its valid samples in the last N frames, then blurred
// with a renormalized gaussian that only weighs valid cells, so depth
// never bleeds across holes or the frame edge. A cell with no valid
// sample in the window stays invalid.
type TemporalFilter struct {
	src    Source
	window int
	kernel []float64

	mu   sync.Mutex
	ring []*frame.DepthFrame
	next int
}

// NewTemporalFilter wraps src. The claim stays with src; closing the
// filter closes it.
func NewTemporalFilter(src Source, config FilterConfig) *TemporalFilter {
	if config.Frames <= 0 {
		config.Frames = 3
	}
	sigma := config.Sigma
	if sigma == 0 {
		sigma = 3
	}
	var kernel []float64
	if sigma > 0 {
		kernel = gaussianKernel(sigma)
	}
	return &TemporalFilter{
		src:    src,
		window: config.Frames,
		kernel: kernel,
		ring:   make([]*frame.DepthFrame, 0, config.Frames),
	}
}

// gaussianKernel builds a one-dimensional kernel cut at three sigma.
// Weights are renormalized per sample against the valid mask, so the
// absolute kernel scale does not matter.
func gaussianKernel(sigma float64) []float64 {
	radius := int(math.Ceil(3 * sigma))
	kernel := make([]float64, 2*radius+1)
	for i := range kernel {
		d := float64(i - radius)
		kernel[i] = math.Exp(-d * d / (2 * sigma * sigma))
	}
	return kernel
}

func (t *TemporalFilter) ID() string { return t.src.ID() }

// Poll pulls one frame from the wrapped source and returns the
// smoothed view over the current window.
func (t *TemporalFilter) Poll() *frame.DepthFrame {
	f := t.src.Poll()

	t.mu.Lock()
	defer t.mu.Unlock()

	// Drop buffered frames when the geometry changes underneath us.
	if len(t.ring) > 0 && (t.ring[0].Width() != f.Width() || t.ring[0].Height() != f.Height()) {
		t.ring = t.ring[:0]
		t.next = 0
	}
	if len(t.ring) < t.window {
		t.ring = append(t.ring, f)
	} else {
		t.ring[t.next] = f
		t.next = (t.next + 1) % t.window
	}

	w, h := f.Width(), f.Height()
	depth := make([]float32, w*h)
	valid := make([]bool, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var sum float64
			var n int
			for _, past := range t.ring {
				if z, ok := past.At(x, y); ok {
					sum += float64(z)
					n++
				}
			}
			i := y*w + x
			if n > 0 {
				depth[i] = float32(sum / float64(n))
				valid[i] = true
			}
		}
	}

	if t.kernel != nil {
		depth, valid = blurPass(depth, valid, w, h, t.kernel, true)
		depth, valid = blurPass(depth, valid, w, h, t.kernel, false)
	}

	out, err := frame.NewDepthFrame(f.SensorID(), f.FrameID(), f.TimestampNanos(), w, h, depth, valid)
	if err != nil {
		return f
	}
	return out
}

// blurPass runs one separable gaussian pass. Each output cell is the
// kernel-weighted mean of the valid cells under the kernel,
// renormalized by the weight that actually landed on valid cells;
// invalid cells contribute nothing and remain invalid.
func blurPass(depth []float32, valid []bool, w, h int, kernel []float64, horizontal bool) ([]float32, []bool) {
	radius := len(kernel) / 2
	outDepth := make([]float32, len(depth))
	outValid := make([]bool, len(valid))

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			if !valid[i] {
				continue
			}
			var sum, wsum float64
			for k, kw := range kernel {
				var sx, sy int
				if horizontal {
					sx, sy = x+k-radius, y
				} else {
					sx, sy = x, y+k-radius
				}
				if sx < 0 || sy < 0 || sx >= w || sy >= h {
					continue
				}
				j := sy*w + sx
				if !valid[j] {
					continue
				}
				sum += kw * float64(depth[j])
				wsum += kw
			}
			outDepth[i] = float32(sum / wsum)
			outValid[i] = true
		}
	}
	return outDepth, outValid
}

// Close closes the wrapped source.
func (t *TemporalFilter) Close() error { return t.src.Close() }
