package sensor

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relief-labs/topobox/internal/frame"
)

// Default synthetic geometry: a Kinect-class sensor over a sandbox
// whose sand surface sits between 1170 and 1370 mm from the lens.
const (
	DefaultWidth  = 512
	DefaultHeight = 424
)

// SyntheticConfig tunes the sculpted test surface. Zero values fall
// back to the defaults noted per field.
type SyntheticConfig struct {
	Name               string  // claim key suffix, default "dummy"
	Width              int     // default 512
	Height             int     // default 424
	ZMin               float64 // mm, default 1170
	ZMax               float64 // mm, default 1370
	ControlPoints      int     // interior points beyond the four corners, default 4
	MinSeparation      float64 // px between interior points, default 30% of the frame diagonal
	AlterationStrength float64 // 0..1 phase walk per poll, default 0.1
	DropoutRate        float64 // fraction of cells dropped invalid per frame, default 0
	Seed               int64   // rng seed, 0 seeds from the clock
}

// Synthetic produces a smooth sculpted depth surface from a handful
// of control points: the four frame corners plus interior points
// placed with a minimum separation. Each poll nudges every point's
// oscillator phase and re-interpolates, so the terrain breathes
// between the z bounds. Two sources built with the same non-zero seed
// produce identical depth sequences.
type Synthetic struct {
	id      string
	width   int
	height  int
	zMin    float64
	zMax    float64
	dropout float64
	osRange float64

	frameID atomic.Uint64
	closed  atomic.Bool
	release sync.Once

	mu     sync.Mutex
	rng    *rand.Rand
	px     []float64 // control point positions
	py     []float64
	phases []float64
}

// NewSynthetic claims "synthetic:<name>" and lays out the control
// points. Construction fails only when the claim is already held.
func NewSynthetic(config SyntheticConfig) (*Synthetic, error) {
	if config.Name == "" {
		config.Name = "dummy"
	}
	if config.Width <= 0 {
		config.Width = DefaultWidth
	}
	if config.Height <= 0 {
		config.Height = DefaultHeight
	}
	if config.ZMin == 0 && config.ZMax == 0 {
		config.ZMin = 1170
		config.ZMax = 1370
	}
	if config.ZMin >= config.ZMax {
		return nil, fmt.Errorf("synthetic sensor: z bounds (%v,%v) are not a window", config.ZMin, config.ZMax)
	}
	if config.ControlPoints <= 0 {
		config.ControlPoints = 4
	}
	diag := math.Hypot(float64(config.Width), float64(config.Height))
	if config.MinSeparation <= 0 {
		config.MinSeparation = 0.3 * diag
	}
	if config.AlterationStrength <= 0 {
		config.AlterationStrength = 0.1
	}
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	id := "synthetic:" + config.Name
	if err := claimDevice(id); err != nil {
		return nil, err
	}

	s := &Synthetic{
		id:      id,
		width:   config.Width,
		height:  config.Height,
		zMin:    config.ZMin,
		zMax:    config.ZMax,
		dropout: config.DropoutRate,
		osRange: config.AlterationStrength * math.Pi / 2,
		rng:     rand.New(rand.NewSource(seed)),
	}
	s.placeControlPoints(config.ControlPoints, config.MinSeparation)
	return s, nil
}

// placeControlPoints pins the four corners, then scatters interior
// points by rejection sampling against the separation rule. Placement
// gives up on a point after too many rejected candidates, so a
// separation larger than the frame yields fewer points, never a hang.
func (s *Synthetic) placeControlPoints(interior int, minSep float64) {
	w, h := float64(s.width-1), float64(s.height-1)
	s.px = []float64{0, w, 0, w}
	s.py = []float64{0, 0, h, h}

	for len(s.px) < 4+interior {
		placed := false
		for attempt := 0; attempt < 1000; attempt++ {
			cx := s.rng.Float64() * w
			cy := s.rng.Float64() * h
			clear := true
			for i := range s.px {
				if math.Hypot(cx-s.px[i], cy-s.py[i]) < minSep {
					clear = false
					break
				}
			}
			if clear {
				s.px = append(s.px, cx)
				s.py = append(s.py, cy)
				placed = true
				break
			}
		}
		if !placed {
			break
		}
	}

	s.phases = make([]float64, len(s.px))
	for i := range s.phases {
		s.phases[i] = s.rng.Float64()*2*math.Pi - math.Pi
	}
}

func (s *Synthetic) ID() string { return s.id }

// Poll advances every oscillator by a random phase step and rebuilds
// the surface by inverse-distance weighting over the control points.
// After Close the source reports a fully invalid frame.
func (s *Synthetic) Poll() *frame.DepthFrame {
	frameID := s.frameID.Add(1)
	now := time.Now().UnixNano()
	if s.closed.Load() {
		return frame.NewInvalidFrame(s.id, frameID, now, s.width, s.height)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r := (s.zMax - s.zMin) / 2
	zs := make([]float64, len(s.phases))
	for i := range s.phases {
		s.phases[i] += s.rng.Float64()*2*s.osRange - s.osRange
		zs[i] = s.zMin + r*(1+math.Sin(s.phases[i]))
	}

	depth := make([]float32, s.width*s.height)
	valid := make([]bool, len(depth))
	for y := 0; y < s.height; y++ {
		fy := float64(y)
		for x := 0; x < s.width; x++ {
			fx := float64(x)
			var num, den float64
			for i := range zs {
				dx := fx - s.px[i]
				dy := fy - s.py[i]
				w := 1 / (dx*dx + dy*dy + 1)
				num += w * zs[i]
				den += w
			}
			i := y*s.width + x
			depth[i] = float32(num / den)
			valid[i] = true
		}
	}

	if s.dropout > 0 {
		for i := range valid {
			if s.rng.Float64() < s.dropout {
				valid[i] = false
			}
		}
	}

	f, err := frame.NewDepthFrame(s.id, frameID, now, s.width, s.height, depth, valid)
	if err != nil {
		// Dimensions and lengths are internally consistent; reaching
		// this means a bug, degrade rather than crash the loop.
		return frame.NewInvalidFrame(s.id, frameID, now, s.width, s.height)
	}
	return f
}

// Close releases the device claim. Safe to call repeatedly.
func (s *Synthetic) Close() error {
	s.closed.Store(true)
	s.release.Do(func() { releaseDevice(s.id) })
	return nil
}
