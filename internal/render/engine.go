package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/relief-labs/topobox/internal/calib"
	"github.com/relief-labs/topobox/internal/frame"
)

// Background is the canvas fill. Invalid cells and depths outside the
// z window render in this color, never as a colormap endpoint, so
// operators can see the true sandbox edges while calibrating.
var Background = color.RGBA{R: 255, G: 255, B: 255, A: 255}

var contourColor = color.RGBA{R: 0, G: 0, B: 0, A: 255}

// Config sizes the projector canvas. Zero values fall back to a
// 1280x800 projector.
type Config struct {
	CanvasWidth  int
	CanvasHeight int
}

// Engine renders depth frames onto the projector canvas. It holds no
// mutable state; Render is safe for concurrent use and produces
// identical output for identical inputs.
//
// The stage order is fixed: rotate about the frame center, crop to
// the x/y limit window, scale, place on the canvas, colorize, then
// optionally overlay contour lines. Rotation and scaling resample
// bilinearly; an output cell whose support touches an invalid or
// out-of-frame input cell becomes invalid rather than inventing a
// depth. Identity stages (zero angle, unit scale) pass cells through
// bit-exact.
type Engine struct {
	canvasW int
	canvasH int
}

func NewEngine(config Config) *Engine {
	if config.CanvasWidth <= 0 {
		config.CanvasWidth = 1280
	}
	if config.CanvasHeight <= 0 {
		config.CanvasHeight = 800
	}
	return &Engine{canvasW: config.CanvasWidth, canvasH: config.CanvasHeight}
}

// CanvasSize reports the projector canvas dimensions.
func (e *Engine) CanvasSize() (w, h int) { return e.canvasW, e.canvasH }

// Render maps one depth frame through the calibration profile. The
// profile must have passed validation; the only profile content
// checked here is the colormap id, because the registry lives in this
// package. An all-invalid frame renders as a plain background canvas.
func (e *Engine) Render(f *frame.DepthFrame, p *calib.Profile) (*frame.ColorFrame, error) {
	if f == nil {
		return nil, fmt.Errorf("render: nil frame")
	}
	if p == nil {
		return nil, fmt.Errorf("render: nil profile")
	}
	cmap, ok := LookupColormap(p.Colormap)
	if !ok {
		return nil, fmt.Errorf("render: unknown colormap %q", p.Colormap)
	}

	g := gridFromFrame(f)
	g = rotateGrid(g, p.RotAngle)
	g = cropGrid(g, p.XLim, p.YLim)
	g = scaleGrid(g, p.ScaleFactor)

	img := image.NewRGBA(image.Rect(0, 0, e.canvasW, e.canvasH))
	draw.Draw(img, img.Bounds(), image.NewUniform(Background), image.Point{}, draw.Src)

	span := p.ZMax - p.ZMin
	for y := 0; y < g.h; y++ {
		cy := p.YPos + y
		if cy < 0 || cy >= e.canvasH {
			continue
		}
		for x := 0; x < g.w; x++ {
			cx := p.XPos + x
			if cx < 0 || cx >= e.canvasW {
				continue
			}
			z, ok := g.at(x, y)
			if !ok {
				continue
			}
			zf := float64(z)
			if zf < p.ZMin || zf > p.ZMax {
				continue
			}
			img.SetRGBA(cx, cy, cmap.At((zf-p.ZMin)/span))
		}
	}

	if p.Contours && p.NContours > 0 {
		drawContours(img, g, p, e.canvasW, e.canvasH)
	}

	return &frame.ColorFrame{
		FrameID:       f.FrameID(),
		RenderedNanos: f.TimestampNanos(),
		Image:         img,
	}, nil
}

// grid is the working form the stages pass along: row-major depths
// with a validity flag per cell.
type grid struct {
	w, h int
	z    []float32
	ok   []bool
}

func newGrid(w, h int) *grid {
	return &grid{w: w, h: h, z: make([]float32, w*h), ok: make([]bool, w*h)}
}

func (g *grid) at(x, y int) (float32, bool) {
	if x < 0 || y < 0 || x >= g.w || y >= g.h {
		return 0, false
	}
	i := y*g.w + x
	if !g.ok[i] {
		return 0, false
	}
	return g.z[i], true
}

func (g *grid) set(x, y int, z float32, ok bool) {
	i := y*g.w + x
	g.z[i] = z
	g.ok[i] = ok
}

func gridFromFrame(f *frame.DepthFrame) *grid {
	g := newGrid(f.Width(), f.Height())
	for y := 0; y < g.h; y++ {
		for x := 0; x < g.w; x++ {
			z, ok := f.At(x, y)
			g.set(x, y, z, ok)
		}
	}
	return g
}

// sample reads the grid at a fractional position with bilinear
// weights. Taps with zero weight are not consulted, so integer
// positions reduce to a single exact read. Any consulted tap that is
// invalid or outside the grid invalidates the sample.
func (g *grid) sample(sx, sy float64) (float32, bool) {
	x0 := int(math.Floor(sx))
	y0 := int(math.Floor(sy))
	fx := sx - float64(x0)
	fy := sy - float64(y0)

	taps := [4]struct {
		dx, dy int
		w      float64
	}{
		{0, 0, (1 - fx) * (1 - fy)},
		{1, 0, fx * (1 - fy)},
		{0, 1, (1 - fx) * fy},
		{1, 1, fx * fy},
	}

	var acc float64
	for _, tp := range taps {
		if tp.w == 0 {
			continue
		}
		z, ok := g.at(x0+tp.dx, y0+tp.dy)
		if !ok {
			return 0, false
		}
		acc += tp.w * float64(z)
	}
	return float32(acc), true
}

// affineAbout composes translate(-cx,-cy), rotate(deg), translate
// back into one 3x3 matrix.
func affineAbout(deg, cx, cy float64) *mat.Dense {
	th := deg * math.Pi / 180
	cos, sin := math.Cos(th), math.Sin(th)
	rot := mat.NewDense(3, 3, []float64{
		cos, sin, 0,
		-sin, cos, 0,
		0, 0, 1,
	})
	pre := mat.NewDense(3, 3, []float64{
		1, 0, -cx,
		0, 1, -cy,
		0, 0, 1,
	})
	post := mat.NewDense(3, 3, []float64{
		1, 0, cx,
		0, 1, cy,
		0, 0, 1,
	})

	var rp, m mat.Dense
	rp.Mul(rot, pre)
	m.Mul(post, &rp)
	return &m
}

// rotateGrid turns the frame by deg degrees about its center without
// reshaping. Cells whose source falls outside the frame become
// invalid; the frame never wraps. The inverse of a rotation about a
// point is the opposite rotation about the same point, so the output
// is scanned through the analytic inverse instead of a solver.
func rotateGrid(g *grid, deg float64) *grid {
	if deg == 0 {
		return g
	}
	cx := float64(g.w-1) / 2
	cy := float64(g.h-1) / 2
	inv := affineAbout(-deg, cx, cy)
	m00, m01, m02 := inv.At(0, 0), inv.At(0, 1), inv.At(0, 2)
	m10, m11, m12 := inv.At(1, 0), inv.At(1, 1), inv.At(1, 2)

	out := newGrid(g.w, g.h)
	for y := 0; y < g.h; y++ {
		for x := 0; x < g.w; x++ {
			sx := m00*float64(x) + m01*float64(y) + m02
			sy := m10*float64(x) + m11*float64(y) + m12
			z, ok := g.sample(sx, sy)
			out.set(x, y, z, ok)
		}
	}
	return out
}

// cropGrid cuts the [xLim)x[yLim) window out of the grid. Window
// cells beyond the grid edge are invalid. The limits are validated
// upstream (min below max), so the output always has at least one
// cell.
func cropGrid(g *grid, xLim, yLim [2]int) *grid {
	w := xLim[1] - xLim[0]
	h := yLim[1] - yLim[0]
	out := newGrid(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			z, ok := g.at(xLim[0]+x, yLim[0]+y)
			out.set(x, y, z, ok)
		}
	}
	return out
}

// scaleGrid resizes by factor with center-aligned bilinear sampling.
// Sample positions are clamped to the grid edge, the usual resize
// convention, so a fully valid frame stays fully valid; invalid
// interior cells still propagate. Unit scale returns the grid
// untouched.
func scaleGrid(g *grid, factor float64) *grid {
	if factor == 1 {
		return g
	}
	w := int(math.Round(float64(g.w) * factor))
	h := int(math.Round(float64(g.h) * factor))
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	out := newGrid(w, h)
	for y := 0; y < h; y++ {
		sy := clamp((float64(y)+0.5)/factor-0.5, 0, float64(g.h-1))
		for x := 0; x < w; x++ {
			sx := clamp((float64(x)+0.5)/factor-0.5, 0, float64(g.w-1))
			z, ok := g.sample(sx, sy)
			out.set(x, y, z, ok)
		}
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
