package render

import (
	"image"

	"github.com/relief-labs/topobox/internal/calib"
)

// contourLevels spaces n iso-lines evenly inside the open z window:
// level i sits at zMin + i*(zMax-zMin)/(n+1), so the window bounds
// themselves never carry a line.
func contourLevels(zMin, zMax float64, n int) []float64 {
	levels := make([]float64, n)
	step := (zMax - zMin) / float64(n+1)
	for i := range levels {
		levels[i] = zMin + float64(i+1)*step
	}
	return levels
}

// drawContours overlays iso-depth lines on the placed grid. A pixel
// is part of a line when a level falls between its depth and a right
// or down neighbor's depth, half-open so a flat area lying exactly on
// a level draws its boundary, not a filled band. Pairs involving an
// invalid cell draw nothing; lines exist only where the sand was
// actually measured.
func drawContours(img *image.RGBA, g *grid, p *calib.Profile, canvasW, canvasH int) {
	levels := contourLevels(p.ZMin, p.ZMax, p.NContours)

	for y := 0; y < g.h; y++ {
		cy := p.YPos + y
		if cy < 0 || cy >= canvasH {
			continue
		}
		for x := 0; x < g.w; x++ {
			cx := p.XPos + x
			if cx < 0 || cx >= canvasW {
				continue
			}
			z, ok := g.at(x, y)
			if !ok {
				continue
			}
			if crossesAny(z, x+1, y, g, levels) || crossesAny(z, x, y+1, g, levels) {
				img.SetRGBA(cx, cy, contourColor)
			}
		}
	}
}

func crossesAny(z float32, nx, ny int, g *grid, levels []float64) bool {
	nz, ok := g.at(nx, ny)
	if !ok {
		return false
	}
	a, b := float64(z), float64(nz)
	lo, hi := a, b
	if lo > hi {
		lo, hi = hi, lo
	}
	for _, level := range levels {
		if lo <= level && level < hi {
			return true
		}
	}
	return false
}
