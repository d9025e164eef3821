// Package render turns depth frames into projector images. The
// transform engine applies the calibration geometry in a fixed stage
// order and maps depths through a named colormap; everything here is
// deterministic so the same frame and profile always produce the same
// canvas.
package render

import (
	"image/color"
	"math"
	"sort"

	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/palette/brewer"
	"gonum.org/v1/plot/palette/moreland"
)

// Colormap is a continuous color ramp sampled from a fixed stop list.
// At(0) is the shallow end of the depth window (sand closest to the
// sensor, the highest terrain), At(1) the deep end.
type Colormap struct {
	name  string
	stops []color.RGBA
}

// Name returns the registry id of the map.
func (m *Colormap) Name() string { return m.name }

// At maps t in [0,1] to a ramp color. Out-of-range t is clamped; the
// caller decides what never reaches the ramp (invalid cells and depths
// outside the z window render as background, not as an endpoint).
func (m *Colormap) At(t float64) color.RGBA {
	if math.IsNaN(t) || t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	pos := t * float64(len(m.stops)-1)
	i := int(pos)
	if i >= len(m.stops)-1 {
		return m.stops[len(m.stops)-1]
	}
	f := pos - float64(i)
	a, b := m.stops[i], m.stops[i+1]
	return color.RGBA{
		R: uint8(float64(a.R) + f*(float64(b.R)-float64(a.R)) + 0.5),
		G: uint8(float64(a.G) + f*(float64(b.G)-float64(a.G)) + 0.5),
		B: uint8(float64(a.B) + f*(float64(b.B)-float64(a.B)) + 0.5),
		A: 255,
	}
}

var colormaps = make(map[string]*Colormap)

// LookupColormap resolves a registered colormap id. The control
// surface rejects cmap mutations whose id does not resolve here.
func LookupColormap(name string) (*Colormap, bool) {
	m, ok := colormaps[name]
	return m, ok
}

// ColormapNames lists the registered ids in sorted order.
func ColormapNames() []string {
	names := make([]string, 0, len(colormaps))
	for name := range colormaps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func register(name string, stops []color.RGBA) {
	if len(stops) < 2 {
		return
	}
	colormaps[name] = &Colormap{name: name, stops: stops}
}

// samplePalette spreads a discrete palette into ramp stops.
func samplePalette(p palette.Palette) []color.RGBA {
	src := p.Colors()
	stops := make([]color.RGBA, len(src))
	for i, c := range src {
		stops[i] = toRGBA(c)
	}
	return stops
}

// sampleColorMap flattens a continuous moreland map into 256 stops.
// At is total on [0,1] once min and max are pinned, so the error arm
// keeps the previous stop and cannot occur in practice.
func sampleColorMap(cm palette.ColorMap) []color.RGBA {
	cm.SetMin(0)
	cm.SetMax(1)
	stops := make([]color.RGBA, 256)
	for i := range stops {
		c, err := cm.At(float64(i) / float64(len(stops)-1))
		if err != nil {
			if i > 0 {
				stops[i] = stops[i-1]
			}
			continue
		}
		stops[i] = toRGBA(c)
	}
	return stops
}

func toRGBA(c color.Color) color.RGBA {
	r, g, b, _ := c.RGBA()
	return color.RGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8), A: 255}
}

func init() {
	// Terrain ramp, shallow (high sand) to deep: snow, tan, olive,
	// green, teal, deep water blue. This is the default map.
	register("earth", []color.RGBA{
		{R: 0xf2, G: 0xf2, B: 0xeb, A: 255},
		{R: 0xc9, G: 0xb0, B: 0x82, A: 255},
		{R: 0x8f, G: 0x9e, B: 0x54, A: 255},
		{R: 0x41, G: 0x80, B: 0x45, A: 255},
		{R: 0x2a, G: 0x6f, B: 0x73, A: 255},
		{R: 0x1b, G: 0x2f, B: 0x66, A: 255},
	})

	// Plain luminance ramp, bright peaks to dark basins.
	register("gray", []color.RGBA{
		{R: 0xff, G: 0xff, B: 0xff, A: 255},
		{R: 0x00, G: 0x00, B: 0x00, A: 255},
	})

	register("heat", samplePalette(palette.Heat(256, 1)))
	register("rainbow", samplePalette(palette.Rainbow(256, palette.Blue, palette.Red, 1, 1, 1)))

	register("kindlmann", sampleColorMap(moreland.Kindlmann()))
	register("blackbody", sampleColorMap(moreland.BlackBody()))
	register("bluered", sampleColorMap(moreland.SmoothBlueRed()))

	if p, err := brewer.GetPalette(brewer.TypeDiverging, "Spectral", 11); err == nil {
		register("spectral", samplePalette(p))
	}
	if p, err := brewer.GetPalette(brewer.TypeSequential, "YlGnBu", 9); err == nil {
		register("ylgnbu", samplePalette(p))
	}
}
