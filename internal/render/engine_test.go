package render

import (
	"bytes"
	"image/color"
	"testing"

	"github.com/relief-labs/topobox/internal/calib"
	"github.com/relief-labs/topobox/internal/frame"
)

// uniformFrame builds a fully valid w x h frame at a single depth,
// with optional per-cell overrides.
func uniformFrame(t *testing.T, w, h int, z float32, override map[[2]int]float32, invalid map[[2]int]bool) *frame.DepthFrame {
	t.Helper()
	depth := make([]float32, w*h)
	valid := make([]bool, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			depth[i] = z
			valid[i] = true
			if v, ok := override[[2]int{x, y}]; ok {
				depth[i] = v
			}
			if invalid[[2]int{x, y}] {
				valid[i] = false
			}
		}
	}
	f, err := frame.NewDepthFrame("test", 1, 0, w, h, depth, valid)
	if err != nil {
		t.Fatalf("NewDepthFrame failed: %v", err)
	}
	return f
}

// flatProfile is an identity transform over a w x h frame with the
// given z window and contours off.
func flatProfile(t *testing.T, w, h int, zMin, zMax float64) *calib.Profile {
	t.Helper()
	p := calib.Defaults()
	if err := p.SetXLim(0, w); err != nil {
		t.Fatalf("SetXLim failed: %v", err)
	}
	if err := p.SetYLim(0, h); err != nil {
		t.Fatalf("SetYLim failed: %v", err)
	}
	if err := p.SetZRange(zMin, zMax); err != nil {
		t.Fatalf("SetZRange failed: %v", err)
	}
	p.SetContours(false)
	return p
}

func pixel(cf *frame.ColorFrame, x, y int) color.RGBA {
	return cf.Image.RGBAAt(x, y)
}

func TestRenderIsDeterministic(t *testing.T) {
	f := uniformFrame(t, 64, 48, 1250, map[[2]int]float32{{10, 10}: 1300, {20, 5}: 1199.5}, nil)
	p := flatProfile(t, 64, 48, 1170, 1370)
	if err := p.SetRotAngle(17.5); err != nil {
		t.Fatalf("SetRotAngle failed: %v", err)
	}
	if err := p.SetScaleFactor(1.75); err != nil {
		t.Fatalf("SetScaleFactor failed: %v", err)
	}
	p.SetContours(true)

	e := NewEngine(Config{CanvasWidth: 320, CanvasHeight: 240})
	a, err := e.Render(f, p)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	b, err := e.Render(f, p)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !bytes.Equal(a.Image.Pix, b.Image.Pix) {
		t.Error("Expected identical output for identical inputs")
	}
}

func TestRenderBackgroundFill(t *testing.T) {
	f := uniformFrame(t, 8, 8, 1250,
		map[[2]int]float32{
			{1, 1}: 1100, // below the window
			{2, 2}: 1400, // above the window
		},
		map[[2]int]bool{{3, 3}: true})
	p := flatProfile(t, 8, 8, 1170, 1370)
	e := NewEngine(Config{CanvasWidth: 16, CanvasHeight: 16})

	cf, err := e.Render(f, p)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	for _, pt := range [][2]int{{1, 1}, {2, 2}, {3, 3}} {
		if got := pixel(cf, pt[0], pt[1]); got != Background {
			t.Errorf("Expected background at (%d,%d), got %v", pt[0], pt[1], got)
		}
	}
	mid, _ := LookupColormap(p.Colormap)
	if got := pixel(cf, 5, 5); got != mid.At(0.4) {
		t.Errorf("Expected in-window cell to map through the colormap, got %v", got)
	}
	// Canvas beyond the placed frame stays background.
	if got := pixel(cf, 12, 12); got != Background {
		t.Errorf("Expected background outside the placed frame, got %v", got)
	}
}

func TestRenderMarkerPlacement(t *testing.T) {
	const markerX, markerY = 11, 7
	f := uniformFrame(t, 32, 24, 1270, map[[2]int]float32{{markerX, markerY}: 1200}, nil)
	p := flatProfile(t, 32, 24, 1170, 1370)
	p.SetXPos(30)
	p.SetYPos(40)

	e := NewEngine(Config{CanvasWidth: 128, CanvasHeight: 128})
	cf, err := e.Render(f, p)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	cmap, _ := LookupColormap(p.Colormap)
	wantMarker := cmap.At((1200.0 - 1170.0) / 200.0)
	wantField := cmap.At((1270.0 - 1170.0) / 200.0)

	if got := pixel(cf, 30+markerX, 40+markerY); got != wantMarker {
		t.Errorf("Expected marker color %v at offset position, got %v", wantMarker, got)
	}
	if got := pixel(cf, 30+markerX+1, 40+markerY); got != wantField {
		t.Errorf("Expected field color %v beside the marker, got %v", wantField, got)
	}
	if got := pixel(cf, markerX, markerY); got == wantMarker {
		t.Error("Marker must not appear at the unshifted position")
	}
}

func TestRenderDefaultsFullCanvas(t *testing.T) {
	// Vertical gradient spanning the default z window over the
	// default 512x424 sensor geometry.
	w, h := 512, 424
	depth := make([]float32, w*h)
	valid := make([]bool, w*h)
	for y := 0; y < h; y++ {
		z := float32(1170 + 200*float64(y)/float64(h-1))
		for x := 0; x < w; x++ {
			depth[y*w+x] = z
			valid[y*w+x] = true
		}
	}
	f, err := frame.NewDepthFrame("test", 1, 0, w, h, depth, valid)
	if err != nil {
		t.Fatalf("NewDepthFrame failed: %v", err)
	}

	p := calib.Defaults()
	p.SetContours(false)
	e := NewEngine(Config{})

	cf, err := e.Render(f, p)
	if err != nil {
		t.Fatalf("Render with defaults failed: %v", err)
	}
	if cf.Width() != 1280 || cf.Height() != 800 {
		t.Fatalf("Expected 1280x800 canvas, got %dx%d", cf.Width(), cf.Height())
	}

	// The full placed frame is colormapped, no invalid holes.
	for y := 0; y < h; y += 53 {
		for x := 0; x < w; x += 61 {
			if got := pixel(cf, x, y); got == Background {
				t.Fatalf("Expected colormapped cell at (%d,%d), got background", x, y)
			}
		}
	}
	// Everything beyond it is background.
	if got := pixel(cf, 1000, 600); got != Background {
		t.Errorf("Expected background beyond the placed frame, got %v", got)
	}
}

func TestRenderQuarterTurn(t *testing.T) {
	// 5x5 frame with a marker at bottom-middle. A positive quarter
	// turn carries it to the right-middle cell.
	f := uniformFrame(t, 5, 5, 1270, map[[2]int]float32{{2, 4}: 1200}, nil)
	p := flatProfile(t, 5, 5, 1170, 1370)
	if err := p.SetRotAngle(90); err != nil {
		t.Fatalf("SetRotAngle failed: %v", err)
	}

	e := NewEngine(Config{CanvasWidth: 8, CanvasHeight: 8})
	cf, err := e.Render(f, p)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	cmap, _ := LookupColormap(p.Colormap)
	wantMarker := cmap.At(0.15)
	if got := pixel(cf, 4, 2); got != wantMarker {
		t.Errorf("Expected marker rotated to (4,2), got %v there", got)
	}
	if got := pixel(cf, 2, 4); got == wantMarker {
		t.Error("Marker must have left the bottom-middle cell")
	}
}

func TestRenderRotationInvalidatesCorners(t *testing.T) {
	f := uniformFrame(t, 21, 21, 1270, nil, nil)
	p := flatProfile(t, 21, 21, 1170, 1370)
	if err := p.SetRotAngle(45); err != nil {
		t.Fatalf("SetRotAngle failed: %v", err)
	}

	e := NewEngine(Config{CanvasWidth: 32, CanvasHeight: 32})
	cf, err := e.Render(f, p)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	// Frame corners now source from outside the sensor frame and must
	// render as background, never wrap to the far side.
	for _, pt := range [][2]int{{0, 0}, {20, 0}, {0, 20}, {20, 20}} {
		if got := pixel(cf, pt[0], pt[1]); got != Background {
			t.Errorf("Expected background at rotated corner (%d,%d), got %v", pt[0], pt[1], got)
		}
	}
	// The center survives any rotation.
	if got := pixel(cf, 10, 10); got == Background {
		t.Error("Expected the center cell to stay colormapped under rotation")
	}
}

func TestRenderCropWindow(t *testing.T) {
	f := uniformFrame(t, 16, 16, 1270, map[[2]int]float32{{10, 12}: 1200}, nil)
	p := flatProfile(t, 16, 16, 1170, 1370)
	if err := p.SetXLim(8, 16); err != nil {
		t.Fatalf("SetXLim failed: %v", err)
	}
	if err := p.SetYLim(8, 16); err != nil {
		t.Fatalf("SetYLim failed: %v", err)
	}

	e := NewEngine(Config{CanvasWidth: 32, CanvasHeight: 32})
	cf, err := e.Render(f, p)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	cmap, _ := LookupColormap(p.Colormap)
	wantMarker := cmap.At(0.15)
	// Sensor (10,12) lands at (2,4) after the (8,8) crop origin.
	if got := pixel(cf, 2, 4); got != wantMarker {
		t.Errorf("Expected cropped marker at (2,4), got %v", got)
	}
	// The crop is 8x8; beyond it the canvas is background.
	if got := pixel(cf, 9, 9); got != Background {
		t.Errorf("Expected background beyond the 8x8 crop, got %v", got)
	}
}

func TestRenderCropBeyondFrameIsInvalid(t *testing.T) {
	f := uniformFrame(t, 8, 8, 1270, nil, nil)
	p := flatProfile(t, 8, 8, 1170, 1370)
	// Window extends past the sensor frame on the right.
	if err := p.SetXLim(4, 12); err != nil {
		t.Fatalf("SetXLim failed: %v", err)
	}

	e := NewEngine(Config{CanvasWidth: 16, CanvasHeight: 16})
	cf, err := e.Render(f, p)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	// Columns 0-3 source sensor columns 4-7; columns 4-7 are beyond
	// the frame edge.
	if got := pixel(cf, 3, 3); got == Background {
		t.Error("Expected in-frame crop columns to stay colormapped")
	}
	if got := pixel(cf, 5, 3); got != Background {
		t.Errorf("Expected background where the crop leaves the frame, got %v", got)
	}
}

func TestRenderScale(t *testing.T) {
	f := uniformFrame(t, 4, 4, 1270, map[[2]int]float32{{0, 0}: 1200}, nil)
	p := flatProfile(t, 4, 4, 1170, 1370)
	if err := p.SetScaleFactor(2); err != nil {
		t.Fatalf("SetScaleFactor failed: %v", err)
	}

	e := NewEngine(Config{CanvasWidth: 16, CanvasHeight: 16})
	cf, err := e.Render(f, p)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	cmap, _ := LookupColormap(p.Colormap)
	// The scaled frame is 8x8 and fully valid; corner keeps the
	// corner cell's exact depth.
	if got := pixel(cf, 0, 0); got != cmap.At(0.15) {
		t.Errorf("Expected scaled corner to keep the corner depth, got %v", got)
	}
	if got := pixel(cf, 7, 7); got != cmap.At(0.5) {
		t.Errorf("Expected far corner of the 8x8 scaled frame colormapped, got %v", got)
	}
	if got := pixel(cf, 8, 8); got != Background {
		t.Errorf("Expected background beyond the scaled frame, got %v", got)
	}
}

func TestRenderAllInvalidFrameIsBackground(t *testing.T) {
	f := frame.NewInvalidFrame("test", 3, 0, 16, 16)
	p := flatProfile(t, 16, 16, 1170, 1370)
	p.SetContours(true)

	e := NewEngine(Config{CanvasWidth: 24, CanvasHeight: 24})
	cf, err := e.Render(f, p)
	if err != nil {
		t.Fatalf("Render of an all-invalid frame must not fail, got: %v", err)
	}
	for y := 0; y < 24; y++ {
		for x := 0; x < 24; x++ {
			if got := pixel(cf, x, y); got != Background {
				t.Fatalf("Expected pure background canvas, got %v at (%d,%d)", got, x, y)
			}
		}
	}
}

func TestRenderUnknownColormap(t *testing.T) {
	f := uniformFrame(t, 4, 4, 1270, nil, nil)
	p := flatProfile(t, 4, 4, 1170, 1370)
	p.Colormap = "no-such-map"

	e := NewEngine(Config{})
	if _, err := e.Render(f, p); err == nil {
		t.Error("Expected error for unknown colormap, got nil")
	}
}

func TestRenderContours(t *testing.T) {
	// Left half at 1400, right half at 1600; one level at 1500 puts a
	// line on the last left-half column.
	depth := make([]float32, 100)
	valid := make([]bool, 100)
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			i := y*10 + x
			if x < 5 {
				depth[i] = 1400
			} else {
				depth[i] = 1600
			}
			valid[i] = true
		}
	}
	valid[7*10+4] = false
	f, err := frame.NewDepthFrame("test", 1, 0, 10, 10, depth, valid)
	if err != nil {
		t.Fatalf("NewDepthFrame failed: %v", err)
	}

	p := flatProfile(t, 10, 10, 1000, 2000)
	p.SetContours(true)
	if err := p.SetNContours(1); err != nil {
		t.Fatalf("SetNContours failed: %v", err)
	}

	e := NewEngine(Config{CanvasWidth: 16, CanvasHeight: 16})
	cf, err := e.Render(f, p)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	black := color.RGBA{A: 255}
	if got := pixel(cf, 4, 0); got != black {
		t.Errorf("Expected contour line at (4,0), got %v", got)
	}
	if got := pixel(cf, 4, 9); got != black {
		t.Errorf("Expected contour line at (4,9), got %v", got)
	}
	// The invalid cell draws no line and stays background.
	if got := pixel(cf, 4, 7); got != Background {
		t.Errorf("Expected background at the invalid cell, got %v", got)
	}
	// Away from the boundary there is no line.
	if got := pixel(cf, 1, 1); got == black {
		t.Error("Expected no contour away from the depth step")
	}
	if got := pixel(cf, 7, 1); got == black {
		t.Error("Expected no contour inside the deep half")
	}
}

func TestContourLevels(t *testing.T) {
	got := contourLevels(1000, 2000, 3)
	want := []float64{1250, 1500, 1750}
	if len(got) != len(want) {
		t.Fatalf("Expected %d levels, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Level %d: expected %v, got %v", i, want[i], got[i])
		}
	}
	if n := len(contourLevels(1000, 2000, 0)); n != 0 {
		t.Errorf("Expected no levels for n=0, got %d", n)
	}
}

func BenchmarkRender(b *testing.B) {
	w, h := 512, 424
	depth := make([]float32, w*h)
	valid := make([]bool, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			depth[y*w+x] = float32(1170 + (y+x)%200)
			valid[y*w+x] = true
		}
	}
	f, err := frame.NewDepthFrame("bench", 1, 0, w, h, depth, valid)
	if err != nil {
		b.Fatalf("NewDepthFrame failed: %v", err)
	}
	p := calib.Defaults()
	if err := p.SetRotAngle(12); err != nil {
		b.Fatalf("SetRotAngle failed: %v", err)
	}
	e := NewEngine(Config{})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := e.Render(f, p); err != nil {
			b.Fatalf("Render failed: %v", err)
		}
	}
}
