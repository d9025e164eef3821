package diag

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/relief-labs/topobox/internal/calib"
	"github.com/relief-labs/topobox/internal/frame"
	"github.com/relief-labs/topobox/internal/render"
)

var (
	histFill     = color.RGBA{R: 70, G: 130, B: 180, A: 255}
	sensorStroke = color.RGBA{R: 120, G: 120, B: 120, A: 255}
	cropStroke   = color.RGBA{R: 70, G: 130, B: 180, A: 255}
	canvasStroke = color.RGBA{R: 120, G: 120, B: 120, A: 255}
	placedStroke = color.RGBA{R: 214, G: 120, B: 28, A: 255}
)

// histogramPlot builds a depth histogram over the valid cells of f.
func histogramPlot(f *frame.DepthFrame) (*plot.Plot, error) {
	data := ValidDepths(f)
	if len(data) == 0 {
		return nil, fmt.Errorf("frame has no valid cells to plot")
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Depth Distribution - %s frame %d", f.SensorID(), f.FrameID())
	p.X.Label.Text = "Depth (mm)"
	p.Y.Label.Text = "Cells"

	h, err := plotter.NewHist(plotter.Values(data), 48)
	if err != nil {
		return nil, err
	}
	h.FillColor = histFill
	p.Add(h)

	return p, nil
}

// WriteHistogramPNG renders the depth histogram of f as PNG.
func WriteHistogramPNG(w io.Writer, f *frame.DepthFrame) error {
	p, err := histogramPlot(f)
	if err != nil {
		return err
	}
	return writePlotPNG(w, p, 8*vg.Inch, 5*vg.Inch)
}

// SaveHistogramPNG writes the depth histogram of f to path.
func SaveHistogramPNG(f *frame.DepthFrame, path string) error {
	p, err := histogramPlot(f)
	if err != nil {
		return err
	}
	return p.Save(8*vg.Inch, 5*vg.Inch, path)
}

// geometryPlot draws the calibration geometry: the sensor frame with
// its crop window on the left and the projector canvas with the placed
// content on the right, offset so the two coordinate spaces read
// separately.
func geometryPlot(p *calib.Profile, sensorW, sensorH, canvasW, canvasH int) (*plot.Plot, error) {
	if p == nil {
		return nil, fmt.Errorf("nil profile")
	}

	pl := plot.New()
	pl.Title.Text = fmt.Sprintf("Calibration Geometry (rot %.1f deg, scale %.2f)", p.RotAngle, p.ScaleFactor)
	pl.X.Label.Text = "px"
	pl.Y.Label.Text = "px"
	// Sensor and canvas coordinates grow downward.
	pl.Y.Scale = plot.InvertedScale{Normalizer: plot.LinearScale{}}

	off := float64(sensorW) + 40

	addRect := func(x0, y0, x1, y1 float64, c color.RGBA, label string) error {
		line, err := plotter.NewLine(rectXYs(x0, y0, x1, y1))
		if err != nil {
			return err
		}
		line.Color = c
		line.Width = vg.Points(1.5)
		pl.Add(line)
		pl.Legend.Add(label, line)
		return nil
	}

	placedW := math.Round(float64(p.XLim[1]-p.XLim[0]) * p.ScaleFactor)
	placedH := math.Round(float64(p.YLim[1]-p.YLim[0]) * p.ScaleFactor)

	if err := addRect(0, 0, float64(sensorW), float64(sensorH), sensorStroke, "sensor frame"); err != nil {
		return nil, err
	}
	if err := addRect(float64(p.XLim[0]), float64(p.YLim[0]), float64(p.XLim[1]), float64(p.YLim[1]), cropStroke, "crop window"); err != nil {
		return nil, err
	}
	if err := addRect(off, 0, off+float64(canvasW), float64(canvasH), canvasStroke, "projector canvas"); err != nil {
		return nil, err
	}
	if err := addRect(off+float64(p.XPos), float64(p.YPos), off+float64(p.XPos)+placedW, float64(p.YPos)+placedH, placedStroke, "placed content"); err != nil {
		return nil, err
	}

	pl.Legend.Top = true
	pl.Legend.Left = false
	pl.Legend.XOffs = -10
	pl.Legend.YOffs = -10

	return pl, nil
}

// WriteGeometryPNG renders the crop and placement geometry of p as
// PNG. Sensor and canvas dimensions come from the caller because the
// profile does not record them.
func WriteGeometryPNG(w io.Writer, p *calib.Profile, sensorW, sensorH, canvasW, canvasH int) error {
	pl, err := geometryPlot(p, sensorW, sensorH, canvasW, canvasH)
	if err != nil {
		return err
	}
	return writePlotPNG(w, pl, 12*vg.Inch, 5*vg.Inch)
}

// SaveGeometryPNG writes the geometry plot of p to path.
func SaveGeometryPNG(p *calib.Profile, sensorW, sensorH, canvasW, canvasH int, path string) error {
	pl, err := geometryPlot(p, sensorW, sensorH, canvasW, canvasH)
	if err != nil {
		return err
	}
	return pl.Save(12*vg.Inch, 5*vg.Inch, path)
}

// WriteSwatchPNG renders the named colormap as a horizontal ramp,
// shallow end on the left.
func WriteSwatchPNG(w io.Writer, name string, width, height int) error {
	cm, ok := render.LookupColormap(name)
	if !ok {
		return fmt.Errorf("unknown colormap %q", name)
	}
	if width <= 0 {
		width = 256
	}
	if height <= 0 {
		height = 32
	}

	span := width - 1
	if span < 1 {
		span = 1
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		c := cm.At(float64(x) / float64(span))
		for y := 0; y < height; y++ {
			img.SetRGBA(x, y, c)
		}
	}
	return png.Encode(w, img)
}

func rectXYs(x0, y0, x1, y1 float64) plotter.XYs {
	return plotter.XYs{
		{X: x0, Y: y0},
		{X: x1, Y: y0},
		{X: x1, Y: y1},
		{X: x0, Y: y1},
		{X: x0, Y: y0},
	}
}

func writePlotPNG(w io.Writer, p *plot.Plot, width, height vg.Length) error {
	wt, err := p.WriterTo(width, height, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}
