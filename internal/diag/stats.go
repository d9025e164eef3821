// Package diag computes depth stream statistics and renders
// diagnostic plots for calibration review.
package diag

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/relief-labs/topobox/internal/frame"
)

// DepthStats summarizes the valid cells of one depth frame.
type DepthStats struct {
	ValidCells int     `json:"valid_cells"`
	TotalCells int     `json:"total_cells"`
	MinMM      float64 `json:"min_mm"`
	MaxMM      float64 `json:"max_mm"`
	MeanMM     float64 `json:"mean_mm"`
	StddevMM   float64 `json:"stddev_mm"`
	MedianMM   float64 `json:"median_mm"`
	P95MM      float64 `json:"p95_mm"`
}

// Summarize computes statistics over the valid cells of f. A frame
// with no valid cells yields zeroed statistics with the cell counts
// filled in.
func Summarize(f *frame.DepthFrame) DepthStats {
	s := DepthStats{TotalCells: f.Width() * f.Height()}

	data := ValidDepths(f)
	s.ValidCells = len(data)
	if len(data) == 0 {
		return s
	}

	mean, stddev := stat.MeanStdDev(data, nil)
	if len(data) < 2 {
		// Sample stddev needs two points.
		stddev = 0
	}

	sort.Float64s(data)
	s.MinMM = data[0]
	s.MaxMM = data[len(data)-1]
	s.MeanMM = mean
	s.StddevMM = stddev
	s.MedianMM = stat.Quantile(0.5, stat.Empirical, data, nil)
	s.P95MM = stat.Quantile(0.95, stat.Empirical, data, nil)
	return s
}

// ValidDepths collects the valid cells of f as float64 millimeters in
// row-major order.
func ValidDepths(f *frame.DepthFrame) []float64 {
	data := make([]float64, 0, f.Width()*f.Height())
	for y := 0; y < f.Height(); y++ {
		for x := 0; x < f.Width(); x++ {
			if z, ok := f.At(x, y); ok {
				data = append(data, float64(z))
			}
		}
	}
	return data
}

// HistogramBin is one bar of a depth histogram: valid cells with depth
// in [LowMM, HighMM). The last bin includes its upper edge.
type HistogramBin struct {
	LowMM  float64 `json:"low_mm"`
	HighMM float64 `json:"high_mm"`
	Count  int     `json:"count"`
}

// Histogram buckets the valid cells of f into equal-width bins across
// [loMM, hiMM]. Cells outside the range are dropped, not clamped, so
// the bars reflect only the depth window under review. When hiMM is
// not above loMM the range comes from the frame extrema; a frame with
// no valid cells then yields nil.
func Histogram(f *frame.DepthFrame, bins int, loMM, hiMM float64) []HistogramBin {
	if bins <= 0 {
		bins = 40
	}
	if hiMM <= loMM {
		min, max, ok := f.MinMax()
		if !ok {
			return nil
		}
		loMM, hiMM = float64(min), float64(max)
		if hiMM <= loMM {
			hiMM = loMM + 1
		}
	}

	width := (hiMM - loMM) / float64(bins)
	out := make([]HistogramBin, bins)
	for i := range out {
		out[i].LowMM = loMM + float64(i)*width
		out[i].HighMM = out[i].LowMM + width
	}

	for y := 0; y < f.Height(); y++ {
		for x := 0; x < f.Width(); x++ {
			z, ok := f.At(x, y)
			if !ok {
				continue
			}
			zf := float64(z)
			if zf < loMM || zf > hiMM {
				continue
			}
			i := int((zf - loMM) / width)
			if i >= bins {
				i = bins - 1
			}
			out[i].Count++
		}
	}
	return out
}
