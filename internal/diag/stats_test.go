package diag

import (
	"math"
	"testing"

	"github.com/relief-labs/topobox/internal/frame"
)

func buildFrame(t *testing.T, w, h int, depth []float32, valid []bool) *frame.DepthFrame {
	t.Helper()
	f, err := frame.NewDepthFrame("test-sensor", 1, 42, w, h, depth, valid)
	if err != nil {
		t.Fatalf("NewDepthFrame failed: %v", err)
	}
	return f
}

func TestSummarize(t *testing.T) {
	depth := []float32{1200, 0, 1300, 0}
	valid := []bool{true, false, true, false}
	f := buildFrame(t, 2, 2, depth, valid)

	s := Summarize(f)

	if s.ValidCells != 2 {
		t.Errorf("Expected 2 valid cells, got %d", s.ValidCells)
	}
	if s.TotalCells != 4 {
		t.Errorf("Expected 4 total cells, got %d", s.TotalCells)
	}
	if s.MinMM != 1200 || s.MaxMM != 1300 {
		t.Errorf("Expected min/max 1200/1300, got %v/%v", s.MinMM, s.MaxMM)
	}
	if s.MeanMM != 1250 {
		t.Errorf("Expected mean 1250, got %v", s.MeanMM)
	}
	wantStddev := 50 * math.Sqrt2
	if math.Abs(s.StddevMM-wantStddev) > 1e-9 {
		t.Errorf("Expected stddev %v, got %v", wantStddev, s.StddevMM)
	}
	if s.MedianMM != 1200 {
		t.Errorf("Expected median 1200, got %v", s.MedianMM)
	}
	if s.P95MM != 1300 {
		t.Errorf("Expected p95 1300, got %v", s.P95MM)
	}
}

func TestSummarizeAllInvalid(t *testing.T) {
	f := buildFrame(t, 3, 2, make([]float32, 6), make([]bool, 6))

	s := Summarize(f)

	if s.ValidCells != 0 {
		t.Errorf("Expected 0 valid cells, got %d", s.ValidCells)
	}
	if s.TotalCells != 6 {
		t.Errorf("Expected 6 total cells, got %d", s.TotalCells)
	}
	if s.MeanMM != 0 || s.StddevMM != 0 || s.MinMM != 0 || s.MaxMM != 0 {
		t.Errorf("Expected zeroed stats for all-invalid frame, got %+v", s)
	}
}

func TestSummarizeSingleCell(t *testing.T) {
	f := buildFrame(t, 1, 1, []float32{1234}, []bool{true})

	s := Summarize(f)

	if s.MeanMM != 1234 {
		t.Errorf("Expected mean 1234, got %v", s.MeanMM)
	}
	if s.StddevMM != 0 {
		t.Errorf("Expected stddev 0 for a single cell, got %v", s.StddevMM)
	}
	if s.MedianMM != 1234 || s.P95MM != 1234 {
		t.Errorf("Expected all quantiles 1234, got median %v p95 %v", s.MedianMM, s.P95MM)
	}
}

func TestValidDepthsRowMajor(t *testing.T) {
	depth := []float32{10, 20, 30, 40, 50, 60}
	valid := []bool{true, false, true, true, true, false}
	f := buildFrame(t, 3, 2, depth, valid)

	got := ValidDepths(f)

	want := []float64{10, 30, 40, 50}
	if len(got) != len(want) {
		t.Fatalf("Expected %d depths, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected depth[%d] = %v, got %v", i, want[i], got[i])
		}
	}
}

func TestHistogram(t *testing.T) {
	depth := []float32{1000, 1100, 1200, 500}
	valid := []bool{true, true, true, true}
	f := buildFrame(t, 2, 2, depth, valid)

	bins := Histogram(f, 2, 1000, 1200)

	if len(bins) != 2 {
		t.Fatalf("Expected 2 bins, got %d", len(bins))
	}
	if bins[0].LowMM != 1000 || bins[0].HighMM != 1100 {
		t.Errorf("Expected bin 0 edges 1000-1100, got %v-%v", bins[0].LowMM, bins[0].HighMM)
	}
	if bins[1].LowMM != 1100 || bins[1].HighMM != 1200 {
		t.Errorf("Expected bin 1 edges 1100-1200, got %v-%v", bins[1].LowMM, bins[1].HighMM)
	}
	// 1000 lands in bin 0; 1100 in bin 1; 1200 sits on the top edge and
	// stays in the last bin; 500 is out of range and dropped.
	if bins[0].Count != 1 {
		t.Errorf("Expected bin 0 count 1, got %d", bins[0].Count)
	}
	if bins[1].Count != 2 {
		t.Errorf("Expected bin 1 count 2, got %d", bins[1].Count)
	}
}

func TestHistogramAutoRange(t *testing.T) {
	depth := []float32{1150, 1250, 0}
	valid := []bool{true, true, false}
	f := buildFrame(t, 3, 1, depth, valid)

	bins := Histogram(f, 4, 0, 0)

	if len(bins) != 4 {
		t.Fatalf("Expected 4 bins, got %d", len(bins))
	}
	if bins[0].LowMM != 1150 {
		t.Errorf("Expected auto range to start at 1150, got %v", bins[0].LowMM)
	}
	if bins[3].HighMM != 1250 {
		t.Errorf("Expected auto range to end at 1250, got %v", bins[3].HighMM)
	}
	total := 0
	for _, b := range bins {
		total += b.Count
	}
	if total != 2 {
		t.Errorf("Expected 2 cells across bins, got %d", total)
	}
}

func TestHistogramAllInvalid(t *testing.T) {
	f := buildFrame(t, 2, 2, make([]float32, 4), make([]bool, 4))

	if bins := Histogram(f, 4, 0, 0); bins != nil {
		t.Errorf("Expected nil histogram for all-invalid frame, got %d bins", len(bins))
	}
}

func TestHistogramDefaultBinCount(t *testing.T) {
	depth := []float32{1200}
	valid := []bool{true}
	f := buildFrame(t, 1, 1, depth, valid)

	bins := Histogram(f, 0, 1000, 1400)

	if len(bins) != 40 {
		t.Errorf("Expected 40 default bins, got %d", len(bins))
	}
}
