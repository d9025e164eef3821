package api

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/relief-labs/topobox/internal/diag"
)

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// handleDepthChart renders a quick scatter plot (HTML) of stored frame
// snapshots using go-echarts: mean depth over time, colored by valid
// fraction. This is a debugging-only endpoint (no auth) for reviewing
// sand level drift without a frontend.
// Query params:
//   - sensor (optional; defaults to all sensors)
//   - limit (optional; default 200)
func (ws *WebServer) handleDepthChart(w http.ResponseWriter, r *http.Request) {
	if ws.store == nil {
		ws.writeJSONError(w, http.StatusServiceUnavailable, "Profile store is not enabled")
		return
	}

	sensorID := r.URL.Query().Get("sensor")
	limit := parseLimit(r, 200)

	snaps, err := ws.store.FrameSnapshots(sensorID, limit)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to list snapshots: %v", err))
		return
	}
	if len(snaps) == 0 {
		ws.writeJSONError(w, http.StatusNotFound, "no snapshots recorded")
		return
	}

	// Rows come newest first; plot oldest to newest.
	oldest := snaps[len(snaps)-1].TakenUnixNanos

	data := make([]opts.ScatterData, 0, len(snaps))
	minMean, maxMean := snaps[0].MeanMM, snaps[0].MeanMM
	for i := len(snaps) - 1; i >= 0; i-- {
		s := snaps[i]
		x := float64(s.TakenUnixNanos-oldest) / 1e9
		validPct := 0.0
		if s.TotalCells > 0 {
			validPct = 100 * float64(s.ValidCells) / float64(s.TotalCells)
		}
		if s.MeanMM < minMean {
			minMean = s.MeanMM
		}
		if s.MeanMM > maxMean {
			maxMean = s.MeanMM
		}
		data = append(data, opts.ScatterData{Value: []interface{}{x, s.MeanMM, validPct}})
	}

	// Add a small padding so points at the edges are visible
	pad := (maxMean - minMean) * 0.05
	if pad == 0 {
		pad = 1.0
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Depth Snapshots", Theme: "dark", Width: "1200px", Height: "700px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Mean Sand Depth Over Time", Subtitle: fmt.Sprintf("sensor=%s points=%d", sensorID, len(data))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: 0, Name: "Seconds since first snapshot", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: minMean - pad, Max: maxMean + pad, Name: "Mean depth (mm)", NameLocation: "middle", NameGap: 45}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        100,
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}},
		}),
	)

	scatter.AddSeries("snapshots", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}))

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleHistogramChart renders a bar chart of the latest frame's depth
// distribution across the profile's z window.
func (ws *WebServer) handleHistogramChart(w http.ResponseWriter, r *http.Request) {
	f := ws.source.Poll()
	if f == nil {
		ws.writeJSONError(w, http.StatusServiceUnavailable, "No depth frame available")
		return
	}

	p := ws.session.Profile()
	bins := diag.Histogram(f, 40, p.ZMin, p.ZMax)
	if bins == nil {
		ws.writeJSONError(w, http.StatusNotFound, "frame has no valid cells")
		return
	}

	x := make([]string, len(bins))
	y := make([]opts.BarData, len(bins))
	for i, b := range bins {
		x[i] = fmt.Sprintf("%.0f", b.LowMM)
		y[i] = opts.BarData{Value: b.Count}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "720px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: fmt.Sprintf("Depth Distribution - %s frame %d", f.SensorID(), f.FrameID()), Subtitle: time.Now().Format(time.RFC3339)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Depth (mm)"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Cells"}),
	)
	bar.SetXAxis(x).
		AddSeries("cells", y)

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)
	page.AddCharts(bar)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
