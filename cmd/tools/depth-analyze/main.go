// Package main provides an offline analysis tool for recorded depth
// captures. It replays a pcap file through the frame assembly pipeline
// and exports per-frame statistics, optional rendered previews, and an
// aggregate summary for sensor health review.
package main

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	_ "modernc.org/sqlite"

	"github.com/relief-labs/topobox/internal/calib"
	"github.com/relief-labs/topobox/internal/db"
	"github.com/relief-labs/topobox/internal/diag"
	"github.com/relief-labs/topobox/internal/frame"
	"github.com/relief-labs/topobox/internal/render"
	"github.com/relief-labs/topobox/internal/sensor"
)

// Config holds configuration for the capture analysis.
type Config struct {
	PCAPFile        string
	OutputDir       string
	SensorID        string
	UDPPort         int
	CalibrationFile string
	DBPath          string
	ExportCSV       bool
	ExportJSON      bool
	RenderEvery     int
	Verbose         bool
}

// AnalysisResult holds the results of a capture analysis.
type AnalysisResult struct {
	PCAPFile         string         `json:"pcap_file"`
	Duration         time.Duration  `json:"duration_ns"`
	DurationSecs     float64        `json:"duration_secs"`
	TotalPackets     int            `json:"total_packets"`
	BadChunks        int            `json:"bad_chunks"`
	TotalFrames      int            `json:"total_frames"`
	RenderedFrames   int            `json:"rendered_frames,omitempty"`
	StoredSnapshots  int            `json:"stored_snapshots,omitempty"`
	ProcessingTimeMs int64          `json:"processing_time_ms"`
	Frames           []*FrameExport `json:"frames"`
	Aggregate        AggregateStats `json:"aggregate"`
}

// FrameExport represents one assembled frame for export.
type FrameExport struct {
	FrameID     uint64  `json:"frame_id"`
	Timestamp   string  `json:"timestamp"`
	ValidCells  int     `json:"valid_cells"`
	TotalCells  int     `json:"total_cells"`
	CoveragePct float64 `json:"coverage_pct"`
	MinMM       float64 `json:"min_mm"`
	MaxMM       float64 `json:"max_mm"`
	MeanMM      float64 `json:"mean_mm"`
	StddevMM    float64 `json:"stddev_mm"`
	MedianMM    float64 `json:"median_mm"`
	P95MM       float64 `json:"p95_mm"`
}

// AggregateStats summarizes the whole capture.
type AggregateStats struct {
	Frames         int     `json:"frames"`
	AvgCoveragePct float64 `json:"avg_coverage_pct"`
	MinMeanMM      float64 `json:"min_mean_mm"`
	MaxMeanMM      float64 `json:"max_mean_mm"`
	AvgMeanMM      float64 `json:"avg_mean_mm"`
	AvgStddevMM    float64 `json:"avg_stddev_mm"`
}

func main() {
	config := parseFlags()

	if config.PCAPFile == "" {
		fmt.Fprintln(os.Stderr, "Error: capture file is required")
		flag.Usage()
		os.Exit(1)
	}

	if _, err := os.Stat(config.PCAPFile); os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Error: capture file not found: %s\n", config.PCAPFile)
		os.Exit(1)
	}

	if config.OutputDir != "" {
		if err := os.MkdirAll(config.OutputDir, 0755); err != nil {
			log.Fatalf("Failed to create output directory: %v", err)
		}
	}

	result, err := analyzeCapture(config)
	if err != nil {
		log.Fatalf("Analysis failed: %v", err)
	}

	printSummary(result)

	if err := exportResults(config, result); err != nil {
		log.Fatalf("Export failed: %v", err)
	}
}

func parseFlags() Config {
	config := Config{}

	flag.StringVar(&config.PCAPFile, "pcap", "", "Path to capture file (required)")
	flag.StringVar(&config.OutputDir, "output", ".", "Output directory for results")
	flag.StringVar(&config.SensorID, "sensor-id", "capture", "Sensor ID recorded on exported frames")
	flag.IntVar(&config.UDPPort, "port", 9601, "UDP port carrying depth datagrams, 0 for any")
	flag.StringVar(&config.CalibrationFile, "calibration", "", "Calibration profile for rendered previews (optional)")
	flag.StringVar(&config.DBPath, "db", "", "SQLite database path (optional, archives every frame)")
	flag.BoolVar(&config.ExportCSV, "csv", true, "Export per-frame statistics to CSV")
	flag.BoolVar(&config.ExportJSON, "json", true, "Export full results to JSON")
	flag.IntVar(&config.RenderEvery, "render-every", 0, "Render every Nth frame to PNG, 0 disables")
	flag.BoolVar(&config.Verbose, "v", false, "Verbose output")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Depth Capture Analysis Tool\n\n")
		fmt.Fprintf(os.Stderr, "This tool replays a recorded capture through the frame pipeline:\n")
		fmt.Fprintf(os.Stderr, "  1. Read UDP datagrams from the pcap file\n")
		fmt.Fprintf(os.Stderr, "  2. Reassemble row chunks into depth frames\n")
		fmt.Fprintf(os.Stderr, "  3. Summarize every frame (coverage, min/max/mean/stddev)\n")
		fmt.Fprintf(os.Stderr, "  4. Optionally render every Nth frame to PNG for visual review\n")
		fmt.Fprintf(os.Stderr, "  5. Export per-frame and aggregate results\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -pcap capture.pcap -output ./results\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -pcap capture.pcap -render-every 30 -calibration calibration.json\n", os.Args[0])
	}

	flag.Parse()
	return config
}

func analyzeCapture(config Config) (*AnalysisResult, error) {
	startTime := time.Now()

	f, err := os.Open(config.PCAPFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture: %w", err)
	}
	defer f.Close()

	reader, err := pcapgo.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read capture header: %w", err)
	}

	profile := calib.Defaults()
	if config.CalibrationFile != "" {
		profile, err = calib.Load(config.CalibrationFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load calibration: %w", err)
		}
	}

	var engine *render.Engine
	if config.RenderEvery > 0 {
		engine = render.NewEngine(render.Config{})
		if err := os.MkdirAll(filepath.Join(config.OutputDir, "frames"), 0755); err != nil {
			return nil, fmt.Errorf("failed to create frames directory: %w", err)
		}
	}

	var store *db.DB
	if config.DBPath != "" {
		store, err = db.NewDB(config.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		defer store.Close()
	}

	result := &AnalysisResult{PCAPFile: config.PCAPFile}
	asm := sensor.NewAssembler(config.SensorID)

	var firstPacketTime, lastPacketTime time.Time
	frameIndex := 0

	for {
		data, ci, err := reader.ReadPacketData()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to read packet: %w", err)
		}

		packet := gopacket.NewPacket(data, reader.LinkType(), gopacket.Default)
		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp, ok := udpLayer.(*layers.UDP)
		if !ok || len(udp.Payload) == 0 {
			continue
		}
		if config.UDPPort != 0 && int(udp.DstPort) != config.UDPPort {
			continue
		}

		result.TotalPackets++
		if firstPacketTime.IsZero() {
			firstPacketTime = ci.Timestamp
		}
		lastPacketTime = ci.Timestamp

		chunk, err := sensor.ParseChunk(udp.Payload)
		if err != nil {
			result.BadChunks++
			if config.Verbose {
				log.Printf("Chunk parse error: %v", err)
			}
			continue
		}

		// Stamp frames with capture time so the exported timeline
		// matches the recording, not the analysis run.
		for _, df := range asm.Add(chunk, ci.Timestamp.UnixNano()) {
			export := summarizeFrame(df)
			result.Frames = append(result.Frames, export)
			result.TotalFrames++

			if config.Verbose && frameIndex%100 == 0 {
				log.Printf("Frame %d: %d/%d valid cells, mean %.1f mm",
					frameIndex, export.ValidCells, export.TotalCells, export.MeanMM)
			}

			if engine != nil && frameIndex%config.RenderEvery == 0 {
				if err := renderFrame(engine, profile, df, config.OutputDir, frameIndex); err != nil {
					log.Printf("Warning: failed to render frame %d: %v", frameIndex, err)
				} else {
					result.RenderedFrames++
				}
			}

			if store != nil {
				if err := archiveFrame(store, df, export); err != nil {
					log.Printf("Warning: failed to archive frame %d: %v", frameIndex, err)
				} else {
					result.StoredSnapshots++
				}
			}

			frameIndex++
		}
	}

	result.Duration = lastPacketTime.Sub(firstPacketTime)
	result.DurationSecs = result.Duration.Seconds()
	result.Aggregate = computeAggregate(result.Frames)
	result.ProcessingTimeMs = time.Since(startTime).Milliseconds()

	return result, nil
}

func summarizeFrame(df *frame.DepthFrame) *FrameExport {
	stats := diag.Summarize(df)
	coverage := 0.0
	if stats.TotalCells > 0 {
		coverage = 100 * float64(stats.ValidCells) / float64(stats.TotalCells)
	}
	return &FrameExport{
		FrameID:     df.FrameID(),
		Timestamp:   time.Unix(0, df.TimestampNanos()).Format(time.RFC3339Nano),
		ValidCells:  stats.ValidCells,
		TotalCells:  stats.TotalCells,
		CoveragePct: coverage,
		MinMM:       stats.MinMM,
		MaxMM:       stats.MaxMM,
		MeanMM:      stats.MeanMM,
		StddevMM:    stats.StddevMM,
		MedianMM:    stats.MedianMM,
		P95MM:       stats.P95MM,
	}
}

func renderFrame(engine *render.Engine, profile *calib.Profile, df *frame.DepthFrame, outputDir string, frameIndex int) error {
	cf, err := engine.Render(df, profile)
	if err != nil {
		return err
	}
	path := filepath.Join(outputDir, "frames", fmt.Sprintf("frame_%06d.png", frameIndex))
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer out.Close()
	return cf.EncodePNG(out)
}

func archiveFrame(store *db.DB, df *frame.DepthFrame, export *FrameExport) error {
	blob, err := frame.EncodeDepthFrame(df)
	if err != nil {
		return err
	}
	_, err = store.InsertFrameSnapshot(&db.FrameSnapshot{
		SensorID:       df.SensorID(),
		FrameID:        int64(df.FrameID()),
		TakenUnixNanos: df.TimestampNanos(),
		ValidCells:     int64(export.ValidCells),
		TotalCells:     int64(export.TotalCells),
		MinMM:          export.MinMM,
		MaxMM:          export.MaxMM,
		MeanMM:         export.MeanMM,
		StddevMM:       export.StddevMM,
		FrameGZ:        blob,
	})
	return err
}

func computeAggregate(frames []*FrameExport) AggregateStats {
	agg := AggregateStats{Frames: len(frames)}
	if len(frames) == 0 {
		return agg
	}

	agg.MinMeanMM = frames[0].MeanMM
	agg.MaxMeanMM = frames[0].MeanMM

	var sumCoverage, sumMean, sumStddev float64
	for _, fe := range frames {
		sumCoverage += fe.CoveragePct
		sumMean += fe.MeanMM
		sumStddev += fe.StddevMM
		if fe.MeanMM < agg.MinMeanMM {
			agg.MinMeanMM = fe.MeanMM
		}
		if fe.MeanMM > agg.MaxMeanMM {
			agg.MaxMeanMM = fe.MeanMM
		}
	}

	n := float64(len(frames))
	agg.AvgCoveragePct = sumCoverage / n
	agg.AvgMeanMM = sumMean / n
	agg.AvgStddevMM = sumStddev / n
	return agg
}

func printSummary(result *AnalysisResult) {
	fmt.Println("\n========== Depth Capture Summary ==========")
	fmt.Printf("File: %s\n", result.PCAPFile)
	fmt.Printf("Duration: %.1f seconds (%.1f minutes)\n", result.DurationSecs, result.DurationSecs/60)
	fmt.Printf("Processing time: %d ms\n", result.ProcessingTimeMs)
	fmt.Println()
	fmt.Printf("Packets: %d (%d bad chunks)\n", result.TotalPackets, result.BadChunks)
	if result.DurationSecs > 0 {
		fmt.Printf("Frames: %d (%.1f fps)\n", result.TotalFrames, float64(result.TotalFrames)/result.DurationSecs)
	} else {
		fmt.Printf("Frames: %d\n", result.TotalFrames)
	}
	fmt.Println()
	fmt.Printf("Coverage: %.1f%% average valid cells\n", result.Aggregate.AvgCoveragePct)
	fmt.Printf("Mean depth: %.1f mm average, range [%.1f, %.1f]\n",
		result.Aggregate.AvgMeanMM, result.Aggregate.MinMeanMM, result.Aggregate.MaxMeanMM)
	fmt.Printf("Stddev: %.1f mm average\n", result.Aggregate.AvgStddevMM)
	if result.RenderedFrames > 0 {
		fmt.Printf("\nRendered frames: %d\n", result.RenderedFrames)
	}
	if result.StoredSnapshots > 0 {
		fmt.Printf("Archived snapshots: %d\n", result.StoredSnapshots)
	}
	fmt.Println("===========================================")
}

func exportResults(config Config, result *AnalysisResult) error {
	baseName := strings.TrimSuffix(filepath.Base(config.PCAPFile), filepath.Ext(config.PCAPFile))

	if config.ExportJSON {
		jsonPath := filepath.Join(config.OutputDir, baseName+"_analysis.json")
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("JSON marshal: %w", err)
		}
		if err := os.WriteFile(jsonPath, data, 0644); err != nil {
			return fmt.Errorf("write JSON: %w", err)
		}
		fmt.Printf("JSON results: %s\n", jsonPath)
	}

	if config.ExportCSV && len(result.Frames) > 0 {
		csvPath := filepath.Join(config.OutputDir, baseName+"_frames.csv")
		if err := exportFramesCSV(csvPath, result.Frames); err != nil {
			return fmt.Errorf("write CSV: %w", err)
		}
		fmt.Printf("CSV frames: %s\n", csvPath)
	}

	return nil
}

func exportFramesCSV(path string, frames []*FrameExport) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	header := []string{
		"frame_id", "timestamp", "valid_cells", "total_cells", "coverage_pct",
		"min_mm", "max_mm", "mean_mm", "stddev_mm", "median_mm", "p95_mm",
	}
	if err := w.Write(header); err != nil {
		return err
	}

	for _, fe := range frames {
		row := []string{
			strconv.FormatUint(fe.FrameID, 10),
			fe.Timestamp,
			strconv.Itoa(fe.ValidCells),
			strconv.Itoa(fe.TotalCells),
			strconv.FormatFloat(fe.CoveragePct, 'f', 1, 64),
			strconv.FormatFloat(fe.MinMM, 'f', 1, 64),
			strconv.FormatFloat(fe.MaxMM, 'f', 1, 64),
			strconv.FormatFloat(fe.MeanMM, 'f', 1, 64),
			strconv.FormatFloat(fe.StddevMM, 'f', 1, 64),
			strconv.FormatFloat(fe.MedianMM, 'f', 1, 64),
			strconv.FormatFloat(fe.P95MM, 'f', 1, 64),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}

	return nil
}
