package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/relief-labs/topobox/internal/api"
	"github.com/relief-labs/topobox/internal/calib"
	"github.com/relief-labs/topobox/internal/db"
	"github.com/relief-labs/topobox/internal/projector"
	"github.com/relief-labs/topobox/internal/render"
	"github.com/relief-labs/topobox/internal/sensor"
	"github.com/relief-labs/topobox/internal/session"

	_ "modernc.org/sqlite"
)

// Command line flags
var (
	listenAddress   = flag.String("listen", ":8080", "HTTP listen address for the calibration UI")
	devMode         = flag.Bool("dev", false, "use the synthetic sensor instead of the network listener")
	sensorName      = flag.String("sensor-name", "dummy", "sensor name for the synthetic source")
	udpAddress      = flag.String("udp-addr", ":9601", "UDP listen address for depth datagrams")
	replayFile      = flag.String("replay", "", "pcap capture to replay instead of a live sensor")
	replaySpeed     = flag.Float64("replay-speed", 1.0, "replay pacing multiplier")
	replayLoop      = flag.Bool("replay-loop", false, "restart the capture when it ends")
	filterFrames    = flag.Int("filter-frames", 3, "temporal smoothing window in frames, 0 to disable")
	serialDevice    = flag.String("projector-serial", "", "projector RS-232 control port (optional)")
	dbFile          = flag.String("db", "", "SQLite path for saved profiles and snapshots (optional)")
	calibrationFile = flag.String("calibration", "calibration.json", "calibration profile file")
	canvasWidth     = flag.Int("canvas-width", 0, "projector canvas width in px (default 1280)")
	canvasHeight    = flag.Int("canvas-height", 0, "projector canvas height in px (default 800)")
	renderInterval  = flag.Duration("render-interval", 100*time.Millisecond, "render cadence while live")
	refreshInterval = flag.Duration("refresh-interval", 100*time.Millisecond, "initial downstream frame pacing")
)

// buildSource picks the depth source for this run. Replay wins over dev
// mode; the default is the live UDP listener. A listener that cannot
// bind degrades to the synthetic sensor so the UI still comes up, but a
// busy device is fatal because another topobox already owns it.
func buildSource() sensor.Source {
	if *replayFile != "" {
		src, err := sensor.NewReplay(sensor.ReplayConfig{
			Path:  *replayFile,
			Loop:  *replayLoop,
			Speed: *replaySpeed,
		})
		if err != nil {
			log.Fatalf("Failed to open replay capture: %v", err)
		}
		return src
	}

	if *devMode {
		src, err := sensor.NewSynthetic(sensor.SyntheticConfig{Name: *sensorName})
		if err != nil {
			log.Fatalf("Failed to create synthetic sensor: %v", err)
		}
		return src
	}

	src, err := sensor.NewUDPSource(sensor.UDPSourceConfig{Address: *udpAddress})
	if err == nil {
		return src
	}
	if errors.Is(err, sensor.ErrDeviceBusy) {
		log.Fatalf("Depth listener %s is already claimed: %v", *udpAddress, err)
	}
	log.Printf("Depth listener unavailable (%v), falling back to the synthetic sensor", err)
	fallback, err := sensor.NewSynthetic(sensor.SyntheticConfig{Name: *sensorName})
	if err != nil {
		log.Fatalf("Failed to create fallback synthetic sensor: %v", err)
	}
	return fallback
}

// loadProfile reads the calibration file, starting from defaults when
// it does not exist yet. A present but unparseable file is fatal:
// silently replacing a corrupt calibration would lose the rig's
// alignment without warning.
func loadProfile(path string) *calib.Profile {
	p, err := calib.Load(path)
	if err == nil {
		log.Printf("Loaded calibration from %s", path)
		return p
	}
	if errors.Is(err, calib.ErrParse) {
		log.Fatalf("Calibration file %s is corrupt: %v", path, err)
	}
	log.Printf("Could not load calibration from %s (%v), starting from defaults", path, err)
	return calib.Defaults()
}

// Main

func main() {
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "migrate":
			if *dbFile == "" {
				log.Fatal("migrate requires -db")
			}
			db.RunMigrateCommand(args[1:], *dbFile)
			return
		default:
			log.Fatalf("Unknown command %q", args[0])
		}
	}

	source := buildSource()
	if *filterFrames > 0 {
		source = sensor.NewTemporalFilter(source, sensor.FilterConfig{Frames: *filterFrames})
	}

	profile := loadProfile(*calibrationFile)

	publisher := projector.NewPublisher(projector.PublisherConfig{
		RefreshInterval: *refreshInterval,
	})
	engine := render.NewEngine(render.Config{
		CanvasWidth:  *canvasWidth,
		CanvasHeight: *canvasHeight,
	})

	sess, err := session.New(source, publisher, engine, profile, session.Config{
		Tick: *renderInterval,
	})
	if err != nil {
		log.Fatalf("Failed to create render session: %v", err)
	}

	var store *db.DB
	if *dbFile != "" {
		store, err = db.NewDB(*dbFile)
		if err != nil {
			log.Fatalf("Failed to open database %s: %v", *dbFile, err)
		}
		defer store.Close()
	}

	// Create a wait group for the HTTP and projector routines
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var port *projector.ProjectorPort
	if *serialDevice != "" {
		port, err = projector.NewProjectorPort(*serialDevice)
		if err != nil {
			log.Fatalf("Failed to open projector port %s: %v", *serialDevice, err)
		}

		// run the monitor routine to manage IO on the serial port
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := port.Monitor(ctx); err != nil && err != context.Canceled {
				log.Printf("failed to monitor projector port: %v", err)
			}
			log.Print("projector monitor routine terminated")
		}()
	}

	if err := sess.Start(); err != nil {
		log.Fatalf("Failed to start render session: %v", err)
	}
	w, h := sess.CanvasSize()
	log.Printf("Rendering %s onto a %dx%d canvas every %v", sess.SourceID(), w, h, *renderInterval)

	apiConfig := api.Config{
		Address:         *listenAddress,
		Session:         sess,
		Publisher:       publisher,
		Source:          source,
		Store:           store,
		CalibrationFile: *calibrationFile,
	}
	// Leave Port unset when no serial device is configured; a typed nil
	// would defeat the command handler's nil check.
	if port != nil {
		apiConfig.Port = port
	}
	ws := api.NewWebServer(apiConfig)

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := ws.Start(ctx); err != nil {
			log.Printf("HTTP server error: %v", err)
		}
	}()

	// Wait for all goroutines to finish
	wg.Wait()

	if err := sess.Close(); err != nil {
		log.Printf("Error closing session: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}
