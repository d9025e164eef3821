// Package api exposes the calibration session over HTTP: the profile
// control surface, session lifecycle, frame streams, the profile
// store, and debug charts.
package api

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/relief-labs/topobox/internal/db"
	"github.com/relief-labs/topobox/internal/projector"
	"github.com/relief-labs/topobox/internal/sensor"
	"github.com/relief-labs/topobox/internal/session"
	"github.com/relief-labs/topobox/internal/version"
)

//go:embed status.html
var statusHTML embed.FS

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// CommandPort forwards vetted control commands to the projector.
type CommandPort interface {
	SendCommand(command string)
}

// WebServer handles the HTTP interface for the calibration session
type WebServer struct {
	address   string
	session   *session.Session
	publisher *projector.Publisher
	source    sensor.Source
	store     *db.DB
	port      CommandPort
	calibFile string
	server    *http.Server
}

// Config contains configuration options for the web server
type Config struct {
	Address         string
	Session         *session.Session
	Publisher       *projector.Publisher
	Source          sensor.Source
	Store           *db.DB      // optional profile and snapshot store
	Port            CommandPort // optional projector serial control
	CalibrationFile string      // target of /api/calibration save and load
}

// NewWebServer creates a new web server with the provided configuration
func NewWebServer(config Config) *WebServer {
	if config.CalibrationFile == "" {
		config.CalibrationFile = "calibration.json"
	}

	ws := &WebServer{
		address:   config.Address,
		session:   config.Session,
		publisher: config.Publisher,
		source:    config.Source,
		store:     config.Store,
		port:      config.Port,
		calibFile: config.CalibrationFile,
	}

	ws.server = &http.Server{
		Addr:    ws.address,
		Handler: LoggingMiddleware(ws.setupRoutes()),
	}

	return ws
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (ws *WebServer) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (ws *WebServer) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to write response: %v", err)
	}
}

// Start begins the HTTP server in a goroutine and handles graceful shutdown
func (ws *WebServer) Start(ctx context.Context) error {
	// Start server in a goroutine so it doesn't block
	go func() {
		log.Printf("Starting HTTP server on %s", ws.address)
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	// Wait for context cancellation to shut down server
	<-ctx.Done()
	log.Println("shutting down HTTP server...")

	// Create a shutdown context with a shorter timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		// Force close the server if graceful shutdown fails
		if err := ws.server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}

	log.Printf("HTTP server routine stopped")
	return nil
}

// setupRoutes configures the HTTP routes and handlers
func (ws *WebServer) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/", ws.handleStatus)

	mux.HandleFunc("/api/profile", ws.handleProfile)
	mux.HandleFunc("/api/profile/field", ws.handleProfileField)
	mux.HandleFunc("/api/profile/reset", ws.handleProfileReset)
	mux.HandleFunc("/api/colormaps", ws.handleColormaps)

	mux.HandleFunc("/api/session", ws.handleSession)
	mux.HandleFunc("/api/session/start", ws.handleSessionStart)
	mux.HandleFunc("/api/session/close", ws.handleSessionClose)

	mux.HandleFunc("/api/calibration/save", ws.handleCalibrationSave)
	mux.HandleFunc("/api/calibration/load", ws.handleCalibrationLoad)

	mux.HandleFunc("/api/profiles", ws.handleProfiles)
	mux.HandleFunc("/api/profiles/save", ws.handleProfilesSave)
	mux.HandleFunc("/api/profiles/load", ws.handleProfilesLoad)
	mux.HandleFunc("/api/profiles/delete", ws.handleProfilesDelete)
	mux.HandleFunc("/api/profiles/history", ws.handleProfilesHistory)

	mux.HandleFunc("/api/snapshot", ws.handleSnapshot)
	mux.HandleFunc("/api/snapshots", ws.handleSnapshots)

	mux.HandleFunc("/api/command", ws.handleCommand)

	mux.HandleFunc("/api/frame.png", ws.handleFramePNG)
	mux.HandleFunc("/stream/mjpeg", ws.handleMJPEG)
	mux.HandleFunc("/stream/events", ws.handleEvents)

	mux.HandleFunc("/diag/histogram.png", ws.handleHistogramPNG)
	mux.HandleFunc("/diag/geometry.png", ws.handleGeometryPNG)
	mux.HandleFunc("/diag/swatch.png", ws.handleSwatchPNG)

	mux.HandleFunc("/charts/depth", ws.handleDepthChart)
	mux.HandleFunc("/charts/histogram", ws.handleHistogramChart)

	if ws.store != nil {
		ws.store.AttachAdminRoutes(mux)
	}

	return mux
}

// handleHealth handles the health check endpoint
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status": "ok", "service": "topobox", "version": "%s", "timestamp": "%s"}`,
		version.Version, time.Now().UTC().Format(time.RFC3339))
}

// handleStatus handles the main status page endpoint
func (ws *WebServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html")

	// Load and parse the HTML template from embedded filesystem
	tmpl, err := template.ParseFS(statusHTML, "status.html")
	if err != nil {
		http.Error(w, "Error loading template: "+err.Error(), http.StatusInternalServerError)
		return
	}

	storeStatus := "disabled"
	if ws.store != nil {
		storeStatus = "enabled"
	}
	serialStatus := "not connected"
	if ws.port != nil {
		serialStatus = "connected"
	}

	profile := ws.session.Profile()
	mmX, mmY := profile.DisplayScale()
	stats := ws.session.Stats()

	// Template data
	data := struct {
		Version       string
		Address       string
		SourceID      string
		State         string
		Colormap      string
		MMPerPxX      string
		MMPerPxY      string
		StoreStatus   string
		SerialStatus  string
		RefreshMs     int64
		Uptime        string
		Snapshot      *session.StatsSnapshot
		PublisherInfo projector.PublisherStats
	}{
		Version:       version.Version,
		Address:       ws.address,
		SourceID:      ws.session.SourceID(),
		State:         ws.session.State().String(),
		Colormap:      profile.Colormap,
		MMPerPxX:      fmt.Sprintf("%.2f", mmX),
		MMPerPxY:      fmt.Sprintf("%.2f", mmY),
		StoreStatus:   storeStatus,
		SerialStatus:  serialStatus,
		RefreshMs:     ws.publisher.RefreshInterval().Milliseconds(),
		Uptime:        stats.GetUptime().Round(time.Second).String(),
		Snapshot:      stats.GetLatestSnapshot(),
		PublisherInfo: ws.publisher.Stats(),
	}

	if err := tmpl.Execute(w, data); err != nil {
		http.Error(w, "Error executing template: "+err.Error(), http.StatusInternalServerError)
		return
	}
}
