package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/relief-labs/topobox/internal/calib"
	"github.com/relief-labs/topobox/internal/db"
	"github.com/relief-labs/topobox/internal/diag"
	"github.com/relief-labs/topobox/internal/frame"
	"github.com/relief-labs/topobox/internal/projector"
	"github.com/relief-labs/topobox/internal/render"
	"github.com/relief-labs/topobox/internal/session"
)

// writeProfile responds with the versioned record form of p, the same
// shape the calibration file uses.
func (ws *WebServer) writeProfile(w http.ResponseWriter, p *calib.Profile) {
	record, err := calib.Marshal(p)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to encode profile: %v", err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(record)
}

func (ws *WebServer) handleProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	ws.writeProfile(w, ws.session.Profile())
}

// handleProfileField applies one field mutation to the live profile.
// The body carries the wire form of the control surface: a field name
// and a JSON value.
func (ws *WebServer) handleProfileField(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req struct {
		Field string          `json:"field"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ws.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if req.Field == "" {
		ws.writeJSONError(w, http.StatusBadRequest, "field is required")
		return
	}
	if len(req.Value) == 0 {
		ws.writeJSONError(w, http.StatusBadRequest, "value is required")
		return
	}

	if err := ws.session.Set(req.Field, req.Value); err != nil {
		if errors.Is(err, calib.ErrInvalidField) {
			ws.writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to apply mutation: %v", err))
		return
	}

	ws.writeProfile(w, ws.session.Profile())
}

func (ws *WebServer) handleProfileReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	ws.session.Reset()
	ws.writeProfile(w, ws.session.Profile())
}

func (ws *WebServer) handleColormaps(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	names := render.ColormapNames()
	ws.writeJSON(w, map[string]interface{}{
		"colormaps": names,
		"count":     len(names),
	})
}

// sessionStatus is the /api/session response shape.
type sessionStatus struct {
	State         string                   `json:"state"`
	Source        string                   `json:"source"`
	UptimeSeconds float64                  `json:"uptime_seconds"`
	RefreshMs     int64                    `json:"refresh_interval_ms"`
	MMPerPxX      float64                  `json:"mm_per_px_x"`
	MMPerPxY      float64                  `json:"mm_per_px_y"`
	Publisher     projector.PublisherStats `json:"publisher"`
	Stats         *session.StatsSnapshot   `json:"stats,omitempty"`
}

func (ws *WebServer) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	stats := ws.session.Stats()
	mmX, mmY := ws.session.Profile().DisplayScale()

	ws.writeJSON(w, sessionStatus{
		State:         ws.session.State().String(),
		Source:        ws.session.SourceID(),
		UptimeSeconds: stats.GetUptime().Seconds(),
		RefreshMs:     ws.publisher.RefreshInterval().Milliseconds(),
		MMPerPxX:      mmX,
		MMPerPxY:      mmY,
		Publisher:     ws.publisher.Stats(),
		Stats:         stats.GetLatestSnapshot(),
	})
}

func (ws *WebServer) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if err := ws.session.Start(); err != nil {
		if errors.Is(err, session.ErrClosed) {
			ws.writeJSONError(w, http.StatusConflict, "session is closed")
			return
		}
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to start session: %v", err))
		return
	}

	ws.writeJSON(w, map[string]string{"state": ws.session.State().String()})
}

func (ws *WebServer) handleSessionClose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if err := ws.session.Close(); err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to close session: %v", err))
		return
	}

	ws.writeJSON(w, map[string]string{"state": ws.session.State().String()})
}

func (ws *WebServer) handleCalibrationSave(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if err := ws.session.SaveProfile(ws.calibFile); err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to save calibration: %v", err))
		return
	}

	ws.writeJSON(w, map[string]string{"status": "saved", "path": ws.calibFile})
}

func (ws *WebServer) handleCalibrationLoad(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if err := ws.session.LoadProfile(ws.calibFile); err != nil {
		switch {
		case errors.Is(err, calib.ErrParse):
			ws.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Calibration file is not usable: %v", err))
		case errors.Is(err, calib.ErrIO):
			ws.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("Calibration file is not readable: %v", err))
		default:
			ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load calibration: %v", err))
		}
		return
	}

	ws.writeProfile(w, ws.session.Profile())
}

func (ws *WebServer) handleProfiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if ws.store == nil {
		ws.writeJSONError(w, http.StatusServiceUnavailable, "Profile store is not enabled")
		return
	}

	profiles, err := ws.store.ListProfiles()
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to list profiles: %v", err))
		return
	}

	ws.writeJSON(w, map[string]interface{}{
		"profiles": profiles,
		"count":    len(profiles),
	})
}

func (ws *WebServer) handleProfilesSave(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if ws.store == nil {
		ws.writeJSONError(w, http.StatusServiceUnavailable, "Profile store is not enabled")
		return
	}

	name := r.FormValue("name")
	if name == "" {
		ws.writeJSONError(w, http.StatusBadRequest, "name is required")
		return
	}

	if err := ws.store.SaveProfile(name, ws.session.Profile()); err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to save profile: %v", err))
		return
	}

	ws.writeJSON(w, map[string]string{"status": "saved", "name": name})
}

func (ws *WebServer) handleProfilesLoad(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if ws.store == nil {
		ws.writeJSONError(w, http.StatusServiceUnavailable, "Profile store is not enabled")
		return
	}

	name := r.FormValue("name")
	if name == "" {
		ws.writeJSONError(w, http.StatusBadRequest, "name is required")
		return
	}

	p, err := ws.store.LoadProfile(name)
	if err != nil {
		if errors.Is(err, db.ErrProfileNotFound) {
			ws.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("Profile %q not found", name))
			return
		}
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load profile: %v", err))
		return
	}

	if err := ws.session.SetProfile(p); err != nil {
		if errors.Is(err, calib.ErrInvalidField) {
			ws.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Stored profile is not usable: %v", err))
			return
		}
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to adopt profile: %v", err))
		return
	}

	ws.writeProfile(w, ws.session.Profile())
}

func (ws *WebServer) handleProfilesDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if ws.store == nil {
		ws.writeJSONError(w, http.StatusServiceUnavailable, "Profile store is not enabled")
		return
	}

	name := r.FormValue("name")
	if name == "" {
		ws.writeJSONError(w, http.StatusBadRequest, "name is required")
		return
	}

	if err := ws.store.DeleteProfile(name); err != nil {
		if errors.Is(err, db.ErrProfileNotFound) {
			ws.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("Profile %q not found", name))
			return
		}
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to delete profile: %v", err))
		return
	}

	ws.writeJSON(w, map[string]string{"status": "deleted", "name": name})
}

func (ws *WebServer) handleProfilesHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if ws.store == nil {
		ws.writeJSONError(w, http.StatusServiceUnavailable, "Profile store is not enabled")
		return
	}

	name := r.URL.Query().Get("name")
	if name == "" {
		ws.writeJSONError(w, http.StatusBadRequest, "name is required")
		return
	}
	limit := parseLimit(r, 50)

	history, err := ws.store.ProfileHistory(name, limit)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load history: %v", err))
		return
	}

	ws.writeJSON(w, map[string]interface{}{
		"history": history,
		"count":   len(history),
	})
}

// handleSnapshot archives the latest depth frame: summary statistics
// plus the frame itself as a compressed blob. Without a store the
// statistics still come back, with snapshot_id 0.
func (ws *WebServer) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	f := ws.source.Poll()
	if f == nil {
		ws.writeJSONError(w, http.StatusServiceUnavailable, "No depth frame available")
		return
	}

	stats := diag.Summarize(f)
	snap := &db.FrameSnapshot{
		SensorID:       f.SensorID(),
		FrameID:        int64(f.FrameID()),
		TakenUnixNanos: f.TimestampNanos(),
		ValidCells:     int64(stats.ValidCells),
		TotalCells:     int64(stats.TotalCells),
		MinMM:          stats.MinMM,
		MaxMM:          stats.MaxMM,
		MeanMM:         stats.MeanMM,
		StddevMM:       stats.StddevMM,
	}

	if ws.store != nil {
		blob, err := frame.EncodeDepthFrame(f)
		if err != nil {
			ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to encode frame: %v", err))
			return
		}
		snap.FrameGZ = blob

		id, err := ws.store.InsertFrameSnapshot(snap)
		if err != nil {
			ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to store snapshot: %v", err))
			return
		}
		snap.SnapshotID = id
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(snap)
}

func (ws *WebServer) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if ws.store == nil {
		ws.writeJSONError(w, http.StatusServiceUnavailable, "Profile store is not enabled")
		return
	}

	sensorID := r.URL.Query().Get("sensor")
	limit := parseLimit(r, 100)

	snaps, err := ws.store.FrameSnapshots(sensorID, limit)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to list snapshots: %v", err))
		return
	}

	ws.writeJSON(w, map[string]interface{}{
		"snapshots": snaps,
		"count":     len(snaps),
	})
}

func (ws *WebServer) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if ws.port == nil {
		http.Error(w, "Projector serial control is not enabled", http.StatusServiceUnavailable)
		return
	}

	command := r.FormValue("command")
	if !projector.AllowedCommand(command) {
		http.Error(w, "Invalid command", http.StatusBadRequest)
		return
	}

	ws.port.SendCommand(command)
	io.WriteString(w, "Command sent successfully")
}

// parseLimit reads the limit query parameter, falling back to def for
// missing or unusable values.
func parseLimit(r *http.Request, def int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def
	}
	limit, err := strconv.Atoi(v)
	if err != nil || limit < 1 {
		return def
	}
	return limit
}
