package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/relief-labs/topobox/internal/diag"
	"github.com/relief-labs/topobox/internal/frame"
)

// handleFramePNG serves the most recently published canvas as PNG.
func (ws *WebServer) handleFramePNG(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	cf := ws.publisher.Latest()
	if cf == nil {
		ws.writeJSONError(w, http.StatusNotFound, "No frame published yet")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	if err := cf.EncodePNG(w); err != nil {
		// Headers are gone; all we can do is drop the connection.
		return
	}
}

// handleMJPEG streams published canvases as multipart JPEG. The
// browser replaces the image in place, which makes this the live
// projector preview.
func (ws *WebServer) handleMJPEG(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		ws.writeJSONError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	sub := ws.publisher.Subscribe()
	defer sub.Close()

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")

	// Seed the stream so the preview shows before the next publish.
	if cf := ws.publisher.Latest(); cf != nil {
		if err := writeMJPEGPart(w, cf); err != nil {
			return
		}
		flusher.Flush()
	}

	for {
		select {
		case cf, ok := <-sub.Frames():
			if !ok {
				return
			}
			if err := writeMJPEGPart(w, cf); err != nil {
				return
			}
			flusher.Flush()
		case <-sub.Done():
			return
		case <-r.Context().Done():
			return
		}
	}
}

func writeMJPEGPart(w http.ResponseWriter, cf *frame.ColorFrame) error {
	var buf bytes.Buffer
	if err := cf.EncodeJPEG(&buf); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", buf.Len()); err != nil {
		return err
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return err
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}

// frameEvent is one server-sent event on /stream/events, emitted per
// published canvas.
type frameEvent struct {
	Type          string `json:"type"`
	FrameID       uint64 `json:"frame_id"`
	Width         int    `json:"width"`
	Height        int    `json:"height"`
	RenderedNanos int64  `json:"rendered_unix_nanos"`
	State         string `json:"state"`
}

// handleEvents streams render activity as server-sent events.
func (ws *WebServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

	sub := ws.publisher.Subscribe()
	defer sub.Close()

	// Send initial ping to establish connection
	w.Write([]byte(": ping\n\n"))
	w.(http.Flusher).Flush()

	for {
		select {
		case cf, ok := <-sub.Frames():
			if !ok {
				return
			}
			payload, err := json.Marshal(frameEvent{
				Type:          "frame",
				FrameID:       cf.FrameID,
				Width:         cf.Width(),
				Height:        cf.Height(),
				RenderedNanos: cf.RenderedNanos,
				State:         ws.session.State().String(),
			})
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			w.(http.Flusher).Flush()
		case <-sub.Done():
			return
		case <-r.Context().Done():
			return
		}
	}
}

// handleHistogramPNG plots the depth distribution of the latest
// sensor frame.
func (ws *WebServer) handleHistogramPNG(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	f := ws.source.Poll()
	if f == nil {
		ws.writeJSONError(w, http.StatusServiceUnavailable, "No depth frame available")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	if err := diag.WriteHistogramPNG(w, f); err != nil {
		// The frame may be all-invalid; nothing to plot.
		return
	}
}

// handleGeometryPNG plots the live profile's crop and canvas
// placement.
func (ws *WebServer) handleGeometryPNG(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	sensorW, sensorH := 0, 0
	if f := ws.source.Poll(); f != nil {
		sensorW, sensorH = f.Width(), f.Height()
	}
	if sensorW == 0 || sensorH == 0 {
		// Fall back to the profile's crop extent when the sensor has
		// not produced a frame yet.
		p := ws.session.Profile()
		sensorW, sensorH = p.XLim[1], p.YLim[1]
	}
	canvasW, canvasH := ws.session.CanvasSize()

	w.Header().Set("Content-Type", "image/png")
	diag.WriteGeometryPNG(w, ws.session.Profile(), sensorW, sensorH, canvasW, canvasH)
}

// handleSwatchPNG renders a colormap ramp. Defaults to the colormap
// the live profile uses.
func (ws *WebServer) handleSwatchPNG(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	name := r.URL.Query().Get("cmap")
	if name == "" {
		name = ws.session.Profile().Colormap
	}

	var buf bytes.Buffer
	if err := diag.WriteSwatchPNG(&buf, name, 512, 48); err != nil {
		ws.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(buf.Bytes())
}
