package api

import (
	"bytes"
	"context"
	"image"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/relief-labs/topobox/internal/frame"
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

// publishTestFrame starts the frame hub and pushes one canvas through
// it so Latest() has something to serve.
func publishTestFrame(t *testing.T, server *WebServer) *frame.ColorFrame {
	t.Helper()
	if err := server.publisher.Start(); err != nil {
		t.Fatalf("Failed to start publisher: %v", err)
	}
	cf := &frame.ColorFrame{
		FrameID:       1,
		RenderedNanos: time.Now().UnixNano(),
		Image:         image.NewRGBA(image.Rect(0, 0, 16, 10)),
	}
	server.publisher.Publish(cf)
	return cf
}

// canceledRequest builds a GET request whose context is already done,
// so streaming handlers write their preamble and return.
func canceledRequest(path string) *http.Request {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return httptest.NewRequest(http.MethodGet, path, nil).WithContext(ctx)
}

// TestHandleFramePNG tests the latest-frame snapshot endpoint
func TestHandleFramePNG(t *testing.T) {
	server, _ := newTestServer(t)

	t.Run("before_first_publish", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/frame.png", nil)
		w := httptest.NewRecorder()
		server.handleFramePNG(w, req)

		if w.Code != http.StatusNotFound {
			t.Errorf("Expected status 404, got %d", w.Code)
		}
	})

	t.Run("after_publish", func(t *testing.T) {
		publishTestFrame(t, server)

		req := httptest.NewRequest(http.MethodGet, "/api/frame.png", nil)
		w := httptest.NewRecorder()
		server.handleFramePNG(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", w.Code)
		}
		if ct := w.Header().Get("Content-Type"); ct != "image/png" {
			t.Errorf("Expected Content-Type image/png, got %q", ct)
		}
		if !bytes.HasPrefix(w.Body.Bytes(), pngMagic) {
			t.Error("Expected PNG magic at start of body")
		}
	})
}

// TestHandleMJPEG tests that the preview stream seeds itself from the
// latest published frame
func TestHandleMJPEG(t *testing.T) {
	server, _ := newTestServer(t)
	publishTestFrame(t, server)

	w := httptest.NewRecorder()
	server.handleMJPEG(w, canceledRequest("/stream/mjpeg"))

	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "multipart/x-mixed-replace") {
		t.Errorf("Expected multipart Content-Type, got %q", ct)
	}

	body := w.Body.String()
	if !strings.Contains(body, "--frame") {
		t.Error("Expected a multipart boundary in the body")
	}
	if !strings.Contains(body, "Content-Type: image/jpeg") {
		t.Error("Expected a JPEG part in the body")
	}
}

// TestHandleEvents tests the SSE preamble and headers
func TestHandleEvents(t *testing.T) {
	server, _ := newTestServer(t)

	w := httptest.NewRecorder()
	server.handleEvents(w, canceledRequest("/stream/events"))

	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Expected Content-Type text/event-stream, got %q", ct)
	}
	if v := w.Header().Get("X-Accel-Buffering"); v != "no" {
		t.Errorf("Expected X-Accel-Buffering no, got %q", v)
	}
	if !strings.HasPrefix(w.Body.String(), ": ping") {
		t.Errorf("Expected initial ping, got %q", w.Body.String())
	}
}

// TestHandleHistogramPNG tests the depth distribution plot
func TestHandleHistogramPNG(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/diag/histogram.png", nil)
	w := httptest.NewRecorder()
	server.handleHistogramPNG(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if !bytes.HasPrefix(w.Body.Bytes(), pngMagic) {
		t.Error("Expected PNG magic at start of body")
	}
}

// TestHandleGeometryPNG tests the calibration geometry plot
func TestHandleGeometryPNG(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/diag/geometry.png", nil)
	w := httptest.NewRecorder()
	server.handleGeometryPNG(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if !bytes.HasPrefix(w.Body.Bytes(), pngMagic) {
		t.Error("Expected PNG magic at start of body")
	}
}

// TestHandleSwatchPNG tests the colormap ramp endpoint
func TestHandleSwatchPNG(t *testing.T) {
	server, _ := newTestServer(t)

	t.Run("default_colormap", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/diag/swatch.png", nil)
		w := httptest.NewRecorder()
		server.handleSwatchPNG(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", w.Code)
		}
		if !bytes.HasPrefix(w.Body.Bytes(), pngMagic) {
			t.Error("Expected PNG magic at start of body")
		}
	})

	t.Run("named_colormap", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/diag/swatch.png?cmap=gray", nil)
		w := httptest.NewRecorder()
		server.handleSwatchPNG(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("Expected status 200, got %d", w.Code)
		}
	})

	t.Run("unknown_colormap", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/diag/swatch.png?cmap=volcano", nil)
		w := httptest.NewRecorder()
		server.handleSwatchPNG(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected status 400, got %d", w.Code)
		}
	})
}

// TestHandleDepthChart tests the snapshot scatter chart
func TestHandleDepthChart(t *testing.T) {
	server, _ := newTestServer(t)

	t.Run("no_snapshots", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/charts/depth", nil)
		w := httptest.NewRecorder()
		server.handleDepthChart(w, req)

		if w.Code != http.StatusNotFound {
			t.Errorf("Expected status 404, got %d", w.Code)
		}
	})

	t.Run("with_snapshots", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			req := httptest.NewRequest(http.MethodPost, "/api/snapshot", nil)
			w := httptest.NewRecorder()
			server.handleSnapshot(w, req)
			if w.Code != http.StatusCreated {
				t.Fatalf("Failed to store snapshot: %d", w.Code)
			}
		}

		req := httptest.NewRequest(http.MethodGet, "/charts/depth", nil)
		w := httptest.NewRecorder()
		server.handleDepthChart(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
		}
		if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
			t.Errorf("Expected HTML Content-Type, got %q", ct)
		}
		if !strings.Contains(w.Body.String(), "Mean Sand Depth") {
			t.Error("Expected chart title in the body")
		}
	})

	t.Run("no_store", func(t *testing.T) {
		bare := newBareTestServer(t, t.Name())
		req := httptest.NewRequest(http.MethodGet, "/charts/depth", nil)
		w := httptest.NewRecorder()
		bare.handleDepthChart(w, req)

		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("Expected status 503, got %d", w.Code)
		}
	})
}

// TestHandleHistogramChart tests the live distribution bar chart
func TestHandleHistogramChart(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/charts/histogram", nil)
	w := httptest.NewRecorder()
	server.handleHistogramChart(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Expected HTML Content-Type, got %q", ct)
	}
	if !strings.Contains(w.Body.String(), "Depth Distribution") {
		t.Error("Expected chart title in the body")
	}
}
