package frame

import (
	"testing"
)

func TestDepthFrameCodecRoundTrip(t *testing.T) {
	src := buildTestFrame(t, 16, 8)

	blob, err := EncodeDepthFrame(src)
	if err != nil {
		t.Fatalf("EncodeDepthFrame failed: %v", err)
	}
	got, err := DecodeDepthFrame(blob)
	if err != nil {
		t.Fatalf("DecodeDepthFrame failed: %v", err)
	}

	if got.SensorID() != src.SensorID() {
		t.Errorf("Expected sensor ID %q, got %q", src.SensorID(), got.SensorID())
	}
	if got.FrameID() != src.FrameID() {
		t.Errorf("Expected frame ID %d, got %d", src.FrameID(), got.FrameID())
	}
	if got.TimestampNanos() != src.TimestampNanos() {
		t.Errorf("Expected timestamp %d, got %d", src.TimestampNanos(), got.TimestampNanos())
	}
	if got.Width() != src.Width() || got.Height() != src.Height() {
		t.Errorf("Expected %dx%d, got %dx%d", src.Width(), src.Height(), got.Width(), got.Height())
	}
	for y := 0; y < src.Height(); y++ {
		for x := 0; x < src.Width(); x++ {
			wantZ, wantOK := src.At(x, y)
			gotZ, gotOK := got.At(x, y)
			if wantZ != gotZ || wantOK != gotOK {
				t.Fatalf("Cell (%d,%d): expected (%v,%v), got (%v,%v)", x, y, wantZ, wantOK, gotZ, gotOK)
			}
		}
	}
}

func TestDecodeDepthFrameRejectsGarbage(t *testing.T) {
	if _, err := DecodeDepthFrame([]byte("not a gzip stream")); err == nil {
		t.Error("Expected error decoding garbage blob, got nil")
	}
}

func BenchmarkEncodeDepthFrame(b *testing.B) {
	depth := make([]float32, 512*424)
	valid := make([]bool, len(depth))
	for i := range depth {
		depth[i] = float32(1170 + i%200)
		valid[i] = true
	}
	f, err := NewDepthFrame("bench", 1, 0, 512, 424, depth, valid)
	if err != nil {
		b.Fatalf("NewDepthFrame failed: %v", err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := EncodeDepthFrame(f); err != nil {
			b.Fatalf("EncodeDepthFrame failed: %v", err)
		}
	}
}
