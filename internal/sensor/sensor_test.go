package sensor

import (
	"errors"
	"testing"
)

func TestDeviceClaimExclusive(t *testing.T) {
	first, err := NewSynthetic(SyntheticConfig{Name: "claim-test", Width: 16, Height: 12})
	if err != nil {
		t.Fatalf("Failed to create first source: %v", err)
	}

	second, err := NewSynthetic(SyntheticConfig{Name: "claim-test", Width: 16, Height: 12})
	if err == nil {
		second.Close()
		t.Fatal("Expected second handle on the same device to fail")
	}
	if !errors.Is(err, ErrDeviceBusy) {
		t.Errorf("Expected ErrDeviceBusy, got %v", err)
	}

	if err := first.Close(); err != nil {
		t.Fatalf("Failed to close first source: %v", err)
	}

	// Close released the claim, so the device can be reopened.
	third, err := NewSynthetic(SyntheticConfig{Name: "claim-test", Width: 16, Height: 12})
	if err != nil {
		t.Fatalf("Expected reopen after close to succeed, got %v", err)
	}
	defer third.Close()

	// Close is idempotent.
	if err := first.Close(); err != nil {
		t.Errorf("Expected repeated close to succeed, got %v", err)
	}
}

func TestSyntheticSurfaceWithinBounds(t *testing.T) {
	src, err := NewSynthetic(SyntheticConfig{
		Name: "bounds-test", Width: 64, Height: 48,
		ZMin: 1170, ZMax: 1370, Seed: 7,
	})
	if err != nil {
		t.Fatalf("Failed to create source: %v", err)
	}
	defer src.Close()

	f := src.Poll()
	if f.Width() != 64 || f.Height() != 48 {
		t.Fatalf("Expected 64x48 frame, got %dx%d", f.Width(), f.Height())
	}
	if got := f.ValidCount(); got != 64*48 {
		t.Errorf("Expected every cell valid without dropout, got %d of %d", got, 64*48)
	}
	min, max, ok := f.MinMax()
	if !ok {
		t.Fatal("Expected a valid depth range")
	}
	if min < 1170 || max > 1370 {
		t.Errorf("Expected depths within [1170, 1370], got [%v, %v]", min, max)
	}
}

func TestSyntheticDeterministicWithSeed(t *testing.T) {
	config := SyntheticConfig{Width: 32, Height: 24, Seed: 42}

	config.Name = "seed-a"
	a, err := NewSynthetic(config)
	if err != nil {
		t.Fatalf("Failed to create source a: %v", err)
	}
	defer a.Close()

	config.Name = "seed-b"
	b, err := NewSynthetic(config)
	if err != nil {
		t.Fatalf("Failed to create source b: %v", err)
	}
	defer b.Close()

	for poll := 0; poll < 3; poll++ {
		fa, fb := a.Poll(), b.Poll()
		for y := 0; y < fa.Height(); y++ {
			for x := 0; x < fa.Width(); x++ {
				za, oka := fa.At(x, y)
				zb, okb := fb.At(x, y)
				if za != zb || oka != okb {
					t.Fatalf("Poll %d diverged at (%d,%d): %v/%v vs %v/%v", poll, x, y, za, oka, zb, okb)
				}
			}
		}
	}
}

func TestSyntheticDropout(t *testing.T) {
	src, err := NewSynthetic(SyntheticConfig{
		Name: "dropout-test", Width: 64, Height: 48,
		DropoutRate: 0.5, Seed: 11,
	})
	if err != nil {
		t.Fatalf("Failed to create source: %v", err)
	}
	defer src.Close()

	f := src.Poll()
	got := f.ValidCount()
	if got == 0 || got == 64*48 {
		t.Errorf("Expected partial dropout at rate 0.5, got %d of %d valid", got, 64*48)
	}
}

func TestSyntheticFrameIDsIncrease(t *testing.T) {
	src, err := NewSynthetic(SyntheticConfig{Name: "frameid-test", Width: 8, Height: 8, Seed: 3})
	if err != nil {
		t.Fatalf("Failed to create source: %v", err)
	}
	defer src.Close()

	first := src.Poll().FrameID()
	second := src.Poll().FrameID()
	if second <= first {
		t.Errorf("Expected frame ids to increase, got %d then %d", first, second)
	}
}

func TestSyntheticClosedPollDegrades(t *testing.T) {
	src, err := NewSynthetic(SyntheticConfig{Name: "closed-test", Width: 8, Height: 6, Seed: 3})
	if err != nil {
		t.Fatalf("Failed to create source: %v", err)
	}
	src.Close()

	f := src.Poll()
	if f.ValidCount() != 0 {
		t.Errorf("Expected a fully invalid frame after close, got %d valid cells", f.ValidCount())
	}
	if f.Width() != 8 || f.Height() != 6 {
		t.Errorf("Expected geometry to survive close, got %dx%d", f.Width(), f.Height())
	}
}

func TestSyntheticRejectsBadZWindow(t *testing.T) {
	_, err := NewSynthetic(SyntheticConfig{Name: "badz-test", ZMin: 1370, ZMax: 1170})
	if err == nil {
		t.Fatal("Expected inverted z window to be rejected")
	}
	// The claim must not leak when construction fails.
	src, err := NewSynthetic(SyntheticConfig{Name: "badz-test", Width: 8, Height: 8})
	if err != nil {
		t.Fatalf("Expected claim to be free after failed construction, got %v", err)
	}
	src.Close()
}

func BenchmarkSyntheticPoll(b *testing.B) {
	src, err := NewSynthetic(SyntheticConfig{Name: "bench", Seed: 1})
	if err != nil {
		b.Fatalf("Failed to create source: %v", err)
	}
	defer src.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		src.Poll()
	}
}
