// Package sensor provides depth frame sources: the synthetic sculpted
// surface, the UDP network listener, pcap replay, and the temporal
// filter decorator. Every source owns exactly one device claim taken
// at construction and released by Close.
package sensor

import (
	"errors"
	"fmt"
	"sync"

	"github.com/relief-labs/topobox/internal/frame"
)

// ErrDeviceBusy means a live source already exists for the device. A
// second handle against the same hardware is a construction failure
// the caller must treat as fatal, not retry.
var ErrDeviceBusy = errors.New("sensor device already claimed")

// ErrHardwareUnavailable means the device could not be reached at
// construction. Callers degrade to a synthetic source and log the
// degradation once.
var ErrHardwareUnavailable = errors.New("sensor hardware unavailable")

// Source is a claimed handle on one depth device.
//
// Poll never blocks beyond one device refresh interval and never
// fails: a source that currently has nothing usable returns a frame
// with the affected cells marked invalid, down to a fully invalid
// frame. ID reports the device claim key. Close releases the device;
// it is safe to call more than once and concurrently.
type Source interface {
	ID() string
	Poll() *frame.DepthFrame
	Close() error
}

var (
	claimMu sync.Mutex
	claims  = make(map[string]bool)
)

// claimDevice registers a live handle for key. The claim table is
// process-wide: construction of a second source against the same key
// fails before any hardware is touched.
func claimDevice(key string) error {
	claimMu.Lock()
	defer claimMu.Unlock()
	if claims[key] {
		return fmt.Errorf("%w: %s", ErrDeviceBusy, key)
	}
	claims[key] = true
	return nil
}

func releaseDevice(key string) {
	claimMu.Lock()
	defer claimMu.Unlock()
	delete(claims, key)
}
