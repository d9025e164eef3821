// Package projector carries rendered frames to their consumers: an
// in-process frame hub that the MJPEG and snapshot handlers subscribe
// to, plus the serial control port for the projector hardware itself.
package projector

import (
	"time"

	"github.com/relief-labs/topobox/internal/frame"
)

// Sink consumes the render loop's output.
//
// Publish hands over one frame and never blocks the render loop: a
// sink that cannot keep up drops frames instead. SetRefreshInterval
// adjusts the downstream refresh pacing and takes effect within one
// cycle. Start brings the sink up before first use; Stop releases it
// and is safe to call more than once.
type Sink interface {
	Publish(*frame.ColorFrame)
	SetRefreshInterval(time.Duration)
	Start() error
	Stop()
}
