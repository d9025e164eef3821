// Package monitoring carries the swappable diagnostic logger used by
// the depth pipeline's chatty paths, the listener read loop and replay
// pacing in particular. It defaults to log.Printf; tests mute it with
// SetLogger(nil).
package monitoring

import "log"

// Logf emits one diagnostic line. Replace it through SetLogger, not by
// direct assignment from another package.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. A nil f installs a no-op.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
