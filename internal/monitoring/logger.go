package monitoring

import (
	"log"
	"sync/atomic"
)

// Logf is the package-level diagnostic logger used by the scan engine. It
// defaults to log.Printf but may be replaced by SetLogger so tests can capture
// or mute capture/processing output.
var Logf func(format string, v ...interface{}) = log.Printf

var debugEnabled atomic.Bool

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetDebug toggles per-frame diagnostics emitted through Debugf.
func SetDebug(enabled bool) {
	debugEnabled.Store(enabled)
}

// DebugEnabled reports whether Debugf output is currently emitted.
func DebugEnabled() bool {
	return debugEnabled.Load()
}

// Debugf logs through Logf only when debug output is enabled. The capture and
// processing loops call it once per frame, so it must stay cheap when off.
func Debugf(format string, v ...interface{}) {
	if !debugEnabled.Load() {
		return
	}
	Logf("[debug] "+format, v...)
}
