// Package monitoring holds the swappable logger for per-tick
// diagnostics. The recorder and the websocket hub emit drop warnings on
// the tick path; tests mute them through SetLogger instead of filtering
// process output.
package monitoring

import "log"

// Logf emits a diagnostic line. Defaults to log.Printf.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces Logf. A nil f installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
