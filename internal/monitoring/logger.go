// Package monitoring holds the diagnostic logger shared by the engine's
// library packages. Binaries log through the standard library directly;
// library code routes through Logf so tests can mute or capture it.
package monitoring

import "log"

// Logf emits one diagnostic line. It defaults to log.Printf and may be
// swapped with SetLogger.
var Logf func(format string, v ...any) = log.Printf

// SetLogger replaces the package logger. A nil argument installs a no-op
// logger.
func SetLogger(f func(format string, v ...any)) {
	if f == nil {
		Logf = func(string, ...any) {}
		return
	}
	Logf = f
}
