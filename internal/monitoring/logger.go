package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf and
// may be swapped out with SetLogger. The drive loop calls it on the hot path
// for faults only, so implementations should be cheap.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
