// Package events records structured, named drive events. Event sinks are
// best effort: they must never block or fail the control tick, so sink
// errors are logged and swallowed.
package events

import "github.com/tidewater-robotics/rover/internal/monitoring"

// Fields carries the event payload.
type Fields map[string]any

// Logger is the event sink contract the drive loop writes to.
type Logger interface {
	Event(name string, fields Fields)
	Close() error
}

// Nop discards events.
type Nop struct{}

func (Nop) Event(string, Fields) {}
func (Nop) Close() error         { return nil }

// Multi fans events out to several sinks.
type Multi struct {
	Sinks []Logger
}

// Event forwards to every sink.
func (m *Multi) Event(name string, fields Fields) {
	for _, s := range m.Sinks {
		s.Event(name, fields)
	}
}

// Close closes every sink, reporting the first error.
func (m *Multi) Close() error {
	var first error
	for _, s := range m.Sinks {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func reportSinkError(sink string, err error) {
	monitoring.Logf("events: %s sink failed: %v", sink, err)
}
