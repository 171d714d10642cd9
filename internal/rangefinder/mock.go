package rangefinder

import (
	"io"
	"time"
)

// MockPort implements Porter over an in-memory pipe. Tests and the dev mode
// of cmd/rover write lines into it as if a sensor were attached.
type MockPort struct {
	r *io.PipeReader
	w *io.PipeWriter
}

// NewMockPort returns a connected mock port.
func NewMockPort() *MockPort {
	r, w := io.Pipe()
	return &MockPort{r: r, w: w}
}

// Read reads bytes written by the feeding side.
func (m *MockPort) Read(p []byte) (int, error) { return m.r.Read(p) }

// Close closes both ends of the pipe.
func (m *MockPort) Close() error {
	m.w.Close()
	return m.r.Close()
}

// WriteLine feeds one line into the port, as the sensor firmware would.
func (m *MockPort) WriteLine(line string) error {
	_, err := m.w.Write([]byte(line + "\n"))
	return err
}

// MockOpener returns a PortOpener that always yields port, ignoring the path.
func MockOpener(port Porter) PortOpener {
	return func(string) (Porter, error) { return port, nil }
}

// FeedPeriodically writes line into the port at the given interval until the
// port is closed. It mirrors how a live sensor streams at its own cadence.
func (m *MockPort) FeedPeriodically(line string, every time.Duration) {
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for range ticker.C {
			if err := m.WriteLine(line); err != nil {
				return
			}
		}
	}()
}
