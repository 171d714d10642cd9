package rangefinder

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.bug.st/serial"

	"github.com/tidewater-robotics/rover/internal/monitoring"
)

// Porter is the minimal serial port surface the reader needs. The abstraction
// enables unit testing without real hardware.
type Porter interface {
	Read(p []byte) (int, error)
	Close() error
}

// PortOpener opens a serial port at the given path. Production code uses
// OpenSerialPort; tests inject a mock.
type PortOpener func(path string) (Porter, error)

// OpenSerialPort opens a real serial device with the sensor's line settings
// (115200 8N1).
func OpenSerialPort(path string) (Porter, error) {
	mode := &serial.Mode{
		BaudRate: 115200,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open ultrasonic port %s: %w", path, err)
	}
	if err := port.SetReadTimeout(100 * time.Millisecond); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", path, err)
	}
	return port, nil
}

type sample struct {
	cm float64
	at time.Time
}

// Reader consumes ASCII centimetre lines from the ultrasonic serial port on
// its own goroutine and publishes the most recent good sample. The drive loop
// polls it without blocking; absence of a new sample is expected, not an
// error.
type Reader struct {
	port   Porter
	latest atomic.Pointer[sample]
	now    func() time.Time
}

// NewReader opens the device at path using open and returns a Reader ready to
// Run.
func NewReader(path string, open PortOpener) (*Reader, error) {
	port, err := open(path)
	if err != nil {
		return nil, err
	}
	return &Reader{port: port, now: time.Now}, nil
}

// Run reads lines until the context is cancelled or the port fails. Lines
// that are empty, non-numeric, or non-positive are dropped at the boundary.
func (r *Reader) Run(ctx context.Context) error {
	defer r.port.Close()

	scan := bufio.NewScanner(r.port)
	lines := make(chan string)
	scanErr := make(chan error, 1)

	go func() {
		defer close(lines)
		for scan.Scan() {
			select {
			case lines <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			scanErr <- err
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return fmt.Errorf("ultrasonic port read failed: %w", err)
				default:
					return nil
				}
			}
			r.ingest(line)
		}
	}
}

func (r *Reader) ingest(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	cm, err := strconv.ParseFloat(line, 64)
	if err != nil {
		monitoring.Logf("rangefinder: dropping malformed line %q", line)
		return
	}
	if cm <= 0 {
		return
	}
	r.latest.Store(&sample{cm: cm, at: r.now()})
}

// Poll takes the latest unconsumed sample, if any. Each published sample is
// returned at most once so the fusion filter never double-counts a reading
// toward its streaks.
func (r *Reader) Poll() (float64, bool) {
	s := r.latest.Swap(nil)
	if s == nil {
		return 0, false
	}
	return s.cm, true
}
