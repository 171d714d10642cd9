package rangefinder

import (
	"context"
	"testing"
	"time"
)

func newTestReader(t *testing.T) (*Reader, *MockPort, context.CancelFunc) {
	t.Helper()
	port := NewMockPort()
	reader, err := NewReader("/dev/null", MockOpener(port))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go reader.Run(ctx)
	return reader, port, cancel
}

func waitForSample(t *testing.T, r *Reader) (float64, bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cm, ok := r.Poll(); ok {
			return cm, true
		}
		time.Sleep(time.Millisecond)
	}
	return 0, false
}

func TestReaderPublishesGoodLines(t *testing.T) {
	reader, port, cancel := newTestReader(t)
	defer cancel()

	if err := port.WriteLine("123.5"); err != nil {
		t.Fatalf("WriteLine: %v", err)
	}
	cm, ok := waitForSample(t, reader)
	if !ok {
		t.Fatal("no sample published")
	}
	if cm != 123.5 {
		t.Errorf("Poll() = %f, want 123.5", cm)
	}
}

func TestReaderDropsMalformedLines(t *testing.T) {
	reader, port, cancel := newTestReader(t)
	defer cancel()

	for _, line := range []string{"", "garbage", "-4.0", "0"} {
		if err := port.WriteLine(line); err != nil {
			t.Fatalf("WriteLine: %v", err)
		}
	}
	// Then one good line so we know the bad ones have been consumed.
	if err := port.WriteLine("42"); err != nil {
		t.Fatalf("WriteLine: %v", err)
	}

	cm, ok := waitForSample(t, reader)
	if !ok {
		t.Fatal("no sample published")
	}
	if cm != 42 {
		t.Errorf("Poll() = %f, want 42 (bad lines must be dropped)", cm)
	}
}

func TestReaderPollConsumes(t *testing.T) {
	reader, port, cancel := newTestReader(t)
	defer cancel()

	if err := port.WriteLine("10"); err != nil {
		t.Fatalf("WriteLine: %v", err)
	}
	if _, ok := waitForSample(t, reader); !ok {
		t.Fatal("no sample published")
	}
	if _, ok := reader.Poll(); ok {
		t.Error("second Poll returned a sample; samples must be consumed once")
	}
}

func TestReaderKeepsLatestOnly(t *testing.T) {
	reader, port, cancel := newTestReader(t)
	defer cancel()

	for _, line := range []string{"10", "20", "30"} {
		if err := port.WriteLine(line); err != nil {
			t.Fatalf("WriteLine: %v", err)
		}
	}

	// Give the reader goroutine time to consume all three lines.
	deadline := time.Now().Add(time.Second)
	var cm float64
	var ok bool
	for time.Now().Before(deadline) {
		if v, got := reader.Poll(); got {
			cm, ok = v, true
			if v == 30 {
				break
			}
		}
		time.Sleep(time.Millisecond)
	}
	if !ok {
		t.Fatal("no sample published")
	}
	if cm != 30 {
		t.Errorf("latest sample = %f, want 30", cm)
	}
}
