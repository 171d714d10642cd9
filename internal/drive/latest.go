package drive

import "sync/atomic"

// Latest is a single-slot publisher for cross-thread "best effort current
// value" handoff. Producers publish at their own cadence; the tick thread
// reads without blocking and never observes a partial write.
type Latest[T any] struct {
	p atomic.Pointer[T]
}

// Publish atomically replaces the current value.
func (l *Latest[T]) Publish(v T) {
	l.p.Store(&v)
}

// Get returns the current value, if any was ever published.
func (l *Latest[T]) Get() (T, bool) {
	p := l.p.Load()
	if p == nil {
		var zero T
		return zero, false
	}
	return *p, true
}
