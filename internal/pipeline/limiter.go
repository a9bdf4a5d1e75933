package pipeline

import (
	"context"
	"sync"
)

// limiter is a resizable counting semaphore bounding in-flight work for one
// phase class. Resize must only be called while nothing holds a slot, which
// the orchestrator guarantees by tuning between phases.
type limiter struct {
	mu    sync.Mutex
	slots chan struct{}
}

func newLimiter(size int) *limiter {
	if size < 1 {
		size = 1
	}
	return &limiter{slots: make(chan struct{}, size)}
}

func (l *limiter) acquire(ctx context.Context) error {
	l.mu.Lock()
	slots := l.slots
	l.mu.Unlock()
	select {
	case slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *limiter) release() {
	l.mu.Lock()
	slots := l.slots
	l.mu.Unlock()
	<-slots
}

func (l *limiter) resize(size int) {
	if size < 1 {
		size = 1
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if cap(l.slots) == size {
		return
	}
	l.slots = make(chan struct{}, size)
}

func (l *limiter) limit() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return cap(l.slots)
}
