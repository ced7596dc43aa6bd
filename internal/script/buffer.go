package script

import (
	"context"
	"sync"
)

// Buffer is an ordered, thread-safe FIFO queue of protocol lines.
//
// Producers call Push; consumers call Pop (blocking), TryPop (non-blocking),
// or Drain (atomic drain-and-clear). Blocking consumers are woken by a signal
// channel on push rather than by sampling on an interval.
type Buffer struct {
	mu    sync.Mutex
	lines []string

	// wake carries at most one pending wakeup for blocked consumers.
	wake chan struct{}
}

// NewBuffer creates an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{
		wake: make(chan struct{}, 1),
	}
}

// Push appends a line to the buffer and wakes one blocked consumer.
func (b *Buffer) Push(line string) {
	b.mu.Lock()
	b.lines = append(b.lines, line)
	b.mu.Unlock()

	b.signal()
}

// Pop removes and returns the oldest line, blocking until one is available
// or the context is done.
func (b *Buffer) Pop(ctx context.Context) (string, error) {
	for {
		if line, ok := b.TryPop(); ok {
			return line, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-b.wake:
		}
	}
}

// TryPop removes and returns the oldest line without blocking.
// The second return value is false if the buffer is empty.
func (b *Buffer) TryPop() (string, bool) {
	b.mu.Lock()
	if len(b.lines) == 0 {
		b.mu.Unlock()
		return "", false
	}

	line := b.lines[0]
	b.lines = b.lines[1:]
	remaining := len(b.lines)
	b.mu.Unlock()

	// A single wakeup may cover several pushes; hand the surplus to the next
	// blocked consumer.
	if remaining > 0 {
		b.signal()
	}
	return line, true
}

// Drain atomically removes and returns all buffered lines in FIFO order.
func (b *Buffer) Drain() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	lines := b.lines
	b.lines = nil
	return lines
}

// Len returns the number of buffered lines.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lines)
}

// signal posts a wakeup if none is pending.
func (b *Buffer) signal() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}
