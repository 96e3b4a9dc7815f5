package pool

import (
	"strings"
	"sync"
)

// OutputBuffer keeps the most recent lines a worker subprocess wrote to
// stderr. When a rank fails, its tail is attached to the error.
type OutputBuffer struct {
	mu    sync.RWMutex
	lines []string
	start int // index of oldest line
	count int
}

// NewOutputBuffer creates a buffer holding at most capacity lines.
func NewOutputBuffer(capacity int) *OutputBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &OutputBuffer{lines: make([]string, capacity)}
}

// Write appends line, overwriting the oldest when full.
func (b *OutputBuffer) Write(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	capacity := len(b.lines)
	if b.count < capacity {
		b.lines[(b.start+b.count)%capacity] = line
		b.count++
		return
	}
	b.lines[b.start] = line
	b.start = (b.start + 1) % capacity
}

// Lines returns a copy of the stored lines, oldest first.
func (b *OutputBuffer) Lines() []string {
	return b.LastN(b.Capacity())
}

// LastN returns up to n of the newest lines, oldest first.
func (b *OutputBuffer) LastN(n int) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n > b.count {
		n = b.count
	}
	if n <= 0 {
		return nil
	}
	capacity := len(b.lines)
	out := make([]string, n)
	skip := b.count - n
	for i := range out {
		out[i] = b.lines[(b.start+skip+i)%capacity]
	}
	return out
}

// Len returns the number of stored lines.
func (b *OutputBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// Capacity returns the maximum number of lines kept.
func (b *OutputBuffer) Capacity() int {
	return len(b.lines)
}

// String joins the stored lines with newlines.
func (b *OutputBuffer) String() string {
	return strings.Join(b.Lines(), "\n")
}
