package pool

import (
	"sync"
	"time"

	"github.com/zjrosen/mandelgather/internal/orchestration/events"
)

// Worker is the pool's record of one rank.
type Worker struct {
	Rank   int
	Output *OutputBuffer

	mu         sync.RWMutex
	status     events.WorkerStatus
	startedAt  time.Time
	finishedAt time.Time
	rowsDone   int
	rowsTotal  int
	pid        int
	lastError  error
}

func newWorker(rank, bufferCapacity int) *Worker {
	return &Worker{
		Rank:      rank,
		Output:    NewOutputBuffer(bufferCapacity),
		status:    events.WorkerIdle,
		startedAt: time.Now(),
	}
}

// Status returns the current status.
func (w *Worker) Status() events.WorkerStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.status
}

// setStatus moves the worker to s and reports whether anything changed.
// Terminal statuses are sticky.
func (w *Worker) setStatus(s events.WorkerStatus) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.status == s || w.status.IsTerminal() {
		return false
	}
	w.status = s
	if s.IsTerminal() {
		w.finishedAt = time.Now()
	}
	return true
}

func (w *Worker) setProgress(done, total int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rowsDone = done
	w.rowsTotal = total
}

// Progress returns rows done and rows total as last reported.
func (w *Worker) Progress() (done, total int) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.rowsDone, w.rowsTotal
}

func (w *Worker) setError(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.lastError == nil {
		w.lastError = err
	}
}

// LastError returns the first error recorded for this rank.
func (w *Worker) LastError() error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastError
}

func (w *Worker) setPID(pid int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pid = pid
}

// PID returns the OS process ID, or 0 for in-process ranks.
func (w *Worker) PID() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.pid
}

// Elapsed returns how long the rank ran, or has been running.
func (w *Worker) Elapsed() time.Duration {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.finishedAt.IsZero() {
		return time.Since(w.startedAt)
	}
	return w.finishedAt.Sub(w.startedAt)
}
