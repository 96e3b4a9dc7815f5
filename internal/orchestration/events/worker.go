package events

import "time"

// WorkerStatus is where a rank is in its lifecycle.
type WorkerStatus int

const (
	// WorkerIdle means the rank exists but has not received its configuration.
	WorkerIdle WorkerStatus = iota
	// WorkerReady means the rank holds its configuration and waits at the barrier.
	WorkerReady
	// WorkerComputing means the rank is inside its compute loop.
	WorkerComputing
	// WorkerDone means the rank has handed its result to the link.
	WorkerDone
	// WorkerFailed means the rank stopped without delivering a result.
	WorkerFailed
)

func (s WorkerStatus) String() string {
	switch s {
	case WorkerIdle:
		return "idle"
	case WorkerReady:
		return "ready"
	case WorkerComputing:
		return "computing"
	case WorkerDone:
		return "done"
	case WorkerFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the rank will not change status again.
func (s WorkerStatus) IsTerminal() bool {
	return s == WorkerDone || s == WorkerFailed
}

// WorkerEventType identifies the kind of worker event.
type WorkerEventType string

const (
	// WorkerSpawned is emitted when the pool starts a rank.
	WorkerSpawned WorkerEventType = "spawned"
	// WorkerStatusChange is emitted on every status transition.
	WorkerStatusChange WorkerEventType = "status_change"
	// WorkerProgress is emitted when a rank reports rows completed.
	WorkerProgress WorkerEventType = "progress"
	// WorkerOutput is emitted for each stderr line of a subprocess rank.
	WorkerOutput WorkerEventType = "output"
	// WorkerError is emitted when a rank fails.
	WorkerError WorkerEventType = "error"
)

// WorkerEvent describes something that happened to one rank.
type WorkerEvent struct {
	Type      WorkerEventType
	Rank      int
	Status    WorkerStatus
	RowsDone  int
	RowsTotal int
	Output    string
	Error     error
	Elapsed   time.Duration
}
