// Package domain provides the pure domain layer for the run ledger with no
// infrastructure dependencies.
//
// A Run records one render: the parameters it was computed with, how it was
// distributed and how it ended. The RunRepository interface abstracts
// persistence; the SQLite implementation lives in infrastructure/sqlite.
package domain

import (
	"time"

	"github.com/zjrosen/mandelgather/internal/fractal"
)

// RunState represents the lifecycle state of a run.
type RunState string

const (
	// RunStateRunning indicates the run was recorded before it finished.
	RunStateRunning RunState = "running"

	// RunStateCompleted indicates the grid was gathered and emitted.
	RunStateCompleted RunState = "completed"

	// RunStateFailed indicates aggregation or emission failed.
	RunStateFailed RunState = "failed"
)

// String returns the string representation of the run state.
func (s RunState) String() string {
	return string(s)
}

// IsValid returns true if the state is a recognized run state.
func (s RunState) IsValid() bool {
	switch s {
	case RunStateRunning, RunStateCompleted, RunStateFailed:
		return true
	default:
		return false
	}
}

// Run is one recorded render. Fields are unexported; use NewRun and the
// getters.
type Run struct {
	id         int64
	guid       string
	params     fractal.Params
	digest     string
	workers    int
	transport  string
	gatherMode string
	state      RunState

	elapsed  time.Duration
	checksum string
	output   string
	errMsg   string

	createdAt   time.Time
	completedAt *time.Time
}

// NewRun creates a running Run. The ID is assigned by the persistence layer.
func NewRun(guid string, params fractal.Params, workers int, transport, gatherMode string) *Run {
	return &Run{
		guid:       guid,
		params:     params,
		digest:     params.Digest(),
		workers:    workers,
		transport:  transport,
		gatherMode: gatherMode,
		state:      RunStateRunning,
		createdAt:  time.Now(),
	}
}

// ReconstituteRun creates a Run from stored data.
func ReconstituteRun(
	id int64,
	guid string,
	params fractal.Params,
	digest string,
	workers int,
	transport, gatherMode string,
	state RunState,
	elapsed time.Duration,
	checksum, output, errMsg string,
	createdAt time.Time,
	completedAt *time.Time,
) *Run {
	return &Run{
		id:          id,
		guid:        guid,
		params:      params,
		digest:      digest,
		workers:     workers,
		transport:   transport,
		gatherMode:  gatherMode,
		state:       state,
		elapsed:     elapsed,
		checksum:    checksum,
		output:      output,
		errMsg:      errMsg,
		createdAt:   createdAt,
		completedAt: completedAt,
	}
}

// ID returns the database identifier. Zero until persisted.
func (r *Run) ID() int64 { return r.id }

// SetID is called by the repository after insert.
func (r *Run) SetID(id int64) { r.id = id }

// GUID returns the run ID shared with logs and traces.
func (r *Run) GUID() string { return r.guid }

// Params returns the kernel parameters.
func (r *Run) Params() fractal.Params { return r.params }

// Digest returns the parameter digest every rank agreed on.
func (r *Run) Digest() string { return r.digest }

// Workers returns the rank count including the coordinator.
func (r *Run) Workers() int { return r.workers }

// Transport returns the pool backend name.
func (r *Run) Transport() string { return r.transport }

// GatherMode returns the gather mode name.
func (r *Run) GatherMode() string { return r.gatherMode }

// State returns the current state.
func (r *Run) State() RunState { return r.state }

// Elapsed returns the timed section of the run.
func (r *Run) Elapsed() time.Duration { return r.elapsed }

// Checksum returns the grid checksum, empty unless completed.
func (r *Run) Checksum() string { return r.checksum }

// Output returns the image path, empty if nothing was written.
func (r *Run) Output() string { return r.output }

// Error returns the failure message, empty unless failed.
func (r *Run) Error() string { return r.errMsg }

// CreatedAt returns when the run was recorded.
func (r *Run) CreatedAt() time.Time { return r.createdAt }

// CompletedAt returns when the run finished, or nil while running.
func (r *Run) CompletedAt() *time.Time { return r.completedAt }

// IsFinished reports whether the run reached a terminal state.
func (r *Run) IsFinished() bool {
	return r.state == RunStateCompleted || r.state == RunStateFailed
}

// Complete marks the run successful.
func (r *Run) Complete(elapsed time.Duration, checksum, output string) {
	now := time.Now()
	r.state = RunStateCompleted
	r.elapsed = elapsed
	r.checksum = checksum
	r.output = output
	r.errMsg = ""
	r.completedAt = &now
}

// Fail marks the run failed. A checksum is kept when the grid was complete
// but could not be written.
func (r *Run) Fail(elapsed time.Duration, checksum string, err error) {
	now := time.Now()
	r.state = RunStateFailed
	r.elapsed = elapsed
	r.checksum = checksum
	if err != nil {
		r.errMsg = err.Error()
	}
	r.completedAt = &now
}
