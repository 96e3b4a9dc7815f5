// Package message defines the envelopes exchanged between the coordinator
// (rank 0) and the worker ranks. Every transport carries the same Envelope, so
// aggregation never depends on how bytes moved.
package message

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/zjrosen/mandelgather/internal/fractal"
	"github.com/zjrosen/mandelgather/internal/partition"
)

// Kind identifies the purpose of an envelope.
type Kind string

const (
	// KindConfig carries the authoritative run configuration to a worker.
	KindConfig Kind = "config"

	// KindReady tells the coordinator a worker holds its configuration and is
	// waiting at the start barrier.
	KindReady Kind = "ready"

	// KindStart releases a worker from the start barrier.
	KindStart Kind = "start"

	// KindProgress reports rows completed so far.
	KindProgress Kind = "progress"

	// KindResult carries a worker's finished buffer.
	KindResult Kind = "result"

	// KindError reports that a worker gave up.
	KindError Kind = "error"
)

// CoordinatorRank is the rank of the process that owns the grid.
const CoordinatorRank = 0

// ActorCoordinator names rank 0 in logs and the journal.
const ActorCoordinator = "COORDINATOR"

// WorkerID returns the display name of a rank: COORDINATOR for rank 0,
// WORKER.n otherwise.
func WorkerID(rank int) string {
	if rank == CoordinatorRank {
		return ActorCoordinator
	}
	return fmt.Sprintf("WORKER.%d", rank)
}

// Config is the run configuration as distributed by the coordinator.
type Config struct {
	WorkerCount   int            `json:"worker_count"`
	Params        fractal.Params `json:"params"`
	Digest        string         `json:"digest"`
	Barrier       bool           `json:"barrier"`
	ProgressSteps int            `json:"progress_steps,omitempty"`

	// Trace carries the coordinator's span context across process boundaries.
	Trace map[string]string `json:"trace,omitempty"`
}

// Progress reports how far a worker is through its range.
type Progress struct {
	RowsDone  int `json:"rows_done"`
	RowsTotal int `json:"rows_total"`
}

// Result is a worker's computed buffer, tagged with what the worker believes
// its range and parameters were so the coordinator can check both.
type Result struct {
	Rank        int                `json:"rank"`
	Range       partition.RowRange `json:"range"`
	Digest      string             `json:"digest"`
	Payload     []int32            `json:"payload"`
	ComputeTime time.Duration      `json:"compute_time_ns"`
}

// Envelope is one message on a link.
type Envelope struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	Kind      Kind      `json:"kind"`
	From      int       `json:"from"`
	To        int       `json:"to"`
	Timestamp time.Time `json:"timestamp"`

	Config   *Config   `json:"config,omitempty"`
	Progress *Progress `json:"progress,omitempty"`
	Result   *Result   `json:"result,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// New creates an envelope with a fresh ID.
func New(kind Kind, runID string, from, to int) Envelope {
	return Envelope{
		ID:        uuid.New().String(),
		RunID:     runID,
		Kind:      kind,
		From:      from,
		To:        to,
		Timestamp: time.Now(),
	}
}

// NewConfig addresses cfg to rank.
func NewConfig(runID string, rank int, cfg Config) Envelope {
	env := New(KindConfig, runID, CoordinatorRank, rank)
	env.Config = &cfg
	return env
}

// NewResult wraps a worker's buffer for the coordinator.
func NewResult(runID string, res Result) Envelope {
	env := New(KindResult, runID, res.Rank, CoordinatorRank)
	env.Result = &res
	return env
}

// Clone returns a deep copy. In-process links clone on send so no two ranks
// ever hold the same backing array.
func (e Envelope) Clone() Envelope {
	out := e
	if e.Config != nil {
		c := *e.Config
		c.Trace = maps.Clone(e.Config.Trace)
		out.Config = &c
	}
	if e.Progress != nil {
		p := *e.Progress
		out.Progress = &p
	}
	if e.Result != nil {
		r := *e.Result
		r.Payload = slices.Clone(e.Result.Payload)
		out.Result = &r
	}
	return out
}

// Summary is a one-line description used by the journal and debug logs.
func (e Envelope) Summary() string {
	switch e.Kind {
	case KindConfig:
		if e.Config != nil {
			return fmt.Sprintf("config workers=%d digest=%s barrier=%t", e.Config.WorkerCount, e.Config.Digest, e.Config.Barrier)
		}
	case KindProgress:
		if e.Progress != nil {
			return fmt.Sprintf("progress %d/%d rows", e.Progress.RowsDone, e.Progress.RowsTotal)
		}
	case KindResult:
		if e.Result != nil {
			return fmt.Sprintf("result rank=%d range=%s pixels=%d digest=%s",
				e.Result.Rank, e.Result.Range, len(e.Result.Payload), e.Result.Digest)
		}
	case KindError:
		return "error: " + e.Error
	}
	return string(e.Kind)
}
