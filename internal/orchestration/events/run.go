package events

import "time"

// RunStatus is the coordinator's aggregation state machine:
// Idle -> Computing -> Transferring -> Complete, with Failed as the only other
// terminal state.
type RunStatus string

const (
	RunIdle         RunStatus = "idle"
	RunComputing    RunStatus = "computing"
	RunTransferring RunStatus = "transferring"
	RunComplete     RunStatus = "complete"
	RunFailed       RunStatus = "failed"
)

// IsTerminal reports whether no further transition is possible.
func (s RunStatus) IsTerminal() bool {
	return s == RunComplete || s == RunFailed
}

// RunEvent is published by the coordinator on every status transition.
type RunEvent struct {
	RunID   string
	Status  RunStatus
	Elapsed time.Duration
	Error   error
}
