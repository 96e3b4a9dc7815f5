package domain

import "fmt"

// ListFilter provides filtering options for listing runs.
type ListFilter struct {
	// State filters runs by state. Empty includes every state.
	State RunState

	// Digest restricts to runs computed with the same parameters.
	Digest string

	// Limit restricts the number of runs returned. 0 means no limit.
	Limit int
}

// RunRepository defines the persistence interface for Run entities.
type RunRepository interface {
	// Save persists a run. New runs (ID == 0) are inserted and get an ID;
	// existing runs are updated.
	Save(run *Run) error

	// FindByGUID retrieves a run by its GUID.
	// Returns RunNotFoundError if no matching run exists.
	FindByGUID(guid string) (*Run, error)

	// List retrieves runs matching filter, newest first.
	List(filter ListFilter) ([]*Run, error)

	// Delete removes a run permanently.
	// Returns RunNotFoundError if no matching run exists.
	Delete(guid string) error

	// Close releases any resources held by the repository.
	Close() error
}

// RunNotFoundError is returned when a lookup matches no run.
type RunNotFoundError struct {
	GUID string
}

func (e *RunNotFoundError) Error() string {
	return fmt.Sprintf("run not found: %s", e.GUID)
}
