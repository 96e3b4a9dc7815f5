package gather

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrConfigurationMismatch means a worker computed with parameters whose
	// digest differs from the coordinator's. The run cannot be trusted.
	ErrConfigurationMismatch = errors.New("configuration mismatch")

	// ErrAggregationIncomplete means at least one rank's result was lost,
	// malformed, duplicated or late. No grid is produced.
	ErrAggregationIncomplete = errors.New("aggregation incomplete")
)

// IncompleteError reports which ranks never delivered a usable result.
type IncompleteError struct {
	Missing []int
	Cause   error
}

func (e *IncompleteError) Error() string {
	ranks := make([]string, len(e.Missing))
	for i, r := range e.Missing {
		ranks[i] = strconv.Itoa(r)
	}
	msg := fmt.Sprintf("%s: missing ranks [%s]", ErrAggregationIncomplete, strings.Join(ranks, " "))
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Is makes errors.Is(err, ErrAggregationIncomplete) true.
func (e *IncompleteError) Is(target error) bool {
	return target == ErrAggregationIncomplete
}

func (e *IncompleteError) Unwrap() error {
	return e.Cause
}

// rankError tags a receive failure with the rank it happened on.
type rankError struct {
	rank int
	err  error
}

func (e *rankError) Error() string {
	return fmt.Sprintf("rank %d: %v", e.rank, e.err)
}

func (e *rankError) Unwrap() error {
	return e.err
}
