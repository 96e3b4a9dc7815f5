// Package partition divides the rows of an image into one contiguous RowRange
// per rank. The split is a pure function of (rank, workerCount, height), so the
// coordinator and every worker derive identical ranges without negotiating.
package partition

import (
	"errors"
	"fmt"
)

// RowRange is the half-open row interval [Start, End).
type RowRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of rows in the range.
func (r RowRange) Len() int {
	return r.End - r.Start
}

// Empty reports whether the range holds no rows.
func (r RowRange) Empty() bool {
	return r.End <= r.Start
}

// Pixels returns the number of pixels the range covers in an image of the given width.
func (r RowRange) Pixels(width int) int {
	return r.Len() * width
}

// Offset returns the index of the range's first pixel in a row-major grid.
func (r RowRange) Offset(width int) int {
	return r.Start * width
}

func (r RowRange) String() string {
	return fmt.Sprintf("[%d,%d)", r.Start, r.End)
}

var (
	// ErrInvalidWorkerCount is returned when workerCount < 1.
	ErrInvalidWorkerCount = errors.New("worker count must be at least 1")
	// ErrInvalidRank is returned when rank is outside [0, workerCount).
	ErrInvalidRank = errors.New("rank out of range")
	// ErrInvalidHeight is returned for negative heights.
	ErrInvalidHeight = errors.New("height must not be negative")
)

// ComputeRowRange returns the rows owned by rank.
//
// Every rank gets height/workerCount rows starting at rank*chunk, and the last
// rank extends to height so remainder rows are never dropped. When workerCount
// exceeds height the chunk is zero: all ranks but the last get an empty range.
func ComputeRowRange(rank, workerCount, height int) (RowRange, error) {
	if workerCount < 1 {
		return RowRange{}, fmt.Errorf("%w: %d", ErrInvalidWorkerCount, workerCount)
	}
	if rank < 0 || rank >= workerCount {
		return RowRange{}, fmt.Errorf("%w: rank %d of %d", ErrInvalidRank, rank, workerCount)
	}
	if height < 0 {
		return RowRange{}, fmt.Errorf("%w: %d", ErrInvalidHeight, height)
	}

	chunk := height / workerCount
	start := rank * chunk
	end := start + chunk
	if rank == workerCount-1 {
		end = height
	}
	return RowRange{Start: start, End: end}, nil
}

// Plan returns the range of every rank, indexed by rank.
func Plan(workerCount, height int) ([]RowRange, error) {
	if workerCount < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidWorkerCount, workerCount)
	}
	ranges := make([]RowRange, workerCount)
	for rank := range ranges {
		r, err := ComputeRowRange(rank, workerCount, height)
		if err != nil {
			return nil, err
		}
		ranges[rank] = r
	}
	return ranges, nil
}

// Degenerate reports whether some rank receives no rows.
func Degenerate(workerCount, height int) bool {
	return workerCount > 1 && workerCount > height
}
