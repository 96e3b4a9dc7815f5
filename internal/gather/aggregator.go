// Package gather reassembles worker results into one grid on the coordinator.
//
// An Aggregator validates and places results; Collective and PointToPoint
// are two ways of pulling those results off the links. Both feed the same
// Aggregator, so the grid they produce is identical.
package gather

import (
	"fmt"

	"github.com/zjrosen/mandelgather/internal/fractal"
	"github.com/zjrosen/mandelgather/internal/log"
	"github.com/zjrosen/mandelgather/internal/orchestration/message"
	"github.com/zjrosen/mandelgather/internal/partition"
)

// Aggregator owns the destination grid. It is not safe for concurrent use;
// the gather functions call Place from a single goroutine.
type Aggregator struct {
	params      fractal.Params
	digest      string
	workerCount int
	plan        []partition.RowRange
	pixels      []int32
	placed      []bool
}

// NewAggregator allocates the grid for p split across workerCount ranks.
func NewAggregator(p fractal.Params, workerCount int) (*Aggregator, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	plan, err := partition.Plan(workerCount, p.Height)
	if err != nil {
		return nil, err
	}
	return &Aggregator{
		params:      p,
		digest:      p.Digest(),
		workerCount: workerCount,
		plan:        plan,
		pixels:      make([]int32, p.Pixels()),
		placed:      make([]bool, workerCount),
	}, nil
}

// Digest is the parameter digest every result must carry.
func (a *Aggregator) Digest() string {
	return a.digest
}

// WorkerCount returns the number of ranks expected.
func (a *Aggregator) WorkerCount() int {
	return a.workerCount
}

// Place validates res against the coordinator's own view of the partition and
// copies its payload into the grid.
func (a *Aggregator) Place(res message.Result) error {
	if res.Rank < 0 || res.Rank >= a.workerCount {
		return fmt.Errorf("%w: result from unknown rank %d", ErrAggregationIncomplete, res.Rank)
	}
	if res.Digest != a.digest {
		return fmt.Errorf("%w: rank %d digest %s, coordinator %s", ErrConfigurationMismatch, res.Rank, res.Digest, a.digest)
	}
	want := a.plan[res.Rank]
	if res.Range != want {
		return fmt.Errorf("%w: rank %d sent range %s, expected %s", ErrAggregationIncomplete, res.Rank, res.Range, want)
	}
	if n := want.Pixels(a.params.Width); len(res.Payload) != n {
		return fmt.Errorf("%w: rank %d sent %d pixels, expected %d", ErrAggregationIncomplete, res.Rank, len(res.Payload), n)
	}
	if a.placed[res.Rank] {
		return fmt.Errorf("%w: duplicate result from rank %d", ErrAggregationIncomplete, res.Rank)
	}

	copy(a.pixels[want.Offset(a.params.Width):], res.Payload)
	a.placed[res.Rank] = true
	log.Debug(log.CatGather, "Placed result", "rank", res.Rank, "range", want.String(), "pixels", len(res.Payload))
	return nil
}

// Missing returns the ranks not yet placed, ascending.
func (a *Aggregator) Missing() []int {
	var missing []int
	for r, ok := range a.placed {
		if !ok {
			missing = append(missing, r)
		}
	}
	return missing
}

// Complete reports whether every rank has been placed.
func (a *Aggregator) Complete() bool {
	return len(a.Missing()) == 0
}

// Grid returns the finished grid. A partially filled grid is never returned.
func (a *Aggregator) Grid() (*Grid, error) {
	if missing := a.Missing(); len(missing) > 0 {
		return nil, &IncompleteError{Missing: missing}
	}
	return &Grid{
		Width:  a.params.Width,
		Height: a.params.Height,
		Pixels: a.pixels,
	}, nil
}
