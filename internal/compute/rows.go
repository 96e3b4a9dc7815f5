// Package compute is the per-rank compute loop: it evaluates the escape-time
// kernel over a RowRange into one contiguous row-major buffer.
package compute

import (
	"github.com/zjrosen/mandelgather/internal/fractal"
	"github.com/zjrosen/mandelgather/internal/partition"
)

// ProgressFunc is called after each completed row with the number of rows done.
type ProgressFunc func(rowsDone int)

// Rows computes the iteration count of every pixel in r. The returned slice has
// length r.Len()*p.Width and is written strictly in increasing index order.
func Rows(p fractal.Params, r partition.RowRange, progress ProgressFunc) []int32 {
	if r.Empty() {
		return []int32{}
	}
	buf := make([]int32, r.Pixels(p.Width))
	i := 0
	for y := r.Start; y < r.End; y++ {
		for x := 0; x < p.Width; x++ {
			buf[i] = int32(fractal.Iterate(fractal.PixelToCoordinate(x, y, p), p.MaxIters)) //nolint:gosec // G115: bounded by MaxIters, validated <= MaxInt32
			i++
		}
		if progress != nil {
			progress(y - r.Start + 1)
		}
	}
	return buf
}

// Sequential computes the whole image on one rank. It is the reference the
// parallel path must reproduce bit for bit.
func Sequential(p fractal.Params) []int32 {
	return Rows(p, partition.RowRange{Start: 0, End: p.Height}, nil)
}

// Throttle wraps fn so it fires at most steps times over total rows, plus once
// on the final row.
func Throttle(total, steps int, fn ProgressFunc) ProgressFunc {
	if fn == nil {
		return nil
	}
	if steps < 1 {
		steps = 1
	}
	every := total / steps
	if every < 1 {
		every = 1
	}
	return func(done int) {
		if done == total || done%every == 0 {
			fn(done)
		}
	}
}
