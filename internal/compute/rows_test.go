package compute

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/mandelgather/internal/fractal"
	"github.com/zjrosen/mandelgather/internal/partition"
)

func referenceParams() fractal.Params {
	return fractal.Params{
		Width:    4,
		Height:   4,
		MaxIters: 50,
		Region:   fractal.Region{MinReal: -2, MaxReal: 1, MinImag: -1.5, MaxImag: 1.5},
	}
}

func TestSequential_ReferenceGrid(t *testing.T) {
	got := Sequential(referenceParams())
	require.Equal(t, []int32{
		0, 1, 1, 1,
		0, 2, 5, 4,
		50, 50, 50, 50,
		0, 2, 5, 4,
	}, got)
}

func TestRows_SubRangeMatchesSequentialSlice(t *testing.T) {
	p := referenceParams()
	full := Sequential(p)

	r := partition.RowRange{Start: 2, End: 4}
	got := Rows(p, r, nil)
	require.Len(t, got, r.Pixels(p.Width))
	require.Equal(t, full[r.Offset(p.Width):r.Offset(p.Width)+r.Pixels(p.Width)], got)
}

func TestRows_EmptyRange(t *testing.T) {
	got := Rows(referenceParams(), partition.RowRange{Start: 3, End: 3}, func(int) {
		t.Fatal("progress must not fire for an empty range")
	})
	require.NotNil(t, got)
	require.Empty(t, got)
}

func TestRows_ReportsProgressPerRow(t *testing.T) {
	var seen []int
	Rows(referenceParams(), partition.RowRange{Start: 1, End: 4}, func(done int) {
		seen = append(seen, done)
	})
	require.Equal(t, []int{1, 2, 3}, seen)
}

func TestThrottle(t *testing.T) {
	var seen []int
	fn := Throttle(10, 2, func(done int) { seen = append(seen, done) })
	for i := 1; i <= 10; i++ {
		fn(i)
	}
	require.Equal(t, []int{5, 10}, seen)

	require.Nil(t, Throttle(10, 2, nil))
}
