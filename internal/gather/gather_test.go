package gather

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/zjrosen/mandelgather/internal/compute"
	"github.com/zjrosen/mandelgather/internal/fractal"
	"github.com/zjrosen/mandelgather/internal/orchestration/message"
	"github.com/zjrosen/mandelgather/internal/orchestration/transport"
	"github.com/zjrosen/mandelgather/internal/partition"
)

var modes = []Mode{ModeCollective, ModePointToPoint}

func smallParams() fractal.Params {
	return fractal.Params{Width: 4, Height: 4, MaxIters: 50, Region: fractal.DefaultRegion}
}

var referenceGrid = []int32{
	0, 1, 1, 1,
	0, 2, 5, 4,
	50, 50, 50, 50,
	0, 2, 5, 4,
}

// behaviour lets a test make one rank misbehave.
type behaviour func(ctx context.Context, link transport.Link, res message.Result)

func honest(ctx context.Context, link transport.Link, res message.Result) {
	progress := message.New(message.KindProgress, "run", res.Rank, 0)
	progress.Progress = &message.Progress{RowsDone: res.Range.Len(), RowsTotal: res.Range.Len()}
	_ = link.Send(ctx, progress)
	_ = link.Send(ctx, message.NewResult("run", res))
	_ = link.Close()
}

func silent(_ context.Context, link transport.Link, _ message.Result) {
	_ = link.Close()
}

func hang(ctx context.Context, _ transport.Link, _ message.Result) {
	<-ctx.Done()
}

// startRanks computes every rank's result and sends ranks 1..n-1 over pipes
// attached to a Mux. Rank 0's result is placed directly.
func startRanks(t *testing.T, p fractal.Params, n int, override map[int]behaviour) (*transport.Mux, *Aggregator, []int) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	agg, err := NewAggregator(p, n)
	require.NoError(t, err)

	mux := transport.NewMux()
	t.Cleanup(func() { _ = mux.Close() })

	var wg sync.WaitGroup
	t.Cleanup(wg.Wait)
	t.Cleanup(cancel)

	var ranks []int
	for rank := 0; rank < n; rank++ {
		r, err := partition.ComputeRowRange(rank, n, p.Height)
		require.NoError(t, err)
		res := message.Result{Rank: rank, Range: r, Digest: p.Digest(), Payload: compute.Rows(p, r, nil)}
		if rank == message.CoordinatorRank {
			require.NoError(t, agg.Place(res))
			continue
		}
		coord, worker := transport.Pipe()
		mux.Attach(rank, coord)
		ranks = append(ranks, rank)

		b := honest
		if o, ok := override[rank]; ok {
			b = o
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			b(ctx, worker, res)
		}()
	}
	return mux, agg, ranks
}

func TestGather_ReferenceGrid(t *testing.T) {
	for _, mode := range modes {
		for _, n := range []int{1, 2, 3, 4, 7} {
			mux, agg, ranks := startRanks(t, smallParams(), n, nil)
			require.NoError(t, Run(context.Background(), mode, mux, agg, ranks, Options{Timeout: 5 * time.Second}))

			grid, err := agg.Grid()
			require.NoError(t, err)
			require.Equal(t, referenceGrid, grid.Pixels, "mode=%s n=%d", mode, n)
		}
	}
}

func TestGather_MatchesSequential(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		minReal := rapid.Float64Range(-2.5, 0).Draw(rt, "minReal")
		minImag := rapid.Float64Range(-1.5, 0).Draw(rt, "minImag")
		p := fractal.Params{
			Width:    rapid.IntRange(1, 12).Draw(rt, "w"),
			Height:   rapid.IntRange(1, 12).Draw(rt, "h"),
			MaxIters: rapid.IntRange(1, 40).Draw(rt, "iters"),
			Region: fractal.Region{
				MinReal: minReal,
				MaxReal: minReal + rapid.Float64Range(0.1, 3).Draw(rt, "dr"),
				MinImag: minImag,
				MaxImag: minImag + rapid.Float64Range(0.1, 3).Draw(rt, "di"),
			},
		}
		n := rapid.IntRange(1, p.Height).Draw(rt, "workers")
		mode := rapid.SampledFrom(modes).Draw(rt, "mode")

		mux, agg, ranks := startRanks(t, p, n, nil)
		if err := Run(context.Background(), mode, mux, agg, ranks, Options{Timeout: 5 * time.Second}); err != nil {
			rt.Fatalf("gather: %v", err)
		}
		grid, err := agg.Grid()
		if err != nil {
			rt.Fatalf("grid: %v", err)
		}
		want := compute.Sequential(p)
		for i := range want {
			if grid.Pixels[i] != want[i] {
				rt.Fatalf("pixel %d: got %d want %d", i, grid.Pixels[i], want[i])
			}
		}
	})
}

func TestGather_DegenerateMoreWorkersThanRows(t *testing.T) {
	p := fractal.Params{Width: 3, Height: 2, MaxIters: 20, Region: fractal.DefaultRegion}
	for _, mode := range modes {
		mux, agg, ranks := startRanks(t, p, 5, nil)
		require.NoError(t, Run(context.Background(), mode, mux, agg, ranks, Options{}))
		grid, err := agg.Grid()
		require.NoError(t, err)
		require.Equal(t, compute.Sequential(p), grid.Pixels)
	}
}

func TestGather_LostResultIsIncomplete(t *testing.T) {
	for _, mode := range modes {
		mux, agg, ranks := startRanks(t, smallParams(), 4, map[int]behaviour{2: silent})
		err := Run(context.Background(), mode, mux, agg, ranks, Options{Timeout: 5 * time.Second})
		require.ErrorIs(t, err, ErrAggregationIncomplete)
		require.ErrorIs(t, err, transport.ErrLinkClosed)

		var inc *IncompleteError
		require.True(t, errors.As(err, &inc))
		require.Contains(t, inc.Missing, 2)

		grid, gerr := agg.Grid()
		require.Nil(t, grid)
		require.ErrorIs(t, gerr, ErrAggregationIncomplete)
	}
}

func TestGather_TimeoutIsIncomplete(t *testing.T) {
	for _, mode := range modes {
		mux, agg, ranks := startRanks(t, smallParams(), 3, map[int]behaviour{1: hang})
		err := Run(context.Background(), mode, mux, agg, ranks, Options{Timeout: 50 * time.Millisecond})
		require.ErrorIs(t, err, ErrAggregationIncomplete)
		require.ErrorIs(t, err, context.DeadlineExceeded)

		var inc *IncompleteError
		require.True(t, errors.As(err, &inc))
		require.Contains(t, inc.Missing, 1)
	}
}

func TestGather_DigestMismatch(t *testing.T) {
	tampered := func(ctx context.Context, link transport.Link, res message.Result) {
		other := smallParams()
		other.MaxIters++
		res.Digest = other.Digest()
		honest(ctx, link, res)
	}
	for _, mode := range modes {
		mux, agg, ranks := startRanks(t, smallParams(), 2, map[int]behaviour{1: tampered})
		err := Run(context.Background(), mode, mux, agg, ranks, Options{Timeout: 5 * time.Second})
		require.ErrorIs(t, err, ErrConfigurationMismatch)
		require.NotErrorIs(t, err, ErrAggregationIncomplete)
	}
}

func TestGather_WorkerErrorEnvelope(t *testing.T) {
	failing := func(ctx context.Context, link transport.Link, res message.Result) {
		env := message.New(message.KindError, "run", res.Rank, 0)
		env.Error = "out of memory"
		_ = link.Send(ctx, env)
		_ = link.Close()
	}
	mux, agg, ranks := startRanks(t, smallParams(), 2, map[int]behaviour{1: failing})
	err := Collective(context.Background(), mux, agg, ranks, Options{Timeout: 5 * time.Second})
	require.ErrorIs(t, err, ErrAggregationIncomplete)
	require.Contains(t, err.Error(), "out of memory")
}

func TestGather_ForwardsProgress(t *testing.T) {
	mux, agg, ranks := startRanks(t, smallParams(), 3, nil)

	var mu sync.Mutex
	seen := map[int]message.Progress{}
	opts := Options{OnProgress: func(rank int, p message.Progress) {
		mu.Lock()
		defer mu.Unlock()
		seen[rank] = p
	}}
	require.NoError(t, Collective(context.Background(), mux, agg, ranks, opts))
	require.Len(t, seen, 2)
	require.Equal(t, 2, seen[2].RowsTotal)
}

func TestAggregator_RejectsMalformedResults(t *testing.T) {
	p := smallParams()
	good := func(rank int) message.Result {
		r, err := partition.ComputeRowRange(rank, 2, p.Height)
		require.NoError(t, err)
		return message.Result{Rank: rank, Range: r, Digest: p.Digest(), Payload: compute.Rows(p, r, nil)}
	}

	tests := []struct {
		name    string
		mutate  func(*message.Result)
		wantErr error
	}{
		{"unknown rank", func(r *message.Result) { r.Rank = 5 }, ErrAggregationIncomplete},
		{"wrong range", func(r *message.Result) { r.Range = partition.RowRange{Start: 0, End: 2} }, ErrAggregationIncomplete},
		{"short payload", func(r *message.Result) { r.Payload = r.Payload[:3] }, ErrAggregationIncomplete},
		{"digest", func(r *message.Result) { r.Digest = "0000000000000000" }, ErrConfigurationMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg, err := NewAggregator(p, 2)
			require.NoError(t, err)
			res := good(1)
			tt.mutate(&res)
			require.ErrorIs(t, agg.Place(res), tt.wantErr)
			require.Equal(t, []int{0, 1}, agg.Missing())
		})
	}

	t.Run("duplicate", func(t *testing.T) {
		agg, err := NewAggregator(p, 2)
		require.NoError(t, err)
		require.NoError(t, agg.Place(good(1)))
		require.ErrorIs(t, agg.Place(good(1)), ErrAggregationIncomplete)
	})
}

func TestGrid_ChecksumDependsOnPixels(t *testing.T) {
	a := &Grid{Width: 2, Height: 1, Pixels: []int32{1, 2}}
	b := &Grid{Width: 2, Height: 1, Pixels: []int32{1, 2}}
	c := &Grid{Width: 2, Height: 1, Pixels: []int32{2, 1}}
	d := &Grid{Width: 1, Height: 2, Pixels: []int32{1, 2}}
	require.Equal(t, a.Checksum(), b.Checksum())
	require.NotEqual(t, a.Checksum(), c.Checksum())
	require.NotEqual(t, a.Checksum(), d.Checksum())
	require.Equal(t, int32(2), a.At(1, 0))
	require.Equal(t, []int32{2}, d.Row(1))
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("p2p")
	require.NoError(t, err)
	require.Equal(t, ModePointToPoint, m)
	_, err = ParseMode("broadcast")
	require.Error(t, err)
}

func TestGather_OnPlacedSeesEveryWorkerRank(t *testing.T) {
	for _, mode := range modes {
		mux, agg, ranks := startRanks(t, smallParams(), 4, nil)
		var placed []int
		opts := Options{OnPlaced: func(res message.Result) { placed = append(placed, res.Rank) }}
		require.NoError(t, Run(context.Background(), mode, mux, agg, ranks, opts))
		require.ElementsMatch(t, []int{1, 2, 3}, placed)
	}
}
