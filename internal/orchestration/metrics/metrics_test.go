package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestThroughput(t *testing.T) {
	tests := []struct {
		name    string
		pixels  int
		elapsed time.Duration
		want    string
	}{
		{name: "zero elapsed", pixels: 100, elapsed: 0, want: "0 px/s"},
		{name: "pixels", pixels: 500, elapsed: time.Second, want: "500 px/s"},
		{name: "kilo", pixels: 48_000, elapsed: 2 * time.Second, want: "24.0 kpx/s"},
		{name: "mega", pixels: 480_000, elapsed: 100 * time.Millisecond, want: "4.8 Mpx/s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := RunMetrics{Pixels: tt.pixels, Elapsed: tt.elapsed}
			require.Equal(t, tt.want, m.FormatThroughput())
		})
	}
}

func TestImbalance(t *testing.T) {
	var m RunMetrics
	require.Zero(t, m.Imbalance())

	m.Add(RankTiming{Rank: 2, ComputeTime: 300 * time.Millisecond})
	m.Add(RankTiming{Rank: 0, ComputeTime: 100 * time.Millisecond})
	m.Add(RankTiming{Rank: 1, ComputeTime: 200 * time.Millisecond})

	require.Equal(t, []int{0, 1, 2}, []int{m.Ranks[0].Rank, m.Ranks[1].Rank, m.Ranks[2].Rank})
	require.InDelta(t, 1.5, m.Imbalance(), 1e-9)
}

func TestFormatElapsed(t *testing.T) {
	m := RunMetrics{Elapsed: 1500 * time.Millisecond}
	require.Equal(t, "1.500000 s", m.FormatElapsed())
}
