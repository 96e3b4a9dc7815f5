package verify

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDump(t *testing.T) {
	require.Equal(t, "0: 0 1\n1: 50 2\n", Dump([]int32{0, 1, 50, 2}, 2))
	require.Empty(t, Dump([]int32{1}, 0))
}

func TestCompare_Equal(t *testing.T) {
	g := []int32{0, 1, 1, 1, 0, 2, 5, 4}
	res, err := Compare(g, append([]int32(nil), g...), 4)
	require.NoError(t, err)
	require.True(t, res.Equal())
	require.Empty(t, res.Diff)
}

func TestCompare_ReportsDifferingRows(t *testing.T) {
	want := []int32{
		0, 1, 1, 1,
		0, 2, 5, 4,
		50, 50, 50, 50,
	}
	got := []int32{
		0, 1, 1, 1,
		0, 2, 0, 4,
		50, 50, 50, 50,
	}

	res, err := Compare(want, got, 4)
	require.NoError(t, err)
	require.False(t, res.Equal())
	require.Equal(t, []int{1}, res.Rows)
	require.Equal(t, "- 1: 0 2 5 4\n+ 1: 0 2 0 4\n", res.Diff)
}

func TestCompare_MissingRows(t *testing.T) {
	want := []int32{1, 2, 3, 4}
	got := []int32{1, 2}

	res, err := Compare(want, got, 2)
	require.NoError(t, err)
	require.Equal(t, []int{1}, res.Rows)
	require.Equal(t, "- 1: 3 4\n", res.Diff)
}

func TestCompare_RejectsRaggedGrid(t *testing.T) {
	_, err := Compare([]int32{1, 2, 3}, []int32{1, 2}, 2)
	require.Error(t, err)

	_, err = Compare(nil, nil, 0)
	require.Error(t, err)
}
