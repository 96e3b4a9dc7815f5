package emitter

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/mandelgather/internal/gather"
)

func tinyGrid() *gather.Grid {
	// 2x2: top row escapes at 1 and 2, bottom row never escapes (max 10).
	return &gather.Grid{Width: 2, Height: 2, Pixels: []int32{1, 2, 10, 10}}
}

func TestClassic(t *testing.T) {
	p := Classic{MaxIters: 10}
	require.Equal(t, color.RGBA{A: 0xff}, p.Color(10))
	require.Equal(t, color.RGBA{R: 7, G: 5, B: 3, A: 0xff}, p.Color(1))
	require.Equal(t, color.RGBA{R: 100 * 7 % 256, G: 100 * 5 % 256, B: 100 * 3 % 256, A: 0xff}, Classic{MaxIters: 1000}.Color(100))
}

func TestGrayscale(t *testing.T) {
	p := Grayscale{MaxIters: 10}
	require.Equal(t, uint8(0), p.Color(0).R)
	require.Equal(t, uint8(255), p.Color(10).G)
	require.IsType(t, Grayscale{}, PaletteByName("gray", 10))
	require.IsType(t, Classic{}, PaletteByName("anything", 10))
}

func TestEncode_P6(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, tinyGrid(), Options{Format: FormatPPM, Palette: Classic{MaxIters: 10}}))

	want := append([]byte("P6\n2 2\n255\n"),
		7, 5, 3, 14, 10, 6,
		0, 0, 0, 0, 0, 0,
	)
	require.Equal(t, want, buf.Bytes())
}

func TestEncode_P3Flipped(t *testing.T) {
	var buf bytes.Buffer
	opts := Options{Format: FormatPPMASCII, Palette: Classic{MaxIters: 10}, Flip: true}
	require.NoError(t, Encode(&buf, tinyGrid(), opts))

	require.Equal(t, "P3\n2 2\n255\n0 0 0 0 0 0\n7 5 3 14 10 6\n", buf.String())
}

func TestEncode_PNG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, tinyGrid(), Options{Format: FormatPNG, Palette: Classic{MaxIters: 10}}))

	img, err := png.Decode(&buf)
	require.NoError(t, err)
	require.Equal(t, 2, img.Bounds().Dx())
	r, g, b, _ := img.At(1, 0).RGBA()
	require.Equal(t, []uint32{14, 10, 6}, []uint32{r >> 8, g >> 8, b >> 8})
}

func TestEncode_RejectsIncompleteGrid(t *testing.T) {
	var buf bytes.Buffer
	err := Encode(&buf, &gather.Grid{Width: 2, Height: 2, Pixels: []int32{1}}, Options{Palette: Classic{}})
	require.ErrorIs(t, err, ErrEmit)
	require.ErrorIs(t, Encode(&buf, nil, Options{Palette: Classic{}}), ErrEmit)
	require.ErrorIs(t, Encode(&buf, tinyGrid(), Options{}), ErrEmit)
}

func TestFile_WritesAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out", "set.png")
	f := &File{Path: path, Options: Options{Palette: Classic{MaxIters: 10}}}

	grid := tinyGrid()
	before := append([]int32(nil), grid.Pixels...)
	require.NoError(t, f.Emit(context.Background(), grid))
	require.Equal(t, before, grid.Pixels)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(data, []byte("\x89PNG")), "format inferred from extension")

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp files left behind")
}

func TestFile_FailureLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "set.ppm")
	f := &File{Path: path, Options: Options{Format: "tiff", Palette: Classic{MaxIters: 10}}}

	err := f.Emit(context.Background(), tinyGrid())
	require.ErrorIs(t, err, ErrEmit)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestFile_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := (&File{Path: filepath.Join(t.TempDir(), "x.ppm")}).Emit(ctx, tinyGrid())
	require.True(t, errors.Is(err, ErrEmit) && errors.Is(err, context.Canceled))
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"ppm": FormatPPM, "P6": FormatPPM, "p3": FormatPPMASCII, "PNG": FormatPNG} {
		got, err := ParseFormat(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := ParseFormat("gif")
	require.ErrorIs(t, err, ErrEmit)
	require.Equal(t, FormatPNG, FormatForPath("a/b.PNG"))
	require.Equal(t, FormatPPM, FormatForPath("a/b.ppm"))
}
