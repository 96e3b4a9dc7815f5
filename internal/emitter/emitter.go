// Package emitter turns a finished iteration grid into an image file.
package emitter

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/zjrosen/mandelgather/internal/gather"
	"github.com/zjrosen/mandelgather/internal/log"
)

// ErrEmit wraps every failure to produce output. The grid is never modified.
var ErrEmit = errors.New("emit failed")

// Format is an output encoding.
type Format string

const (
	FormatPPM      Format = "ppm"       // binary P6
	FormatPPMASCII Format = "ppm-ascii" // plain P3
	FormatPNG      Format = "png"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case FormatPPM, "p6":
		return FormatPPM, nil
	case FormatPPMASCII, "p3":
		return FormatPPMASCII, nil
	case FormatPNG:
		return FormatPNG, nil
	default:
		return "", fmt.Errorf("%w: unknown format %q", ErrEmit, s)
	}
}

// FormatForPath guesses the format from a file extension, defaulting to PPM.
func FormatForPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".png") {
		return FormatPNG
	}
	return FormatPPM
}

// Options control encoding.
type Options struct {
	Format  Format
	Palette Palette
	// Flip writes the bottom row first.
	Flip bool
}

// Encode writes g to w.
func Encode(w io.Writer, g *gather.Grid, opts Options) error {
	if g == nil || len(g.Pixels) != g.Width*g.Height {
		return fmt.Errorf("%w: incomplete grid", ErrEmit)
	}
	if opts.Palette == nil {
		return fmt.Errorf("%w: no palette", ErrEmit)
	}

	var err error
	switch opts.Format {
	case FormatPPM, "":
		err = encodePPM(w, g, opts, true)
	case FormatPPMASCII:
		err = encodePPM(w, g, opts, false)
	case FormatPNG:
		err = png.Encode(w, toImage(g, opts))
	default:
		err = fmt.Errorf("unknown format %q", opts.Format)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEmit, err)
	}
	return nil
}

// rowOrder returns source row for output row i.
func rowOrder(g *gather.Grid, flip bool, i int) int {
	if flip {
		return g.Height - 1 - i
	}
	return i
}

func encodePPM(w io.Writer, g *gather.Grid, opts Options, binary bool) error {
	bw := bufio.NewWriter(w)
	magic := "P3"
	if binary {
		magic = "P6"
	}
	if _, err := fmt.Fprintf(bw, "%s\n%d %d\n255\n", magic, g.Width, g.Height); err != nil {
		return err
	}

	for i := 0; i < g.Height; i++ {
		row := g.Row(rowOrder(g, opts.Flip, i))
		for x, v := range row {
			c := opts.Palette.Color(v)
			if binary {
				if _, err := bw.Write([]byte{c.R, c.G, c.B}); err != nil {
					return err
				}
				continue
			}
			sep := ""
			if x > 0 {
				sep = " "
			}
			if _, err := fmt.Fprintf(bw, "%s%d %d %d", sep, c.R, c.G, c.B); err != nil {
				return err
			}
		}
		if !binary {
			if err := bw.WriteByte('\n'); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}

func toImage(g *gather.Grid, opts Options) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, g.Width, g.Height))
	for i := 0; i < g.Height; i++ {
		for x, v := range g.Row(rowOrder(g, opts.Flip, i)) {
			img.SetRGBA(x, i, opts.Palette.Color(v))
		}
	}
	return img
}

// File writes the grid to Path. The file appears atomically: it is written
// to a temporary sibling and renamed into place, so a failed emit never
// leaves a partial image behind.
type File struct {
	Path string
	Options
}

// Emit implements coordinator.Emitter.
func (f *File) Emit(ctx context.Context, g *gather.Grid) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrEmit, err)
	}
	opts := f.Options
	if opts.Format == "" {
		opts.Format = FormatForPath(f.Path)
	}

	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: creating output directory: %w", ErrEmit, err)
	}
	temp, err := os.CreateTemp(dir, ".mandelgather.tmp.*")
	if err != nil {
		return fmt.Errorf("%w: creating temp file: %w", ErrEmit, err)
	}
	tempPath := temp.Name()

	if err := Encode(temp, g, opts); err != nil {
		_ = temp.Close()
		_ = os.Remove(tempPath)
		return err
	}
	if err := temp.Close(); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("%w: closing temp file: %w", ErrEmit, err)
	}
	if err := os.Rename(tempPath, f.Path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("%w: renaming temp file: %w", ErrEmit, err)
	}
	log.Info(log.CatEmit, "Wrote image", "path", f.Path, "format", string(opts.Format), "size", fmt.Sprintf("%dx%d", g.Width, g.Height))
	return nil
}
