// Package fractal holds the escape-time kernel, the pixel-to-plane mapping and
// the immutable run parameters shared by every rank.
package fractal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
)

// Region is a rectangle of the complex plane.
type Region struct {
	MinReal float64 `json:"min_real" mapstructure:"min_real"`
	MaxReal float64 `json:"max_real" mapstructure:"max_real"`
	MinImag float64 `json:"min_imag" mapstructure:"min_imag"`
	MaxImag float64 `json:"max_imag" mapstructure:"max_imag"`
}

// DefaultRegion is the classic full view of the set.
var DefaultRegion = Region{MinReal: -2.0, MaxReal: 1.0, MinImag: -1.5, MaxImag: 1.5}

// Params is the process-wide kernel configuration. Every rank of a run must
// compute with an identical Params value; Digest is how the coordinator checks.
type Params struct {
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	MaxIters int    `json:"max_iters"`
	Region   Region `json:"region"`
}

// Defaults match the 800x600 render of the original gather program.
func Defaults() Params {
	return Params{
		Width:    800,
		Height:   600,
		MaxIters: 1000,
		Region:   DefaultRegion,
	}
}

var (
	// ErrInvalidDimensions is returned when width or height is not positive.
	ErrInvalidDimensions = errors.New("image dimensions must be positive")
	// ErrInvalidIterations is returned when the iteration bound is not positive.
	ErrInvalidIterations = errors.New("max iterations must be positive")
	// ErrInvalidRegion is returned for empty, inverted or non-finite regions.
	ErrInvalidRegion = errors.New("invalid plane region")
)

// Validate reports whether p describes a computable image.
func (p Params) Validate() error {
	if p.Width <= 0 || p.Height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, p.Width, p.Height)
	}
	if p.MaxIters <= 0 || p.MaxIters > math.MaxInt32 {
		return fmt.Errorf("%w: %d", ErrInvalidIterations, p.MaxIters)
	}
	r := p.Region
	for _, v := range []float64{r.MinReal, r.MaxReal, r.MinImag, r.MaxImag} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite bound", ErrInvalidRegion)
		}
	}
	if r.MinReal >= r.MaxReal || r.MinImag >= r.MaxImag {
		return fmt.Errorf("%w: [%g,%g]x[%g,%g]", ErrInvalidRegion, r.MinReal, r.MaxReal, r.MinImag, r.MaxImag)
	}
	return nil
}

// Pixels returns W*H.
func (p Params) Pixels() int {
	return p.Width * p.Height
}

// Digest fingerprints the exact bit patterns of p. Two ranks computing with
// parameters that differ in any bit get different digests.
func (p Params) Digest() string {
	var buf [4 * 8 * 2]byte
	b := buf[:0]
	b = binary.LittleEndian.AppendUint64(b, uint64(p.Width))
	b = binary.LittleEndian.AppendUint64(b, uint64(p.Height))
	b = binary.LittleEndian.AppendUint64(b, uint64(p.MaxIters))
	b = binary.LittleEndian.AppendUint64(b, math.Float64bits(p.Region.MinReal))
	b = binary.LittleEndian.AppendUint64(b, math.Float64bits(p.Region.MaxReal))
	b = binary.LittleEndian.AppendUint64(b, math.Float64bits(p.Region.MinImag))
	b = binary.LittleEndian.AppendUint64(b, math.Float64bits(p.Region.MaxImag))
	return fmt.Sprintf("%016x", xxhash.Sum64(b))
}

// String is used in logs and the run ledger.
func (p Params) String() string {
	return fmt.Sprintf("%dx%d iters=%d region=[%g,%g]x[%g,%g]",
		p.Width, p.Height, p.MaxIters,
		p.Region.MinReal, p.Region.MaxReal, p.Region.MinImag, p.Region.MaxImag)
}
