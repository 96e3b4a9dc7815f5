package gather

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Grid is a complete W×H iteration-count raster in row-major order.
type Grid struct {
	Width  int
	Height int
	Pixels []int32
}

// At returns the iteration count of pixel (x, y).
func (g *Grid) At(x, y int) int32 {
	return g.Pixels[y*g.Width+x]
}

// Row returns row y as a subslice of Pixels.
func (g *Grid) Row(y int) []int32 {
	return g.Pixels[y*g.Width : (y+1)*g.Width]
}

// Checksum is a stable fingerprint of the pixel values. Two grids with the
// same checksum and dimensions are, for all practical purposes, identical.
func (g *Grid) Checksum() string {
	h := xxhash.New()
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(g.Width)) //nolint:gosec // G115: dimensions are validated positive
	_, _ = h.Write(b[:])
	binary.LittleEndian.PutUint32(b[:], uint32(g.Height)) //nolint:gosec // G115: dimensions are validated positive
	_, _ = h.Write(b[:])
	for _, v := range g.Pixels {
		binary.LittleEndian.PutUint32(b[:], uint32(v)) //nolint:gosec // G115: bit pattern only
		_, _ = h.Write(b[:])
	}
	return fmt.Sprintf("%016x", h.Sum64())
}
