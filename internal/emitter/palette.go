package emitter

import "image/color"

// Palette maps an iteration count to a colour.
type Palette interface {
	Color(v int32) color.RGBA
}

// Classic is the palette of the original renders: points that never escaped
// are black, everything else cycles through RGB at different rates.
type Classic struct {
	MaxIters int
}

func (p Classic) Color(v int32) color.RGBA {
	if int(v) >= p.MaxIters {
		return color.RGBA{A: 0xff}
	}
	n := int64(v)
	return color.RGBA{
		R: uint8(n * 7 % 256), //nolint:gosec // G115: reduced mod 256
		G: uint8(n * 5 % 256), //nolint:gosec // G115: reduced mod 256
		B: uint8(n * 3 % 256), //nolint:gosec // G115: reduced mod 256
		A: 0xff,
	}
}

// Grayscale shades by escape speed: fast escapes are dark, the set is white.
type Grayscale struct {
	MaxIters int
}

func (p Grayscale) Color(v int32) color.RGBA {
	if p.MaxIters <= 0 {
		return color.RGBA{A: 0xff}
	}
	l := uint8(int64(v) * 255 / int64(p.MaxIters)) //nolint:gosec // G115: v <= MaxIters
	return color.RGBA{R: l, G: l, B: l, A: 0xff}
}

// PaletteByName returns the named palette for maxIters. Unknown names fall
// back to Classic.
func PaletteByName(name string, maxIters int) Palette {
	switch name {
	case "grayscale", "gray":
		return Grayscale{MaxIters: maxIters}
	default:
		return Classic{MaxIters: maxIters}
	}
}
