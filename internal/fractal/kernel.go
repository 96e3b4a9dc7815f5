package fractal

// Coordinate is a point of the complex plane.
type Coordinate struct {
	Real float64
	Imag float64
}

// escapeRadiusSq is |z|^2 for |z| = 2.
const escapeRadiusSq = 4.0

// Iterate returns the first iteration index i at which |z|^2 > 4 for the
// sequence z0 = 0, z(n+1) = z(n)^2 + c, or maxIters when the point does not
// escape within the bound. A point sitting exactly on |z|^2 == 4 has not escaped.
//
// The explicit float64 conversions stop the compiler from fusing the products
// into FMA instructions on architectures that have them, so every rank gets
// the same bits for the same pixel.
func Iterate(c Coordinate, maxIters int) int {
	var zr, zi float64
	for i := 0; i < maxIters; i++ {
		rr := float64(zr * zr)
		ii := float64(zi * zi)
		ri := float64(zr * zi)
		zr = rr - ii + c.Real
		zi = 2*ri + c.Imag
		if float64(zr*zr)+float64(zi*zi) > escapeRadiusSq {
			return i
		}
	}
	return maxIters
}

// PixelToCoordinate maps integer pixel (x, y) of the W x H raster onto the
// region: real = MinReal + x*(MaxReal-MinReal)/W, imag = MinImag + y*(MaxImag-MinImag)/H.
// Row 0 is MinImag. All ranks and the sequential path go through this function.
func PixelToCoordinate(x, y int, p Params) Coordinate {
	r := p.Region
	return Coordinate{
		Real: r.MinReal + float64(float64(x)*(r.MaxReal-r.MinReal))/float64(p.Width),
		Imag: r.MinImag + float64(float64(y)*(r.MaxImag-r.MinImag))/float64(p.Height),
	}
}
