package fractal

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaults_AreValid(t *testing.T) {
	p := Defaults()
	require.NoError(t, p.Validate())
	require.Equal(t, 800*600, p.Pixels())
}

func TestValidate(t *testing.T) {
	base := Params{Width: 4, Height: 4, MaxIters: 50, Region: DefaultRegion}

	tests := []struct {
		name    string
		mutate  func(p *Params)
		wantErr error
	}{
		{name: "zero width", mutate: func(p *Params) { p.Width = 0 }, wantErr: ErrInvalidDimensions},
		{name: "negative height", mutate: func(p *Params) { p.Height = -1 }, wantErr: ErrInvalidDimensions},
		{name: "zero iterations", mutate: func(p *Params) { p.MaxIters = 0 }, wantErr: ErrInvalidIterations},
		{name: "inverted real axis", mutate: func(p *Params) { p.Region.MinReal, p.Region.MaxReal = 1, -2 }, wantErr: ErrInvalidRegion},
		{name: "empty imaginary axis", mutate: func(p *Params) { p.Region.MaxImag = p.Region.MinImag }, wantErr: ErrInvalidRegion},
		{name: "NaN bound", mutate: func(p *Params) { p.Region.MinReal = math.NaN() }, wantErr: ErrInvalidRegion},
		{name: "valid", mutate: func(p *Params) {}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := base
			tt.mutate(&p)
			err := p.Validate()
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestDigest_StableAndSensitive(t *testing.T) {
	a := Defaults()
	b := Defaults()
	require.Equal(t, a.Digest(), b.Digest())
	require.Len(t, a.Digest(), 16)

	b.Region.MaxImag = math.Nextafter(b.Region.MaxImag, 2)
	require.NotEqual(t, a.Digest(), b.Digest(), "one ulp of difference must change the digest")

	c := Defaults()
	c.Height = c.Height - 1
	require.NotEqual(t, a.Digest(), c.Digest())
}
