package geometry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"delta-autocal/pkg/errors"
)

func TestPolarAxes(t *testing.T) {
	tests := []struct {
		x, y     float64
		r, theta float64
	}{
		{5, 0, 5, 0},
		{0, 0, 0, 0},
		{-5, 0, 5, 180},
		{0, 5, 5, 90},
		{0, -5, 5, 270},
		{1, 1, math.Sqrt2, 45},
		{-1, -1, math.Sqrt2, -135},
	}
	for _, tt := range tests {
		r, theta := Polar(tt.x, tt.y)
		assert.InDelta(t, tt.r, r, 1e-9, "r(%g,%g)", tt.x, tt.y)
		assert.InDelta(t, tt.theta, theta, 1e-9, "theta(%g,%g)", tt.x, tt.y)
	}
}

func TestRectRoundTrip(t *testing.T) {
	x, y := Rect(50, -150)
	assert.InDelta(t, -43.30127, x, 1e-5)
	assert.InDelta(t, -25.0, y, 1e-9)

	r, theta := Polar(x, y)
	assert.InDelta(t, 50, r, 1e-9)
	assert.InDelta(t, -150, theta, 1e-9)
}

func TestMedian(t *testing.T) {
	assert.Equal(t, 2.0, Median([]float64{3, 1, 2}))
	assert.Equal(t, 2.5, Median([]float64{4, 1, 3, 2}))
	assert.Equal(t, 0.0, Median(nil))

	in := []float64{3, 1, 2}
	Median(in)
	assert.Equal(t, []float64{3, 1, 2}, in, "input must not be reordered")
}

func TestMean(t *testing.T) {
	assert.Equal(t, 0.0, Mean(nil))
	assert.InDelta(t, 0.1, Mean([]float64{0.1, 0.2, 0.0}), 1e-12)
}

func TestRound4(t *testing.T) {
	assert.Equal(t, -0.15, Round4(-0.150049))
	assert.Equal(t, 63.1234, Round4(63.12344))
}

func TestLinearInterp(t *testing.T) {
	z, err := LinearInterp(0, 25, 0.1, 0.4, 25.0/3)
	require.NoError(t, err)
	assert.InDelta(t, 0.2, z, 1e-12)

	_, err = LinearInterp(5, 5, 0, 1, 5)
	assert.True(t, errors.Is(err, errors.ErrGeometry))
}

func TestBilinearInterp(t *testing.T) {
	pts := [4]Point3{{10, 4, 100}, {20, 4, 200}, {10, 6, 150}, {20, 6, 300}}

	z, err := BilinearInterp(12, 5.5, pts)
	require.NoError(t, err)
	assert.InDelta(t, 165.0, z, 1e-9)

	corner, err := BilinearInterp(20, 6, pts)
	require.NoError(t, err)
	assert.InDelta(t, 300.0, corner, 1e-9)

	_, err = BilinearInterp(25, 5.5, pts)
	assert.True(t, errors.Is(err, errors.ErrGeometry))
}

func TestBilinearInterpRejectsNonRectangle(t *testing.T) {
	dup := [4]Point3{{10, 4, 1}, {10, 4, 2}, {20, 6, 3}, {20, 6, 4}}
	_, err := BilinearInterp(15, 5, dup)
	assert.True(t, errors.Is(err, errors.ErrGeometry))

	skew := [4]Point3{{10, 4, 1}, {20, 4, 2}, {15, 6, 3}, {20, 6, 4}}
	_, err = BilinearInterp(15, 5, skew)
	assert.True(t, errors.Is(err, errors.ErrGeometry))
}
