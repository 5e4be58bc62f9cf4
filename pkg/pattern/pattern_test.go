package pattern

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"delta-autocal/pkg/errors"
)

func TestParseSelectors(t *testing.T) {
	tests := []struct {
		code   float64
		kind   Kind
		radius float64
		ring   float64
		n      int
	}{
		{5, Dense, 0, 0, 21},
		{2, FourPoint, 50, 0, 4},
		{-2, FourPoint, 25, 0, 4},
		{2550, TowerRing, 25, 50, 16},
		{2537.5, TowerRing, 25, 37.5, 16},
	}
	for _, tt := range tests {
		p, err := Parse(tt.code)
		require.NoError(t, err, "code %g", tt.code)
		assert.Equal(t, tt.kind, p.Kind, "code %g", tt.code)
		assert.Equal(t, tt.radius, p.Radius, "code %g", tt.code)
		assert.InDelta(t, tt.ring, p.RingRadius, 1e-9, "code %g", tt.code)
		assert.Len(t, p.Points(), tt.n, "code %g", tt.code)
		assert.Equal(t, tt.n, p.Len())
	}
}

func TestParseRejectsNonsense(t *testing.T) {
	for _, code := range []float64{0, 1, 3, 50, -2550, 9950} {
		_, err := Parse(code)
		assert.True(t, errors.Is(err, errors.ErrPattern), "code %g", code)
	}
}

func TestDenseMatchesFirmwareOrder(t *testing.T) {
	pts := MustParse(5).Points()
	assert.Equal(t, Point{X: -25, Y: -50}, pts[0])
	assert.Equal(t, Point{X: 0, Y: 0}, pts[10])
	assert.Equal(t, Point{X: 25, Y: 50}, pts[20])
	for _, p := range pts {
		assert.Equal(t, Grid, p.Role)
	}
}

func TestFourPointTowers(t *testing.T) {
	pts := MustParse(2).Points()
	require.Len(t, pts, 4)

	assert.Equal(t, East, pts[0].Role)
	assert.InDelta(t, 0, pts[0].X, 1e-9)
	assert.InDelta(t, 50, pts[0].Y, 1e-9)

	assert.Equal(t, North, pts[1].Role)
	assert.InDelta(t, -43.30127, pts[1].X, 1e-5)
	assert.InDelta(t, -25, pts[1].Y, 1e-9)

	assert.Equal(t, West, pts[2].Role)
	assert.InDelta(t, 43.30127, pts[2].X, 1e-5)
	assert.InDelta(t, -25, pts[2].Y, 1e-9)

	assert.Equal(t, Point{Role: Center}, pts[3])
}

func TestRingPoints(t *testing.T) {
	pts := MustParse(2550).Points()
	ring := pts[4:]
	require.Len(t, ring, 12)
	assert.InDelta(t, 50, ring[0].X, 1e-9)
	assert.InDelta(t, 0, ring[0].Y, 1e-9)
	assert.InDelta(t, 0, ring[6].X, 1e-9)
	assert.InDelta(t, 50, ring[6].Y, 1e-9)
	for _, p := range ring {
		assert.Equal(t, Ring, p.Role)
	}
}

func TestStockMacro(t *testing.T) {
	assert.Equal(t, "G29 P5 V4", MustParse(5).StockMacro())
	assert.Equal(t, "G29 P2 V4", MustParse(2).StockMacro())
	assert.Empty(t, MustParse(-2).StockMacro())
	assert.Empty(t, MustParse(2550).StockMacro())
}

func TestCarbonPaperDotsIsCopy(t *testing.T) {
	dots := CarbonPaperDots()
	require.Len(t, dots, 18)
	dots[0].X = 99
	assert.Equal(t, 0.0, CarbonPaperDots()[0].X)
}
