package heightmap

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"delta-autocal/pkg/errors"
	"delta-autocal/pkg/geometry"
	"delta-autocal/pkg/pattern"
)

func denseSamples(f func(x, y float64) float64) []geometry.Point3 {
	var out []geometry.Point3
	for _, p := range pattern.MustParse(pattern.DenseCode).Points() {
		out = append(out, geometry.Point3{X: p.X, Y: p.Y, Z: f(p.X, p.Y)})
	}
	return out
}

func TestCellIndex(t *testing.T) {
	row, col, err := CellIndex(-50, 50)
	require.NoError(t, err)
	assert.Equal(t, [2]int{0, 0}, [2]int{row, col})

	row, col, err = CellIndex(25, -50)
	require.NoError(t, err)
	assert.Equal(t, [2]int{12, 9}, [2]int{row, col})

	row, col, err = CellIndex(0, 0)
	require.NoError(t, err)
	assert.Equal(t, [2]int{6, 6}, [2]int{row, col})

	_, _, err = CellIndex(60, 0)
	assert.True(t, errors.Is(err, errors.ErrGeometry))
}

func TestFindProbePoints(t *testing.T) {
	tests := []struct {
		i       int
		a, b, c int
	}{
		{0, 0, 3, -1},
		{12, 9, 12, -1},
		{6, 3, 6, 9},
		{1, 0, 3, -1},
		{5, 3, 6, -1},
		{11, 9, 12, -1},
	}
	for _, tt := range tests {
		a, b, c := FindProbePoints(tt.i, ProbeSpacing, Size)
		assert.Equal(t, [3]int{tt.a, tt.b, tt.c}, [3]int{a, b, c}, "index %d", tt.i)
	}
}

func TestKnownCellsPreserved(t *testing.T) {
	f := func(x, y float64) float64 { return 0.001*x*y + 0.01*x - 0.02*y }
	samples := denseSamples(f)

	g, err := Build(samples, CornerWeighted)
	require.NoError(t, err)
	for _, s := range samples {
		row, col, err := CellIndex(s.X, s.Y)
		require.NoError(t, err)
		assert.Equal(t, Known, g.State(row, col))
		assert.Equal(t, s.Z, g.At(row, col))
	}
	for row := 0; row < Size; row++ {
		for col := 0; col < Size; col++ {
			assert.NotEqual(t, Empty, g.State(row, col), "cell (%d,%d)", row, col)
		}
	}
}

func TestInterpolationReproducesPlane(t *testing.T) {
	plane := func(x, y float64) float64 { return 0.004*x - 0.002*y + 0.1 }
	g, err := Build(denseSamples(plane), CornerWeighted)
	require.NoError(t, err)

	// Cells whose bracketing probes avoid the extrapolated corners.
	for _, rc := range [][2]int{{3, 4}, {4, 3}, {4, 4}, {7, 8}, {11, 5}, {5, 11}} {
		x, y := CellCenter(rc[0], rc[1])
		assert.InDelta(t, plane(x, y), g.At(rc[0], rc[1]), 1e-12, "cell %v", rc)
	}
}

func TestCornerWeighted(t *testing.T) {
	// Orthogonal neighbours at 1, every other probe at 0.
	f := func(x, y float64) float64 {
		if (x == -50 && y == 25) || (x == -25 && y == 50) {
			return 1
		}
		return 0
	}
	g, err := Build(denseSamples(f), CornerWeighted)
	require.NoError(t, err)
	assert.InDelta(t, 1/math.Sqrt2, g.At(0, 0), 1e-12)
	assert.Equal(t, Derived, g.State(0, 0))
	assert.InDelta(t, 0, g.At(12, 12), 1e-12)
}

func TestCornerLinear(t *testing.T) {
	f := func(x, y float64) float64 {
		if (x == 50 && y == -25) || (x == 25 && y == -50) {
			return 1
		}
		return 0
	}
	g, err := Build(denseSamples(f), CornerLinear)
	require.NoError(t, err)
	assert.InDelta(t, 4.0/3, g.At(12, 12), 1e-12)
}

func TestConstantFieldStaysConstant(t *testing.T) {
	for _, mode := range []CornerMode{CornerWeighted, CornerLinear} {
		g, err := Build(denseSamples(func(x, y float64) float64 { return 0.05 }), mode)
		require.NoError(t, err)
		st := g.Stats()
		assert.InDelta(t, 0.05, st.Min, 1e-12, mode.String())
		assert.InDelta(t, 0, st.Range, 1e-12, mode.String())
	}
}

func TestBuildRejectsBadInput(t *testing.T) {
	samples := denseSamples(func(x, y float64) float64 { return 0 })

	_, err := Build(samples[:20], CornerWeighted)
	assert.True(t, errors.Is(err, errors.ErrGeometry), "missing probe")

	off := append([]geometry.Point3(nil), samples...)
	off[0].X = -20
	_, err = Build(off, CornerWeighted)
	assert.True(t, errors.Is(err, errors.ErrGeometry), "off probe line")

	dup := append(append([]geometry.Point3(nil), samples...), samples[4])
	_, err = Build(dup, CornerWeighted)
	assert.True(t, errors.Is(err, errors.ErrGeometry), "duplicate")
}

func TestParseCornerMode(t *testing.T) {
	m, err := ParseCornerMode("linear")
	require.NoError(t, err)
	assert.Equal(t, CornerLinear, m)
	m, err = ParseCornerMode("")
	require.NoError(t, err)
	assert.Equal(t, CornerWeighted, m)
	_, err = ParseCornerMode("cubic")
	assert.Error(t, err)
}
