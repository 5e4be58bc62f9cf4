package probe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"delta-autocal/pkg/pattern"
)

func TestPointAverages(t *testing.T) {
	p := Point{Z1: 0.12345, Z2: 0.12351}
	assert.Equal(t, 0.1235, p.ZAvg())
	assert.InDelta(t, 0.00006, p.TapDelta(), 1e-12)
}

func TestDeviationsAgainstMedian(t *testing.T) {
	s := NewSet(pattern.MustParse(2))
	require.Len(t, s.Points, 4)
	for i, z := range []float64{0.30, 0.10, 0.20, 0.25} {
		s.Points[i].Z1, s.Points[i].Z2 = z, z
	}

	// Even count: median is the mean of 0.20 and 0.25.
	dz := s.Deviations()
	assert.InDeltaSlice(t, []float64{0.075, -0.125, -0.025, 0.025}, dz, 1e-9)
	assert.Equal(t, 0.30, s.Points[0].ZAvg(), "deviations must not alter readings")
}

func TestNewSetCarriesRoles(t *testing.T) {
	s := NewSet(pattern.MustParse(2550))
	c, ok := s.ByRole(pattern.Center)
	require.True(t, ok)
	assert.Equal(t, 0.0, c.X)
	_, ok = s.ByRole(pattern.Grid)
	assert.False(t, ok)
}

func TestTaps(t *testing.T) {
	s := &Set{Points: []Point{
		{Z1: 0.10, Z2: 0.11},
		{Z1: 0.20, Z2: 0.17},
		{Z1: 0.05, Z2: 0.06},
	}}
	st := s.Taps()
	assert.InDelta(t, -1.0/300, st.Mean, 1e-9)
	assert.InDelta(t, 0.03, st.MaxAbs, 1e-9)
	assert.Greater(t, st.StdDev, 0.0)

	assert.Equal(t, TapStats{}, (&Set{}).Taps())
}
