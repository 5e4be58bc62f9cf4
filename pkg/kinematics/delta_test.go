package kinematics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"delta-autocal/pkg/errors"
	"delta-autocal/pkg/geometry"
)

func TestDeltaRoundTrip(t *testing.T) {
	d, err := NewDelta(63.5, 123)
	require.NoError(t, err)

	for _, p := range []geometry.Point3{
		{X: 0, Y: 0, Z: 0},
		{X: -43.3013, Y: -25, Z: 0.2},
		{X: 50, Y: 0, Z: 10},
		{X: 12.5, Y: -37.5, Z: 120},
	} {
		h, err := d.CarriageHeights(p)
		require.NoError(t, err)
		got := d.Effector(h)
		assert.InDelta(t, p.X, got.X, 1e-9)
		assert.InDelta(t, p.Y, got.Y, 1e-9)
		assert.InDelta(t, p.Z, got.Z, 1e-9)
	}
}

func TestDeltaCenterCarriagesLevel(t *testing.T) {
	d, err := NewDelta(63.5, 123)
	require.NoError(t, err)
	h, err := d.CarriageHeights(geometry.Point3{})
	require.NoError(t, err)
	want := math.Sqrt(123*123 - 63.5*63.5)
	for i := range h {
		assert.InDelta(t, want, h[i], 1e-9)
	}
}

func TestDeltaTowerLayout(t *testing.T) {
	d, err := NewDelta(60, 120)
	require.NoError(t, err)
	x, y := d.Tower(2)
	assert.InDelta(t, 0, x, 1e-9)
	assert.InDelta(t, 60, y, 1e-9)
	assert.InDelta(t, 60, d.ReachRadius(), 1e-9)
}

func TestDeltaRejectsBadGeometry(t *testing.T) {
	_, err := NewDelta(0, 120)
	assert.True(t, errors.IsConfig(err))
	_, err = NewDelta(63.5, 60)
	assert.True(t, errors.IsConfig(err))

	d, err := NewDelta(63.5, 123)
	require.NoError(t, err)
	_, err = d.CarriageHeights(geometry.Point3{X: 300})
	assert.True(t, errors.Is(err, errors.ErrGeometry))
}
