// Probe results and derived deviation sets
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package probe

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"delta-autocal/pkg/geometry"
	"delta-autocal/pkg/pattern"
)

// Point is one probed position with its two tap readings.
type Point struct {
	X, Y float64
	Role pattern.Role
	Z1   float64
	Z2   float64
}

// ZAvg is the mean of both taps, rounded to four decimals.
func (p Point) ZAvg() float64 {
	return geometry.Round4((p.Z1 + p.Z2) / 2)
}

// TapDelta is the second tap minus the first, a repeatability indicator.
func (p Point) TapDelta() float64 {
	return p.Z2 - p.Z1
}

// Set is an ordered probe cycle. Order matches the pattern that produced it.
type Set struct {
	Pattern pattern.Pattern
	Points  []Point
}

// NewSet prepares an empty set positioned on pat's points.
func NewSet(pat pattern.Pattern) *Set {
	pts := pat.Points()
	s := &Set{Pattern: pat, Points: make([]Point, len(pts))}
	for i, p := range pts {
		s.Points[i] = Point{X: p.X, Y: p.Y, Role: p.Role}
	}
	return s
}

// ZAvg returns the averaged heights in probe order.
func (s *Set) ZAvg() []float64 {
	z := make([]float64, len(s.Points))
	for i, p := range s.Points {
		z[i] = p.ZAvg()
	}
	return z
}

// Deviations returns each averaged height minus the median of all of them.
func (s *Set) Deviations() []float64 {
	z := s.ZAvg()
	med := geometry.Median(z)
	floats.AddConst(-med, z)
	return z
}

// TapStats summarises tap-to-tap repeatability across the set.
type TapStats struct {
	Mean   float64
	StdDev float64
	MaxAbs float64
}

// Taps computes repeatability statistics over all points.
func (s *Set) Taps() TapStats {
	if len(s.Points) == 0 {
		return TapStats{}
	}
	d := make([]float64, len(s.Points))
	for i, p := range s.Points {
		d[i] = p.TapDelta()
	}
	var st TapStats
	st.Mean, st.StdDev = stat.MeanStdDev(d, nil)
	if len(d) < 2 {
		st.StdDev = 0
	}
	for _, v := range d {
		st.MaxAbs = math.Max(st.MaxAbs, math.Abs(v))
	}
	return st
}

// ByRole returns the first point carrying role.
func (s *Set) ByRole(role pattern.Role) (Point, bool) {
	for _, p := range s.Points {
		if p.Role == role {
			return p, true
		}
	}
	return Point{}, false
}
