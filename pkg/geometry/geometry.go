// Package geometry holds the small numeric helpers shared by the probe
// pattern, height map and contour code: coordinate conversion, robust
// averages and grid interpolation.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package geometry

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"delta-autocal/pkg/errors"
)

// Point3 is a sample at (X, Y) with height Z.
type Point3 struct {
	X, Y, Z float64
}

// Polar converts a rectangular coordinate to (radius, angle in degrees).
// Points on the axes map to exactly 0, 90, 180 or 270 degrees.
func Polar(x, y float64) (r, theta float64) {
	r = math.Hypot(x, y)
	switch {
	case y == 0 && x >= 0:
		theta = 0
	case y == 0:
		theta = 180
	case x == 0 && y > 0:
		theta = 90
	case x == 0:
		theta = 270
	default:
		theta = math.Atan2(y, x) * 180 / math.Pi
	}
	return r, theta
}

// Rect converts a polar coordinate (degrees) to rectangular.
func Rect(r, theta float64) (x, y float64) {
	rad := theta * math.Pi / 180
	return r * math.Cos(rad), r * math.Sin(rad)
}

// Mean returns the arithmetic mean, or 0 for an empty slice.
func Mean(values []float64) float64 {
	return floats.Sum(values) / float64(max(len(values), 1))
}

// Median returns the middle sorted value, averaging the two middle values
// for even counts. The input is not modified. Empty input yields 0.
func Median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// Round4 rounds to four decimal places, the precision used for every
// reported error term and kinematic value.
func Round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

// LinearInterp returns the value at xq on the line through (x0,z0) and
// (x1,z1).
func LinearInterp(x0, x1, z0, z1, xq float64) (float64, error) {
	if x0 == x1 {
		return 0, errors.GeometryError(fmt.Sprintf("linear interpolation over zero-width span at x=%g", x0))
	}
	return z0 + (z1-z0)*(xq-x0)/(x1-x0), nil
}

// BilinearInterp interpolates at (x, y) from four samples at the corners of
// an axis-aligned rectangle, given in any order. The query must lie inside
// the rectangle, edges included.
func BilinearInterp(x, y float64, pts [4]Point3) (float64, error) {
	x1, x2 := pts[0].X, pts[0].X
	y1, y2 := pts[0].Y, pts[0].Y
	for _, p := range pts[1:] {
		x1, x2 = math.Min(x1, p.X), math.Max(x2, p.X)
		y1, y2 = math.Min(y1, p.Y), math.Max(y2, p.Y)
	}
	if x1 == x2 || y1 == y2 {
		return 0, errors.GeometryError("bilinear samples do not span a rectangle")
	}

	// Each corner must appear exactly once.
	var z [2][2]float64
	var seen [2][2]bool
	for _, p := range pts {
		i, j := -1, -1
		switch p.X {
		case x1:
			i = 0
		case x2:
			i = 1
		}
		switch p.Y {
		case y1:
			j = 0
		case y2:
			j = 1
		}
		if i < 0 || j < 0 || seen[i][j] {
			return 0, errors.GeometryError("bilinear samples do not form a rectangle")
		}
		seen[i][j] = true
		z[i][j] = p.Z
	}

	if x < x1 || x > x2 || y < y1 || y > y2 {
		return 0, errors.GeometryError(fmt.Sprintf("point (%g, %g) outside rectangle [%g,%g]x[%g,%g]", x, y, x1, x2, y1, y2))
	}

	area := (x2 - x1) * (y2 - y1)
	return (z[0][0]*(x2-x)*(y2-y) +
		z[1][0]*(x-x1)*(y2-y) +
		z[0][1]*(x2-x)*(y-y1) +
		z[1][1]*(x-x1)*(y-y1)) / area, nil
}
