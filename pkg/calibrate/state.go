// Kinematic state, error terms and the proportional correction step
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package calibrate

import (
	"fmt"
	"math"

	"delta-autocal/pkg/contour"
	"delta-autocal/pkg/errors"
	"delta-autocal/pkg/geometry"
)

// Tower is a firmware tower axis.
type Tower = contour.Axis

const (
	TowerX = contour.AxisX
	TowerY = contour.AxisY
	TowerZ = contour.AxisZ

	// TowerAuto leaves the reference tower to the first probe cycle.
	TowerAuto Tower = -1
)

const (
	// DefaultTolerance is the per-term error below which a pass converges.
	DefaultTolerance = 0.02
	// DefaultLRatio links rod length changes to radius changes.
	DefaultLRatio = 1.5
	// bowlGain scales the center/rim error into a radius change.
	bowlGain = 4.0
)

// KinematicState is the geometry the firmware is told about.
type KinematicState struct {
	Radius    float64
	RodLength float64
	// Offsets are the M666 endstop adjustments for X, Y and Z.
	Offsets [3]float64
	// Trims are the M665 A..F tower trims, carried unchanged.
	Trims [6]float64
}

func (s KinematicState) String() string {
	return fmt.Sprintf("X=%.4f Y=%.4f Z=%.4f R=%.4f L=%.4f",
		s.Offsets[TowerX], s.Offsets[TowerY], s.Offsets[TowerZ], s.Radius, s.RodLength)
}

// ErrorVector holds the per-tower and bowl error of one pass.
type ErrorVector struct {
	Tower [3]float64
	C     float64
}

// ComputeError measures each tower against the reference tower and the
// bed center against its rim. All terms are rounded to four decimals.
func ComputeError(r contour.Readings, bowl contour.BowlStats, high Tower) ErrorVector {
	var ev ErrorVector
	ref := r.Tilt[high]
	for _, t := range contour.Axes {
		ev.Tower[t] = geometry.Round4(r.Tilt[t] - ref)
	}
	ev.C = geometry.Round4(bowl.Center - bowl.OuterRing)
	return ev
}

// MaxAbs is the largest error magnitude.
func (e ErrorVector) MaxAbs() float64 {
	m := math.Abs(e.C)
	for _, v := range e.Tower {
		m = math.Max(m, math.Abs(v))
	}
	return m
}

// Within reports whether every term is below tol.
func (e ErrorVector) Within(tol float64) bool {
	return e.MaxAbs() < tol
}

func (e ErrorVector) String() string {
	return fmt.Sprintf("Z=%.4f X=%.4f Y=%.4f C=%.4f", e.Tower[TowerZ], e.Tower[TowerX], e.Tower[TowerY], e.C)
}

// SelectHighTower picks the tower with the strictly greatest reading.
func SelectHighTower(cells [3]float64) (Tower, error) {
	best := TowerX
	tie := false
	for _, t := range contour.Axes[1:] {
		switch {
		case cells[t] > cells[best]:
			best, tie = t, false
		case cells[t] == cells[best]:
			tie = true
		}
	}
	if tie {
		return TowerAuto, errors.Newf(errors.ErrHighTowerAmbiguous,
			"towers tie for highest reading (X=%.4f Y=%.4f Z=%.4f); set high_tower", cells[0], cells[1], cells[2]).
			SetSection("calibrate")
	}
	return best, nil
}

// SeedHighTower infers the reference tower from starting offsets: after a
// previous run the reference tower is the one left at the greatest offset.
// It reports false when all offsets are zero or no single tower is greatest.
func SeedHighTower(offsets [3]float64) (Tower, bool) {
	if offsets == [3]float64{} {
		return TowerAuto, false
	}
	t, err := SelectHighTower(offsets)
	if err != nil {
		return TowerAuto, false
	}
	return t, true
}

// Adjust applies one proportional correction. Towers outside tolerance
// move by their error (the reference tower is pinned to zero), a bowl
// outside tolerance shrinks or grows the radius, and the rod length
// follows the radius change by lRatio.
func Adjust(s KinematicState, ev ErrorVector, high Tower, lRatio, tol float64) KinematicState {
	next := s
	for _, t := range contour.Axes {
		if math.Abs(ev.Tower[t]) < tol {
			continue
		}
		if t == high {
			next.Offsets[t] = 0
		} else {
			next.Offsets[t] = geometry.Round4(s.Offsets[t] + ev.Tower[t])
		}
	}
	if math.Abs(ev.C) >= tol {
		next.Radius = geometry.Round4(s.Radius - bowlGain*ev.C)
	}
	next.RodLength = geometry.Round4(lRatio*(next.Radius-s.Radius) + s.RodLength)
	return next
}
