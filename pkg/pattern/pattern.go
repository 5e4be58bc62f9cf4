// Probe pattern selection and point generation
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package pattern generates the bed positions probed on each calibration
// pass. A pattern is chosen by the numeric code given on the command line:
// 5 selects the dense 21-point grid, 2 and -2 a four-point pattern at 50 or
// 25 mm, and any other NNMM code a four-point pattern at NN mm plus a
// 12-point ring at MM mm.
package pattern

import (
	"fmt"
	"math"

	"delta-autocal/pkg/errors"
	"delta-autocal/pkg/geometry"
)

// Role tags what a probed point stands for.
type Role int

const (
	Grid Role = iota
	North
	West
	East
	Center
	Ring
)

func (r Role) String() string {
	switch r {
	case North:
		return "N"
	case West:
		return "W"
	case East:
		return "E"
	case Center:
		return "C"
	case Ring:
		return "ring"
	default:
		return "grid"
	}
}

// Point is a machine XY position to probe.
type Point struct {
	X, Y float64
	Role Role
}

// Kind is the family a pattern belongs to.
type Kind int

const (
	Dense Kind = iota
	FourPoint
	TowerRing
)

func (k Kind) String() string {
	switch k {
	case Dense:
		return "dense"
	case FourPoint:
		return "four-point"
	default:
		return "tower-ring"
	}
}

// Tower angles in degrees, counter-clockwise from +X.
const (
	EastAngle  = 90.0
	NorthAngle = -150.0
	WestAngle  = -30.0
)

const (
	DenseCode      = 5.0
	FourPointCode  = 2.0
	defaultRadius  = 50.0
	shortRadius    = 25.0
	ringPoints     = 12
	ringAngleStep  = 15.0
	maxProbeRadius = 60.0
)

// DenseX and DenseY are the 21 positions, in the order the stock
// firmware's G29 P5 macro probes them.
var (
	DenseX = [21]float64{-25, 0, 25, 50, 25, 0, -25, -50, -50, -25, 0, 25, 50, 50, 25, 0, -25, -50, -25, 0, 25}
	DenseY = [21]float64{-50, -50, -50, -25, -25, -25, -25, -25, 0, 0, 0, 0, 0, 25, 25, 25, 25, 25, 50, 50, 50}
)

// Pattern is a parsed pattern selector.
type Pattern struct {
	Code       float64
	Kind       Kind
	Radius     float64 // tower radius for FourPoint and TowerRing
	RingRadius float64 // outer ring radius for TowerRing
}

// Parse decodes a pattern code.
func Parse(code float64) (Pattern, error) {
	switch code {
	case DenseCode:
		return Pattern{Code: code, Kind: Dense}, nil
	case FourPointCode:
		return Pattern{Code: code, Kind: FourPoint, Radius: defaultRadius}, nil
	case -FourPointCode:
		return Pattern{Code: code, Kind: FourPoint, Radius: shortRadius}, nil
	}

	inner := math.Trunc(code / 100)
	outer := math.Abs(code - 100*inner)
	if inner <= 0 || outer <= 0 {
		return Pattern{}, errors.PatternError(fmt.Sprintf("pattern code %g does not select a pattern", code))
	}
	if inner > maxProbeRadius || outer > maxProbeRadius {
		return Pattern{}, errors.PatternError(fmt.Sprintf("pattern code %g exceeds the %g mm probe radius", code, maxProbeRadius))
	}
	return Pattern{Code: code, Kind: TowerRing, Radius: inner, RingRadius: outer}, nil
}

// MustParse is Parse for constant codes.
func MustParse(code float64) Pattern {
	p, err := Parse(code)
	if err != nil {
		panic(err)
	}
	return p
}

// IsDense reports whether the pattern feeds the height map builder.
func (p Pattern) IsDense() bool {
	return p.Kind == Dense
}

// Len returns the number of probe points.
func (p Pattern) Len() int {
	switch p.Kind {
	case Dense:
		return len(DenseX)
	case FourPoint:
		return 4
	default:
		return 4 + ringPoints
	}
}

// Points returns the probe positions in probing order. Tower points come
// first in East, North, West order, followed by the center.
func (p Pattern) Points() []Point {
	if p.Kind == Dense {
		pts := make([]Point, len(DenseX))
		for i := range DenseX {
			pts[i] = Point{X: DenseX[i], Y: DenseY[i], Role: Grid}
		}
		return pts
	}

	pts := make([]Point, 0, p.Len())
	pts = append(pts,
		towerPoint(p.Radius, EastAngle, East),
		towerPoint(p.Radius, NorthAngle, North),
		towerPoint(p.Radius, WestAngle, West),
		Point{Role: Center},
	)
	if p.Kind == TowerRing {
		for i := 0; i < ringPoints; i++ {
			x, y := geometry.Rect(p.RingRadius, float64(i)*ringAngleStep)
			pts = append(pts, Point{X: x, Y: y, Role: Ring})
		}
	}
	return pts
}

func towerPoint(radius, angle float64, role Role) Point {
	x, y := geometry.Rect(radius, angle)
	return Point{X: x, Y: y, Role: role}
}

// StockMacro is the stock firmware G29 macro probing this pattern, or ""
// when the stock firmware has no macro for it.
func (p Pattern) StockMacro() string {
	switch {
	case p.Kind == Dense:
		return "G29 P5 V4"
	case p.Kind == FourPoint && p.Radius == defaultRadius:
		return "G29 P2 V4"
	default:
		return ""
	}
}

func (p Pattern) String() string {
	switch p.Kind {
	case Dense:
		return "dense 21-point"
	case FourPoint:
		return fmt.Sprintf("four-point r=%g", p.Radius)
	default:
		return fmt.Sprintf("tower-ring r=%g ring=%g", p.Radius, p.RingRadius)
	}
}
