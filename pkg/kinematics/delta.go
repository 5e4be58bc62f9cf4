// Delta kinematics for linear delta printers.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package kinematics holds the linear delta geometry used to simulate
// how endstop, radius and rod length errors show up as bed height.
package kinematics

import (
	"fmt"
	"math"

	"delta-autocal/pkg/errors"
	"delta-autocal/pkg/geometry"
)

// TowerAngles are the tower positions in degrees for X, Y and Z.
var TowerAngles = [3]float64{210, 330, 90}

// Delta has three towers at 120 degree intervals. Each tower has a
// carriage that moves up and down, connected to the effector by a rod.
type Delta struct {
	Radius    float64
	RodLength float64

	rod2   float64
	towers [3][2]float64
}

// NewDelta builds the geometry for a delta radius and rod length.
func NewDelta(radius, rodLength float64) (*Delta, error) {
	if radius <= 0 {
		return nil, errors.ConfigValidationError("printer", "delta_radius", "must be positive")
	}
	if rodLength <= radius {
		return nil, errors.ConfigValidationError("printer", "rod_length",
			fmt.Sprintf("%.4f must be greater than radius %.4f", rodLength, radius))
	}
	d := &Delta{Radius: radius, RodLength: rodLength, rod2: rodLength * rodLength}
	for i, angle := range TowerAngles {
		rad := angle * math.Pi / 180.0
		d.towers[i] = [2]float64{math.Cos(rad) * radius, math.Sin(rad) * radius}
	}
	return d, nil
}

// Tower returns the XY position of tower i.
func (d *Delta) Tower(i int) (x, y float64) {
	return d.towers[i][0], d.towers[i][1]
}

// ReachRadius is the largest XY distance from center the effector can
// reach at any height.
func (d *Delta) ReachRadius() float64 {
	return d.RodLength - d.Radius
}

// CarriageHeights is the inverse kinematics: the carriage height on each
// tower that puts the effector at p.
func (d *Delta) CarriageHeights(p geometry.Point3) ([3]float64, error) {
	var h [3]float64
	for i, t := range d.towers {
		dx := t[0] - p.X
		dy := t[1] - p.Y
		r2 := d.rod2 - dx*dx - dy*dy
		if r2 < 0 {
			return h, errors.GeometryError(fmt.Sprintf("(%.3f, %.3f) is out of reach of tower %d", p.X, p.Y, i))
		}
		h[i] = math.Sqrt(r2) + p.Z
	}
	return h, nil
}

// Effector is the forward kinematics: where the effector sits for the
// given carriage heights.
func (d *Delta) Effector(h [3]float64) geometry.Point3 {
	return trilateration(d.towers, h, d.rod2)
}

// trilateration finds the lower intersection of three spheres of radius
// sqrt(arm2) centred on (tower x, tower y, carriage z).
func trilateration(towers [3][2]float64, spos [3]float64, arm2 float64) geometry.Point3 {
	s1 := vec{towers[0][0], towers[0][1], spos[0]}
	s2 := vec{towers[1][0], towers[1][1], spos[1]}
	s3 := vec{towers[2][0], towers[2][1], spos[2]}

	s21 := s2.sub(s1)
	s31 := s3.sub(s1)

	d := s21.norm()
	ex := s21.scale(1 / d)
	i := ex.dot(s31)
	vectEy := s31.sub(ex.scale(i))
	ey := vectEy.scale(1 / vectEy.norm())
	ez := ex.cross(ey)
	j := ey.dot(s31)

	// Equal arm lengths, so arm2 terms cancel in x and y.
	x := d / 2
	y := (-x*x + (x-i)*(x-i) + j*j) / (2.0 * j)
	z := -math.Sqrt(arm2 - x*x - y*y)

	r := s1.add(ex.scale(x)).add(ey.scale(y)).add(ez.scale(z))
	return geometry.Point3{X: r[0], Y: r[1], Z: r[2]}
}

type vec [3]float64

func (a vec) add(b vec) vec { return vec{a[0] + b[0], a[1] + b[1], a[2] + b[2]} }
func (a vec) sub(b vec) vec { return vec{a[0] - b[0], a[1] - b[1], a[2] - b[2]} }
func (a vec) scale(k float64) vec { return vec{a[0] * k, a[1] * k, a[2] * k} }
func (a vec) dot(b vec) float64 { return a[0]*b[0] + a[1]*b[1] + a[2]*b[2] }
func (a vec) norm() float64 { return math.Sqrt(a.dot(a)) }

func (a vec) cross(b vec) vec {
	return vec{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}
