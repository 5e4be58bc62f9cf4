// Physical model of a simulated delta printer
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package sim

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"delta-autocal/pkg/geometry"
	"delta-autocal/pkg/kinematics"
)

// Machine is the true geometry of the simulated printer. The firmware
// only knows what it has been told through M665/M666; probe readings
// come from the difference between the two.
type Machine struct {
	Radius    float64
	RodLength float64
	// Endstops are the true endstop errors of X, Y and Z.
	Endstops [3]float64
	// BedTilt is the bed slope in mm per mm along X and Y.
	BedTilt [2]float64
	// Noise is the standard deviation of probe noise in mm.
	Noise float64
}

// DefaultMachine is a perfectly built Mini Delta.
func DefaultMachine() Machine {
	return Machine{Radius: 63.5, RodLength: 123}
}

func (m Machine) bed(x, y float64) float64 {
	return m.BedTilt[0]*x + m.BedTilt[1]*y
}

// firmwareGeometry is the geometry the firmware believes in.
type firmwareGeometry struct {
	radius   float64
	rod      float64
	height   float64
	endstops [3]float64
	trims    [6]float64
}

const (
	contactTolerance = 1e-7
	contactSteps     = 50
)

// probeHeight returns the commanded Z at which the probe touches the bed
// at commanded (x, y).
func probeHeight(m Machine, fw firmwareGeometry, x, y float64, noise *distuv.Normal) (float64, error) {
	cfg, err := kinematics.NewDelta(fw.radius, fw.rod)
	if err != nil {
		return 0, err
	}
	truth, err := kinematics.NewDelta(m.Radius, m.RodLength)
	if err != nil {
		return 0, err
	}

	z := 0.0
	for i := 0; i < contactSteps; i++ {
		h, err := cfg.CarriageHeights(geometry.Point3{X: x, Y: y, Z: z})
		if err != nil {
			return 0, err
		}
		for t := range h {
			h[t] += fw.endstops[t] - m.Endstops[t]
		}
		p := truth.Effector(h)
		gap := p.Z - m.bed(p.X, p.Y)
		if math.Abs(gap) < contactTolerance {
			break
		}
		z -= gap
	}
	if noise != nil {
		z += noise.Rand()
	}
	return z, nil
}
