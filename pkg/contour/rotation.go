// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package contour

import (
	"fmt"

	"delta-autocal/pkg/errors"
)

// Axis is a firmware tower axis.
type Axis int

const (
	AxisX Axis = iota
	AxisY
	AxisZ
)

// Axes lists the tower axes in firmware order.
var Axes = [3]Axis{AxisX, AxisY, AxisZ}

func (a Axis) String() string {
	switch a {
	case AxisX:
		return "X"
	case AxisY:
		return "Y"
	case AxisZ:
		return "Z"
	}
	return fmt.Sprintf("Axis(%d)", int(a))
}

// ParseAxis accepts x, y or z in either case.
func ParseAxis(s string) (Axis, error) {
	switch s {
	case "x", "X":
		return AxisX, nil
	case "y", "Y":
		return AxisY, nil
	case "z", "Z":
		return AxisZ, nil
	}
	return 0, fmt.Errorf("unknown tower %q", s)
}

// Readings are tower tilts keyed by firmware axis.
type Readings struct {
	Tilt [3]float64
	Cell [3]float64
}

// Rotation maps compass towers onto firmware axes. The stock mounting puts
// X at N, Y at W and Z at E; the other two settings turn that assignment by
// one tower each way.
type Rotation int

const (
	RotationNWE Rotation = iota // X=N Y=W Z=E
	RotationENW                 // X=E Y=N Z=W
	RotationWEN                 // X=W Y=E Z=N
)

// ParseRotation validates a tower flag.
func ParseRotation(flag int) (Rotation, error) {
	if flag < 0 || flag > 2 {
		return 0, errors.ConfigValidationError("autocal", "tower_flag", fmt.Sprintf("must be 0, 1 or 2, got %d", flag))
	}
	return Rotation(flag), nil
}

// Apply assigns compass tilts to axes.
func (r Rotation) Apply(t TowerTilts) Readings {
	tilt := [3]float64{t.N, t.W, t.E}
	cell := [3]float64{t.NCell, t.WCell, t.ECell}
	var out Readings
	for axis, compass := range r.order() {
		out.Tilt[axis] = tilt[compass]
		out.Cell[axis] = cell[compass]
	}
	return out
}

// order gives, for X, Y and Z, the index into (N, W, E).
func (r Rotation) order() [3]int {
	switch r {
	case RotationENW:
		return [3]int{2, 0, 1}
	case RotationWEN:
		return [3]int{1, 2, 0}
	default:
		return [3]int{0, 1, 2}
	}
}
