// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package calibrate

import (
	"delta-autocal/pkg/contour"
	"delta-autocal/pkg/geometry"
	"delta-autocal/pkg/heightmap"
	"delta-autocal/pkg/pattern"
	"delta-autocal/pkg/probe"
)

// BuildModel turns a probe cycle into a height model. Dense cycles go
// through the height map; the grid is returned for reporting and is nil
// for sparse cycles.
func BuildModel(set *probe.Set, mode heightmap.CornerMode) (contour.HeightModel, *heightmap.Grid, error) {
	dz := set.Deviations()

	if set.Pattern.IsDense() {
		samples := make([]geometry.Point3, len(set.Points))
		for i, p := range set.Points {
			samples[i] = geometry.Point3{X: p.X, Y: p.Y, Z: dz[i]}
		}
		g, err := heightmap.Build(samples, mode)
		if err != nil {
			return nil, nil, err
		}
		return contour.NewGridModel(g), g, nil
	}

	roles := make([]pattern.Role, len(set.Points))
	for i, p := range set.Points {
		roles[i] = p.Role
	}
	m, err := contour.NewDirectModel(roles, dz)
	if err != nil {
		return nil, nil, err
	}
	return m, nil, nil
}
