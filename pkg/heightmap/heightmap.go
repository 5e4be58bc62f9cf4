// Dense height map reconstruction
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package heightmap expands the 21 dense probe deviations into a 13x13
// grid covering the 100x100 mm probe square. Probe points land on every
// third row and column. The four corners, which the probe cannot reach,
// are extrapolated from their neighbours, and every other cell is
// interpolated from the probe lines around it.
package heightmap

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"delta-autocal/pkg/errors"
	"delta-autocal/pkg/geometry"
)

const (
	Size         = 13
	ProbeSpacing = 3
	ProbePitch   = 25.0
	XStart       = -50.0
	YStart       = 50.0
	CellPitch    = ProbePitch / ProbeSpacing
)

// CellState records how a cell got its value.
type CellState uint8

const (
	Empty CellState = iota
	Known
	Derived
)

// CornerMode selects the corner extrapolation rule.
type CornerMode int

const (
	// CornerWeighted blends the two orthogonal neighbours and the diagonal.
	CornerWeighted CornerMode = iota
	// CornerLinear projects the neighbourhood slope out along the diagonal.
	CornerLinear
)

// ParseCornerMode maps "weighted" and "linear"; empty selects weighted.
func ParseCornerMode(s string) (CornerMode, error) {
	switch s {
	case "", "weighted":
		return CornerWeighted, nil
	case "linear":
		return CornerLinear, nil
	}
	return CornerWeighted, fmt.Errorf("unknown corner mode %q", s)
}

func (m CornerMode) String() string {
	if m == CornerLinear {
		return "linear"
	}
	return "weighted"
}

// Grid is the 13x13 height map. Row 0 is the +Y edge.
type Grid struct {
	z     [Size][Size]float64
	state [Size][Size]CellState
}

// CellIndex maps a machine position to its grid cell.
func CellIndex(x, y float64) (row, col int, err error) {
	row = int(math.Round(math.Abs(y-YStart) / CellPitch))
	col = int(math.Round(math.Abs(x-XStart) / CellPitch))
	if x < XStart-CellPitch/2 || y > YStart+CellPitch/2 || row >= Size || col >= Size {
		return 0, 0, errors.GeometryError(fmt.Sprintf("position (%g, %g) is outside the height map", x, y))
	}
	return row, col, nil
}

// CellCenter returns the machine position of a cell.
func CellCenter(row, col int) (x, y float64) {
	return XStart + float64(col)*CellPitch, YStart - float64(row)*CellPitch
}

// At returns the height of a cell.
func (g *Grid) At(row, col int) float64 {
	return g.z[row][col]
}

// State returns how a cell was filled.
func (g *Grid) State(row, col int) CellState {
	return g.state[row][col]
}

// Rows returns a copy of the heights, row by row.
func (g *Grid) Rows() [][]float64 {
	out := make([][]float64, Size)
	for r := range out {
		out[r] = append([]float64(nil), g.z[r][:]...)
	}
	return out
}

// Stats summarises a built grid.
type Stats struct {
	Min, Max, Range, Mean float64
}

// Stats returns min, max, range and mean over all cells.
func (g *Grid) Stats() Stats {
	all := make([]float64, 0, Size*Size)
	for r := range g.z {
		all = append(all, g.z[r][:]...)
	}
	s := Stats{Min: floats.Min(all), Max: floats.Max(all), Mean: geometry.Mean(all)}
	s.Range = s.Max - s.Min
	return s
}

// Build places the dense deviations on the grid and fills the rest.
// Each sample must fall on a probe-line intersection, and all 21
// reachable intersections must be present.
func Build(samples []geometry.Point3, mode CornerMode) (*Grid, error) {
	g := &Grid{}
	for _, s := range samples {
		row, col, err := CellIndex(s.X, s.Y)
		if err != nil {
			return nil, err
		}
		if row%ProbeSpacing != 0 || col%ProbeSpacing != 0 {
			return nil, errors.GeometryError(fmt.Sprintf("probe (%g, %g) is off the probe lines", s.X, s.Y))
		}
		if g.state[row][col] != Empty {
			return nil, errors.GeometryError(fmt.Sprintf("probe (%g, %g) placed twice", s.X, s.Y))
		}
		g.z[row][col] = s.Z
		g.state[row][col] = Known
	}
	for row := 0; row < Size; row += ProbeSpacing {
		for col := 0; col < Size; col += ProbeSpacing {
			if g.state[row][col] == Empty && !isCorner(row, col) {
				return nil, errors.GeometryError(fmt.Sprintf("missing probe at cell (%d, %d)", row, col))
			}
		}
	}

	g.fillCorners(mode)
	if err := g.interpolate(); err != nil {
		return nil, err
	}
	return g, nil
}

func isCorner(row, col int) bool {
	return (row == 0 || row == Size-1) && (col == 0 || col == Size-1)
}

var (
	diagPitch = math.Sqrt2 * ProbePitch
	// orthWeight applies to each orthogonal neighbour, diagWeight to the
	// diagonal one; they sum to 1.
	orthWeight = (ProbePitch + 0.5*(diagPitch-ProbePitch)) / (2*ProbePitch + diagPitch)
	diagWeight = 1 - 2*orthWeight
)

func (g *Grid) fillCorners(mode CornerMode) {
	last := Size - 1
	for _, c := range [4][2]int{{0, 0}, {0, last}, {last, last}, {last, 0}} {
		row, col := c[0], c[1]
		dr, dc := ProbeSpacing, ProbeSpacing
		if row == last {
			dr = -ProbeSpacing
		}
		if col == last {
			dc = -ProbeSpacing
		}
		zRow := g.z[row+dr][col]
		zCol := g.z[row][col+dc]
		zDiag := g.z[row+dr][col+dc]

		var z float64
		switch mode {
		case CornerLinear:
			avg := (zRow + zCol + zDiag) / 3
			slope := (avg - zDiag) / (0.5 * diagPitch)
			z = slope*diagPitch + zDiag
		default:
			z = orthWeight*zRow + orthWeight*zCol + diagWeight*zDiag
		}
		g.z[row][col] = z
		g.state[row][col] = Derived
	}
}

// FindProbePoints returns the probe-line indices bracketing index i on an
// axis of n cells with probes every spacing cells. For an index on a probe
// line the result is (prev, i, next), collapsing to the two valid lines at
// either edge. The third value is -1 when unused.
func FindProbePoints(i, spacing, n int) (int, int, int) {
	rem := i % spacing
	switch {
	case rem == 0 && i == 0:
		return 0, spacing, -1
	case rem == 0 && i == n-1:
		return n - 1 - spacing, n - 1, -1
	case rem == 0:
		return i - spacing, i, i + spacing
	default:
		return i - rem, i - rem + spacing, -1
	}
}

func (g *Grid) interpolate() error {
	for row := 0; row < Size; row++ {
		for col := 0; col < Size; col++ {
			if g.state[row][col] != Empty {
				continue
			}
			z, err := g.interpolateCell(row, col)
			if err != nil {
				return err
			}
			g.z[row][col] = z
			g.state[row][col] = Derived
		}
	}
	return nil
}

func (g *Grid) interpolateCell(row, col int) (float64, error) {
	x, y := CellCenter(row, col)

	switch {
	case row%ProbeSpacing == 0:
		c1, c2, _ := FindProbePoints(col, ProbeSpacing, Size)
		x1, _ := CellCenter(row, c1)
		x2, _ := CellCenter(row, c2)
		return geometry.LinearInterp(x1, x2, g.z[row][c1], g.z[row][c2], x)
	case col%ProbeSpacing == 0:
		r1, r2, _ := FindProbePoints(row, ProbeSpacing, Size)
		_, y1 := CellCenter(r1, col)
		_, y2 := CellCenter(r2, col)
		return geometry.LinearInterp(y1, y2, g.z[r1][col], g.z[r2][col], y)
	}

	r1, r2, _ := FindProbePoints(row, ProbeSpacing, Size)
	c1, c2, _ := FindProbePoints(col, ProbeSpacing, Size)
	var pts [4]geometry.Point3
	for i, rc := range [4][2]int{{r1, c1}, {r1, c2}, {r2, c1}, {r2, c2}} {
		px, py := CellCenter(rc[0], rc[1])
		pts[i] = geometry.Point3{X: px, Y: py, Z: g.z[rc[0]][rc[1]]}
	}
	return geometry.BilinearInterp(x, y, pts)
}
