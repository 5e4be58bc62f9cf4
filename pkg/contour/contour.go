// Tower tilt and bowl analysis
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package contour turns probe deviations into the quantities the
// calibration controller corrects: how high the bed reads near each tower
// and how much the bed bowls between center and rim.
package contour

import (
	"fmt"

	"delta-autocal/pkg/errors"
	"delta-autocal/pkg/geometry"
	"delta-autocal/pkg/heightmap"
	"delta-autocal/pkg/pattern"
)

// TowerTilts are bed heights near the three towers by compass position.
// N, W and E average a small neighbourhood; the Cell values are the
// single readings used to pick the reference tower.
type TowerTilts struct {
	N, W, E             float64
	NCell, WCell, ECell float64
}

// BowlStats compares the bed center with its outer ring.
type BowlStats struct {
	Center    float64
	OuterRing float64
}

// Bowl is center minus outer ring.
func (b BowlStats) Bowl() float64 {
	return b.Center - b.OuterRing
}

// HeightModel is the bed shape a probe cycle describes.
type HeightModel interface {
	TowerTilts() TowerTilts
	BowlStats() BowlStats
}

// GridModel reads tilts and bowl from a dense height map.
type GridModel struct {
	grid *heightmap.Grid
}

// NewGridModel wraps a built height map.
func NewGridModel(g *heightmap.Grid) *GridModel {
	return &GridModel{grid: g}
}

// Grid returns the underlying height map.
func (m *GridModel) Grid() *heightmap.Grid {
	return m.grid
}

// Tower sample positions on the height map edge.
var (
	northPos = [2]float64{heightmap.XStart, -heightmap.YStart / 2}
	westPos  = [2]float64{-heightmap.XStart, -heightmap.YStart / 2}
	eastPos  = [2]float64{0, heightmap.YStart}
)

func mustCell(pos [2]float64) (int, int) {
	row, col, err := heightmap.CellIndex(pos[0], pos[1])
	if err != nil {
		panic(err)
	}
	return row, col
}

func (m *GridModel) mean(cells [][2]int) float64 {
	vals := make([]float64, len(cells))
	for i, c := range cells {
		vals[i] = m.grid.At(c[0], c[1])
	}
	return geometry.Mean(vals)
}

// TowerTilts averages five cells inward of the N and W towers and six
// cells below the E tower.
func (m *GridModel) TowerTilts() TowerTilts {
	var t TowerTilts

	r, c := mustCell(northPos)
	t.NCell = m.grid.At(r, c)
	t.N = m.mean([][2]int{{r, c}, {r - 1, c}, {r, c + 1}, {r + 1, c + 1}, {r - 1, c + 1}})

	r, c = mustCell(westPos)
	t.WCell = m.grid.At(r, c)
	t.W = m.mean([][2]int{{r, c}, {r - 1, c}, {r - 1, c - 1}, {r, c - 1}, {r + 1, c - 1}})

	r, c = mustCell(eastPos)
	t.ECell = m.grid.At(r, c)
	t.E = m.mean([][2]int{{r, c}, {r, c + 1}, {r, c - 1}, {r + 1, c}, {r + 1, c + 1}, {r + 1, c - 1}})

	return t
}

// BowlStats uses the 3x3 block at the center and the median of the twelve
// probe-line cells on the map edges.
func (m *GridModel) BowlStats() BowlStats {
	r, c := mustCell([2]float64{0, 0})
	var center [][2]int
	for dr := -1; dr <= 1; dr++ {
		for dc := -1; dc <= 1; dc++ {
			center = append(center, [2]int{r + dr, c + dc})
		}
	}

	last := heightmap.Size - 1
	s := heightmap.ProbeSpacing
	var ring []float64
	for _, i := range []int{c - s, c, c + s} {
		ring = append(ring, m.grid.At(i, 0), m.grid.At(i, last))
	}
	for _, j := range []int{r - s, r, r + s} {
		ring = append(ring, m.grid.At(0, j), m.grid.At(last, j))
	}

	return BowlStats{Center: m.mean(center), OuterRing: geometry.Median(ring)}
}

// DirectModel reads tilts and bowl straight from a sparse probe cycle.
type DirectModel struct {
	tilts TowerTilts
	bowl  BowlStats
}

// NewDirectModel builds a model from per-point deviations and the role of
// each point. The three towers and the center must all be present. With
// ring points the outer ring is their median, otherwise the tower mean.
func NewDirectModel(roles []pattern.Role, dz []float64) (*DirectModel, error) {
	if len(roles) != len(dz) {
		return nil, errors.GeometryError(fmt.Sprintf("%d roles for %d deviations", len(roles), len(dz)))
	}
	byRole := make(map[pattern.Role]float64, 4)
	var ring []float64
	for i, role := range roles {
		if role == pattern.Ring {
			ring = append(ring, dz[i])
			continue
		}
		byRole[role] = dz[i]
	}
	for _, want := range []pattern.Role{pattern.North, pattern.West, pattern.East, pattern.Center} {
		if _, ok := byRole[want]; !ok {
			return nil, errors.GeometryError(fmt.Sprintf("probe cycle has no %s point", want))
		}
	}

	n, w, e := byRole[pattern.North], byRole[pattern.West], byRole[pattern.East]
	m := &DirectModel{
		tilts: TowerTilts{N: n, W: w, E: e, NCell: n, WCell: w, ECell: e},
		bowl:  BowlStats{Center: byRole[pattern.Center]},
	}
	if len(ring) > 0 {
		m.bowl.OuterRing = geometry.Median(ring)
	} else {
		m.bowl.OuterRing = geometry.Mean([]float64{n, w, e})
	}
	return m, nil
}

func (m *DirectModel) TowerTilts() TowerTilts { return m.tilts }
func (m *DirectModel) BowlStats() BowlStats   { return m.bowl }
