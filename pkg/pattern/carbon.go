// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package pattern

// carbonDots is the carbon-paper dot test sequence. The center is revisited
// between groups so drift over the test shows up as a smeared center dot.
var carbonDots = [...]Point{
	{X: 0, Y: 0},
	{X: 0, Y: 50},
	{X: 0, Y: 45},
	{X: 0, Y: 0},
	{X: 0, Y: -50},
	{X: -43.301, Y: -25},
	{X: 0, Y: 0},
	{X: 43.301, Y: 25},
	{X: 43.301, Y: -25},
	{X: 0, Y: 0},
	{X: -43.301, Y: 25},
	{X: 50, Y: 0},
	{X: 0, Y: 0},
	{X: -50, Y: 0},
	{X: -25, Y: -43.301},
	{X: 25, Y: 43.301},
	{X: 25, Y: -43.301},
	{X: -25, Y: 43.301},
}

// CarbonPaperDots returns a copy of the dot test positions.
func CarbonPaperDots() []Point {
	out := make([]Point, len(carbonDots))
	copy(out, carbonDots[:])
	return out
}
