package sim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"delta-autocal/pkg/gcode"
	"delta-autocal/pkg/pattern"
)

func probeZ(t *testing.T, p *Printer, x, y float64) float64 {
	t.Helper()
	p.Handle(gcode.Move(x, y))
	out := p.Handle(gcode.ProbeHere())
	require.Len(t, out, 2)
	r, err := gcode.ParseProbeResult(out[0])
	require.NoError(t, err)
	return r.Z
}

func TestPerfectMachineReadsFlat(t *testing.T) {
	p := New(DefaultMachine(), Marlin)
	p.Handle("G28")
	for _, pt := range pattern.MustParse(pattern.FourPointCode).Points() {
		assert.InDelta(t, 0, probeZ(t, p, pt.X, pt.Y), 0.005, pt.Role.String())
	}
}

func TestEndstopErrorTiltsTowardTower(t *testing.T) {
	m := DefaultMachine()
	m.Endstops = [3]float64{-0.3, 0, 0}
	p := New(m, Marlin)
	p.Handle("G28")

	north := probeZ(t, p, -43.3013, -25)
	east := probeZ(t, p, 0, 50)
	assert.Less(t, north, east-0.1)

	// Telling the firmware about the error removes it.
	p.Handle(gcode.SetEndstops([3]float64{-0.3, 0, 0}))
	north = probeZ(t, p, -43.3013, -25)
	east = probeZ(t, p, 0, 50)
	assert.InDelta(t, east, north, 0.01)
}

func TestHandleUpdatesFirmwareGeometry(t *testing.T) {
	p := New(DefaultMachine(), Marlin)
	assert.Equal(t, []string{"ok"}, p.Handle("M665 L122.25 R63 A0.5"))
	p.Handle("M666 X-0.1 Y-0.2 Z0")
	r, l := p.Geometry()
	assert.Equal(t, 63.0, r)
	assert.Equal(t, 122.25, l)
	assert.Equal(t, [3]float64{-0.1, -0.2, 0}, p.Endstops())
	assert.Equal(t, []string{"M665 L122.25 R63 A0.5", "M666 X-0.1 Y-0.2 Z0"}, p.Received())

	out := p.Handle("M999")
	assert.Contains(t, out[0], "Unknown command")
}

func TestStockMacroOutput(t *testing.T) {
	p := New(DefaultMachine(), Stock)
	out := p.Handle("G29 P2 V4")
	// marker, two taps per point, six trailer lines, ok
	require.Len(t, out, 1+2*4+6+1)
	assert.Equal(t, gcode.AutoLevelMarker, out[0])
	r, err := gcode.ParseProbeResult(out[1])
	require.NoError(t, err)
	assert.InDelta(t, 0, r.X, 1e-3)
	assert.InDelta(t, 50, r.Y, 1e-3)

	assert.Contains(t, p.Handle("G30")[0], "Unknown command")
}

func TestG33ConvergesTowardTruth(t *testing.T) {
	m := DefaultMachine()
	m.Endstops = [3]float64{-0.4, -0.2, 0}
	m.Radius = 63.0
	p := New(m, Marlin)

	var last []string
	for i := 0; i < 8; i++ {
		last = p.Handle("G33 P7 F1 V1")
	}
	sd, err := gcode.ParseTaggedFloat(last[3], "std dev")
	require.NoError(t, err)
	assert.Less(t, sd, 0.05)
	ex, err := gcode.ParseTaggedFloat(last[4], "Ex")
	require.NoError(t, err)
	assert.InDelta(t, -0.4, ex, 0.011)
}

func TestPipeWithConn(t *testing.T) {
	p := New(DefaultMachine(), Marlin)
	c := gcode.NewConn(p.Pipe(), gcode.WithLineTimeout(time.Second))
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Exec(ctx, "G28"))
	lines, err := c.Query(ctx, "M109 S200")
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "T:200.0")

	require.NoError(t, c.SendCommand(ctx, "G30"))
	line, err := c.AwaitMarker(ctx, gcode.ProbeMarker)
	require.NoError(t, err)
	r, err := gcode.ParseProbeResult(line)
	require.NoError(t, err)
	assert.InDelta(t, 0, r.Z, 0.005)
}
