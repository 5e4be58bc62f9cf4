package printer

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"delta-autocal/pkg/calibrate"
	"delta-autocal/pkg/errors"
	"delta-autocal/pkg/gcode"
	"delta-autocal/pkg/pattern"
	"delta-autocal/pkg/sim"
)

func newSimSession(t *testing.T, m sim.Machine, fw Firmware) (*Session, *sim.Printer) {
	t.Helper()
	flavor := sim.Stock
	if fw == FirmwareMarlin {
		flavor = sim.Marlin
	}
	p := sim.New(m, flavor)
	conn := gcode.NewConn(p.Pipe(), gcode.WithLineTimeout(5*time.Second))
	t.Cleanup(func() { conn.Close() })

	cfg := DefaultSettings()
	cfg.Firmware = fw
	return NewSession(conn, cfg), p
}

func startState() calibrate.KinematicState {
	return calibrate.KinematicState{Radius: 63.5, RodLength: 123}
}

func TestParseFirmware(t *testing.T) {
	fw, err := ParseFirmware(1)
	require.NoError(t, err)
	assert.Equal(t, FirmwareMarlin, fw)
	_, err = ParseFirmware(3)
	assert.True(t, errors.IsConfig(err))
}

func TestSetupMarlinSequence(t *testing.T) {
	s, p := newSimSession(t, sim.DefaultMachine(), FirmwareMarlin)
	s.cfg.BedTemp = 60
	st := startState()
	st.Offsets = [3]float64{0, -0.1, -0.2}
	st.Trims[1] = 0.5

	require.NoError(t, s.Setup(context.Background(), st))
	assert.Equal(t, []string{
		"M140 S60",
		"M92 X57.14 Y57.14 Z57.14",
		"M665 L123 R63.5",
		"M206 X0 Y0 Z0",
		"M421 C",
		"M665 A0 B0.5 C0 D0 E0 F0",
		"M666 X0 Y-0.1 Z-0.2",
		"M665 L123 R63.5",
	}, p.Received())
	assert.Equal(t, [3]float64{0, -0.1, -0.2}, p.Endstops())
}

func TestProbeStockFourPoint(t *testing.T) {
	s, p := newSimSession(t, sim.DefaultMachine(), FirmwareStock)
	set, err := s.Probe(context.Background(), pattern.MustParse(pattern.FourPointCode), 1)
	require.NoError(t, err)
	require.Len(t, set.Points, 4)
	for _, pt := range set.Points {
		assert.InDelta(t, 0, pt.ZAvg(), 0.002, pt.Role.String())
	}
	assert.Contains(t, p.Received(), "G29 P2 V4")
}

func TestProbeStockRejectsRing(t *testing.T) {
	s, _ := newSimSession(t, sim.DefaultMachine(), FirmwareStock)
	_, err := s.Probe(context.Background(), pattern.MustParse(2550), 1)
	assert.True(t, errors.Is(err, errors.ErrPattern))
	_, err = s.Probe(context.Background(), pattern.MustParse(-pattern.FourPointCode), 1)
	assert.True(t, errors.Is(err, errors.ErrPattern))
}

func TestProbeMarlinRing(t *testing.T) {
	m := sim.DefaultMachine()
	m.Endstops = [3]float64{-0.3, 0, 0}
	s, p := newSimSession(t, m, FirmwareMarlin)

	set, err := s.Probe(context.Background(), pattern.MustParse(2550), 1)
	require.NoError(t, err)
	require.Len(t, set.Points, 16)
	north, ok := set.ByRole(pattern.North)
	require.True(t, ok)
	east, ok := set.ByRole(pattern.East)
	require.True(t, ok)
	assert.Less(t, north.ZAvg(), east.ZAvg()-0.1)

	taps := 0
	for _, c := range p.Received() {
		if c == "G30" {
			taps++
		}
	}
	assert.Equal(t, 32, taps)
}

func TestCalibrationAgainstSimulator(t *testing.T) {
	for _, fw := range []Firmware{FirmwareStock, FirmwareMarlin} {
		t.Run(fw.String(), func(t *testing.T) {
			m := sim.DefaultMachine()
			m.Endstops = [3]float64{-0.3, -0.1, 0}
			s, p := newSimSession(t, m, fw)
			ctx := context.Background()
			require.NoError(t, s.Setup(ctx, startState()))

			cfg := calibrate.DefaultConfig()
			c, err := calibrate.NewController(cfg, s, s)
			require.NoError(t, err)
			run, err := c.Run(ctx)
			require.NoError(t, err)

			assert.Equal(t, calibrate.PhaseConverged, run.Phase)
			assert.Equal(t, calibrate.TowerZ, run.High)
			got := p.Endstops()
			for i := range got {
				assert.InDelta(t, m.Endstops[i], got[i], 0.04)
			}
		})
	}
}

func TestParseG33Report(t *testing.T) {
	res, err := ParseG33Report([]string{
		"G33 Auto Calibrate",
		".Height:120.00    Ex:+0.00  Ey:+0.00  Ez:+0.00    Radius:63.50",
		"Iteration : 01                                std dev:0.085",
		".Height:120.00    Ex:-0.20  Ey:-0.10  Ez:+0.00    Radius:63.25",
		"Calibration OK",
	})
	require.NoError(t, err)
	assert.Equal(t, calibrate.FirmwareResult{
		StdDev: 0.085, Height: 120, Radius: 63.25, Endstops: [3]float64{-0.2, -0.1, 0},
	}, res)

	_, err = ParseG33Report([]string{".Height:120.00 Ex:0 Ey:0 Ez:0 Radius:63"})
	assert.True(t, errors.Is(err, errors.ErrProtocol))
}

func TestG33LoopAgainstSimulator(t *testing.T) {
	m := sim.Machine{Radius: 63, RodLength: 122.25, Endstops: [3]float64{-0.4, -0.2, 0}}
	s, p := newSimSession(t, m, FirmwareMarlin)
	ctx := context.Background()
	require.NoError(t, s.Setup(ctx, startState()))

	runner, err := NewG33Runner(s)
	require.NoError(t, err)
	out, err := calibrate.RunFirmwareLoop(ctx, calibrate.FirmwareConfig{
		MaxRuns:      12,
		TargetStdDev: 0.02,
		LRatio:       calibrate.DefaultLRatio,
		Initial:      startState(),
	}, runner)
	require.NoError(t, err)
	assert.Less(t, out.Best.StdDev, 0.05)

	restored := false
	for _, c := range p.Received() {
		if strings.HasPrefix(c, "M665 L") && strings.Contains(c, " H") {
			restored = true
		}
	}
	assert.True(t, restored, "best result must be restored")
}

func TestMarlinOnlyActions(t *testing.T) {
	s, _ := newSimSession(t, sim.DefaultMachine(), FirmwareStock)
	ctx := context.Background()
	_, err := NewG33Runner(s)
	assert.True(t, errors.Is(err, errors.ErrRuntime))
	_, err = s.MeshDump(ctx, startState())
	assert.True(t, errors.Is(err, errors.ErrRuntime))
	assert.True(t, errors.Is(s.CarbonPaperTest(ctx), errors.ErrRuntime))
}

func TestPostActionsMarlin(t *testing.T) {
	s, p := newSimSession(t, sim.DefaultMachine(), FirmwareMarlin)
	ctx := context.Background()

	require.NoError(t, s.CarbonPaperTest(ctx))
	rep, err := s.MeshDump(ctx, startState())
	require.NoError(t, err)
	require.Len(t, rep.Lines, 8)
	assert.Contains(t, rep.Lines[0], gcode.MeshMarker)
	require.NoError(t, s.Save(ctx))
	assert.Equal(t, 1, p.Saves())

	taps := 0
	for _, c := range p.Received() {
		if c == "G30" {
			taps++
		}
	}
	assert.Equal(t, len(pattern.CarbonPaperDots()), taps)
}
