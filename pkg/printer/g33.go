package printer

import (
	"context"
	"strings"

	"delta-autocal/pkg/calibrate"
	"delta-autocal/pkg/errors"
	"delta-autocal/pkg/gcode"
)

// G33Points is the probe count for each firmware calibration pass.
const G33Points = 7

// G33Runner lets Marlin calibrate itself with G33 while the host tunes
// rod length. It implements calibrate.FirmwareRunner.
type G33Runner struct {
	s      *Session
	points int
}

// NewG33Runner returns a runner for a Marlin session.
func NewG33Runner(s *Session) (*G33Runner, error) {
	if err := s.requireMarlin("G33 auto-calibration"); err != nil {
		return nil, err
	}
	return &G33Runner{s: s, points: G33Points}, nil
}

// AutoCalibrate runs one G33 pass and parses its report.
func (r *G33Runner) AutoCalibrate(ctx context.Context) (calibrate.FirmwareResult, error) {
	lines, err := r.s.ch.Query(ctx, gcode.AutoCalibrate(r.points))
	if err != nil {
		return calibrate.FirmwareResult{}, err
	}
	return ParseG33Report(lines)
}

// SetRodLength changes only the rod length.
func (r *G33Runner) SetRodLength(ctx context.Context, l float64) error {
	return r.s.exec(ctx, gcode.SetRodLength(l))
}

// Restore loads a previous pass's result back into the firmware.
func (r *G33Runner) Restore(ctx context.Context, res calibrate.FirmwareResult, rodLength float64) error {
	return r.s.execAll(ctx,
		gcode.SetDeltaHeight(rodLength, res.Radius, res.Height),
		gcode.SetEndstops(res.Endstops),
	)
}

// ParseG33Report extracts the deviation and the geometry the firmware
// settled on. The last ".Height" line after the "std dev" line wins.
func ParseG33Report(lines []string) (calibrate.FirmwareResult, error) {
	var res calibrate.FirmwareResult
	var haveDev, haveGeom bool
	for _, line := range lines {
		switch {
		case strings.Contains(line, "std dev"):
			v, err := gcode.ParseTaggedFloat(line, "std dev")
			if err != nil {
				return res, err
			}
			res.StdDev, haveDev, haveGeom = v, true, false
		case haveDev && strings.Contains(line, ".Height"):
			if err := parseG33Geometry(line, &res); err != nil {
				return res, err
			}
			haveGeom = true
		}
	}
	if !haveDev || !haveGeom {
		return res, errors.ProtocolError(strings.Join(lines, " | "), "incomplete G33 report")
	}
	return res, nil
}

func parseG33Geometry(line string, res *calibrate.FirmwareResult) error {
	fields := []struct {
		tag string
		dst *float64
	}{
		{".Height", &res.Height},
		{"Ex", &res.Endstops[0]},
		{"Ey", &res.Endstops[1]},
		{"Ez", &res.Endstops[2]},
		{"Radius", &res.Radius},
	}
	for _, f := range fields {
		v, err := gcode.ParseTaggedFloat(line, f.tag)
		if err != nil {
			return err
		}
		*f.dst = v
	}
	return nil
}
