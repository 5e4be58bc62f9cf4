// Printer session: machine setup, probing and post-calibration actions
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package printer speaks to a delta printer over a gcode channel. It
// turns calibration requests into the command sequences the stock and
// Marlin firmwares understand.
package printer

import (
	"context"
	"fmt"

	"delta-autocal/pkg/calibrate"
	"delta-autocal/pkg/errors"
	"delta-autocal/pkg/gcode"
	"delta-autocal/pkg/log"
	"delta-autocal/pkg/pattern"
	"delta-autocal/pkg/probe"
)

// Firmware identifies the printer firmware. The numeric values match the
// historic firmFlag setting.
type Firmware int

const (
	FirmwareStock  Firmware = 0
	FirmwareMarlin Firmware = 1
)

// ParseFirmware maps a firmFlag value to a Firmware.
func ParseFirmware(flag int) (Firmware, error) {
	switch Firmware(flag) {
	case FirmwareStock, FirmwareMarlin:
		return Firmware(flag), nil
	}
	return 0, errors.ConfigValidationError("autocal", "firmware",
		fmt.Sprintf("unknown firmware flag %d (0 = stock, 1 = Marlin)", flag))
}

func (f Firmware) String() string {
	if f == FirmwareMarlin {
		return "marlin"
	}
	return "stock"
}

// Channel is the gcode surface a Session needs.
type Channel interface {
	gcode.Channel
	Query(ctx context.Context, text string) ([]string, error)
}

// Settings are the machine-level options of a session.
type Settings struct {
	Firmware Firmware
	// BedTemp and HotendTemp are set before probing; negative skips.
	BedTemp    float64
	HotendTemp float64
	StepsPerMM float64
}

// DefaultSettings are the Mini Delta stock values.
func DefaultSettings() Settings {
	return Settings{
		Firmware:   FirmwareStock,
		BedTemp:    -1,
		HotendTemp: -1,
		StepsPerMM: 57.14,
	}
}

const (
	safeHeight     = 15.0
	safeFeed       = 6000.0
	stockTrailLine = 6
	meshReportRows = 7
)

// Session drives one printer. It is not safe for concurrent use.
type Session struct {
	ch     Channel
	cfg    Settings
	logger *log.Logger
}

// NewSession wraps ch.
func NewSession(ch Channel, cfg Settings) *Session {
	return &Session{ch: ch, cfg: cfg, logger: log.GetLogger("printer")}
}

// Firmware returns the firmware the session talks to.
func (s *Session) Firmware() Firmware {
	return s.cfg.Firmware
}

func (s *Session) exec(ctx context.Context, cmd string) error {
	_, err := s.ch.Query(ctx, cmd)
	return err
}

func (s *Session) execAll(ctx context.Context, cmds ...string) error {
	for _, c := range cmds {
		if err := s.exec(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) requireMarlin(what string) error {
	if s.cfg.Firmware != FirmwareMarlin {
		return errors.Newf(errors.ErrRuntime, "%s needs Marlin firmware", what).SetSection("printer")
	}
	return nil
}

// heat sets the bed target and waits for the hotend, as configured.
func (s *Session) heat(ctx context.Context) error {
	if s.cfg.BedTemp >= 0 {
		if err := s.exec(ctx, gcode.SetBedTemp(s.cfg.BedTemp)); err != nil {
			return err
		}
	}
	if s.cfg.HotendTemp >= 0 {
		if err := s.exec(ctx, gcode.WaitHotendTemp(s.cfg.HotendTemp)); err != nil {
			return err
		}
	}
	return nil
}

// Setup prepares the printer and loads the starting kinematic state.
func (s *Session) Setup(ctx context.Context, st calibrate.KinematicState) error {
	s.logger.Info("setting up %s firmware, steps/mm %g", s.cfg.Firmware, s.cfg.StepsPerMM)
	if err := s.heat(ctx); err != nil {
		return err
	}
	if err := s.execAll(ctx,
		gcode.SetStepsPerMM(s.cfg.StepsPerMM),
		gcode.SetDelta(st.RodLength, st.Radius),
	); err != nil {
		return err
	}
	if s.cfg.Firmware == FirmwareMarlin {
		if err := s.execAll(ctx,
			gcode.ClearHomeOffsets(),
			gcode.ClearMesh(),
			gcode.SetTrims(st.Trims),
		); err != nil {
			return err
		}
	}
	return s.Apply(ctx, st)
}

// Apply sends endstop offsets, rod length and radius.
func (s *Session) Apply(ctx context.Context, st calibrate.KinematicState) error {
	s.logger.Debug("applying %s", st)
	return s.execAll(ctx,
		gcode.SetEndstops(st.Offsets),
		gcode.SetDelta(st.RodLength, st.Radius),
	)
}

// Supports reports whether the firmware can probe pat.
func (s *Session) Supports(pat pattern.Pattern) error {
	if s.cfg.Firmware == FirmwareStock && pat.StockMacro() == "" {
		return errors.PatternError(fmt.Sprintf("stock firmware can only probe its G29 P2/P5 patterns, not %s", pat)).
			SetSection("printer")
	}
	return nil
}

// Probe runs one probe cycle over pat, tapping every point twice.
func (s *Session) Probe(ctx context.Context, pat pattern.Pattern, pass int) (*probe.Set, error) {
	if err := s.Supports(pat); err != nil {
		return nil, err
	}
	if err := s.heat(ctx); err != nil {
		return nil, err
	}
	s.logger.Info("pass %d: probing %d points (%s)", pass, pat.Len(), pat)

	set := probe.NewSet(pat)
	var err error
	if s.cfg.Firmware == FirmwareMarlin {
		err = s.probeMarlin(ctx, set)
	} else {
		err = s.probeStock(ctx, set, pat.StockMacro())
	}
	if err != nil {
		return nil, err
	}
	for _, p := range set.Points {
		s.logger.WithFields(log.Fields{"x": p.X, "y": p.Y, "role": p.Role.String()}).
			Debugf("z1=%.3f z2=%.3f", p.Z1, p.Z2)
	}
	return set, nil
}

func (s *Session) probeStock(ctx context.Context, set *probe.Set, macro string) error {
	if err := s.exec(ctx, gcode.Home()); err != nil {
		return err
	}
	if err := s.ch.SendCommand(ctx, macro); err != nil {
		return err
	}
	if _, err := s.ch.AwaitMarker(ctx, gcode.AutoLevelMarker); err != nil {
		return err
	}
	for i := range set.Points {
		z1, err := s.readProbe(ctx)
		if err != nil {
			return err
		}
		z2, err := s.readProbe(ctx)
		if err != nil {
			return err
		}
		set.Points[i].Z1, set.Points[i].Z2 = z1, z2
	}
	for i := 0; i < stockTrailLine; i++ {
		if _, err := s.ch.ReadLine(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) probeMarlin(ctx context.Context, set *probe.Set) error {
	if err := s.execAll(ctx, gcode.Home(), gcode.MoveZ(safeHeight, safeFeed)); err != nil {
		return err
	}
	for i, p := range set.Points {
		if err := s.exec(ctx, gcode.Move(p.X, p.Y)); err != nil {
			return err
		}
		z1, err := s.tap(ctx)
		if err != nil {
			return err
		}
		z2, err := s.tap(ctx)
		if err != nil {
			return err
		}
		set.Points[i].Z1, set.Points[i].Z2 = z1, z2
	}
	return nil
}

// tap probes at the current position with G30.
func (s *Session) tap(ctx context.Context) (float64, error) {
	if err := s.ch.SendCommand(ctx, gcode.ProbeHere()); err != nil {
		return 0, err
	}
	z, err := s.readProbe(ctx)
	if err != nil {
		return 0, err
	}
	// G30 acknowledges after its report.
	_, err = s.ch.AwaitMarker(ctx, "ok")
	return z, err
}

func (s *Session) readProbe(ctx context.Context) (float64, error) {
	line, err := s.ch.AwaitMarker(ctx, gcode.ProbeMarker)
	if err != nil {
		return 0, err
	}
	r, err := gcode.ParseProbeResult(line)
	if err != nil {
		return 0, err
	}
	return r.Z, nil
}

// Home homes all towers.
func (s *Session) Home(ctx context.Context) error {
	return s.exec(ctx, gcode.Home())
}

// Save stores the firmware settings with M500.
func (s *Session) Save(ctx context.Context) error {
	s.logger.Info("saving settings with M500")
	return s.exec(ctx, gcode.SaveSettings())
}

// CarbonPaperTest presses the probe onto a sheet of carbon paper at a
// fixed set of dots so the nozzle imprints show how level the bed is.
func (s *Session) CarbonPaperTest(ctx context.Context) error {
	if err := s.requireMarlin("carbon paper test"); err != nil {
		return err
	}
	if s.cfg.HotendTemp >= 0 {
		if err := s.exec(ctx, gcode.WaitHotendTemp(s.cfg.HotendTemp)); err != nil {
			return err
		}
	}
	if err := s.execAll(ctx,
		gcode.ProbeSettings(),
		gcode.Home(),
		gcode.AbsolutePositioning(),
		gcode.TravelZFeed(10, 5000),
	); err != nil {
		return err
	}
	dots := pattern.CarbonPaperDots()
	for i, d := range dots {
		if err := s.exec(ctx, gcode.Travel(d.X, d.Y)); err != nil {
			return err
		}
		if _, err := s.tap(ctx); err != nil {
			return err
		}
		if err := s.exec(ctx, gcode.TravelZ(10)); err != nil {
			return err
		}
		s.logger.Debug("carbon dot %d/%d at (%g, %g)", i+1, len(dots), d.X, d.Y)
	}
	return s.Home(ctx)
}

// MeshReport is the firmware's bilinear mesh listing as printed by M421.
type MeshReport struct {
	State calibrate.KinematicState
	Lines []string
}

// MeshDump rebuilds the Marlin mesh with G29 and reads it back with M421.
func (s *Session) MeshDump(ctx context.Context, st calibrate.KinematicState) (*MeshReport, error) {
	if err := s.requireMarlin("mesh dump"); err != nil {
		return nil, err
	}
	if err := s.execAll(ctx, gcode.MeshLevel(), gcode.Home()); err != nil {
		return nil, err
	}
	if err := s.ch.SendCommand(ctx, gcode.DumpMesh()); err != nil {
		return nil, err
	}
	first, err := s.ch.AwaitMarker(ctx, gcode.MeshMarker)
	if err != nil {
		return nil, err
	}
	rep := &MeshReport{State: st, Lines: []string{first}}
	for i := 0; i < meshReportRows; i++ {
		line, err := s.ch.ReadLine(ctx)
		if err != nil {
			return nil, err
		}
		rep.Lines = append(rep.Lines, line)
	}
	if _, err := s.ch.AwaitMarker(ctx, "ok"); err != nil {
		return nil, err
	}
	return rep, nil
}
