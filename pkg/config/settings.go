// Calibration settings: defaults, INI sections and the JSON settings file
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"delta-autocal/pkg/calibrate"
	"delta-autocal/pkg/contour"
	"delta-autocal/pkg/errors"
	"delta-autocal/pkg/heightmap"
	"delta-autocal/pkg/pattern"
	"delta-autocal/pkg/printer"
)

// Section names.
const (
	SectionAutocal = "autocal"
	SectionSerial  = "serial"
)

// SerialSettings describe the printer link.
type SerialSettings struct {
	Port        string
	Baud        int
	LineTimeout time.Duration
	// ParityReset toggles odd parity on open, which unsticks the USB
	// bridge of some Mini Delta boards.
	ParityReset bool
}

// Settings is the merged configuration of one autocal invocation.
type Settings struct {
	Offsets    [3]float64
	Radius     float64
	RodLength  float64
	Trims      [6]float64
	StepsPerMM float64

	MaxRuns   int
	MaxError  float64
	Tolerance float64
	LRatio    float64

	BedTemp    float64
	HotendTemp float64
	Firmware   int
	TowerFlag  int
	Pattern    float64
	CornerMode string
	HighTower  string

	G33Runs   int
	G33StdDev float64

	ReportDir string
	Serial    SerialSettings
}

// DefaultSettings are the Mini Delta factory values.
func DefaultSettings() Settings {
	return Settings{
		Radius:     63.5,
		RodLength:  123.0,
		StepsPerMM: 57.14,
		MaxRuns:    14,
		MaxError:   1,
		Tolerance:  calibrate.DefaultTolerance,
		LRatio:     calibrate.DefaultLRatio,
		BedTemp:    -1,
		HotendTemp: -1,
		Pattern:    pattern.FourPointCode,
		CornerMode: heightmap.CornerWeighted.String(),
		HighTower:  "auto",
		G33Runs:    10,
		G33StdDev:  0.02,
		ReportDir:  ".",
		Serial: SerialSettings{
			Baud:        115200,
			LineTimeout: 60 * time.Second,
			ParityReset: true,
		},
	}
}

var trimKeys = [6]string{"trim_a", "trim_b", "trim_c", "trim_d", "trim_e", "trim_f"}

var offsetKeys = [3]string{"offset_x", "offset_y", "offset_z"}

// ApplyINI overlays the [autocal] and [serial] sections of cfg. Absent
// options keep their current value; absent sections are skipped.
func (s *Settings) ApplyINI(cfg *Config) error {
	if sec := cfg.GetSectionOptional(SectionAutocal); sec != nil {
		if err := s.applyAutocal(sec); err != nil {
			return err
		}
	}
	if sec := cfg.GetSectionOptional(SectionSerial); sec != nil {
		if err := s.applySerial(sec); err != nil {
			return err
		}
	}
	return nil
}

func (s *Settings) applyAutocal(sec *Section) error {
	var err error
	positive := 0.0
	floats := []struct {
		key string
		dst *float64
	}{
		{"max_error", &s.MaxError},
		{"tolerance", &s.Tolerance},
		{"l_ratio", &s.LRatio},
		{"bed_temp", &s.BedTemp},
		{"hotend_temp", &s.HotendTemp},
		{"pattern", &s.Pattern},
		{"g33_std_dev", &s.G33StdDev},
	}
	for i, key := range offsetKeys {
		if s.Offsets[i], err = sec.GetFloat(key, s.Offsets[i]); err != nil {
			return err
		}
	}
	for i, key := range trimKeys {
		if s.Trims[i], err = sec.GetFloat(key, s.Trims[i]); err != nil {
			return err
		}
	}
	if s.Radius, err = sec.GetFloatWithBounds("radius", FloatBounds{Above: &positive}, s.Radius); err != nil {
		return err
	}
	if s.RodLength, err = sec.GetFloatWithBounds("rod_length", FloatBounds{Above: &positive}, s.RodLength); err != nil {
		return err
	}
	if s.StepsPerMM, err = sec.GetFloatWithBounds("steps_per_mm", FloatBounds{Above: &positive}, s.StepsPerMM); err != nil {
		return err
	}
	for _, f := range floats {
		if *f.dst, err = sec.GetFloat(f.key, *f.dst); err != nil {
			return err
		}
	}
	if s.MaxRuns, err = sec.GetInt("max_runs", s.MaxRuns); err != nil {
		return err
	}
	if s.TowerFlag, err = sec.GetInt("tower_flag", s.TowerFlag); err != nil {
		return err
	}
	if s.G33Runs, err = sec.GetInt("g33_runs", s.G33Runs); err != nil {
		return err
	}
	fw, err := sec.GetChoice("firmware", []string{"stock", "marlin"}, firmwareName(s.Firmware))
	if err != nil {
		return err
	}
	s.Firmware = 0
	if fw == "marlin" {
		s.Firmware = 1
	}
	if s.CornerMode, err = sec.GetChoice("corner_mode", []string{"weighted", "linear"}, s.CornerMode); err != nil {
		return err
	}
	if s.HighTower, err = sec.GetChoice("high_tower", []string{"auto", "x", "y", "z"}, s.HighTower); err != nil {
		return err
	}
	s.ReportDir, err = sec.Get("report_dir", s.ReportDir)
	return err
}

func (s *Settings) applySerial(sec *Section) error {
	var err error
	if s.Serial.Port, err = sec.Get("port", s.Serial.Port); err != nil {
		return err
	}
	if s.Serial.Baud, err = sec.GetInt("baud", s.Serial.Baud); err != nil {
		return err
	}
	zero := 0.0
	secs, err := sec.GetFloatWithBounds("line_timeout", FloatBounds{MinVal: &zero}, s.Serial.LineTimeout.Seconds())
	if err != nil {
		return err
	}
	s.Serial.LineTimeout = time.Duration(secs * float64(time.Second))
	s.Serial.ParityReset, err = sec.GetBool("parity_reset", s.Serial.ParityReset)
	return err
}

func firmwareName(flag int) string {
	if flag == 1 {
		return "marlin"
	}
	return "stock"
}

// jsonSettings is the settings file layout. Keys are the historic ones
// so files written by older tools keep loading.
type jsonSettings struct {
	X         *float64 `json:"x,omitempty"`
	Y         *float64 `json:"y,omitempty"`
	Z         *float64 `json:"z,omitempty"`
	R         *float64 `json:"r,omitempty"`
	L         *float64 `json:"l,omitempty"`
	Step      *float64 `json:"step,omitempty"`
	MaxRuns   *int     `json:"max_runs,omitempty"`
	MaxError  *float64 `json:"max_error,omitempty"`
	BedTemp   *float64 `json:"bed_temp,omitempty"`
	TowerFlag *int     `json:"tower_flag,omitempty"`
	FirmFlag  *int     `json:"firmFlag,omitempty"`
}

// ApplyJSON overlays a settings file. Keys missing from the file keep
// their current value.
func (s *Settings) ApplyJSON(r io.Reader) error {
	var js jsonSettings
	if err := json.NewDecoder(r).Decode(&js); err != nil {
		return errors.Wrap(err, errors.ErrConfigType, "malformed settings file")
	}
	setF := func(dst *float64, v *float64) {
		if v != nil {
			*dst = *v
		}
	}
	setI := func(dst *int, v *int) {
		if v != nil {
			*dst = *v
		}
	}
	setF(&s.Offsets[0], js.X)
	setF(&s.Offsets[1], js.Y)
	setF(&s.Offsets[2], js.Z)
	setF(&s.Radius, js.R)
	setF(&s.RodLength, js.L)
	setF(&s.StepsPerMM, js.Step)
	setI(&s.MaxRuns, js.MaxRuns)
	setF(&s.MaxError, js.MaxError)
	setF(&s.BedTemp, js.BedTemp)
	setI(&s.TowerFlag, js.TowerFlag)
	setI(&s.Firmware, js.FirmFlag)
	return nil
}

// LoadJSON overlays the settings file at path. A missing file is not an
// error; it reports false so the caller knows nothing was read.
func (s *Settings) LoadJSON(path string) (bool, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, errors.ErrRuntime, "cannot open settings file").SetContext("path", path)
	}
	defer f.Close()
	if err := s.ApplyJSON(f); err != nil {
		return false, err
	}
	return true, nil
}

// WriteJSON writes every settings-file key.
func (s Settings) WriteJSON(w io.Writer) error {
	js := jsonSettings{
		X: &s.Offsets[0], Y: &s.Offsets[1], Z: &s.Offsets[2],
		R: &s.Radius, L: &s.RodLength, Step: &s.StepsPerMM,
		MaxRuns: &s.MaxRuns, MaxError: &s.MaxError, BedTemp: &s.BedTemp,
		TowerFlag: &s.TowerFlag, FirmFlag: &s.Firmware,
	}
	return json.NewEncoder(w).Encode(js)
}

// SaveJSON replaces the settings file at path.
func (s Settings) SaveJSON(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, errors.ErrRuntime, "cannot write settings file").SetContext("path", path)
	}
	if err := s.WriteJSON(f); err != nil {
		f.Close()
		return errors.Wrap(err, errors.ErrRuntime, "cannot write settings file").SetContext("path", path)
	}
	return f.Close()
}

// StoreINI records the calibrated geometry in the [autocal] section.
func (s Settings) StoreINI(ac *AutosaveConfig) {
	format := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	for i, key := range offsetKeys {
		ac.SetOption(SectionAutocal, key, format(s.Offsets[i]))
	}
	ac.SetOption(SectionAutocal, "radius", format(s.Radius))
	ac.SetOption(SectionAutocal, "rod_length", format(s.RodLength))
}

// State is the starting kinematic state.
func (s Settings) State() calibrate.KinematicState {
	return calibrate.KinematicState{
		Radius:    s.Radius,
		RodLength: s.RodLength,
		Offsets:   s.Offsets,
		Trims:     s.Trims,
	}
}

// SetState copies a calibrated state back.
func (s *Settings) SetState(st calibrate.KinematicState) {
	s.Radius, s.RodLength, s.Offsets, s.Trims = st.Radius, st.RodLength, st.Offsets, st.Trims
}

// Calibration builds and validates the controller configuration.
func (s Settings) Calibration() (calibrate.Config, error) {
	cfg := calibrate.DefaultConfig()
	pat, err := pattern.Parse(s.Pattern)
	if err != nil {
		return cfg, err
	}
	rot, err := contour.ParseRotation(s.TowerFlag)
	if err != nil {
		return cfg, err
	}
	mode, err := heightmap.ParseCornerMode(strings.ToLower(s.CornerMode))
	if err != nil {
		return cfg, errors.ConfigValidationError(SectionAutocal, "corner_mode", err.Error())
	}
	high := calibrate.TowerAuto
	if !strings.EqualFold(s.HighTower, "auto") && s.HighTower != "" {
		if high, err = contour.ParseAxis(s.HighTower); err != nil {
			return cfg, errors.ConfigValidationError(SectionAutocal, "high_tower", err.Error())
		}
	}
	if s.Radius <= 0 || s.RodLength <= s.Radius {
		return cfg, errors.ConfigValidationError(SectionAutocal, "rod_length",
			fmt.Sprintf("need 0 < radius < rod length, got R%g L%g", s.Radius, s.RodLength))
	}

	cfg.Pattern = pat
	cfg.Rotation = rot
	cfg.CornerMode = mode
	cfg.HighTower = high
	cfg.MaxRuns = s.MaxRuns
	cfg.MaxError = s.MaxError
	cfg.Tolerance = s.Tolerance
	cfg.LRatio = s.LRatio
	cfg.Initial = s.State()
	return cfg, nil
}

// Machine returns the printer session settings.
func (s Settings) Machine() (printer.Settings, error) {
	fw, err := printer.ParseFirmware(s.Firmware)
	if err != nil {
		return printer.Settings{}, err
	}
	return printer.Settings{
		Firmware:   fw,
		BedTemp:    s.BedTemp,
		HotendTemp: s.HotendTemp,
		StepsPerMM: s.StepsPerMM,
	}, nil
}

// FirmwareLoop returns the G33 loop configuration.
func (s Settings) FirmwareLoop() calibrate.FirmwareConfig {
	return calibrate.FirmwareConfig{
		MaxRuns:      s.G33Runs,
		TargetStdDev: s.G33StdDev,
		LRatio:       s.LRatio,
		Initial:      s.State(),
	}
}
