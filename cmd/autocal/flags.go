package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"

	"delta-autocal/pkg/config"
	"delta-autocal/pkg/errors"
	"delta-autocal/pkg/log"
)

// options are the flags that steer a run rather than describe the printer.
type options struct {
	envFile    string
	configPath string
	jsonPath   string
	saveConfig bool

	g33     bool
	heatmap bool
	carbon  bool
	mesh    bool
	save    bool

	reportDir   string
	logFile     string
	logLevel    string
	monitorAddr string
	metricsAddr string
	listPorts   bool
	trace       bool
}

// overrides hold the values of printer flags; only flags actually given
// on the command line are applied.
type overrides struct {
	x, y, z, r, l, step     float64
	maxRuns, towerFlag, fw  int
	maxError, tolerance     float64
	lRatio, pattern         float64
	bedTemp, hotendTemp     float64
	corner, highTower, port string
	baud, g33Runs           int
	g33StdDev               float64
}

func newFlagSet(opts *options, ov *overrides, output io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("autocal", flag.ContinueOnError)
	fs.SetOutput(output)

	fs.StringVar(&opts.envFile, "env", "", "Environment file read before anything else (AUTOCAL_* variables)")
	fs.StringVar(&opts.configPath, "config", "", "INI configuration file")
	fs.StringVar(&opts.jsonPath, "f", "", "JSON settings file, rewritten after a successful calibration")
	fs.BoolVar(&opts.saveConfig, "save-config", false, "Store the calibrated geometry back into the INI file")
	fs.BoolVar(&opts.g33, "g33", false, "Delegate calibration to the firmware (G33) and tune rod length")
	fs.BoolVar(&opts.heatmap, "heatmap", false, "Probe a dense pattern after a sparse calibration and save its grid")
	fs.BoolVar(&opts.carbon, "carbon", false, "Run the carbon paper dot test after calibrating (Marlin)")
	fs.BoolVar(&opts.mesh, "mesh", false, "Rebuild the firmware mesh and save the M421 dump (Marlin)")
	fs.BoolVar(&opts.save, "save", false, "Save the result to EEPROM with M500")
	fs.StringVar(&opts.reportDir, "report-dir", "", "Directory for pass reports (default from config)")
	fs.StringVar(&opts.logFile, "logfile", "", "Also log to this file, rotated by size")
	fs.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.StringVar(&opts.monitorAddr, "monitor", "", "Serve the websocket status feed on this address")
	fs.StringVar(&opts.metricsAddr, "metrics", "", "Serve Prometheus metrics on this address")
	fs.BoolVar(&opts.listPorts, "list-ports", false, "List candidate serial ports and exit")
	fs.BoolVar(&opts.trace, "trace", false, "Log every line sent to and received from the printer")

	fs.Float64Var(&ov.x, "x", 0, "X endstop offset")
	fs.Float64Var(&ov.y, "y", 0, "Y endstop offset")
	fs.Float64Var(&ov.z, "z", 0, "Z endstop offset")
	fs.Float64Var(&ov.r, "r", 0, "Delta radius")
	fs.Float64Var(&ov.l, "l", 0, "Diagonal rod length")
	fs.Float64Var(&ov.step, "step", 0, "Steps per mm")
	fs.IntVar(&ov.maxRuns, "max-runs", 0, "Maximum calibration passes")
	fs.Float64Var(&ov.maxError, "max-error", 0, "Abort when the error exceeds this after the first pass")
	fs.Float64Var(&ov.tolerance, "tolerance", 0, "Convergence tolerance in mm")
	fs.Float64Var(&ov.lRatio, "l-ratio", 0, "Rod length change per mm of radius change")
	fs.Float64Var(&ov.bedTemp, "bed-temp", 0, "Bed temperature, -1 to leave alone")
	fs.Float64Var(&ov.hotendTemp, "hotend-temp", 0, "Hotend temperature, -1 to leave alone")
	fs.IntVar(&ov.towerFlag, "tower-flag", 0, "Tower rotation: 0, 1 or 2")
	fs.IntVar(&ov.fw, "firmware", 0, "Firmware: 0 stock, 1 Marlin")
	fs.Float64Var(&ov.pattern, "pattern", 0, "Probe pattern code")
	fs.StringVar(&ov.corner, "corner", "", "Grid corner fill: weighted or linear")
	fs.StringVar(&ov.highTower, "high-tower", "", "Reference tower: auto, x, y or z")
	fs.StringVar(&ov.port, "port", "", "Serial device, unix:path or tcp:host:port")
	fs.IntVar(&ov.baud, "baud", 0, "Serial baud rate")
	fs.IntVar(&ov.g33Runs, "g33-runs", 0, "Maximum G33 passes")
	fs.Float64Var(&ov.g33StdDev, "g33-std-dev", 0, "G33 target standard deviation")
	return fs
}

// apply copies the explicitly given printer flags into s.
func (ov *overrides) apply(fs *flag.FlagSet, s *config.Settings) {
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "x":
			s.Offsets[0] = ov.x
		case "y":
			s.Offsets[1] = ov.y
		case "z":
			s.Offsets[2] = ov.z
		case "r":
			s.Radius = ov.r
		case "l":
			s.RodLength = ov.l
		case "step":
			s.StepsPerMM = ov.step
		case "max-runs":
			s.MaxRuns = ov.maxRuns
		case "max-error":
			s.MaxError = ov.maxError
		case "tolerance":
			s.Tolerance = ov.tolerance
		case "l-ratio":
			s.LRatio = ov.lRatio
		case "bed-temp":
			s.BedTemp = ov.bedTemp
		case "hotend-temp":
			s.HotendTemp = ov.hotendTemp
		case "tower-flag":
			s.TowerFlag = ov.towerFlag
		case "firmware":
			s.Firmware = ov.fw
		case "pattern":
			s.Pattern = ov.pattern
		case "corner":
			s.CornerMode = ov.corner
		case "high-tower":
			s.HighTower = ov.highTower
		case "port":
			s.Serial.Port = ov.port
		case "baud":
			s.Serial.Baud = ov.baud
		case "g33-runs":
			s.G33Runs = ov.g33Runs
		case "g33-std-dev":
			s.G33StdDev = ov.g33StdDev
		}
	})
}

// Environment fallbacks, usually kept in the -env file.
const (
	envConfig   = "AUTOCAL_CONFIG"
	envSettings = "AUTOCAL_SETTINGS"
	envPort     = "AUTOCAL_PORT"
)

// loadEnv reads path into the process environment without overriding
// variables already set, then re-reads the logging variables.
func loadEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		return errors.Wrap(err, errors.ErrConfigValidation, "unable to read environment file").SetContext("path", path)
	}
	log.ConfigureFromEnv(log.Root())
	return nil
}

// parseArgs layers defaults, the INI file, the JSON file and the flags.
// AUTOCAL_CONFIG, AUTOCAL_SETTINGS and AUTOCAL_PORT stand in for -config,
// -f and -port when those are not given.
func parseArgs(args []string) (*options, config.Settings, error) {
	opts := &options{}
	ov := &overrides{}
	fs := newFlagSet(opts, ov, os.Stderr)
	if err := fs.Parse(args); err != nil {
		return nil, config.Settings{}, err
	}
	if fs.NArg() > 0 {
		return nil, config.Settings{}, fmt.Errorf("unexpected arguments %v", fs.Args())
	}
	if opts.envFile != "" {
		if err := loadEnv(opts.envFile); err != nil {
			return nil, config.Settings{}, err
		}
	}
	if opts.configPath == "" {
		opts.configPath = os.Getenv(envConfig)
	}
	if opts.jsonPath == "" {
		opts.jsonPath = os.Getenv(envSettings)
	}

	s := config.DefaultSettings()
	if opts.configPath != "" {
		cfg, err := config.Load(opts.configPath)
		if err != nil {
			return nil, s, err
		}
		if err := s.ApplyINI(cfg); err != nil {
			return nil, s, err
		}
		if err := cfg.CheckUnusedOptions(); err != nil {
			return nil, s, err
		}
	}
	if opts.jsonPath != "" {
		if _, err := s.LoadJSON(opts.jsonPath); err != nil {
			return nil, s, err
		}
	}
	if port := os.Getenv(envPort); port != "" && s.Serial.Port == "" {
		s.Serial.Port = port
	}
	ov.apply(fs, &s)
	if opts.reportDir != "" {
		s.ReportDir = opts.reportDir
	}
	return opts, s, nil
}
