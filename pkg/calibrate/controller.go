// Closed-loop calibration controller
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package calibrate drives delta calibration: probe the bed, model its
// shape, measure tower and bowl error, correct the kinematic state and
// repeat until the error is inside tolerance or a stop condition fires.
package calibrate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"delta-autocal/pkg/contour"
	"delta-autocal/pkg/errors"
	"delta-autocal/pkg/heightmap"
	"delta-autocal/pkg/log"
	"delta-autocal/pkg/pattern"
	"delta-autocal/pkg/probe"
)

// Phase is the controller's position in the calibration cycle.
type Phase int

const (
	PhaseInit Phase = iota
	PhaseProbe
	PhaseBuildModel
	PhaseAnalyze
	PhaseError
	PhaseAdjust
	PhaseConverged
	PhaseMaxIterations
	PhaseDiverged
	PhaseFailed
)

var phaseNames = [...]string{
	PhaseInit:          "init",
	PhaseProbe:         "probe",
	PhaseBuildModel:    "build_model",
	PhaseAnalyze:       "analyze",
	PhaseError:         "error",
	PhaseAdjust:        "adjust",
	PhaseConverged:     "converged",
	PhaseMaxIterations: "max_iterations",
	PhaseDiverged:      "diverged",
	PhaseFailed:        "failed",
}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// Terminal reports whether the run has ended.
func (p Phase) Terminal() bool {
	return p >= PhaseConverged
}

// Prober runs one probe cycle over a pattern.
type Prober interface {
	Probe(ctx context.Context, pat pattern.Pattern, pass int) (*probe.Set, error)
}

// Applier sends a kinematic state to the machine.
type Applier interface {
	Apply(ctx context.Context, s KinematicState) error
}

// Observer is told about every phase change and completed pass.
type Observer interface {
	OnPhase(runID string, pass int, phase Phase)
	OnPass(runID string, rec PassRecord)
}

// PassRecord is everything measured in one pass.
type PassRecord struct {
	Pass     int
	State    KinematicState // state the bed was probed with
	Set      *probe.Set
	Grid     *heightmap.Grid // nil for sparse patterns
	Readings contour.Readings
	Bowl     contour.BowlStats
	High     Tower
	Error    ErrorVector
	Next     KinematicState // state applied after this pass
	Duration time.Duration
}

// Config tunes a controller.
type Config struct {
	Pattern    pattern.Pattern
	Rotation   contour.Rotation
	CornerMode heightmap.CornerMode
	MaxRuns    int
	MaxError   float64
	Tolerance  float64
	LRatio     float64
	HighTower  Tower
	Initial    KinematicState
}

// DefaultConfig matches the stock Mini Delta geometry.
func DefaultConfig() Config {
	return Config{
		Pattern:   pattern.MustParse(pattern.FourPointCode),
		MaxRuns:   14,
		MaxError:  1,
		Tolerance: DefaultTolerance,
		LRatio:    DefaultLRatio,
		HighTower: TowerAuto,
		Initial:   KinematicState{Radius: 63.5, RodLength: 123.0},
	}
}

// Run is the record of one calibration.
type Run struct {
	ID         string
	Iterations int
	State      KinematicState
	High       Tower
	Phase      Phase
	History    []PassRecord
}

// Last returns the most recent pass, if any.
func (r *Run) Last() (PassRecord, bool) {
	if len(r.History) == 0 {
		return PassRecord{}, false
	}
	return r.History[len(r.History)-1], true
}

// Controller runs the calibration loop.
type Controller struct {
	cfg       Config
	prober    Prober
	applier   Applier
	observers []Observer
	logger    *log.Logger
}

// NewController validates cfg and wires the machine collaborators.
func NewController(cfg Config, prober Prober, applier Applier, observers ...Observer) (*Controller, error) {
	if cfg.MaxRuns < 1 {
		return nil, errors.ConfigValidationError("autocal", "max_runs", "must be at least 1")
	}
	if cfg.MaxError <= 0 {
		return nil, errors.ConfigValidationError("autocal", "max_error", "must be positive")
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = DefaultTolerance
	}
	if cfg.LRatio == 0 {
		cfg.LRatio = DefaultLRatio
	}
	return &Controller{
		cfg:       cfg,
		prober:    prober,
		applier:   applier,
		observers: observers,
		logger:    log.GetLogger("calibrate"),
	}, nil
}

func (c *Controller) phase(run *Run, pass int, p Phase) {
	run.Phase = p
	for _, o := range c.observers {
		o.OnPhase(run.ID, pass, p)
	}
}

// Run calibrates until convergence. The returned Run is populated even
// when an error ends the calibration early.
func (c *Controller) Run(ctx context.Context) (*Run, error) {
	run := &Run{ID: uuid.NewString(), State: c.cfg.Initial, High: c.cfg.HighTower}
	logger := c.logger.With(log.Fields{"run": run.ID[:8]})
	c.phase(run, 0, PhaseInit)

	if run.High == TowerAuto {
		if t, ok := SeedHighTower(run.State.Offsets); ok {
			run.High = t
			logger.Info("reference tower %s taken from starting offsets", t)
		}
	}
	logger.Info("calibrating with %s pattern, %s", c.cfg.Pattern, run.State)

	for {
		if err := ctx.Err(); err != nil {
			c.phase(run, run.Iterations, PhaseFailed)
			return run, err
		}
		if run.Iterations >= c.cfg.MaxRuns {
			c.phase(run, run.Iterations, PhaseMaxIterations)
			return run, errors.Newf(errors.ErrMaxIterations,
				"not converged after %d passes", run.Iterations).SetSection("calibrate")
		}
		run.Iterations++
		pass := run.Iterations
		start := time.Now()

		rec, err := c.measure(ctx, run, pass)
		if err != nil {
			c.phase(run, pass, PhaseFailed)
			return run, err
		}

		logger.WithFields(log.Fields{
			"pass": pass,
			"high": rec.High.String(),
		}).Infof("error %s", rec.Error)

		if pass > 1 && rec.Error.MaxAbs() > c.cfg.MaxError {
			rec.Next = run.State
			c.record(run, rec, start)
			c.phase(run, pass, PhaseDiverged)
			return run, errors.Newf(errors.ErrDiverged,
				"error %.4f exceeds max_error %.4f on pass %d", rec.Error.MaxAbs(), c.cfg.MaxError, pass).
				SetSection("calibrate")
		}

		if rec.Error.Within(c.cfg.Tolerance) {
			rec.Next = run.State
			c.record(run, rec, start)
			c.phase(run, pass, PhaseConverged)
			logger.Info("converged after %d passes: %s", pass, run.State)
			return run, nil
		}

		c.phase(run, pass, PhaseAdjust)
		next := Adjust(run.State, rec.Error, run.High, c.cfg.LRatio, c.cfg.Tolerance)
		if err := c.applier.Apply(ctx, next); err != nil {
			c.phase(run, pass, PhaseFailed)
			return run, err
		}
		rec.Next = next
		c.record(run, rec, start)
		logger.Debug("applied %s", next)
		run.State = next
	}
}

// measure probes and analyses one pass.
func (c *Controller) measure(ctx context.Context, run *Run, pass int) (PassRecord, error) {
	rec := PassRecord{Pass: pass, State: run.State}

	c.phase(run, pass, PhaseProbe)
	set, err := c.prober.Probe(ctx, c.cfg.Pattern, pass)
	if err != nil {
		return rec, err
	}
	rec.Set = set
	if taps := set.Taps(); taps.MaxAbs > 0 {
		c.logger.Debug("pass %d tap delta mean %.4f sd %.4f max %.4f", pass, taps.Mean, taps.StdDev, taps.MaxAbs)
	}

	c.phase(run, pass, PhaseBuildModel)
	model, grid, err := BuildModel(set, c.cfg.CornerMode)
	if err != nil {
		return rec, err
	}
	rec.Grid = grid

	c.phase(run, pass, PhaseAnalyze)
	rec.Readings = c.cfg.Rotation.Apply(model.TowerTilts())
	rec.Bowl = model.BowlStats()
	if run.High == TowerAuto {
		high, err := SelectHighTower(rec.Readings.Cell)
		if err != nil {
			return rec, err
		}
		run.High = high
		c.logger.Info("highest tower is %s", high)
	}
	rec.High = run.High

	c.phase(run, pass, PhaseError)
	rec.Error = ComputeError(rec.Readings, rec.Bowl, run.High)
	return rec, nil
}

func (c *Controller) record(run *Run, rec PassRecord, start time.Time) {
	rec.Duration = time.Since(start)
	run.History = append(run.History, rec)
	for _, o := range c.observers {
		o.OnPass(run.ID, rec)
	}
}
