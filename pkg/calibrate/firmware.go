// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package calibrate

import (
	"context"
	"math"

	"delta-autocal/pkg/errors"
	"delta-autocal/pkg/geometry"
	"delta-autocal/pkg/log"
)

// FirmwareResult is what one firmware auto-calibration pass (G33) reports.
type FirmwareResult struct {
	StdDev   float64
	Height   float64
	Radius   float64
	Endstops [3]float64
}

// FirmwareRunner drives a firmware that calibrates itself. The firmware
// solves endstops, radius and height; rod length stays with the host.
type FirmwareRunner interface {
	AutoCalibrate(ctx context.Context) (FirmwareResult, error)
	SetRodLength(ctx context.Context, l float64) error
	Restore(ctx context.Context, res FirmwareResult, rodLength float64) error
}

// StopReason says why the firmware loop ended.
type StopReason int

const (
	StopConverged StopReason = iota
	StopStalled
	StopIterationLimit
)

func (r StopReason) String() string {
	switch r {
	case StopConverged:
		return "converged"
	case StopStalled:
		return "stalled"
	default:
		return "iteration limit"
	}
}

// FirmwareConfig tunes the firmware-delegated loop.
type FirmwareConfig struct {
	MaxRuns      int
	TargetStdDev float64
	LRatio       float64
	Initial      KinematicState
}

// FirmwareOutcome summarises a firmware-delegated calibration.
type FirmwareOutcome struct {
	Iterations    int
	Reason        StopReason
	Best          FirmwareResult
	BestRodLength float64
	History       []FirmwareResult
}

// rodLengthEpsilon is the smallest rod length change that counts.
const rodLengthEpsilon = 1e-4

// RunFirmwareLoop repeats firmware auto-calibration while tuning rod
// length from the radius the firmware settles on. It stops once the
// deviation is under target with rod length unchanged, when the firmware
// repeats itself for two passes, or at MaxRuns. The best pass seen is
// restored before returning.
func RunFirmwareLoop(ctx context.Context, cfg FirmwareConfig, fw FirmwareRunner) (*FirmwareOutcome, error) {
	if cfg.MaxRuns < 1 {
		return nil, errors.ConfigValidationError("autocal", "max_runs", "must be at least 1")
	}
	if cfg.LRatio == 0 {
		cfg.LRatio = DefaultLRatio
	}
	logger := log.GetLogger("g33")

	out := &FirmwareOutcome{BestRodLength: cfg.Initial.RodLength}
	rod := cfg.Initial.RodLength
	prevRadius := cfg.Initial.Radius

	for {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		out.Iterations++
		res, err := fw.AutoCalibrate(ctx)
		if err != nil {
			return out, errors.Wrap(err, errors.ErrFirmwareCalibration, "G33 pass failed").SetSection("g33")
		}
		out.History = append(out.History, res)
		if out.Iterations == 1 || res.StdDev < out.Best.StdDev {
			out.Best, out.BestRodLength = res, rod
		}

		nextRod := geometry.Round4(rod + cfg.LRatio*(res.Radius-prevRadius))
		rodChanged := math.Abs(nextRod-rod) >= rodLengthEpsilon
		logger.Info("pass %d std dev %.3f R=%.3f H=%.3f endstops %.2f/%.2f/%.2f L=%.4f",
			out.Iterations, res.StdDev, res.Radius, res.Height,
			res.Endstops[0], res.Endstops[1], res.Endstops[2], rod)

		switch {
		case res.StdDev < cfg.TargetStdDev && !rodChanged:
			out.Reason = StopConverged
		case repeated(out.History):
			out.Reason = StopStalled
		case out.Iterations >= cfg.MaxRuns:
			out.Reason = StopIterationLimit
		default:
			if rodChanged {
				if err := fw.SetRodLength(ctx, nextRod); err != nil {
					return out, err
				}
				rod = nextRod
			}
			prevRadius = res.Radius
			continue
		}

		logger.Info("stopping (%s), restoring pass with std dev %.3f", out.Reason, out.Best.StdDev)
		if err := fw.Restore(ctx, out.Best, out.BestRodLength); err != nil {
			return out, err
		}
		return out, nil
	}
}

// sameGeometry compares what the firmware solved, ignoring the std dev
// which moves a little on every pass.
func (r FirmwareResult) sameGeometry(o FirmwareResult) bool {
	return r.Height == o.Height && r.Radius == o.Radius && r.Endstops == o.Endstops
}

// repeated reports whether the last result's geometry equals both before it.
func repeated(h []FirmwareResult) bool {
	n := len(h)
	return n >= 3 && h[n-1].sameGeometry(h[n-2]) && h[n-1].sameGeometry(h[n-3])
}
