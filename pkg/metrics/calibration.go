// Calibration metrics
//
// Exposes per-pass calibration state so a long run on the printer can be
// watched from a dashboard.
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"math"
	goruntime "runtime"
	"strings"
	"time"

	"delta-autocal/pkg/calibrate"
)

// CalibrationMetrics records controller progress. It implements
// calibrate.Observer.
type CalibrationMetrics struct {
	Passes        *Counter
	PassDuration  *Histogram
	ErrorTerm     *Gauge
	State         *Gauge
	Bowl          *Gauge
	TapDelta      *Histogram
	Phase         *Gauge
	Runs          *Counter
	FirmwareDev   *Gauge
	FirmwareIters *Gauge
	Goroutines    *Gauge
	Uptime        *Gauge

	startTime time.Time
	registry  *Registry
}

// NewCalibrationMetrics creates and registers the calibration metrics.
func NewCalibrationMetrics() *CalibrationMetrics {
	cm := &CalibrationMetrics{
		startTime: time.Now(),
		registry:  NewRegistry(),
	}

	cm.Passes = NewCounter("autocal_passes_total",
		"Completed probe passes by pattern")
	cm.PassDuration = NewHistogram("autocal_pass_duration_seconds",
		"Time to probe and analyse one pass", []float64{5, 15, 30, 60, 120, 300, 600})
	cm.ErrorTerm = NewGauge("autocal_error_mm",
		"Last error vector term in millimetres")
	cm.State = NewGauge("autocal_state",
		"Kinematic parameters applied after the last pass")
	cm.Bowl = NewGauge("autocal_bowl_mm",
		"Mean centre and outer ring heights of the last pass")
	cm.TapDelta = NewHistogram("autocal_tap_delta_mm",
		"Difference between the two taps at each probe point", ExponentialBuckets(0.005, 2, 8))
	cm.Phase = NewGauge("autocal_phase",
		"Current controller phase")
	cm.Runs = NewCounter("autocal_runs_total",
		"Finished calibration runs by outcome")
	cm.FirmwareDev = NewGauge("autocal_firmware_std_dev_mm",
		"Deviation reported by the last firmware calibration")
	cm.FirmwareIters = NewGauge("autocal_firmware_iterations",
		"Firmware calibration passes in the last loop")
	cm.Goroutines = NewGauge("autocal_go_goroutines",
		"Number of goroutines")
	cm.Uptime = NewGauge("autocal_uptime_seconds",
		"Seconds since the process started")

	cm.registry.MustRegister(
		cm.Passes, cm.PassDuration, cm.ErrorTerm, cm.State, cm.Bowl,
		cm.TapDelta, cm.Phase, cm.Runs, cm.FirmwareDev, cm.FirmwareIters,
		cm.Goroutines, cm.Uptime,
	)
	return cm
}

// OnPhase tracks the current phase and counts terminal outcomes.
func (cm *CalibrationMetrics) OnPhase(runID string, pass int, phase calibrate.Phase) {
	cm.Phase.Set(Labels{"name": phase.String()}, 1)
	for p := calibrate.PhaseInit; p <= calibrate.PhaseFailed; p++ {
		if p != phase {
			cm.Phase.Set(Labels{"name": p.String()}, 0)
		}
	}
	if phase.Terminal() {
		cm.Runs.Inc(Labels{"outcome": phase.String()})
	}
}

// OnPass records the measurements of one pass.
func (cm *CalibrationMetrics) OnPass(runID string, rec calibrate.PassRecord) {
	pat := "unknown"
	if rec.Set != nil {
		pat = rec.Set.Pattern.String()
		for _, p := range rec.Set.Points {
			cm.TapDelta.Observe(nil, math.Abs(p.TapDelta()))
		}
	}
	cm.Passes.Inc(Labels{"pattern": pat})
	cm.PassDuration.Observe(nil, rec.Duration.Seconds())

	cm.ErrorTerm.Set(Labels{"term": "z"}, rec.Error.Tower[calibrate.TowerZ])
	cm.ErrorTerm.Set(Labels{"term": "x"}, rec.Error.Tower[calibrate.TowerX])
	cm.ErrorTerm.Set(Labels{"term": "y"}, rec.Error.Tower[calibrate.TowerY])
	cm.ErrorTerm.Set(Labels{"term": "c"}, rec.Error.C)

	cm.Bowl.Set(Labels{"part": "center"}, rec.Bowl.Center)
	cm.Bowl.Set(Labels{"part": "outer_ring"}, rec.Bowl.OuterRing)

	next := rec.Next
	cm.State.Set(Labels{"param": "radius"}, next.Radius)
	cm.State.Set(Labels{"param": "rod_length"}, next.RodLength)
	for i, axis := range []string{"x", "y", "z"} {
		cm.State.Set(Labels{"param": "offset_" + axis}, next.Offsets[i])
	}
}

// RecordFirmware records the outcome of a firmware-delegated loop.
func (cm *CalibrationMetrics) RecordFirmware(out *calibrate.FirmwareOutcome) {
	if out == nil {
		return
	}
	cm.FirmwareDev.Set(nil, out.Best.StdDev)
	cm.FirmwareIters.Set(nil, float64(out.Iterations))
	cm.State.Set(Labels{"param": "radius"}, out.Best.Radius)
	cm.State.Set(Labels{"param": "rod_length"}, out.BestRodLength)
	cm.Runs.Inc(Labels{"outcome": "firmware_" + strings.ReplaceAll(out.Reason.String(), " ", "_")})
}

func (cm *CalibrationMetrics) updateSystemMetrics() {
	cm.Goroutines.Set(nil, float64(goruntime.NumGoroutine()))
	cm.Uptime.Set(nil, time.Since(cm.startTime).Seconds())
}

// Gather returns all metrics in Prometheus text format.
func (cm *CalibrationMetrics) Gather() string {
	cm.updateSystemMetrics()
	return cm.registry.Gather()
}

// Registry returns the underlying registry.
func (cm *CalibrationMetrics) Registry() *Registry {
	return cm.registry
}
