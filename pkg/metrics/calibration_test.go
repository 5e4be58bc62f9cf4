package metrics

import (
	"strings"
	"testing"
	"time"

	"delta-autocal/pkg/calibrate"
	"delta-autocal/pkg/pattern"
	"delta-autocal/pkg/probe"
)

func TestCalibrationMetricsObserver(t *testing.T) {
	cm := NewCalibrationMetrics()
	var _ calibrate.Observer = cm

	set := probe.NewSet(pattern.MustParse(pattern.FourPointCode))
	rec := calibrate.PassRecord{
		Pass:     1,
		Set:      set,
		Error:    calibrate.ErrorVector{Tower: [3]float64{-0.05, 0.02, 0.1}, C: 0.3},
		Next:     calibrate.KinematicState{Radius: 63.2, RodLength: 122.8, Offsets: [3]float64{-0.4, -0.1, 0}},
		Duration: 42 * time.Second,
	}

	cm.OnPhase("run-1", 1, calibrate.PhaseProbe)
	cm.OnPass("run-1", rec)
	cm.OnPhase("run-1", 1, calibrate.PhaseConverged)

	if v := cm.Passes.Get(Labels{"pattern": set.Pattern.String()}); v != 1 {
		t.Errorf("passes %d", v)
	}
	if v := cm.ErrorTerm.Get(Labels{"term": "c"}); v != 0.3 {
		t.Errorf("c term %v", v)
	}
	if v := cm.State.Get(Labels{"param": "offset_x"}); v != -0.4 {
		t.Errorf("offset_x %v", v)
	}
	if v := cm.Phase.Get(Labels{"name": "converged"}); v != 1 {
		t.Errorf("converged phase %v", v)
	}
	if v := cm.Phase.Get(Labels{"name": "probe"}); v != 0 {
		t.Errorf("probe phase should be cleared, got %v", v)
	}
	if v := cm.Runs.Get(Labels{"outcome": "converged"}); v != 1 {
		t.Errorf("runs %d", v)
	}
	if n := cm.PassDuration.Count(nil); n != 1 {
		t.Errorf("durations %d", n)
	}
}

func TestCalibrationMetricsFirmware(t *testing.T) {
	cm := NewCalibrationMetrics()
	cm.RecordFirmware(nil)
	cm.RecordFirmware(&calibrate.FirmwareOutcome{
		Iterations:    4,
		Reason:        calibrate.StopIterationLimit,
		Best:          calibrate.FirmwareResult{StdDev: 0.031, Radius: 63.1},
		BestRodLength: 123.4,
	})
	out := cm.Gather()
	for _, want := range []string{
		"autocal_firmware_std_dev_mm 0.031",
		"autocal_firmware_iterations 4",
		`autocal_runs_total{outcome="firmware_iteration_limit"} 1`,
		`autocal_state{param="rod_length"} 123.4`,
		"autocal_go_goroutines",
		"autocal_uptime_seconds",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}
