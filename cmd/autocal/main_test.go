package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"delta-autocal/pkg/config"
	"delta-autocal/pkg/errors"
	"delta-autocal/pkg/report"
	"delta-autocal/pkg/sim"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestSettingsPrecedence(t *testing.T) {
	dir := t.TempDir()
	ini := writeFile(t, dir, "autocal.cfg", "[autocal]\nradius: 62\nrod_length: 124\nmax_runs: 5\n\n[serial]\nport: /dev/ttyUSB9\n")
	js := writeFile(t, dir, "autocal.json", `{"r": 61, "l": 122}`)

	opts, s, err := parseArgs([]string{"-config", ini, "-f", js, "-l", "121", "-pattern", "5", "-heatmap"})
	require.NoError(t, err)

	assert.Equal(t, 61.0, s.Radius, "JSON beats INI")
	assert.Equal(t, 121.0, s.RodLength, "flag beats JSON")
	assert.Equal(t, 5, s.MaxRuns, "INI beats defaults")
	assert.Equal(t, 5.0, s.Pattern)
	assert.Equal(t, "/dev/ttyUSB9", s.Serial.Port)
	assert.Equal(t, config.DefaultSettings().StepsPerMM, s.StepsPerMM)
	assert.True(t, opts.heatmap)
}

func TestEnvFileSuppliesDefaults(t *testing.T) {
	for _, k := range []string{envConfig, envSettings, envPort} {
		require.NoError(t, os.Unsetenv(k))
		t.Cleanup(func() { os.Unsetenv(k) })
	}
	dir := t.TempDir()
	ini := writeFile(t, dir, "autocal.cfg", "[autocal]\nradius: 62.5\n")
	env := writeFile(t, dir, "autocal.env", "AUTOCAL_CONFIG="+ini+"\nAUTOCAL_PORT=tcp:127.0.0.1:8250\n")

	opts, s, err := parseArgs([]string{"-env", env})
	require.NoError(t, err)
	assert.Equal(t, ini, opts.configPath)
	assert.Equal(t, 62.5, s.Radius)
	assert.Equal(t, "tcp:127.0.0.1:8250", s.Serial.Port)

	_, s, err = parseArgs([]string{"-env", env, "-port", "/dev/ttyACM1"})
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM1", s.Serial.Port, "flag beats environment")

	_, _, err = parseArgs([]string{"-env", filepath.Join(dir, "missing.env")})
	assert.True(t, errors.IsConfig(err))
}

func TestZeroFlagStillOverrides(t *testing.T) {
	dir := t.TempDir()
	js := writeFile(t, dir, "autocal.json", `{"x": -0.4, "bed_temp": 60}`)

	_, s, err := parseArgs([]string{"-f", js, "-x", "0", "-bed-temp", "-1"})
	require.NoError(t, err)
	assert.Equal(t, 0.0, s.Offsets[0])
	assert.Equal(t, -1.0, s.BedTemp)
}

func TestParseArgsErrors(t *testing.T) {
	dir := t.TempDir()
	typo := writeFile(t, dir, "typo.cfg", "[autocal]\nraduis: 62\n")

	_, _, err := parseArgs([]string{"-config", typo})
	assert.True(t, errors.IsConfig(err), "unknown option must be reported: %v", err)

	_, _, err = parseArgs([]string{"stray"})
	assert.Error(t, err)

	_, _, err = parseArgs([]string{"-config", filepath.Join(dir, "missing.cfg")})
	assert.Error(t, err)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitOK, exitCode(nil))
	assert.Equal(t, exitMaxIterations, exitCode(errors.New(errors.ErrMaxIterations, "x")))
	assert.Equal(t, exitDiverged, exitCode(errors.New(errors.ErrDiverged, "x")))
	assert.Equal(t, exitAmbiguous, exitCode(errors.Wrap(errors.New(errors.ErrHighTowerAmbiguous, "tie"), errors.ErrRuntime, "run")))
	assert.Equal(t, exitFailure, exitCode(errors.New(errors.ErrTransport, "x")))
}

func simApp(t *testing.T, opts *options, s config.Settings, m sim.Machine, flavor sim.Flavor) (*app, *sim.Printer) {
	t.Helper()
	p := sim.New(m, flavor)
	a := newApp(opts, s)
	a.dial = func(config.SerialSettings) (io.ReadWriteCloser, error) {
		return p.Pipe(), nil
	}
	return a, p
}

func TestRunAgainstSimulator(t *testing.T) {
	dir := t.TempDir()
	ini := writeFile(t, dir, "autocal.cfg", "[autocal]\nradius: 63.5\nfirmware: marlin\n")
	js := filepath.Join(dir, "autocal.json")

	opts, s, err := parseArgs([]string{
		"-config", ini, "-f", js, "-save-config",
		"-report-dir", filepath.Join(dir, "reports"),
		"-heatmap", "-mesh", "-save",
	})
	require.NoError(t, err)

	m := sim.DefaultMachine()
	m.Endstops = [3]float64{-0.3, -0.1, 0}
	a, p := simApp(t, opts, s, m, sim.Marlin)
	require.NoError(t, a.runSafe(context.Background()))

	var saved config.Settings
	ok, err := saved.LoadJSON(js)
	require.NoError(t, err)
	require.True(t, ok)
	for i := range m.Endstops {
		assert.InDelta(t, m.Endstops[i], saved.Offsets[i], 0.04)
	}

	iniOut, err := os.ReadFile(ini)
	require.NoError(t, err)
	assert.Contains(t, string(iniOut), "offset_x:")

	assert.FileExists(t, filepath.Join(dir, "reports", report.PassFileName(report.HeatMapPass)))
	assert.FileExists(t, filepath.Join(dir, "reports", report.MeshFileName))
	assert.Equal(t, 1, p.Saves())
}

func TestRunStockRejectsMarlinActions(t *testing.T) {
	dir := t.TempDir()
	opts, s, err := parseArgs([]string{"-report-dir", dir, "-carbon"})
	require.NoError(t, err)

	a, _ := simApp(t, opts, s, sim.DefaultMachine(), sim.Stock)
	err = a.runSafe(context.Background())
	require.Error(t, err)
	assert.Equal(t, exitFailure, exitCode(err))
}

func TestRunFirmwareLoop(t *testing.T) {
	dir := t.TempDir()
	js := filepath.Join(dir, "autocal.json")
	opts, s, err := parseArgs([]string{"-firmware", "1", "-g33", "-f", js, "-report-dir", dir, "-g33-runs", "12"})
	require.NoError(t, err)

	m := sim.Machine{Radius: 63, RodLength: 122.25, Endstops: [3]float64{-0.4, -0.2, 0}}
	a, _ := simApp(t, opts, s, m, sim.Marlin)
	require.NoError(t, a.runSafe(context.Background()))

	data, err := os.ReadFile(js)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `"firmFlag"`))
}
