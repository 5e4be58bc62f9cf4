package report

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"delta-autocal/pkg/calibrate"
	"delta-autocal/pkg/geometry"
	"delta-autocal/pkg/heightmap"
	"delta-autocal/pkg/pattern"
	"delta-autocal/pkg/probe"
)

func fourPointSet() *probe.Set {
	set := probe.NewSet(pattern.MustParse(pattern.FourPointCode))
	for i := range set.Points {
		set.Points[i].Z1 = 0.1 * float64(i)
		set.Points[i].Z2 = 0.1*float64(i) + 0.01
	}
	return set
}

func TestWritePass(t *testing.T) {
	var buf bytes.Buffer
	st := calibrate.KinematicState{Radius: 63.5, RodLength: 123, Offsets: [3]float64{0, -0.15, -0.15}}
	require.NoError(t, WritePass(&buf, st, calibrate.TowerX, fourPointSet()))

	lines := strings.Split(buf.String(), "\r\n")
	assert.Equal(t, "M666 X0.00 Y-0.15 Z-0.15", lines[0])
	assert.Equal(t, "M665 L123.0000 R63.5000", lines[1])
	assert.Equal(t, "", lines[2])
	assert.Equal(t, "Highest Tower: X", lines[3])
	assert.Equal(t, "< 01:02:03 PM: G29 Auto Bed Leveling", lines[6])
	assert.Equal(t, "< 01:02:03 PM: Bed X: 0.000 Y: 50.000 Z: 0.000", lines[7])
	assert.Equal(t, "< 01:02:03 PM: Bed X: 0.000 Y: 50.000 Z: 0.010", lines[8])
	// 7 header lines, two per point, and the trailing empty split
	assert.Len(t, lines, 7+8+1)
	assert.True(t, strings.HasSuffix(buf.String(), "\r\n"))
}

func TestWriteMesh(t *testing.T) {
	var buf bytes.Buffer
	st := calibrate.KinematicState{Radius: 63, RodLength: 122.25, Offsets: [3]float64{-0.1, 0, -0.2}}
	st.Trims[5] = 0.5
	require.NoError(t, WriteMesh(&buf, st, []string{"Grid spacing: X25.00 Y25.00", " 0 +0.010"}))
	assert.Equal(t,
		"M666 X-0.10 Y0.00 Z-0.20\r\n"+
			"M665 L122.2500 R63.0000 A0.0000 B0.0000 C0.0000 D0.0000 E0.0000 F0.5000\r\n"+
			"\r\n"+
			"Grid spacing: X25.00 Y25.00\r\n"+
			" 0 +0.010\r\n",
		buf.String())
}

func denseGrid(t *testing.T) *heightmap.Grid {
	t.Helper()
	samples := make([]geometry.Point3, len(pattern.DenseX))
	for i := range samples {
		samples[i] = geometry.Point3{X: pattern.DenseX[i], Y: pattern.DenseY[i], Z: 0.002 * pattern.DenseX[i]}
	}
	g, err := heightmap.Build(samples, heightmap.CornerWeighted)
	require.NoError(t, err)
	return g
}

func TestWriteGrid(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteGrid(&buf, denseGrid(t)))

	recs, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, recs, heightmap.Size+1)
	for _, r := range recs {
		assert.Len(t, r, heightmap.Size+1)
	}
	assert.Equal(t, "y\\x", recs[0][0])
}

func TestWriterObservesDensePassesOnly(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	w, err := NewWriter(dir)
	require.NoError(t, err)

	w.OnPass("run", calibrate.PassRecord{Pass: 1, Set: fourPointSet()})
	assert.Empty(t, w.Files())

	dense := probe.NewSet(pattern.MustParse(pattern.DenseCode))
	w.OnPass("run", calibrate.PassRecord{Pass: 2, Set: dense, Grid: denseGrid(t), High: calibrate.TowerZ})
	require.NoError(t, w.Err())
	assert.Equal(t, []string{
		filepath.Join(dir, "auto_cal_p5_pass1.txt"),
		filepath.Join(dir, "heightmap_pass1.csv"),
	}, w.Files())

	data, err := os.ReadFile(filepath.Join(dir, "auto_cal_p5_pass1.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "Highest Tower: Z\r\n")

	path, err := w.SaveMesh(calibrate.KinematicState{}, nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, MeshFileName), path)
	assert.Equal(t, "auto_cal_p5_pass9999.txt", PassFileName(HeatMapPass))
}
