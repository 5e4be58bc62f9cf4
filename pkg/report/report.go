// Calibration report files
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package report writes the per-pass probe logs, the firmware mesh dump
// and height map CSVs a calibration leaves behind. Text files use CRLF
// line endings so they paste straight into the usual spreadsheets.
package report

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"delta-autocal/pkg/calibrate"
	"delta-autocal/pkg/errors"
	"delta-autocal/pkg/heightmap"
	"delta-autocal/pkg/log"
	"delta-autocal/pkg/probe"
)

const crlf = "\r\n"

// HeatMapPass numbers the dense pass taken after a sparse calibration.
const HeatMapPass = 10000

// MeshFileName is the M421 dump file.
const MeshFileName = "M421_data.txt"

// PassFileName names the probe log of a pass. Files count from zero.
func PassFileName(pass int) string {
	return fmt.Sprintf("auto_cal_p5_pass%d.txt", pass-1)
}

// GridFileName names the height map CSV of a pass.
func GridFileName(pass int) string {
	return fmt.Sprintf("heightmap_pass%d.csv", pass-1)
}

// WritePass writes the probe log for one pass: the state it was probed
// with, the reference tower and both taps of every point in the format
// the firmware prints them.
func WritePass(w io.Writer, st calibrate.KinematicState, high calibrate.Tower, set *probe.Set) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "M666 X%.2f Y%.2f Z%.2f%s", st.Offsets[0], st.Offsets[1], st.Offsets[2], crlf)
	fmt.Fprintf(bw, "M665 L%.4f R%.4f%s%s", st.RodLength, st.Radius, crlf, crlf)
	fmt.Fprintf(bw, "Highest Tower: %s%s", highName(high), crlf)
	bw.WriteString(crlf + crlf)
	bw.WriteString("< 01:02:03 PM: G29 Auto Bed Leveling" + crlf)
	for _, p := range set.Points {
		fmt.Fprintf(bw, "< 01:02:03 PM: Bed X: %.3f Y: %.3f Z: %.3f%s", p.X, p.Y, p.Z1, crlf)
		fmt.Fprintf(bw, "< 01:02:03 PM: Bed X: %.3f Y: %.3f Z: %.3f%s", p.X, p.Y, p.Z2, crlf)
	}
	return bw.Flush()
}

// The reference tower is reported as Z unless X or Y was chosen.
func highName(t calibrate.Tower) string {
	switch t {
	case calibrate.TowerX:
		return "X"
	case calibrate.TowerY:
		return "Y"
	}
	return "Z"
}

// WriteMesh writes the firmware mesh dump headed by the state it was
// taken with. Lines are written as the firmware printed them.
func WriteMesh(w io.Writer, st calibrate.KinematicState, lines []string) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "M666 X%.2f Y%.2f Z%.2f%s", st.Offsets[0], st.Offsets[1], st.Offsets[2], crlf)
	fmt.Fprintf(bw, "M665 L%.4f R%.4f A%.4f B%.4f C%.4f D%.4f E%.4f F%.4f%s%s",
		st.RodLength, st.Radius,
		st.Trims[0], st.Trims[1], st.Trims[2], st.Trims[3], st.Trims[4], st.Trims[5],
		crlf, crlf)
	for _, l := range lines {
		bw.WriteString(l + crlf)
	}
	return bw.Flush()
}

// WriteGrid writes the height map as CSV, top row first, with a leading
// row of X and column of Y cell centers.
func WriteGrid(w io.Writer, g *heightmap.Grid) error {
	cw := csv.NewWriter(w)
	cw.UseCRLF = true

	header := make([]string, heightmap.Size+1)
	header[0] = "y\\x"
	for c := 0; c < heightmap.Size; c++ {
		x, _ := heightmap.CellCenter(0, c)
		header[c+1] = strconv.FormatFloat(x, 'f', 3, 64)
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for r, row := range g.Rows() {
		_, y := heightmap.CellCenter(r, 0)
		rec := make([]string, 0, len(row)+1)
		rec = append(rec, strconv.FormatFloat(y, 'f', 3, 64))
		for _, z := range row {
			rec = append(rec, strconv.FormatFloat(z, 'f', 4, 64))
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Writer saves reports into a directory. It implements
// calibrate.Observer: dense passes get a probe log and a grid CSV.
type Writer struct {
	dir    string
	logger *log.Logger

	mu    sync.Mutex
	err   error
	files []string
}

// NewWriter creates dir if needed.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.ErrRuntime, "cannot create report directory").SetContext("dir", dir)
	}
	return &Writer{dir: dir, logger: log.GetLogger("report")}, nil
}

// Dir is the report directory.
func (w *Writer) Dir() string { return w.dir }

// Files lists every file written so far.
func (w *Writer) Files() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.files...)
}

// Err returns the first write failure seen by the observer methods.
func (w *Writer) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *Writer) create(name string, fill func(io.Writer) error) (string, error) {
	path := filepath.Join(w.dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrRuntime, "cannot create report").SetContext("file", path)
	}
	if err := fill(f); err != nil {
		f.Close()
		return "", errors.Wrap(err, errors.ErrRuntime, "cannot write report").SetContext("file", path)
	}
	if err := f.Close(); err != nil {
		return "", errors.Wrap(err, errors.ErrRuntime, "cannot write report").SetContext("file", path)
	}
	w.mu.Lock()
	w.files = append(w.files, path)
	w.mu.Unlock()
	w.logger.Debug("wrote %s", path)
	return path, nil
}

// SavePass writes the probe log of a pass and, when g is set, its grid.
func (w *Writer) SavePass(pass int, st calibrate.KinematicState, high calibrate.Tower, set *probe.Set, g *heightmap.Grid) error {
	if _, err := w.create(PassFileName(pass), func(f io.Writer) error {
		return WritePass(f, st, high, set)
	}); err != nil {
		return err
	}
	if g == nil {
		return nil
	}
	_, err := w.create(GridFileName(pass), func(f io.Writer) error {
		return WriteGrid(f, g)
	})
	return err
}

// SaveMesh writes the M421 dump.
func (w *Writer) SaveMesh(st calibrate.KinematicState, lines []string) (string, error) {
	return w.create(MeshFileName, func(f io.Writer) error {
		return WriteMesh(f, st, lines)
	})
}

// OnPhase implements calibrate.Observer.
func (w *Writer) OnPhase(string, int, calibrate.Phase) {}

// OnPass implements calibrate.Observer.
func (w *Writer) OnPass(_ string, rec calibrate.PassRecord) {
	if rec.Set == nil || !rec.Set.Pattern.IsDense() {
		return
	}
	if err := w.SavePass(rec.Pass, rec.State, rec.High, rec.Set, rec.Grid); err != nil {
		w.logger.Error("pass %d report: %v", rec.Pass, err)
		w.mu.Lock()
		if w.err == nil {
			w.err = err
		}
		w.mu.Unlock()
	}
}
