// Package sim is an in-memory delta printer that speaks enough stock and
// Marlin G-code to be calibrated. Probe readings come from real delta
// kinematics, so calibration against it behaves like the hardware does.
package sim

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"delta-autocal/pkg/gcode"
	"delta-autocal/pkg/geometry"
	"delta-autocal/pkg/pattern"
)

// Flavor selects which firmware the simulator imitates.
type Flavor int

const (
	// Stock probes with the G29 P2/P5 macros only.
	Stock Flavor = iota
	// Marlin probes with G30, builds meshes with G29 and calibrates with G33.
	Marlin
)

func (f Flavor) String() string {
	if f == Marlin {
		return "marlin"
	}
	return "stock"
}

const (
	meshSize    = 5
	meshSpacing = 25.0
	g33Points   = 7
	g33Radius   = 50.0
)

// Printer is a simulated printer. It is safe to serve several
// connections; they share one machine.
type Printer struct {
	machine Machine
	flavor  Flavor
	noise   *distuv.Normal

	mu        sync.Mutex
	fw        firmwareGeometry
	homed     bool
	x, y, z   float64
	steps     float64
	bedTemp   float64
	hotTemp   float64
	mesh      [meshSize][meshSize]float64
	meshValid bool
	g33Passes int
	saved     int
	received  []string
}

// New creates a printer whose firmware starts from the Mini Delta defaults.
func New(m Machine, flavor Flavor) *Printer {
	p := &Printer{
		machine: m,
		flavor:  flavor,
		fw:      firmwareGeometry{radius: 63.5, rod: 123, height: 120},
		steps:   57.14,
	}
	if m.Noise > 0 {
		p.noise = &distuv.Normal{Mu: 0, Sigma: m.Noise}
	}
	return p
}

// Received returns every command line the printer has handled.
func (p *Printer) Received() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.received...)
}

// Endstops returns the firmware's current M666 values.
func (p *Printer) Endstops() [3]float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fw.endstops
}

// Geometry returns the firmware's current radius and rod length.
func (p *Printer) Geometry() (radius, rodLength float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fw.radius, p.fw.rod
}

// Saves counts M500 commands.
func (p *Printer) Saves() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.saved
}

// Serve answers commands read from rw until it is closed.
func (p *Printer) Serve(rw io.ReadWriter) error {
	sc := bufio.NewScanner(rw)
	w := bufio.NewWriter(rw)
	for sc.Scan() {
		for _, line := range p.Handle(sc.Text()) {
			if _, err := w.WriteString(line + "\n"); err != nil {
				return err
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}
	return sc.Err()
}

type pipeEnd struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func (e *pipeEnd) Read(b []byte) (int, error)  { return e.r.Read(b) }
func (e *pipeEnd) Write(b []byte) (int, error) { return e.w.Write(b) }

func (e *pipeEnd) Close() error {
	e.w.Close()
	return e.r.Close()
}

// Pipe returns the host end of an in-memory connection to the printer.
func (p *Printer) Pipe() io.ReadWriteCloser {
	cmdR, cmdW := io.Pipe()
	respR, respW := io.Pipe()
	go func() {
		err := p.Serve(struct {
			io.Reader
			io.Writer
		}{cmdR, respW})
		respW.CloseWithError(err)
		cmdR.Close()
	}()
	return &pipeEnd{r: respR, w: cmdW}
}

// Handle executes one command line and returns the printer's output,
// which always ends with "ok".
func (p *Printer) Handle(line string) []string {
	cmd, err := gcode.Parse(line)
	if err != nil {
		return []string{"echo:Unknown command: \"" + strings.TrimSpace(line) + "\"", "ok"}
	}
	if cmd == nil {
		return []string{"ok"}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.received = append(p.received, strings.TrimSpace(line))

	var out []string
	switch cmd.Name {
	case "G0", "G1":
		p.x = cmd.FloatOr("X", p.x)
		p.y = cmd.FloatOr("Y", p.y)
		p.z = cmd.FloatOr("Z", p.z)
	case "G28":
		p.homed = true
		p.x, p.y, p.z = 0, 0, p.fw.height
	case "G90", "G91", "M82", "M83", "M84", "M206", "M851":
	case "G29":
		out = p.g29(cmd)
	case "G30":
		if p.flavor != Marlin {
			return unknown(cmd)
		}
		out = p.g30()
	case "G33":
		if p.flavor != Marlin {
			return unknown(cmd)
		}
		out = p.g33()
	case "M92":
		p.steps = cmd.FloatOr("X", p.steps)
	case "M104":
		p.hotTemp = cmd.FloatOr("S", p.hotTemp)
	case "M140":
		p.bedTemp = cmd.FloatOr("S", p.bedTemp)
	case "M109":
		p.hotTemp = cmd.FloatOr("S", p.hotTemp)
		out = []string{p.temps()}
	case "M190":
		p.bedTemp = cmd.FloatOr("S", p.bedTemp)
		out = []string{p.temps()}
	case "M421":
		if cmd.Has("C") {
			p.meshValid = false
			break
		}
		out = p.meshReport()
	case "M500":
		p.saved++
		out = []string{"echo:Settings Stored (616 bytes; crc 41263)"}
	case "M665":
		p.fw.rod = cmd.FloatOr("L", p.fw.rod)
		p.fw.radius = cmd.FloatOr("R", p.fw.radius)
		p.fw.height = cmd.FloatOr("H", p.fw.height)
		for i, k := range []string{"A", "B", "C", "D", "E", "F"} {
			p.fw.trims[i] = cmd.FloatOr(k, p.fw.trims[i])
		}
	case "M666":
		for i, k := range []string{"X", "Y", "Z"} {
			p.fw.endstops[i] = cmd.FloatOr(k, p.fw.endstops[i])
		}
	default:
		return unknown(cmd)
	}
	return append(out, "ok")
}

func unknown(cmd *gcode.Command) []string {
	return []string{"echo:Unknown command: \"" + cmd.Name + "\"", "ok"}
}

func (p *Printer) temps() string {
	return fmt.Sprintf("T:%.1f /%.1f B:%.1f /%.1f", p.hotTemp, p.hotTemp, p.bedTemp, p.bedTemp)
}

func (p *Printer) probe(x, y float64) (float64, error) {
	return probeHeight(p.machine, p.fw, x, y, p.noise)
}

// g29 runs the stock P2/P5 probing macros, or the Marlin bilinear mesh.
func (p *Printer) g29(cmd *gcode.Command) []string {
	if p.flavor == Marlin {
		if !p.homed {
			return []string{"echo:Home XYZ first"}
		}
		p.buildMesh()
		return nil
	}

	code, ok, err := cmd.Float("P")
	if !ok || err != nil || (code != pattern.DenseCode && code != pattern.FourPointCode) {
		return []string{"echo:G29 needs P2 or P5"}
	}
	out := []string{"G29 Auto Bed Leveling"}
	var zs []float64
	for _, pt := range pattern.MustParse(code).Points() {
		for tap := 0; tap < 2; tap++ {
			z, err := p.probe(pt.X, pt.Y)
			if err != nil {
				return append(out, "Error:"+err.Error())
			}
			zs = append(zs, z)
			out = append(out, fmt.Sprintf("Bed X: %.3f Y: %.3f Z: %.3f", pt.X, pt.Y, z))
		}
	}
	mean, sd := stat.MeanStdDev(zs, nil)
	return append(out,
		"Eqn coefficients:",
		fmt.Sprintf("a: %.6f", p.machine.BedTilt[0]),
		fmt.Sprintf("b: %.6f", p.machine.BedTilt[1]),
		fmt.Sprintf("d: %.6f", mean),
		fmt.Sprintf("Mean height: %.3f", mean),
		fmt.Sprintf("Standard deviation: %.3f", sd),
	)
}

func (p *Printer) g30() []string {
	if !p.homed {
		return []string{"echo:Home XYZ first"}
	}
	z, err := p.probe(p.x, p.y)
	if err != nil {
		return []string{"Error:" + err.Error()}
	}
	return []string{fmt.Sprintf("Bed X: %.2f Y: %.2f Z: %.2f", p.x, p.y, z)}
}

func (p *Printer) buildMesh() {
	for r := 0; r < meshSize; r++ {
		for c := 0; c < meshSize; c++ {
			x := -meshSpacing*2 + float64(c)*meshSpacing
			y := -meshSpacing*2 + float64(r)*meshSpacing
			z, err := p.probe(x, y)
			if err != nil {
				z = math.NaN()
			}
			p.mesh[r][c] = z
		}
	}
	p.meshValid = true
}

func (p *Printer) meshReport() []string {
	out := []string{fmt.Sprintf("Grid spacing: X%.2f Y%.2f", meshSpacing, meshSpacing)}
	out = append(out, "        0      1      2      3      4")
	for r := meshSize - 1; r >= 0; r-- {
		var sb strings.Builder
		fmt.Fprintf(&sb, " %d", r)
		for c := 0; c < meshSize; c++ {
			v := p.mesh[r][c]
			if !p.meshValid || math.IsNaN(v) {
				sb.WriteString("      =")
				continue
			}
			fmt.Fprintf(&sb, " %+.3f", v)
		}
		out = append(out, sb.String())
	}
	return append(out, "")
}

// g33 imitates one Marlin auto-calibration iteration: endstops and radius
// move halfway to their true values, then seven points are probed.
func (p *Printer) g33() []string {
	if !p.homed {
		p.homed = true
	}
	out := []string{"G33 Auto Calibrate", "Checking... AC", p.g33Status()}

	high := math.Max(p.machine.Endstops[0], math.Max(p.machine.Endstops[1], p.machine.Endstops[2]))
	for i := range p.fw.endstops {
		target := p.machine.Endstops[i] - high
		p.fw.endstops[i] = round2(p.fw.endstops[i] + (target-p.fw.endstops[i])/2)
	}
	p.fw.radius = round2(p.fw.radius + (p.machine.Radius-p.fw.radius)/2)

	zs := make([]float64, 0, g33Points)
	for i := 0; i < g33Points; i++ {
		x, y := 0.0, 0.0
		if i > 0 {
			x, y = geometry.Rect(g33Radius, float64(i-1)*60)
		}
		z, err := p.probe(x, y)
		if err != nil {
			return append(out, "Error:"+err.Error())
		}
		zs = append(zs, z)
	}
	p.g33Passes++
	sd := stat.PopStdDev(zs, nil)
	return append(out,
		fmt.Sprintf("Iteration : %02d                                std dev:%.3f", p.g33Passes, sd),
		p.g33Status(),
		"Calibration OK",
	)
}

func (p *Printer) g33Status() string {
	return fmt.Sprintf(".Height:%.2f    Ex:%+.2f  Ey:%+.2f  Ez:%+.2f    Radius:%.2f",
		p.fw.height, p.fw.endstops[0], p.fw.endstops[1], p.fw.endstops[2], p.fw.radius)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
