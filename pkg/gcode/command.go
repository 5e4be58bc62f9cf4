// Package gcode implements the text protocol spoken with the printer:
// command formatting and parsing, a line-oriented channel over any
// transport, and parsers for the firmware's probe and calibration reports.
package gcode

import (
	"regexp"
	"strconv"
	"strings"

	"delta-autocal/pkg/errors"
)

// Command is a parsed G-code line.
type Command struct {
	Name string
	Args map[string]string
	Raw  string
}

var reParenComment = regexp.MustCompile(`\([^)]*\)`)

// Parse splits a G-code line into its command word and arguments. Comments
// after ';' and in parentheses are dropped. Blank lines yield nil.
func Parse(line string) (*Command, error) {
	ln := line
	if idx := strings.IndexByte(ln, ';'); idx >= 0 {
		ln = ln[:idx]
	}
	ln = strings.TrimSpace(reParenComment.ReplaceAllString(ln, " "))
	if ln == "" {
		return nil, nil
	}

	fields := strings.Fields(ln)
	name := strings.ToUpper(fields[0])
	if len(name) < 2 || !strings.ContainsRune("GMT", rune(name[0])) {
		return nil, errors.GCodeParseError(line, "missing command word")
	}
	args := make(map[string]string, len(fields)-1)
	for _, f := range fields[1:] {
		if k, v, ok := strings.Cut(f, "="); ok {
			if k = strings.ToUpper(strings.TrimSpace(k)); k != "" {
				args[k] = strings.TrimSpace(v)
			}
			continue
		}
		args[strings.ToUpper(f[:1])] = f[1:]
	}
	return &Command{Name: name, Args: args, Raw: line}, nil
}

// Has reports whether the argument letter is present.
func (c *Command) Has(key string) bool {
	_, ok := c.Args[key]
	return ok
}

// Float returns a numeric argument. A missing argument returns ok=false;
// a present but malformed one is an error.
func (c *Command) Float(key string) (v float64, ok bool, err error) {
	raw, present := c.Args[key]
	if !present {
		return 0, false, nil
	}
	v, err = strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, true, errors.GCodeInvalidParameterError(c.Name, key, raw, "not a number")
	}
	return v, true, nil
}

// FloatOr returns a numeric argument or def when absent or malformed.
func (c *Command) FloatOr(key string, def float64) float64 {
	if v, ok, err := c.Float(key); ok && err == nil {
		return v
	}
	return def
}

// Num formats a number the way the firmware expects it: shortest form,
// no exponent.
func Num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Command builders for everything the calibrator sends.

func Home() string { return "G28" }
func AbsolutePositioning() string { return "G90" }
func ProbeHere() string { return "G30" }
func SaveSettings() string { return "M500" }
func MeshLevel() string { return "G29" }
func ClearMesh() string { return "M421 C" }
func DumpMesh() string { return "M421" }
func ClearHomeOffsets() string { return "M206 X0 Y0 Z0" }

func Move(x, y float64) string {
	return "G1 X" + Num(x) + " Y" + Num(y)
}

func MoveZ(z, feed float64) string {
	return "G1 Z" + Num(z) + " F" + Num(feed)
}

func Travel(x, y float64) string {
	return "G0 X" + Num(x) + " Y" + Num(y)
}

func TravelZ(z float64) string {
	return "G0 Z" + Num(z)
}

func TravelZFeed(z, feed float64) string {
	return "G0 Z" + Num(z) + " F" + Num(feed)
}

func SetBedTemp(t float64) string {
	return "M140 S" + Num(t)
}

func WaitHotendTemp(t float64) string {
	return "M109 S" + Num(t)
}

func SetStepsPerMM(s float64) string {
	n := Num(s)
	return "M92 X" + n + " Y" + n + " Z" + n
}

func SetEndstops(offsets [3]float64) string {
	return "M666 X" + Num(offsets[0]) + " Y" + Num(offsets[1]) + " Z" + Num(offsets[2])
}

func SetDelta(rodLength, radius float64) string {
	return "M665 L" + Num(rodLength) + " R" + Num(radius)
}

func SetDeltaHeight(rodLength, radius, height float64) string {
	return SetDelta(rodLength, radius) + " H" + Num(height)
}

func SetRodLength(l float64) string {
	return "M665 L" + Num(l)
}

func SetTrims(t [6]float64) string {
	var sb strings.Builder
	sb.WriteString("M665")
	for i, letter := range "ABCDEF" {
		sb.WriteString(" " + string(letter) + Num(t[i]))
	}
	return sb.String()
}

// ProbeSettings configures the probe for the carbon-paper test: no
// deploy delay, 10 mm raise, 2000 mm/min probing feed.
func ProbeSettings() string {
	return "M851 D0 R10 F2000"
}

// AutoCalibrate runs a single firmware G33 iteration over the given
// number of probe points.
func AutoCalibrate(points int) string {
	return "G33 P" + strconv.Itoa(points) + " F1 V1"
}
