package gcode

import (
	"strconv"
	"strings"

	"delta-autocal/pkg/errors"
)

// Markers the firmware prints around probing.
const (
	ProbeMarker     = "Bed "
	AutoLevelMarker = "G29 Auto Bed Leveling"
	MeshMarker      = "Grid spacing"
)

// probeZField is the index of Z in "Bed X: a Y: b Z: c" split on spaces.
const probeZField = 6

// ProbeResult is one probe report.
type ProbeResult struct {
	X, Y, Z float64
}

// ParseProbeResult reads a "Bed X: a Y: b Z: c" report. Fields are split
// on single spaces and located by offset; the leading "Bed" may be
// preceded by anything, such as a host timestamp.
func ParseProbeResult(line string) (ProbeResult, error) {
	idx := strings.Index(line, ProbeMarker)
	if idx < 0 {
		return ProbeResult{}, errors.ProtocolError(line, "not a probe report")
	}
	fields := strings.Split(strings.TrimRight(line[idx:], "\r\n"), " ")
	if len(fields) <= probeZField {
		return ProbeResult{}, errors.ProtocolError(line, "probe report too short")
	}
	z, err := strconv.ParseFloat(strings.TrimSpace(fields[probeZField]), 64)
	if err != nil {
		return ProbeResult{}, errors.ProtocolError(line, "bad Z value")
	}
	// X and Y are informational; firmware variants differ in how they pad them.
	x, _ := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)
	y, _ := strconv.ParseFloat(strings.TrimSpace(fields[4]), 64)
	return ProbeResult{X: x, Y: y, Z: z}, nil
}

// ParseTaggedFloat returns the number following "tag:" in line. Spaces
// after the colon are skipped and the number ends at the next space.
func ParseTaggedFloat(line, tag string) (float64, error) {
	key := tag + ":"
	idx := strings.Index(line, key)
	if idx < 0 {
		return 0, errors.ProtocolError(line, "missing "+key)
	}
	rest := strings.TrimLeft(line[idx+len(key):], " ")
	if end := strings.IndexAny(rest, " \t\r\n"); end >= 0 {
		rest = rest[:end]
	}
	v, err := strconv.ParseFloat(rest, 64)
	if err != nil {
		return 0, errors.ProtocolError(line, "bad value for "+key)
	}
	return v, nil
}
