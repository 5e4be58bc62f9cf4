package monitor

import (
	"sync"
	"time"

	"delta-autocal/pkg/calibrate"
)

// StateJSON is a kinematic state as sent to clients.
type StateJSON struct {
	Radius    float64    `json:"radius"`
	RodLength float64    `json:"rod_length"`
	Offsets   [3]float64 `json:"offsets"`
	Trims     [6]float64 `json:"trims"`
}

func stateJSON(s calibrate.KinematicState) StateJSON {
	return StateJSON{Radius: s.Radius, RodLength: s.RodLength, Offsets: s.Offsets, Trims: s.Trims}
}

// ErrorJSON is an error vector as sent to clients.
type ErrorJSON struct {
	Z      float64 `json:"z"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	C      float64 `json:"c"`
	MaxAbs float64 `json:"max_abs"`
}

func errorJSON(e calibrate.ErrorVector) ErrorJSON {
	return ErrorJSON{Z: e.Tower[calibrate.TowerZ], X: e.Tower[calibrate.TowerX], Y: e.Tower[calibrate.TowerY], C: e.C, MaxAbs: e.MaxAbs()}
}

// PassSummary is one finished pass.
type PassSummary struct {
	RunID     string    `json:"run_id"`
	Pass      int       `json:"pass"`
	Pattern   string    `json:"pattern"`
	HighTower string    `json:"high_tower"`
	Center    float64   `json:"center"`
	OuterRing float64   `json:"outer_ring"`
	TapStdDev float64   `json:"tap_std_dev"`
	Error     ErrorJSON `json:"error"`
	Probed    StateJSON `json:"probed"`
	Next      StateJSON `json:"next"`
	Duration  float64   `json:"duration"`
	EndTime   float64   `json:"end_time"`
}

func summarize(runID string, rec calibrate.PassRecord, now time.Time) PassSummary {
	ps := PassSummary{
		RunID:     runID,
		Pass:      rec.Pass,
		HighTower: rec.High.String(),
		Center:    rec.Bowl.Center,
		OuterRing: rec.Bowl.OuterRing,
		Error:     errorJSON(rec.Error),
		Probed:    stateJSON(rec.State),
		Next:      stateJSON(rec.Next),
		Duration:  rec.Duration.Seconds(),
		EndTime:   float64(now.UnixMilli()) / 1000,
	}
	if rec.Set != nil {
		ps.Pattern = rec.Set.Pattern.String()
		ps.TapStdDev = rec.Set.Taps().StdDev
	}
	return ps
}

// History keeps the most recent passes, newest first.
type History struct {
	mu     sync.RWMutex
	limit  int
	passes []PassSummary
}

// NewHistory keeps at most limit passes; limit <= 0 means unbounded.
func NewHistory(limit int) *History {
	return &History{limit: limit}
}

// Add records a pass.
func (h *History) Add(ps PassSummary) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.passes = append([]PassSummary{ps}, h.passes...)
	if h.limit > 0 && len(h.passes) > h.limit {
		h.passes = h.passes[:h.limit]
	}
}

// List returns up to limit passes, newest first. limit <= 0 returns all.
func (h *History) List(limit int) []PassSummary {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := len(h.passes)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]PassSummary, n)
	copy(out, h.passes[:n])
	return out
}

// Len returns the number of passes held.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.passes)
}
