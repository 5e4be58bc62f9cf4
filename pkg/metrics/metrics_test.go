// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"strings"
	"sync"
	"testing"
)

func TestCounterWithLabels(t *testing.T) {
	c := NewCounter("requests_total", "Total requests")
	get := Labels{"method": "GET"}
	post := Labels{"method": "POST"}

	c.Inc(get)
	c.Inc(get)
	c.Add(post, 5)

	if v := c.Get(get); v != 2 {
		t.Errorf("GET: got %d, want 2", v)
	}
	if v := c.Get(post); v != 5 {
		t.Errorf("POST: got %d, want 5", v)
	}
	if v := c.Get(Labels{"method": "PUT"}); v != 0 {
		t.Errorf("PUT: got %d, want 0", v)
	}
	if c.Name() != "requests_total" {
		t.Errorf("name %q", c.Name())
	}
}

func TestCounterConcurrency(t *testing.T) {
	c := NewCounter("concurrent_counter", "Test concurrent access")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				c.Inc(nil)
			}
		}()
	}
	wg.Wait()
	if v := c.Get(nil); v != 10000 {
		t.Errorf("got %d, want 10000", v)
	}
}

func TestGauge(t *testing.T) {
	g := NewGauge("autocal_state", "state")
	if v := g.Get(nil); v != 0 {
		t.Errorf("initial %v", v)
	}
	g.Set(Labels{"param": "radius"}, 63.5)
	g.Set(Labels{"param": "radius"}, 62.9)
	g.Set(Labels{"param": "rod_length"}, 123)
	if v := g.Get(Labels{"param": "radius"}); v != 62.9 {
		t.Errorf("radius %v", v)
	}
	if v := g.Get(Labels{"param": "rod_length"}); v != 123 {
		t.Errorf("rod_length %v", v)
	}
}

func TestHistogram(t *testing.T) {
	h := NewHistogram("tap_delta", "taps", []float64{0.1, 0.01, 1})
	for _, v := range []float64{0.005, 0.05, 0.05, 0.5, 5} {
		h.Observe(nil, v)
	}
	if n := h.Count(nil); n != 5 {
		t.Fatalf("count %d", n)
	}

	var sb strings.Builder
	h.Write(&sb)
	out := sb.String()
	for _, want := range []string{
		"# TYPE tap_delta histogram",
		`tap_delta_bucket{le="0.01"} 1`,
		`tap_delta_bucket{le="0.1"} 3`,
		`tap_delta_bucket{le="1"} 4`,
		`tap_delta_bucket{le="+Inf"} 5`,
		"tap_delta_sum ",
		"tap_delta_count 5",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestExponentialBuckets(t *testing.T) {
	b := ExponentialBuckets(1, 2, 4)
	want := []float64{1, 2, 4, 8}
	for i := range want {
		if b[i] != want[i] {
			t.Fatalf("got %v, want %v", b, want)
		}
	}
	if len(DefaultBuckets()) == 0 {
		t.Error("no default buckets")
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	c := NewCounter("autocal_runs_total", "Runs")
	g := NewGauge("autocal_phase", "Phase")
	r.MustRegister(c, g)
	if err := r.Register(NewCounter("autocal_runs_total", "again")); err == nil {
		t.Error("expected duplicate registration error")
	}

	c.Inc(Labels{"outcome": "converged"})
	g.Set(nil, 3)
	out := r.Gather()

	for _, want := range []string{
		"# HELP autocal_runs_total Runs",
		"# TYPE autocal_runs_total counter",
		`autocal_runs_total{outcome="converged"} 1`,
		"# TYPE autocal_phase gauge",
		"autocal_phase 3",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
	if strings.Index(out, "autocal_runs_total") > strings.Index(out, "autocal_phase") {
		t.Error("metrics not in registration order")
	}
}

func TestLabels(t *testing.T) {
	l := Labels{"b": "2", "a": "1"}
	if k := l.Key(); k != "a=1,b=2" {
		t.Errorf("key %q", k)
	}
	if s := l.String(); s != `{a="1",b="2"}` {
		t.Errorf("string %q", s)
	}
	w := l.With("le", "0.5")
	if len(l) != 2 || w["le"] != "0.5" {
		t.Errorf("With modified the receiver or lost the label: %v %v", l, w)
	}
	var none Labels
	if none.String() != "" || none.Key() != "" {
		t.Error("nil labels should render empty")
	}
	esc := Labels{"path": "a\"b\\c\nd"}
	if s := esc.String(); s != `{path="a\"b\\c\nd"}` {
		t.Errorf("escaped %q", s)
	}
}
