// Prometheus text-format metric primitives
//
// Counters, gauges and histograms keyed by label sets, gathered into the
// text exposition format for scraping.
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Labels are metric labels as key-value pairs.
type Labels map[string]string

// Key is a canonical form of the label set.
func (l Labels) Key() string {
	keys := l.sortedKeys()
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + l[k]
	}
	return strings.Join(parts, ",")
}

// String renders the labels as {k="v",...}, or "" when empty.
func (l Labels) String() string {
	if len(l) == 0 {
		return ""
	}
	keys := l.sortedKeys()
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + `="` + escapeLabel(l[k]) + `"`
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// With returns a copy of l plus one more label.
func (l Labels) With(key, value string) Labels {
	out := l.clone()
	out[key] = value
	return out
}

func (l Labels) clone() Labels {
	out := make(Labels, len(l))
	for k, v := range l {
		out[k] = v
	}
	return out
}

func (l Labels) sortedKeys() []string {
	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func escapeLabel(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return strings.ReplaceAll(s, "\n", `\n`)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Metric is anything a Registry can expose.
type Metric interface {
	Name() string
	Write(sb *strings.Builder)
}

// family holds the per-label-set values of one metric.
type family[V any] struct {
	name, help, kind string

	mu     sync.Mutex
	series map[string]*V
	labels map[string]Labels
	order  []string
}

func (f *family[V]) init(name, help, kind string) {
	f.name, f.help, f.kind = name, help, kind
	f.series = make(map[string]*V)
	f.labels = make(map[string]Labels)
}

func (f *family[V]) Name() string { return f.name }

// get returns the series for labels, creating it with init. Callers
// hold f.mu.
func (f *family[V]) get(labels Labels, init func() *V) *V {
	key := labels.Key()
	v, ok := f.series[key]
	if !ok {
		v = init()
		f.series[key] = v
		f.labels[key] = labels.clone()
		f.order = append(f.order, key)
	}
	return v
}

func (f *family[V]) header(sb *strings.Builder) {
	fmt.Fprintf(sb, "# HELP %s %s\n# TYPE %s %s\n", f.name, f.help, f.name, f.kind)
}

// Counter is a monotonically increasing metric.
type Counter struct {
	family[uint64]
}

// NewCounter creates a counter.
func NewCounter(name, help string) *Counter {
	c := &Counter{}
	c.init(name, help, "counter")
	return c
}

// Inc adds one.
func (c *Counter) Inc(labels Labels) { c.Add(labels, 1) }

// Add increments the counter by delta.
func (c *Counter) Add(labels Labels, delta uint64) {
	c.mu.Lock()
	*c.get(labels, func() *uint64 { return new(uint64) }) += delta
	c.mu.Unlock()
}

// Get returns the current value for labels.
func (c *Counter) Get(labels Labels) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.series[labels.Key()]; ok {
		return *v
	}
	return 0
}

func (c *Counter) Write(sb *strings.Builder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.header(sb)
	for _, key := range c.order {
		fmt.Fprintf(sb, "%s%s %d\n", c.name, c.labels[key], *c.series[key])
	}
}

// Gauge is a metric that can go up and down.
type Gauge struct {
	family[float64]
}

// NewGauge creates a gauge.
func NewGauge(name, help string) *Gauge {
	g := &Gauge{}
	g.init(name, help, "gauge")
	return g
}

// Set sets the gauge for labels.
func (g *Gauge) Set(labels Labels, value float64) {
	g.mu.Lock()
	*g.get(labels, func() *float64 { return new(float64) }) = value
	g.mu.Unlock()
}

// Get returns the current value for labels.
func (g *Gauge) Get(labels Labels) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if v, ok := g.series[labels.Key()]; ok {
		return *v
	}
	return 0
}

func (g *Gauge) Write(sb *strings.Builder) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.header(sb)
	for _, key := range g.order {
		fmt.Fprintf(sb, "%s%s %s\n", g.name, g.labels[key], formatFloat(*g.series[key]))
	}
}

type histogramValue struct {
	count   uint64
	sum     float64
	buckets []uint64 // per bucket, not cumulative
}

// Histogram tracks the distribution of observations.
type Histogram struct {
	family[histogramValue]
	bounds []float64
}

// NewHistogram creates a histogram with the given upper bounds.
func NewHistogram(name, help string, bounds []float64) *Histogram {
	sorted := append([]float64(nil), bounds...)
	sort.Float64s(sorted)
	h := &Histogram{bounds: sorted}
	h.init(name, help, "histogram")
	return h
}

// DefaultBuckets suit durations in seconds.
func DefaultBuckets() []float64 {
	return []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}
}

// ExponentialBuckets creates count bounds from start, each factor apart.
func ExponentialBuckets(start, factor float64, count int) []float64 {
	b := make([]float64, count)
	for i := range b {
		b[i] = start
		start *= factor
	}
	return b
}

// Observe records a value.
func (h *Histogram) Observe(labels Labels, value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	hv := h.get(labels, func() *histogramValue {
		return &histogramValue{buckets: make([]uint64, len(h.bounds))}
	})
	hv.count++
	hv.sum += value
	if i := sort.SearchFloat64s(h.bounds, value); i < len(h.bounds) {
		hv.buckets[i]++
	}
}

// Count returns how many values were observed for labels.
func (h *Histogram) Count(labels Labels) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if hv, ok := h.series[labels.Key()]; ok {
		return hv.count
	}
	return 0
}

func (h *Histogram) Write(sb *strings.Builder) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.header(sb)
	for _, key := range h.order {
		hv, labels := h.series[key], h.labels[key]
		var cumulative uint64
		for i, bound := range h.bounds {
			cumulative += hv.buckets[i]
			fmt.Fprintf(sb, "%s_bucket%s %d\n", h.name, labels.With("le", formatFloat(bound)), cumulative)
		}
		fmt.Fprintf(sb, "%s_bucket%s %d\n", h.name, labels.With("le", "+Inf"), hv.count)
		fmt.Fprintf(sb, "%s_sum%s %s\n", h.name, labels, formatFloat(hv.sum))
		fmt.Fprintf(sb, "%s_count%s %d\n", h.name, labels, hv.count)
	}
}

// Registry holds metrics in registration order.
type Registry struct {
	mu      sync.RWMutex
	metrics []Metric
	names   map[string]bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{names: make(map[string]bool)}
}

// Register adds a metric; names must be unique.
func (r *Registry) Register(m Metric) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.names[m.Name()] {
		return fmt.Errorf("metric %q already registered", m.Name())
	}
	r.names[m.Name()] = true
	r.metrics = append(r.metrics, m)
	return nil
}

// MustRegister adds a metric and panics on error.
func (r *Registry) MustRegister(ms ...Metric) {
	for _, m := range ms {
		if err := r.Register(m); err != nil {
			panic(err)
		}
	}
}

// Gather renders every metric in text exposition format.
func (r *Registry) Gather() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var sb strings.Builder
	for _, m := range r.metrics {
		m.Write(&sb)
	}
	return sb.String()
}
