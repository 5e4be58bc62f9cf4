package config

import (
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Section is one [name] block of a Config. Every read is remembered so
// that leftover keys (usually typos such as "raduis") can be reported.
type Section struct {
	name string

	mu   sync.RWMutex
	opts map[string]string
	read map[string]bool
}

func newSection(name string, options map[string]string) *Section {
	s := &Section{name: name, opts: make(map[string]string, len(options)), read: make(map[string]bool)}
	for k, v := range options {
		s.opts[strings.ToLower(k)] = v
	}
	return s
}

// GetName returns the section name.
func (s *Section) GetName() string { return s.name }

func (s *Section) lookup(option string) (string, bool) {
	key := strings.ToLower(option)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.read[key] = true
	raw, ok := s.opts[key]
	return strings.TrimSpace(raw), ok
}

// GetUnusedOptions lists the keys nothing has asked for, sorted.
func (s *Section) GetUnusedOptions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var left []string
	for key := range s.opts {
		if !s.read[key] {
			left = append(left, key)
		}
	}
	sort.Strings(left)
	return left
}

// HasOption reports whether the key is present, without marking it read.
func (s *Section) HasOption(option string) bool {
	s.mu.RLock()
	_, ok := s.opts[strings.ToLower(option)]
	s.mu.RUnlock()
	return ok
}

// parsed resolves option through parse, falling back to fallback[0].
func parsed[T any](s *Section, option, kind string, parse func(string) (T, error), fallback []T) (T, error) {
	var zero T
	raw, ok := s.lookup(option)
	if !ok {
		if len(fallback) > 0 {
			return fallback[0], nil
		}
		return zero, ErrMissingOption(s.name, option)
	}
	v, err := parse(raw)
	if err != nil {
		return zero, ErrInvalidValue(s.name, option, raw, kind, err)
	}
	return v, nil
}

// Get returns the raw string value. With no fallback a missing key is
// an error.
func (s *Section) Get(option string, fallback ...string) (string, error) {
	return parsed(s, option, "string", func(v string) (string, error) { return v, nil }, fallback)
}

// GetInt parses a base-10 integer such as max_runs or baud.
func (s *Section) GetInt(option string, fallback ...int) (int, error) {
	return parsed(s, option, "integer", strconv.Atoi, fallback)
}

// GetFloat parses a millimetre or temperature value.
func (s *Section) GetFloat(option string, fallback ...float64) (float64, error) {
	return parsed(s, option, "float", func(v string) (float64, error) {
		return strconv.ParseFloat(v, 64)
	}, fallback)
}

var boolWords = map[string]bool{
	"1": true, "true": true, "yes": true, "on": true,
	"0": false, "false": false, "no": false, "off": false,
}

// GetBool accepts 1/0, true/false, yes/no and on/off.
func (s *Section) GetBool(option string, fallback ...bool) (bool, error) {
	return parsed(s, option, "boolean", func(v string) (bool, error) {
		b, ok := boolWords[strings.ToLower(v)]
		if !ok {
			return false, strconv.ErrSyntax
		}
		return b, nil
	}, fallback)
}

// FloatBounds limits GetFloatWithBounds. Nil fields are unchecked.
type FloatBounds struct {
	MinVal *float64 // >=
	MaxVal *float64 // <=
	Above  *float64 // >
}

func (b FloatBounds) check(v float64) string {
	mm := func(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }
	switch {
	case b.MinVal != nil && v < *b.MinVal:
		return "must have minimum of " + mm(*b.MinVal)
	case b.MaxVal != nil && v > *b.MaxVal:
		return "must have maximum of " + mm(*b.MaxVal)
	case b.Above != nil && v <= *b.Above:
		return "must be above " + mm(*b.Above)
	}
	return ""
}

// GetFloatWithBounds is GetFloat plus a range check. The fallback is
// checked too, so a bad default surfaces as a validation error.
func (s *Section) GetFloatWithBounds(option string, bounds FloatBounds, fallback ...float64) (float64, error) {
	v, err := s.GetFloat(option, fallback...)
	if err != nil {
		return 0, err
	}
	if why := bounds.check(v); why != "" {
		return 0, ErrOutOfRange(s.name, option, v, why)
	}
	return v, nil
}

// GetChoice returns the canonical spelling of one of choices, matched
// case-insensitively.
func (s *Section) GetChoice(option string, choices []string, fallback ...string) (string, error) {
	v, err := s.Get(option, fallback...)
	if err != nil {
		return "", err
	}
	for _, c := range choices {
		if strings.EqualFold(v, c) {
			return c, nil
		}
	}
	return "", ErrInvalidChoice(s.name, option, v, choices)
}

// RawOptions copies the options for writing back out.
func (s *Section) RawOptions() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.opts))
	for k, v := range s.opts {
		out[k] = v
	}
	return out
}

func (s *Section) set(option, value string) {
	s.mu.Lock()
	s.opts[strings.ToLower(option)] = value
	s.mu.Unlock()
}
