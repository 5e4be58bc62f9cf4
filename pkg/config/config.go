package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"delta-autocal/pkg/errors"
)

// Config is a parsed autocal INI file: [section] headers followed by
// "key: value" or "key = value" lines.
type Config struct {
	mu    sync.RWMutex
	secs  map[string]*Section
	names []string // in file order
	asked map[string]bool
}

// New returns an empty Config.
func New() *Config {
	return &Config{secs: map[string]*Section{}, asked: map[string]bool{}}
}

// Load reads path. An [include glob] header pulls in other files,
// relative to the including file.
func Load(path string) (*Config, error) {
	c := New()
	p := &parser{cfg: c, open: map[string]bool{}}
	if err := p.file(path); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadString parses an in-memory config; [include] is rejected.
func LoadString(data string) (*Config, error) {
	c := New()
	p := &parser{cfg: c}
	if err := p.read(strings.NewReader(data), "<string>", ""); err != nil {
		return nil, err
	}
	return c, nil
}

// parser tracks the files currently open so include loops fail.
type parser struct {
	cfg  *Config
	open map[string]bool // nil disables includes
}

func (p *parser) file(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return errors.Wrap(err, errors.ErrConfigValidation, "invalid config path").SetContext("path", path)
	}
	if p.open[abs] {
		return errors.Newf(errors.ErrConfigValidation, "recursive include: %s", path)
	}
	f, err := os.Open(abs)
	if err != nil {
		return errors.Wrap(err, errors.ErrConfigValidation, "unable to open config").SetContext("path", path)
	}
	defer f.Close()

	p.open[abs] = true
	defer delete(p.open, abs)
	return p.read(f, path, filepath.Dir(abs))
}

func (p *parser) include(dir, spec string) error {
	pattern := filepath.Join(dir, spec)
	files, err := filepath.Glob(pattern)
	if err != nil {
		return errors.Wrap(err, errors.ErrConfigValidation, fmt.Sprintf("invalid include pattern %q", spec))
	}
	if len(files) == 0 && !strings.ContainsAny(pattern, "*?[") {
		return errors.Newf(errors.ErrConfigValidation, "include file does not exist: %s", pattern)
	}
	sort.Strings(files)
	for _, f := range files {
		if err := p.file(f); err != nil {
			return err
		}
	}
	return nil
}

type lineKind int

const (
	blankLine lineKind = iota
	headerLine
	optionLine
)

// classify strips comments ('#' or ';' to end of line) and splits what
// is left.
func classify(raw string) (kind lineKind, a, b string) {
	if i := strings.IndexAny(raw, "#;"); i >= 0 {
		raw = raw[:i]
	}
	line := strings.TrimSpace(raw)
	switch {
	case line == "":
		return blankLine, "", ""
	case line[0] == '[' && line[len(line)-1] == ']':
		return headerLine, strings.TrimSpace(line[1 : len(line)-1]), ""
	}
	sep := strings.IndexAny(line, ":=")
	if sep <= 0 {
		return blankLine, "", ""
	}
	return optionLine, strings.TrimSpace(line[:sep]), strings.TrimSpace(line[sep+1:])
}

// read consumes one file. Options ahead of the first header are dropped.
func (p *parser) read(r io.Reader, name, dir string) error {
	var section string
	var opts map[string]string
	flush := func() {
		if section != "" {
			p.cfg.addSection(section, opts)
		}
		section, opts = "", nil
	}

	sc := bufio.NewScanner(r)
	for n := 1; sc.Scan(); n++ {
		kind, a, b := classify(sc.Text())
		switch kind {
		case headerLine:
			flush()
			if a == "" {
				return errors.Newf(errors.ErrConfigValidation, "empty section header at line %d in %s", n, name)
			}
			if spec, ok := strings.CutPrefix(a, "include "); ok {
				if p.open == nil {
					return errors.Newf(errors.ErrConfigValidation, "include not allowed at line %d in %s", n, name)
				}
				if err := p.include(dir, strings.TrimSpace(spec)); err != nil {
					return err
				}
				continue
			}
			section, opts = a, map[string]string{}
		case optionLine:
			if section != "" {
				opts[a] = b
			}
		}
	}
	flush()
	if err := sc.Err(); err != nil {
		return errors.Wrap(err, errors.ErrConfigValidation, "error reading config").SetContext("path", name)
	}
	return nil
}

// addSection merges into an earlier section of the same name; later
// values win.
func (c *Config) addSection(name string, options map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sec, ok := c.secs[name]; ok {
		for k, v := range options {
			sec.set(k, v)
		}
		return
	}
	c.secs[name] = newSection(name, options)
	c.names = append(c.names, name)
}

// GetSection is GetSectionOptional with a CONFIG_SECTION error for a
// missing section.
func (c *Config) GetSection(name string) (*Section, error) {
	if sec := c.GetSectionOptional(name); sec != nil {
		return sec, nil
	}
	return nil, ErrMissingSection(name)
}

// GetSectionOptional returns the section or nil, marking it as used.
func (c *Config) GetSectionOptional(name string) *Section {
	c.mu.Lock()
	defer c.mu.Unlock()
	sec := c.secs[name]
	if sec != nil {
		c.asked[name] = true
	}
	return sec
}

func (c *Config) HasSection(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.secs[name] != nil
}

// GetSectionNames lists sections in the order first seen.
func (c *Config) GetSectionNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.names...)
}

// GetUnusedSections lists sections nothing asked for, sorted.
func (c *Config) GetUnusedSections() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var left []string
	for _, name := range c.names {
		if !c.asked[name] {
			left = append(left, name)
		}
	}
	sort.Strings(left)
	return left
}

// CheckUnusedOptions fails with CONFIG_OPTION naming every key left
// unread in a section that was read, which is where typos end up.
// Sections nobody asked for are not checked.
func (c *Config) CheckUnusedOptions() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var problems []string
	for _, name := range c.names {
		if !c.asked[name] {
			continue
		}
		if left := c.secs[name].GetUnusedOptions(); len(left) > 0 {
			problems = append(problems, fmt.Sprintf("[%s]: unused options %v", name, left))
		}
	}
	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return errors.New(errors.ErrConfigOption, strings.Join(problems, "; "))
}
