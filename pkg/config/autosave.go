package config

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"delta-autocal/pkg/errors"
)

// AutosaveConfig is a Config that calibrated values can be written back
// into. Only SaveChanges touches the disk.
type AutosaveConfig struct {
	*Config

	mu    sync.Mutex
	path  string
	dirty map[string]map[string]string // section -> option -> new value

	now func() time.Time // backup timestamps
}

// NewAutosaveConfig wraps cfg, remembering path as the save target.
func NewAutosaveConfig(cfg *Config, path string) *AutosaveConfig {
	return &AutosaveConfig{Config: cfg, path: path, dirty: map[string]map[string]string{}, now: time.Now}
}

// LoadAutosave loads path for write-back. The file does not have to
// exist yet; it is created by the first save.
func LoadAutosave(path string) (*AutosaveConfig, error) {
	cfg := New()
	if _, err := os.Stat(path); err == nil {
		if cfg, err = Load(path); err != nil {
			return nil, err
		}
	}
	return NewAutosaveConfig(cfg, path), nil
}

// SetOption records a new value, creating the section when needed.
func (c *AutosaveConfig) SetOption(section, option, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if sec := c.Config.GetSectionOptional(section); sec != nil {
		sec.set(option, value)
	} else {
		c.Config.addSection(section, map[string]string{option: value})
	}
	if c.dirty[section] == nil {
		c.dirty[section] = map[string]string{}
	}
	c.dirty[section][strings.ToLower(option)] = value
}

// GetModifiedSections lists sections with unsaved values, sorted.
func (c *AutosaveConfig) GetModifiedSections() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.dirty))
	for name := range c.dirty {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasChanges reports unsaved values.
func (c *AutosaveConfig) HasChanges() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.dirty) > 0
}

// GetOriginalPath returns the save target given at load time.
func (c *AutosaveConfig) GetOriginalPath() string { return c.path }

// SaveChanges writes the whole file to path, or back over the loaded
// file when path is empty. Overwriting the loaded file keeps the old
// one as name-YYYYMMDD_hhmmss.ext.
func (c *AutosaveConfig) SaveChanges(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if path == "" {
		path = c.path
	}
	if path == "" {
		return errors.New(errors.ErrConfigValidation, "no path to save config to")
	}
	if path == c.path {
		if err := c.backup(); err != nil {
			return errors.Wrap(err, errors.ErrRuntime, "failed to create config backup").SetContext("path", path)
		}
	}
	if err := replaceFile(path, []byte(c.render())); err != nil {
		return errors.Wrap(err, errors.ErrRuntime, "failed to write config").SetContext("path", path)
	}
	c.dirty = map[string]map[string]string{}
	return nil
}

func (c *AutosaveConfig) backup() error {
	data, err := os.ReadFile(c.path)
	switch {
	case os.IsNotExist(err):
		return nil
	case err != nil:
		return err
	}
	ext := filepath.Ext(c.path)
	stamped := strings.TrimSuffix(c.path, ext) + "-" + c.now().Format("20060102_150405") + ext
	return os.WriteFile(stamped, data, 0o644)
}

// replaceFile writes data next to path and renames it into place, so a
// crash mid-write never leaves a truncated config.
func replaceFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".autocal-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// render emits sections in load order, options sorted within each.
func (c *AutosaveConfig) render() string {
	var sb strings.Builder
	for i, name := range c.Config.GetSectionNames() {
		if i > 0 {
			sb.WriteByte('\n')
		}
		c.Config.mu.RLock()
		sec := c.Config.secs[name]
		c.Config.mu.RUnlock()

		opts := sec.RawOptions()
		keys := make([]string, 0, len(opts))
		for k := range opts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString("[" + name + "]\n")
		for _, k := range keys {
			sb.WriteString(k + ": " + opts[k] + "\n")
		}
	}
	return sb.String()
}
