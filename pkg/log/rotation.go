// Size-based log file rotation
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package log

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// RotationConfig describes the -logfile destination.
type RotationConfig struct {
	Filename   string
	MaxSize    int  // megabytes before rolling over, default 10
	MaxBackups int  // rolled files kept, default 5
	Compress   bool // gzip rolled files
}

// RotatingFileWriter appends to Filename and rolls it over to
// name.YYYYMMDD-hhmmss.ext once it would grow past MaxSize. Long
// unattended G33 loops are what fill it.
type RotatingFileWriter struct {
	cfg   RotationConfig
	limit int64

	mu   sync.Mutex
	f    *os.File
	size int64
	now  func() time.Time
}

const rolledStamp = "20060102-150405"

// NewRotatingFileWriter opens or creates the file, creating its
// directory as needed.
func NewRotatingFileWriter(cfg RotationConfig) (*RotatingFileWriter, error) {
	if cfg.Filename == "" {
		return nil, fmt.Errorf("log rotation: filename is required")
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 10
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 5
	}
	w := &RotatingFileWriter{cfg: cfg, limit: int64(cfg.MaxSize) << 20, now: time.Now}
	if err := w.reopen(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *RotatingFileWriter) reopen() error {
	if err := os.MkdirAll(filepath.Dir(w.cfg.Filename), 0o755); err != nil {
		return fmt.Errorf("log rotation: %w", err)
	}
	f, err := os.OpenFile(w.cfg.Filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("log rotation: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("log rotation: %w", err)
	}
	w.f, w.size = f, st.Size()
	return nil
}

func (w *RotatingFileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.size > 0 && w.size+int64(len(p)) > w.limit {
		if err := w.roll(); err != nil {
			return 0, fmt.Errorf("log rotation: %w", err)
		}
	}
	n, err := w.f.Write(p)
	w.size += int64(n)
	return n, err
}

// rolledName is the name the active file is renamed to at t.
func (w *RotatingFileWriter) rolledName(t time.Time) string {
	ext := filepath.Ext(w.cfg.Filename)
	return strings.TrimSuffix(w.cfg.Filename, ext) + "." + t.Format(rolledStamp) + ext
}

func (w *RotatingFileWriter) roll() error {
	if err := w.f.Close(); err != nil {
		return err
	}
	rolled := w.rolledName(w.now())
	if err := os.Rename(w.cfg.Filename, rolled); err != nil {
		w.reopen()
		return err
	}
	if w.cfg.Compress && gzipInPlace(rolled) == nil {
		os.Remove(rolled)
	}
	w.prune()
	return w.reopen()
}

// gzipInPlace writes name.gz next to name, leaving name alone.
func gzipInPlace(name string) (err error) {
	src, err := os.Open(name)
	if err != nil {
		return err
	}
	defer src.Close()
	dst, err := os.Create(name + ".gz")
	if err != nil {
		return err
	}
	defer func() {
		if cerr := dst.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(name + ".gz")
		}
	}()
	zw := gzip.NewWriter(dst)
	if _, err = io.Copy(zw, src); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

// prune drops the oldest rolled files beyond MaxBackups.
func (w *RotatingFileWriter) prune() {
	dir := filepath.Dir(w.cfg.Filename)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	base := filepath.Base(w.cfg.Filename)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	var rolled []string
	for _, e := range entries {
		if isRotatedFile(e.Name(), stem, ext) {
			rolled = append(rolled, e.Name())
		}
	}
	// Stamps sort oldest first.
	sort.Strings(rolled)
	if extra := len(rolled) - w.cfg.MaxBackups; extra > 0 {
		for _, name := range rolled[:extra] {
			os.Remove(filepath.Join(dir, name))
		}
	}
}

// isRotatedFile matches stem.YYYYMMDD-hhmmss.ext, optionally gzipped.
func isRotatedFile(name, stem, ext string) bool {
	mid, ok := strings.CutPrefix(strings.TrimSuffix(name, ".gz"), stem+".")
	if !ok {
		return false
	}
	mid, ok = strings.CutSuffix(mid, ext)
	if !ok {
		return false
	}
	_, err := time.Parse(rolledStamp, mid)
	return err == nil
}

func (w *RotatingFileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	return w.f.Close()
}

// CurrentSize is the size of the active file in bytes.
func (w *RotatingFileWriter) CurrentSize() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

func (w *RotatingFileWriter) Filename() string { return w.cfg.Filename }

// AttachFile points l's sink at a rotating file, keeping the current
// writer as well when tee is set. Colour is switched off.
func AttachFile(l *Logger, cfg RotationConfig, tee bool) (*RotatingFileWriter, error) {
	fw, err := NewRotatingFileWriter(cfg)
	if err != nil {
		return nil, err
	}
	l.configure(func(s *sink) {
		if tee {
			s.w = io.MultiWriter(s.w, fw)
		} else {
			s.w = fw
		}
		s.color = false
	})
	return fw, nil
}
