// Structured logging tests
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func newTestLogger(prefix string) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	l := New(prefix)
	l.SetWriter(&buf)
	l.SetLevel(DEBUG)
	l.SetColorize(false)
	return l, &buf
}

func TestLoggerBasic(t *testing.T) {
	logger, buf := newTestLogger("calibrate")

	logger.Info("pass %d", 3)

	output := buf.String()
	if !strings.Contains(output, "[INFO ]") {
		t.Errorf("expected INFO level, got: %s", output)
	}
	if !strings.Contains(output, "calibrate: pass 3") {
		t.Errorf("expected prefixed message, got: %s", output)
	}
}

func TestLoggerLevels(t *testing.T) {
	logger, buf := newTestLogger("test")
	logger.SetLevel(WARN)

	logger.Debug("hidden")
	logger.Info("hidden")
	logger.Warn("shown warn")
	logger.Error("shown error")

	output := buf.String()
	if strings.Contains(output, "hidden") {
		t.Errorf("messages below WARN leaked: %s", output)
	}
	if !strings.Contains(output, "shown warn") || !strings.Contains(output, "shown error") {
		t.Errorf("expected WARN and ERROR lines, got: %s", output)
	}
	if logger.Enabled(INFO) {
		t.Error("INFO should be disabled at WARN")
	}
}

func TestLoggerJSON(t *testing.T) {
	logger, buf := newTestLogger("printer")
	logger.SetFormat(FormatJSON)

	logger.WithFields(Fields{"x": -0.15, "tower": "X"}).Info("error vector")

	var entry JSONLogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}
	if entry.Level != "INFO" || entry.Logger != "printer" || entry.Message != "error vector" {
		t.Errorf("unexpected entry: %+v", entry)
	}
	if entry.Fields["tower"] != "X" {
		t.Errorf("expected tower field, got %v", entry.Fields)
	}
}

func TestLoggerPrefixSharesSink(t *testing.T) {
	root, buf := newTestLogger("autocal")
	child := root.WithPrefix("serial")

	root.SetLevel(ERROR)
	child.Info("suppressed")
	child.Error("link lost")

	output := buf.String()
	if strings.Contains(output, "suppressed") {
		t.Errorf("child ignored root level: %s", output)
	}
	if !strings.Contains(output, "serial: link lost") {
		t.Errorf("expected child prefix, got: %s", output)
	}
}

func TestLoggerWithPersistentFields(t *testing.T) {
	root, buf := newTestLogger("calibrate")
	run := root.With(Fields{"run": "abc"})

	run.WithField("pass", 2).Info("probing")

	output := buf.String()
	if !strings.Contains(output, "{pass=2, run=abc}") {
		t.Errorf("expected sorted merged fields, got: %s", output)
	}
}

func TestLoggerWithError(t *testing.T) {
	logger, buf := newTestLogger("test")

	logger.WithError(errors.New("timeout")).Error("read failed")

	if !strings.Contains(buf.String(), "error=timeout") {
		t.Errorf("expected error field, got: %s", buf.String())
	}
}

func TestLoggerCaller(t *testing.T) {
	logger, buf := newTestLogger("test")
	logger.SetCaller(true)

	logger.Info("caller test")
	logger.WithField("k", 1).Info("entry caller")

	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if !strings.Contains(line, "logger_test.go:") {
			t.Errorf("expected caller info 'logger_test.go:', got: %s", line)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected LogLevel
	}{
		{"DEBUG", DEBUG},
		{"debug", DEBUG},
		{"INFO", INFO},
		{"WARNING", WARN},
		{"warn", WARN},
		{" error ", ERROR},
		{"invalid", INFO},
		{"", INFO},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.input); got != tt.expected {
			t.Errorf("ParseLevel(%q) = %v, expected %v", tt.input, got, tt.expected)
		}
	}
}

func TestParseFormat(t *testing.T) {
	if ParseFormat("JSON") != FormatJSON {
		t.Error("expected JSON format")
	}
	if ParseFormat("plain") != FormatText {
		t.Error("expected text fallback")
	}
}

func TestGetLoggerUsesRoot(t *testing.T) {
	logger := GetLogger("heightmap")
	if logger.prefix != "heightmap" {
		t.Errorf("expected prefix 'heightmap', got %q", logger.prefix)
	}
	if logger.out != Root().out {
		t.Error("component logger does not share the root sink")
	}
}

func BenchmarkLoggerText(b *testing.B) {
	var buf bytes.Buffer
	logger := New("bench")
	logger.SetWriter(&buf)
	logger.SetColorize(false)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf.Reset()
		logger.Info("benchmark message %d", i)
	}
}
