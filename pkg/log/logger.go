// Structured logging for delta-autocal
//
// Component loggers (calibrate, printer, serial, ...) share one sink, so
// the level, format and destination chosen on the command line reach
// every one of them. Lines carry key/value fields and are encoded as
// text or JSON.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package log

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// LogLevel is a message severity.
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

var levelNames = [...]string{DEBUG: "DEBUG", INFO: "INFO", WARN: "WARN", ERROR: "ERROR"}

func (l LogLevel) String() string {
	if l < DEBUG || l > ERROR {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// ParseLevel maps a level name to a LogLevel. WARNING is accepted for
// WARN; anything unrecognised is INFO.
func ParseLevel(s string) LogLevel {
	name := strings.ToUpper(strings.TrimSpace(s))
	if name == "WARNING" {
		return WARN
	}
	for i, n := range levelNames {
		if n == name {
			return LogLevel(i)
		}
	}
	return INFO
}

// OutputFormat selects the line encoding.
type OutputFormat int

const (
	FormatText OutputFormat = iota
	FormatJSON
)

// ParseFormat maps "json" to FormatJSON and anything else to FormatText.
func ParseFormat(s string) OutputFormat {
	if strings.EqualFold(strings.TrimSpace(s), "json") {
		return FormatJSON
	}
	return FormatText
}

// Fields are key/value pairs attached to a line.
type Fields map[string]interface{}

// merge returns a new map holding f overlaid with extra.
func (f Fields) merge(extra Fields) Fields {
	if len(extra) == 0 {
		return f
	}
	out := make(Fields, len(f)+len(extra))
	for k, v := range f {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func (f Fields) sortedKeys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// record is one line about to be encoded.
type record struct {
	time   time.Time
	level  LogLevel
	prefix string
	msg    string
	caller string
	fields Fields
}

// sink is shared by a logger and everything derived from it.
type sink struct {
	mu     sync.Mutex
	w      io.Writer
	level  LogLevel
	format OutputFormat
	color  bool
	caller bool
}

func (s *sink) write(r record) {
	var line []byte
	if s.format == FormatJSON {
		line = encodeJSON(r)
	} else {
		line = encodeText(r, s.color)
	}
	s.w.Write(line)
}

// Logger writes leveled messages under a component prefix.
type Logger struct {
	prefix string
	fields Fields
	out    *sink
}

// New creates a logger with its own sink on stderr at INFO.
func New(prefix string) *Logger {
	return &Logger{prefix: prefix, out: &sink{
		w:     os.Stderr,
		level: INFO,
		color: os.Getenv("NO_COLOR") == "",
	}}
}

// configure runs fn under the sink lock.
func (l *Logger) configure(fn func(s *sink)) {
	l.out.mu.Lock()
	fn(l.out)
	l.out.mu.Unlock()
}

func (l *Logger) SetLevel(level LogLevel)     { l.configure(func(s *sink) { s.level = level }) }
func (l *Logger) SetWriter(w io.Writer)       { l.configure(func(s *sink) { s.w = w }) }
func (l *Logger) SetColorize(on bool)         { l.configure(func(s *sink) { s.color = on }) }
func (l *Logger) SetFormat(f OutputFormat)    { l.configure(func(s *sink) { s.format = f }) }
func (l *Logger) SetCaller(on bool)           { l.configure(func(s *sink) { s.caller = on }) }
func (l *Logger) Enabled(level LogLevel) bool { return level >= l.GetLevel() }

func (l *Logger) GetLevel() LogLevel {
	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	return l.out.level
}

// WithPrefix returns a logger on the same sink under another component
// name.
func (l *Logger) WithPrefix(prefix string) *Logger {
	return &Logger{prefix: prefix, fields: l.fields, out: l.out}
}

// With returns a logger that adds fields to every line, e.g. the run id
// for the length of a calibration.
func (l *Logger) With(fields Fields) *Logger {
	return &Logger{prefix: l.prefix, fields: l.fields.merge(fields), out: l.out}
}

func (l *Logger) WithField(key string, value interface{}) *Entry {
	return &Entry{logger: l, fields: Fields{key: value}}
}

func (l *Logger) WithFields(fields Fields) *Entry {
	return &Entry{logger: l, fields: fields}
}

func (l *Logger) WithError(err error) *Entry {
	return l.WithField("error", err.Error())
}

func (l *Logger) Debug(msg string, args ...interface{}) { l.log(DEBUG, nil, msg, args) }
func (l *Logger) Info(msg string, args ...interface{})  { l.log(INFO, nil, msg, args) }
func (l *Logger) Warn(msg string, args ...interface{})  { l.log(WARN, nil, msg, args) }
func (l *Logger) Error(msg string, args ...interface{}) { l.log(ERROR, nil, msg, args) }

// callerSkip steps over log and the exported method that called it.
const callerSkip = 2

func (l *Logger) log(level LogLevel, extra Fields, msg string, args []interface{}) {
	s := l.out
	s.mu.Lock()
	defer s.mu.Unlock()
	if level < s.level {
		return
	}
	r := record{time: time.Now(), level: level, prefix: l.prefix, msg: msg, fields: l.fields.merge(extra)}
	if len(args) > 0 {
		r.msg = fmt.Sprintf(msg, args...)
	}
	if s.caller {
		if _, file, line, ok := runtime.Caller(callerSkip); ok {
			r.caller = fmt.Sprintf("%s:%d", filepath.Base(file), line)
		} else {
			r.caller = "unknown:0"
		}
	}
	s.write(r)
}

var levelColors = [...]string{DEBUG: "\x1b[36m", INFO: "\x1b[32m", WARN: "\x1b[33m", ERROR: "\x1b[31m"}

// encodeText renders
//
//	2006-01-02 15:04:05.000 [INFO ] calibrate: msg (file:line) {k=v, ...}
func encodeText(r record, color bool) []byte {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s [%-5s] ", r.time.Format("2006-01-02 15:04:05.000"), r.level)
	if color {
		sb.WriteString(levelColors[r.level] + r.prefix + "\x1b[0m")
	} else {
		sb.WriteString(r.prefix)
	}
	sb.WriteString(": " + r.msg)
	if r.caller != "" {
		sb.WriteString(" (" + r.caller + ")")
	}
	if len(r.fields) > 0 {
		pairs := make([]string, 0, len(r.fields))
		for _, k := range r.fields.sortedKeys() {
			pairs = append(pairs, fmt.Sprintf("%s=%v", k, r.fields[k]))
		}
		sb.WriteString(" {" + strings.Join(pairs, ", ") + "}")
	}
	sb.WriteByte('\n')
	return []byte(sb.String())
}

// JSONLogEntry is one line of FormatJSON output.
type JSONLogEntry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Logger    string                 `json:"logger"`
	Message   string                 `json:"message"`
	Caller    string                 `json:"caller,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

func encodeJSON(r record) []byte {
	data, err := json.Marshal(JSONLogEntry{
		Timestamp: r.time.Format(time.RFC3339Nano),
		Level:     r.level.String(),
		Logger:    r.prefix,
		Message:   r.msg,
		Caller:    r.caller,
		Fields:    r.fields,
	})
	if err != nil {
		data, _ = json.Marshal(map[string]string{"error": "failed to marshal log entry: " + err.Error()})
	}
	return append(data, '\n')
}

// Entry is a line under construction with its own fields.
type Entry struct {
	logger *Logger
	fields Fields
}

func (e *Entry) WithField(key string, value interface{}) *Entry {
	return e.WithFields(Fields{key: value})
}

func (e *Entry) WithFields(fields Fields) *Entry {
	return &Entry{logger: e.logger, fields: e.fields.merge(fields)}
}

func (e *Entry) WithError(err error) *Entry {
	return e.WithField("error", err.Error())
}

func (e *Entry) Debug(msg string) { e.logger.log(DEBUG, e.fields, msg, nil) }
func (e *Entry) Info(msg string)  { e.logger.log(INFO, e.fields, msg, nil) }
func (e *Entry) Warn(msg string)  { e.logger.log(WARN, e.fields, msg, nil) }
func (e *Entry) Error(msg string) { e.logger.log(ERROR, e.fields, msg, nil) }

func (e *Entry) Debugf(format string, args ...interface{}) { e.logger.log(DEBUG, e.fields, format, args) }
func (e *Entry) Infof(format string, args ...interface{})  { e.logger.log(INFO, e.fields, format, args) }
func (e *Entry) Warnf(format string, args ...interface{})  { e.logger.log(WARN, e.fields, format, args) }
func (e *Entry) Errorf(format string, args ...interface{}) { e.logger.log(ERROR, e.fields, format, args) }

var (
	rootOnce sync.Once
	root     *Logger
)

// Root returns the process-wide logger. Settings made on it reach every
// logger from GetLogger.
func Root() *Logger {
	rootOnce.Do(func() {
		root = New("autocal")
		ConfigureFromEnv(root)
	})
	return root
}

// GetLogger returns a component logger on the root sink.
func GetLogger(prefix string) *Logger {
	return Root().WithPrefix(prefix)
}

// ConfigureFromEnv reads AUTOCAL_LOG_LEVEL, AUTOCAL_LOG_FORMAT (text or
// json), AUTOCAL_LOG_CALLER and NO_COLOR.
func ConfigureFromEnv(l *Logger) {
	if v := os.Getenv("AUTOCAL_LOG_LEVEL"); v != "" {
		l.SetLevel(ParseLevel(v))
	}
	if v := os.Getenv("AUTOCAL_LOG_FORMAT"); v != "" {
		l.SetFormat(ParseFormat(v))
	}
	if os.Getenv("AUTOCAL_LOG_CALLER") != "" {
		l.SetCaller(true)
	}
	if os.Getenv("NO_COLOR") != "" {
		l.SetColorize(false)
	}
}
