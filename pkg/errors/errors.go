// Error codes and the HostError type used across delta-autocal
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"slices"
)

// ErrorCode names a failure category. The calibration outcome codes
// are also what the CLI maps to exit statuses.
type ErrorCode string

const (
	ErrConfigSection    ErrorCode = "CONFIG_SECTION"
	ErrConfigOption     ErrorCode = "CONFIG_OPTION"
	ErrConfigValidation ErrorCode = "CONFIG_VALIDATION"
	ErrConfigType       ErrorCode = "CONFIG_TYPE"

	ErrGCodeParse        ErrorCode = "GCODE_PARSE"
	ErrGCodeUnknownCmd   ErrorCode = "GCODE_UNKNOWN_CMD"
	ErrGCodeInvalidParam ErrorCode = "GCODE_INVALID_PARAM"

	// Serial or socket link, and replies we could not make sense of.
	ErrTransport ErrorCode = "TRANSPORT"
	ErrProtocol  ErrorCode = "PROTOCOL"

	// Degenerate grid lookups and unusable probe patterns.
	ErrGeometry ErrorCode = "GEOMETRY"
	ErrPattern  ErrorCode = "PATTERN"

	ErrMaxIterations       ErrorCode = "MAX_ITERATIONS"
	ErrDiverged            ErrorCode = "DIVERGED"
	ErrHighTowerAmbiguous  ErrorCode = "HIGH_TOWER_AMBIGUOUS"
	ErrFirmwareCalibration ErrorCode = "FIRMWARE_CALIBRATION"

	ErrRuntime ErrorCode = "RUNTIME"
)

var (
	configCodes  = []ErrorCode{ErrConfigSection, ErrConfigOption, ErrConfigValidation, ErrConfigType}
	gcodeCodes   = []ErrorCode{ErrGCodeParse, ErrGCodeUnknownCmd, ErrGCodeInvalidParam}
	linkCodes    = []ErrorCode{ErrTransport, ErrProtocol}
	outcomeCodes = []ErrorCode{ErrMaxIterations, ErrDiverged, ErrHighTowerAmbiguous}
)

// HostError carries a code plus where it happened. Section is a config
// section or a component name ("printer", "calibrate"); Option is set
// for config errors only.
type HostError struct {
	Code    ErrorCode
	Message string
	Section string
	Option  string
	Err     error
	Context map[string]interface{}
}

// Error renders "[CODE:scope] message: cause", scope being the option
// when there is one.
func (e *HostError) Error() string {
	scope := e.Section
	if e.Option != "" {
		scope = e.Option
	}
	msg := fmt.Sprintf("[%s:%s] %s", e.Code, scope, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *HostError) Unwrap() error { return e.Err }

func (e *HostError) SetSection(section string) *HostError {
	e.Section = section
	return e
}

func (e *HostError) SetOption(option string) *HostError {
	e.Option = option
	return e
}

// SetContext attaches a detail such as the file path or the offending
// reply line.
func (e *HostError) SetContext(key string, value interface{}) *HostError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func New(code ErrorCode, message string) *HostError {
	return &HostError{Code: code, Message: message}
}

func Newf(code ErrorCode, format string, args ...interface{}) *HostError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap puts err under a code. A nil err still yields an error.
func Wrap(err error, code ErrorCode, message string) *HostError {
	return &HostError{Code: code, Message: message, Err: err}
}

func ConfigSectionError(section string) *HostError {
	return Newf(ErrConfigSection, "section '%s' not found", section).SetSection(section)
}

func ConfigOptionError(section, option string) *HostError {
	return Newf(ErrConfigOption, "option '%s' not found in section '%s'", option, section).
		SetSection(section).SetOption(option)
}

func ConfigValidationError(section, option string, reason string) *HostError {
	return Newf(ErrConfigValidation, "option '%s' in section '%s': %s", option, section, reason).
		SetSection(section).SetOption(option)
}

// ConfigTypeError reports a value that does not parse as targetType.
func ConfigTypeError(section, option, value string, targetType string, err error) *HostError {
	msg := fmt.Sprintf("option '%s' in section '%s': failed to parse '%s' as %s", option, section, value, targetType)
	return Wrap(err, ErrConfigType, msg).SetSection(section).SetOption(option)
}

// GCodeParseError reports a command line the printer side cannot parse.
func GCodeParseError(line string, reason string) *HostError {
	return Newf(ErrGCodeParse, "failed to parse G-code: %s (reason: %s)", line, reason)
}

func GCodeInvalidParameterError(command, param, value string, reason string) *HostError {
	return Newf(ErrGCodeInvalidParam, "G-code command '%s': invalid parameter '%s=%s' (%s)", command, param, value, reason)
}

// TransportError wraps a failed read, write or dial on the printer link.
func TransportError(operation string, err error) *HostError {
	return Wrap(err, ErrTransport, operation).SetSection("transport")
}

// ProtocolError reports a printer reply that does not fit the dialect,
// e.g. a probe reply with no Z value.
func ProtocolError(line string, reason string) *HostError {
	return Newf(ErrProtocol, "unexpected printer response %q: %s", line, reason).SetSection("protocol")
}

func GeometryError(message string) *HostError {
	return New(ErrGeometry, message).SetSection("geometry")
}

func PatternError(message string) *HostError {
	return New(ErrPattern, message).SetSection("pattern")
}

// RecoverPanic turns a panic into a RUNTIME error in *errp. Use it as
// `defer errors.RecoverPanic(&err)`.
func RecoverPanic(errp *error) {
	r := recover()
	if r == nil {
		return
	}
	var herr *HostError
	switch x := r.(type) {
	case runtime.Error:
		herr = New(ErrRuntime, x.Error())
	case error:
		herr = Wrap(x, ErrRuntime, "panic")
	default:
		herr = Newf(ErrRuntime, "panic: %v", x)
	}
	if errp != nil {
		*errp = herr
	}
}

// Is reports whether any HostError in err's chain has code. Plain
// wrappers (fmt.Errorf with %w) between them are looked through.
func Is(err error, code ErrorCode) bool {
	return anyOf(err, code)
}

func anyOf(err error, codes ...ErrorCode) bool {
	var he *HostError
	for stderrors.As(err, &he) {
		if slices.Contains(codes, he.Code) {
			return true
		}
		err = he.Err
	}
	return false
}

// CodeOf returns the outermost code in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var he *HostError
	if stderrors.As(err, &he) {
		return he.Code
	}
	return ""
}

func IsConfig(err error) bool { return anyOf(err, configCodes...) }

func IsGCode(err error) bool { return anyOf(err, gcodeCodes...) }

// IsLink reports a transport or protocol failure; the run cannot go on
// but the machine state is unknown rather than wrong.
func IsLink(err error) bool { return anyOf(err, linkCodes...) }

// IsFatalOutcome reports a calibration stop condition (outcomeCodes).
func IsFatalOutcome(err error) bool { return anyOf(err, outcomeCodes...) }
