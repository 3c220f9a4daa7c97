// Unified error handling for the printipi motion core.
//
// Copyright (C) 2026  Printipi Go Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package errors

import (
	"fmt"
)

// ErrorCode represents the category of error.
type ErrorCode string

const (
	// ErrConfigInvalid indicates geometry or pin configuration that
	// violates the machine invariants. Fatal at init.
	ErrConfigInvalid ErrorCode = "CONFIG_INVALID"

	// ErrOutOfEnvelope indicates a requested Cartesian position outside
	// the build envelope. The move is rejected; the planner continues.
	ErrOutOfEnvelope ErrorCode = "OUT_OF_ENVELOPE"

	// ErrPeripheralMap indicates that mapping /dev/mem (or reading the
	// pagemap) failed. Fatal.
	ErrPeripheralMap ErrorCode = "PERIPHERAL_MAP"

	// ErrDmaUnderrun indicates the scheduler cursor was caught by the
	// DMA read cursor. Recoverable by resynchronizing.
	ErrDmaUnderrun ErrorCode = "DMA_UNDERRUN"

	// ErrEndstopMidMove indicates an endstop trigger during a
	// non-homing move. The move is aborted.
	ErrEndstopMidMove ErrorCode = "ENDSTOP_MID_MOVE"

	// ErrTempSensorFault indicates a thermistor read repeatedly out of
	// bounds. The heater output is forced off.
	ErrTempSensorFault ErrorCode = "TEMP_SENSOR_FAULT"

	// ErrBusFault indicates the DMA DEBUG register reported a read or
	// FIFO error. Recoverable by resetting the channel.
	ErrBusFault ErrorCode = "BUS_FAULT"

	// ErrGCodeParse indicates a malformed command line.
	ErrGCodeParse ErrorCode = "GCODE_PARSE"
)

// CoreError is the unified error type for the motion core.
type CoreError struct {
	// Code is the error category.
	Code ErrorCode

	// Message is a human-readable error description.
	Message string

	// Err wraps the underlying error, if any.
	Err error

	// Context provides additional key/value context.
	Context map[string]interface{}
}

// Error implements the error interface.
func (e *CoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *CoreError) Unwrap() error {
	return e.Err
}

// SetContext attaches additional context to the error.
func (e *CoreError) SetContext(key string, value interface{}) *CoreError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new CoreError.
func New(code ErrorCode, message string) *CoreError {
	return &CoreError{Code: code, Message: message}
}

// Newf creates a new CoreError with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *CoreError {
	return &CoreError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with a code and message.
func Wrap(err error, code ErrorCode, message string) *CoreError {
	return &CoreError{Code: code, Message: message, Err: err}
}

// ConfigInvalid creates a configuration validation error.
func ConfigInvalid(format string, args ...interface{}) *CoreError {
	return Newf(ErrConfigInvalid, format, args...)
}

// OutOfEnvelope creates an out-of-envelope error for a Cartesian target.
func OutOfEnvelope(x, y, z float64) *CoreError {
	return Newf(ErrOutOfEnvelope, "position (%.3f, %.3f, %.3f) mm outside build envelope", x, y, z).
		SetContext("x", x).SetContext("y", y).SetContext("z", z)
}

// PeripheralMap creates a peripheral mapping error.
func PeripheralMap(what string, err error) *CoreError {
	return Wrap(err, ErrPeripheralMap, fmt.Sprintf("failed to map %s", what))
}

// DmaUnderrun creates a DMA underrun error.
func DmaUnderrun(cursor, readCursor uint64) *CoreError {
	return Newf(ErrDmaUnderrun, "scheduler cursor %d caught by DMA read cursor %d", cursor, readCursor)
}

// EndstopMidMove creates an error for an endstop trigger outside homing.
func EndstopMidMove(name string) *CoreError {
	return Newf(ErrEndstopMidMove, "endstop %s triggered during a non-homing move", name)
}

// TempSensorFault creates a thermistor fault error.
func TempSensorFault(channel string, consecutive int) *CoreError {
	return Newf(ErrTempSensorFault, "sensor %s: %d consecutive out-of-bounds samples", channel, consecutive)
}

// BusFault creates a DMA bus fault error.
func BusFault(debugFlags uint32) *CoreError {
	return Newf(ErrBusFault, "DMA DEBUG error flags 0x%x", debugFlags).
		SetContext("debug", debugFlags)
}

// GCodeParse creates a command parsing error.
func GCodeParse(line, reason string) *CoreError {
	return Newf(ErrGCodeParse, "failed to parse %q: %s", line, reason)
}

// Is reports whether err is a CoreError with the given code.
func Is(err error, code ErrorCode) bool {
	if ce, ok := err.(*CoreError); ok {
		return ce.Code == code
	}
	return false
}

// IsFatal reports whether the error kind is unrecoverable at runtime.
func IsFatal(err error) bool {
	return Is(err, ErrConfigInvalid) || Is(err, ErrPeripheralMap)
}
