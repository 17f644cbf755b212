// Package sigerr defines the error-kind vocabulary shared by every
// decoder and by the session coordinator. Decoders return these upward
// rather than terminating the process; the coordinator does not inspect
// them, and the caller decides whether a session can continue (see
// cmd/sigtap-decode, which skips a bad DMM packet) or must end.
package sigerr

import (
	"errors"
	"fmt"
)

// Kind classifies why an operation failed.
type Kind int

const (
	// Arg marks an invalid caller argument: a bad option, a nil buffer.
	Arg Kind = iota
	// Data marks malformed or inconsistent input: bad magic, CRC
	// mismatch, out-of-range index, backwards timestamp, over-wide
	// vector.
	Data
	// Malloc marks an allocation failure.
	Malloc
	// NA marks a feature that is recognized but not implemented:
	// an unsupported clock scheme, the Omega STF variant, an
	// unsupported baud rate.
	NA
	// DeviceClosed marks a caller state error: configuration
	// requested on an inactive session.
	DeviceClosed
)

func (k Kind) String() string {
	switch k {
	case Arg:
		return "arg"
	case Data:
		return "data"
	case Malloc:
		return "malloc"
	case NA:
		return "n/a"
	case DeviceClosed:
		return "device-closed"
	default:
		return "unknown"
	}
}

// Error is the structured error type returned by decoders and the
// session coordinator. Module is the short decoder/component prefix
// used in log lines (e.g. "vcd", "stf", "la8", "fs9721").
type Error struct {
	Kind   Kind
	Module string
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Module, e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Module, e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error with no wrapped cause.
func New(kind Kind, module, msg string) *Error {
	return &Error{Kind: kind, Module: module, Msg: msg}
}

// Newf builds an Error with a formatted message.
func Newf(kind Kind, module, format string, args ...any) *Error {
	return &Error{Kind: kind, Module: module, Msg: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error that carries an underlying cause.
func Wrap(kind Kind, module, msg string, err error) *Error {
	return &Error{Kind: kind, Module: module, Msg: msg, Err: err}
}

// Is reports whether err is a *Error of the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}
