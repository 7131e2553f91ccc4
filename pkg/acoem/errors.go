// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 nephostat authors

package acoem

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by this package wraps exactly one of
// these, so callers can match with errors.Is.
var (
	ErrConnection           = errors.New("connection error")
	ErrTimeout              = errors.New("timeout waiting for response")
	ErrDecode               = errors.New("decode error")
	ErrRange                = errors.New("value out of range")
	ErrUnsupportedOperation = errors.New("operation not supported by protocol")
	ErrUnrecognizedState    = errors.New("unrecognized operating state")
	ErrConvergenceTimeout   = errors.New("instrument did not reach requested state")
	ErrInvalidArgument      = errors.New("invalid argument")
)

// newError wraps kind with a formatted message.
func newError(kind error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

// ProtocolError reports a failed session operation
type ProtocolError struct {
	Op      string
	Dialect Dialect
	Err     error
}

// Error implements the error interface
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Op, e.Dialect, e.Err)
}

// Unwrap returns the underlying error kind
func (e *ProtocolError) Unwrap() error {
	return e.Err
}

func opError(op string, d Dialect, err error) error {
	if err == nil {
		return nil
	}
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return err
	}
	return &ProtocolError{Op: op, Dialect: d, Err: err}
}
