// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package errors provides structured error handling for the gateway.
package errors

import (
	"errors"
	"fmt"
)

// Common error types
var (
	// ErrInvalidConfig indicates a configuration value outside its allowed range.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrBind indicates the listen address could not be bound.
	ErrBind = errors.New("failed to bind listener")

	// ErrUnknownUser indicates the drop-privilege user does not exist.
	ErrUnknownUser = errors.New("unknown user")

	// ErrUnknownGroup indicates the drop-privilege group does not exist.
	ErrUnknownGroup = errors.New("unknown group")

	// ErrPrivilegeDrop indicates the setgid/setuid call itself failed.
	ErrPrivilegeDrop = errors.New("failed to drop privileges")

	// ErrDial indicates the upstream target could not be reached.
	ErrDial = errors.New("failed to dial target")

	// ErrListenerClosed indicates the listening socket became unusable.
	ErrListenerClosed = errors.New("listener closed")
)

// ProxyError wraps an error with session context.
type ProxyError struct {
	Op         string // Operation that failed (dial, forward, tune)
	Direction  string // upstream, downstream or empty
	SessionID  string // Session identifier
	RemoteAddr string // Client address
	Err        error  // Underlying error
}

// Error implements the error interface.
func (e *ProxyError) Error() string {
	op := e.Op
	if e.Direction != "" {
		op = fmt.Sprintf("%s (%s)", e.Op, e.Direction)
	}
	if e.SessionID != "" {
		return fmt.Sprintf("%s [%s] %s: %v", op, e.SessionID, e.RemoteAddr, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", op, e.RemoteAddr, e.Err)
}

// Unwrap returns the underlying error.
func (e *ProxyError) Unwrap() error {
	return e.Err
}

// New creates a new ProxyError.
func New(op, direction, sessionID, remoteAddr string, err error) error {
	if err == nil {
		return nil
	}
	return &ProxyError{
		Op:         op,
		Direction:  direction,
		SessionID:  sessionID,
		RemoteAddr: remoteAddr,
		Err:        err,
	}
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}
