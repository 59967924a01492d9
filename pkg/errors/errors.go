// Copyright (c) pj authors
// SPDX-License-Identifier: Apache-2.0

// Package errors provides structured error handling for the pj relay.
package errors

import (
	"errors"
	"fmt"
)

// Common error types
var (
	// ErrInvalidMapping indicates a malformed proxy mapping string.
	ErrInvalidMapping = errors.New("invalid proxy mapping")

	// ErrInvalidDuration indicates a malformed duration string.
	ErrInvalidDuration = errors.New("invalid duration")

	// ErrInvalidCount indicates a malformed count string.
	ErrInvalidCount = errors.New("invalid count")

	// ErrBackendUnavailable indicates the backend could not be dialed.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrRateLimited indicates a connection was rejected by admission control.
	ErrRateLimited = errors.New("connection rate limit exceeded")
)

// RelayError wraps a per-connection failure with its origin.
type RelayError struct {
	Op         string // Operation that failed (accept, dial, relay)
	ConnID     uint64 // Connection ID, when one was assigned
	RemoteAddr string // Client address
	Err        error  // Underlying error
}

// Error implements the error interface.
func (e *RelayError) Error() string {
	if e.ConnID != 0 {
		return fmt.Sprintf("%s #%d %s: %v", e.Op, e.ConnID, e.RemoteAddr, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.RemoteAddr, e.Err)
}

// Unwrap returns the underlying error.
func (e *RelayError) Unwrap() error {
	return e.Err
}

// New creates a new RelayError.
func New(op string, connID uint64, remoteAddr string, err error) error {
	if err == nil {
		return nil
	}
	return &RelayError{
		Op:         op,
		ConnID:     connID,
		RemoteAddr: remoteAddr,
		Err:        err,
	}
}

// Wrap wraps an error with context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
