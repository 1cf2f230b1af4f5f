// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"errors"
	"fmt"
)

const (
	// StatusUninitialized indicates the module was created but not started.
	StatusUninitialized Status = iota
	// StatusStarting indicates the module's Start is running.
	StatusStarting
	// StatusStarted indicates the module is running and its exports are callable.
	StatusStarted
	// StatusStopRequested indicates the module's Stop is running.
	StatusStopRequested
	// StatusStopped is terminal: the module has stopped.
	StatusStopped
	// StatusFailed is terminal: the module failed to start or could not be
	// resolved.
	StatusFailed
)

var (
	// ErrInvalidStatus is returned when a Status value is not one of the defined states.
	ErrInvalidStatus = errors.New("invalid status")
	// ErrInvalidTransition is returned when a status change would move backwards.
	ErrInvalidTransition = errors.New("invalid status transition")
)

type (
	// Status is the lifecycle state of a module. Statuses only move forward;
	// a reload allocates a fresh Module.
	Status int32

	// InvalidStatusError is returned when a Status value is not recognized.
	InvalidStatusError struct {
		Value Status
	}

	// InvalidTransitionError is returned for a backwards or skipping transition.
	InvalidTransitionError struct {
		From Status
		To   Status
	}
)

// String returns a human-readable representation of the status.
func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusStarting:
		return "starting"
	case StatusStarted:
		return "started"
	case StatusStopRequested:
		return "stop-requested"
	case StatusStopped:
		return "stopped"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Validate returns nil if s is one of the defined states.
func (s Status) Validate() error {
	switch s {
	case StatusUninitialized, StatusStarting, StatusStarted, StatusStopRequested, StatusStopped, StatusFailed:
		return nil
	default:
		return &InvalidStatusError{Value: s}
	}
}

// IsTerminal returns true for Stopped and Failed.
func (s Status) IsTerminal() bool {
	return s == StatusStopped || s == StatusFailed
}

// CanTransition reports whether a module may move from s to next. Failed is
// reachable from every non-terminal state; everything else advances one step.
func (s Status) CanTransition(next Status) bool {
	if s.IsTerminal() {
		return false
	}
	if next == StatusFailed {
		return true
	}
	switch s {
	case StatusUninitialized:
		return next == StatusStarting || next == StatusStopped
	case StatusStarting:
		return next == StatusStarted
	case StatusStarted:
		return next == StatusStopRequested
	case StatusStopRequested:
		return next == StatusStopped
	default:
		return false
	}
}

// Error implements the error interface.
func (e *InvalidStatusError) Error() string {
	return fmt.Sprintf("invalid status %d", e.Value)
}

// Unwrap returns ErrInvalidStatus for errors.Is() compatibility.
func (e *InvalidStatusError) Unwrap() error { return ErrInvalidStatus }

// Error implements the error interface.
func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot move module from %s to %s", e.From, e.To)
}

// Unwrap returns ErrInvalidTransition for errors.Is() compatibility.
func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }
