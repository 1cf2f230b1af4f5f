// SPDX-License-Identifier: MPL-2.0

package furnace

import (
	"errors"
	"fmt"
)

const (
	// StateCreated indicates the container was created but Start was not called.
	StateCreated State = iota
	// StateStarting indicates Start is running the initial scan.
	StateStarting
	// StateRunning indicates the initial scan completed and background
	// services are up.
	StateRunning
	// StateStopping indicates Stop is shutting modules down.
	StateStopping
	// StateStopped is terminal: every module was stopped.
	StateStopped
	// StateFailed is terminal: the container failed to start or a
	// background service failed.
	StateFailed
)

// ErrInvalidState is returned when a State value is not one of the defined
// run states.
var ErrInvalidState = errors.New("invalid state")

type (
	// State is the run state of a Container. It is distinct from the status
	// of the modules the container runs.
	State int32

	// InvalidStateError is returned when a State value is not recognized.
	InvalidStateError struct {
		Value State
	}

	// TransitionError is returned when an operation is not allowed in the
	// container's current state.
	TransitionError struct {
		Op    string
		State State
	}
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Validate returns nil if s is a defined state.
func (s State) Validate() error {
	switch s {
	case StateCreated, StateStarting, StateRunning, StateStopping, StateStopped, StateFailed:
		return nil
	default:
		return &InvalidStateError{Value: s}
	}
}

// IsTerminal reports whether s is Stopped or Failed.
func (s State) IsTerminal() bool {
	return s == StateStopped || s == StateFailed
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid state %d (valid: 0=created, 1=starting, 2=running, 3=stopping, 4=stopped, 5=failed)", e.Value)
}

// Unwrap returns ErrInvalidState.
func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s container in state %s", e.Op, e.State)
}
