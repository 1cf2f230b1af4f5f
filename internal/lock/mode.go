// SPDX-License-Identifier: MPL-2.0

package lock

import (
	"errors"
	"fmt"
)

const (
	// ModeRead is a shared lock.
	ModeRead Mode = iota + 1
	// ModeUpgradable is held by at most one owner, coexists with readers, and
	// may be promoted to ModeWrite by its holder.
	ModeUpgradable
	// ModeWrite is exclusive against every other mode.
	ModeWrite
)

// ErrInvalidMode is returned when a Mode value is not one of the defined modes.
var ErrInvalidMode = errors.New("invalid lock mode")

type (
	// Mode selects how a Token shares the lock with other owners.
	Mode int

	// InvalidModeError is returned when a Mode value is not recognized.
	// It wraps ErrInvalidMode for errors.Is() compatibility.
	InvalidModeError struct {
		Value Mode
	}
)

// String returns the lower-case name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeRead:
		return "read"
	case ModeUpgradable:
		return "upgradable"
	case ModeWrite:
		return "write"
	default:
		return "unknown"
	}
}

// Validate returns nil if the Mode is one of the defined modes.
func (m Mode) Validate() error {
	switch m {
	case ModeRead, ModeUpgradable, ModeWrite:
		return nil
	default:
		return &InvalidModeError{Value: m}
	}
}

// Error implements the error interface for InvalidModeError.
func (e *InvalidModeError) Error() string {
	return fmt.Sprintf("invalid lock mode %d (valid: 1=read, 2=upgradable, 3=write)", e.Value)
}

// Unwrap returns ErrInvalidMode for errors.Is() compatibility.
func (e *InvalidModeError) Unwrap() error { return ErrInvalidMode }
