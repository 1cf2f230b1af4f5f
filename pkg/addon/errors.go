// SPDX-License-Identifier: MPL-2.0

package addon

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingDependency is the sentinel error wrapped by MissingDependencyError.
	ErrMissingDependency = errors.New("missing dependency")
	// ErrDependencyFailed is the sentinel error wrapped by DependencyFailedError.
	ErrDependencyFailed = errors.New("dependency failed")
	// ErrDependencyCycle is the sentinel error wrapped by CycleError.
	ErrDependencyCycle = errors.New("dependency cycle")
	// ErrUndeclaredDependency is returned when an addon asks for a dependency
	// its descriptor never declared.
	ErrUndeclaredDependency = errors.New("undeclared dependency")
	// ErrUndeclaredExport is the sentinel error wrapped by UndeclaredExportError.
	ErrUndeclaredExport = errors.New("undeclared export")
)

type (
	// MissingDependencyError is recorded on an addon whose required
	// dependency has no available version in range.
	MissingDependencyError struct {
		Addon      ID
		Dependency string
		Range      string
	}

	// DependencyFailedError is recorded on an addon whose required dependency
	// resolved but cannot start. Cause is the dependency's own failure.
	DependencyFailedError struct {
		Addon      ID
		Dependency ID
		Cause      error
	}

	// UndeclaredExportError is returned when an addon publishes a contract
	// missing from its descriptor's exports.
	UndeclaredExportError struct {
		Addon    ID
		Contract string
	}

	// CycleError is recorded on every member of a required-dependency cycle.
	CycleError struct {
		Addon ID
		Cycle []ID
	}
)

// Error implements the error interface.
func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("addon %s requires %s %s, which is not available", e.Addon, e.Dependency, e.Range)
}

// Unwrap returns ErrMissingDependency for errors.Is() compatibility.
func (e *MissingDependencyError) Unwrap() error { return ErrMissingDependency }

// Error implements the error interface.
func (e *DependencyFailedError) Error() string {
	return fmt.Sprintf("addon %s requires %s, which failed: %v", e.Addon, e.Dependency, e.Cause)
}

// Unwrap returns ErrDependencyFailed and the dependency's failure, so the
// root cause of a transitive failure is reachable with errors.As.
func (e *DependencyFailedError) Unwrap() []error { return []error{ErrDependencyFailed, e.Cause} }

// Error implements the error interface.
func (e *CycleError) Error() string {
	names := make([]string, len(e.Cycle))
	for i, id := range e.Cycle {
		names[i] = id.String()
	}
	return fmt.Sprintf("addon %s is part of a required dependency cycle among %s", e.Addon, strings.Join(names, ", "))
}

// Unwrap returns ErrDependencyCycle for errors.Is() compatibility.
func (e *CycleError) Unwrap() error { return ErrDependencyCycle }

// Error implements the error interface.
func (e *UndeclaredExportError) Error() string {
	return fmt.Sprintf("addon %s cannot export %q: not listed in its exports", e.Addon, e.Contract)
}

// Unwrap returns ErrUndeclaredExport for errors.Is() compatibility.
func (e *UndeclaredExportError) Unwrap() error { return ErrUndeclaredExport }
