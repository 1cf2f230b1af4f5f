// SPDX-License-Identifier: MPL-2.0

package addon

type (
	// BindingState says whether an optional dependency resolved to an addon.
	BindingState int

	// OptionalBinding is the resolved form of one optional dependency.
	OptionalBinding struct {
		Dependency string
		State      BindingState
		// Target is set when State is Present.
		Target ID
	}

	// OptionalState is the runtime state of an optional dependency as seen
	// by the addon that declared it.
	OptionalState int

	// OptionalRef is what an addon receives when it asks for an optional
	// dependency. It is never nil for a declared dependency.
	OptionalRef struct {
		Dependency string
		State      OptionalState
		// Target is the resolved addon unless State is Absent.
		Target ID
	}
)

const (
	// Absent means no addon in the requested range exists.
	Absent BindingState = iota
	// Present means an addon in range exists. It may still fail to start.
	Present
)

const (
	// OptionalAbsent means the dependency does not exist.
	OptionalAbsent OptionalState = iota
	// OptionalUnavailable means the dependency exists but is not started.
	OptionalUnavailable
	// OptionalAvailable means the dependency is started and callable.
	OptionalAvailable
)

// String returns the state name.
func (s BindingState) String() string {
	if s == Present {
		return "present"
	}
	return "absent"
}

// String returns the state name.
func (s OptionalState) String() string {
	switch s {
	case OptionalAbsent:
		return "absent"
	case OptionalUnavailable:
		return "unavailable"
	case OptionalAvailable:
		return "available"
	default:
		return "unknown"
	}
}

// IsAbsent reports whether the dependency does not exist at all.
func (r OptionalRef) IsAbsent() bool { return r.State == OptionalAbsent }

// IsAvailable reports whether the dependency can be called.
func (r OptionalRef) IsAvailable() bool { return r.State == OptionalAvailable }
