// SPDX-License-Identifier: MPL-2.0

package lock

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAlreadyReleased is returned when a Token is released a second time.
	ErrAlreadyReleased = errors.New("lock token already released")

	// ErrTimeout is wrapped by TimeoutError when a bounded acquire gives up.
	ErrTimeout = errors.New("lock wait timed out")
)

type (
	// Fatal marks failures that signal a defect in the caller's locking
	// sequence. They are raised with panic and are not recoverable errors:
	// container code never recovers them.
	Fatal interface {
		error
		fatal()
	}

	// Participant describes one owner in a detected wait-for cycle.
	Participant struct {
		Owner string
		Holds []Mode
		Wants Mode
	}

	// DeadlockError is raised (via panic) when granting an acquire would close
	// a cycle in the wait-for graph. Cycle starts and ends with the requester.
	DeadlockError struct {
		Cycle []Participant
	}

	// DisciplineError is raised (via panic) when a caller breaks the locking
	// protocol, for example mutating guarded state without holding WRITE.
	DisciplineError struct {
		Owner  string
		Op     string
		Detail string
	}

	// TimeoutError is returned when an acquire is abandoned because its
	// context ended before the requested mode became grantable.
	TimeoutError struct {
		Owner string
		Mode  Mode
		Cause error
	}
)

func (*DeadlockError) fatal()   {}
func (*DisciplineError) fatal() {}

// Error lists every participant with the modes it holds and wants.
func (e *DeadlockError) Error() string {
	parts := make([]string, 0, len(e.Cycle)+1)
	for _, p := range e.Cycle {
		parts = append(parts, p.String())
	}
	if len(e.Cycle) > 0 {
		parts = append(parts, e.Cycle[0].Owner)
	}
	return "lock: deadlock detected: " + strings.Join(parts, " -> ")
}

// String renders the participant as "owner (holds read, wants write)".
func (p Participant) String() string {
	held := "nothing"
	if len(p.Holds) > 0 {
		names := make([]string, len(p.Holds))
		for i, m := range p.Holds {
			names[i] = m.String()
		}
		held = strings.Join(names, "+")
	}
	return fmt.Sprintf("%s (holds %s, wants %s)", p.Owner, held, p.Wants)
}

// Error implements the error interface for DisciplineError.
func (e *DisciplineError) Error() string {
	return fmt.Sprintf("lock: discipline violation by %s during %s: %s", e.Owner, e.Op, e.Detail)
}

// Error implements the error interface for TimeoutError.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("lock: %s gave up waiting for %s: %v", e.Owner, e.Mode, e.Cause)
}

// Unwrap exposes both ErrTimeout and the context error.
func (e *TimeoutError) Unwrap() []error {
	return []error{ErrTimeout, e.Cause}
}
