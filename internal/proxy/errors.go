// SPDX-License-Identifier: MPL-2.0

package proxy

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownContract is returned when a namespace has no contract of the
	// requested name.
	ErrUnknownContract = errors.New("unknown contract")
	// ErrUnknownMethod is returned when a call names a method the contract
	// does not declare.
	ErrUnknownMethod = errors.New("unknown method")
	// ErrContractMismatch is returned when a target is wrapped under a
	// contract it does not implement.
	ErrContractMismatch = errors.New("contract mismatch")
	// ErrNamespaceClosed is returned when calling into a stopped module.
	ErrNamespaceClosed = errors.New("namespace closed")
	// ErrNoAdapter is returned when no adapter is registered for a contract.
	ErrNoAdapter = errors.New("no adapter registered")
)

type (
	// Coded is implemented by errors that carry a stable code. Coded errors
	// raised inside one namespace are re-raised in the caller's namespace as
	// the error registered there under the same code.
	Coded interface {
		error
		Code() string
	}

	// ErrorFactory builds a namespace's own error for a translated code.
	ErrorFactory func(message string) error

	// TranslatedError is a coded error re-raised in the caller's namespace.
	// Local is the caller's error for Code; Cause is the original.
	TranslatedError struct {
		Code  string
		From  string
		Local error
		Cause error
	}

	// InvocationError is the cross-boundary failure for errors that cannot
	// be translated and for panics raised by the target.
	InvocationError struct {
		Contract string
		Method   string
		From     string
		Panic    any
		Cause    error
	}

	// codedError is the simple Coded implementation behind NewCodedError.
	codedError struct {
		code string
		msg  string
	}
)

// NewCodedError returns an error carrying code, suitable for raising from a
// contract implementation.
func NewCodedError(code, msg string) error {
	return &codedError{code: code, msg: msg}
}

func (e *codedError) Error() string { return e.msg }
func (e *codedError) Code() string  { return e.code }

// Error implements the error interface.
func (e *TranslatedError) Error() string {
	return e.Local.Error()
}

// Unwrap exposes both the caller's error and the original.
func (e *TranslatedError) Unwrap() []error { return []error{e.Local, e.Cause} }

// Error implements the error interface.
func (e *InvocationError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("invocation of %s.%s in namespace %s panicked: %v", e.Contract, e.Method, e.From, e.Panic)
	}
	return fmt.Sprintf("invocation of %s.%s in namespace %s failed: %v", e.Contract, e.Method, e.From, e.Cause)
}

// Unwrap returns the original error, if any.
func (e *InvocationError) Unwrap() error { return e.Cause }
