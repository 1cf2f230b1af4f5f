// SPDX-License-Identifier: MPL-2.0

package proxy

import (
	"context"
	"fmt"
	"sync/atomic"
)

var objectSeq atomic.Uint64

type (
	// Dispatcher handles dynamic calls by method name.
	Dispatcher interface {
		Dispatch(ctx context.Context, method string, args []any) ([]any, error)
	}

	// DispatchFunc adapts a function to Dispatcher.
	DispatchFunc func(ctx context.Context, method string, args []any) ([]any, error)

	// Methods is a Dispatcher backed by a method table.
	Methods map[string]func(ctx context.Context, args []any) ([]any, error)

	// Object is a Dispatcher that lives in a namespace under a contract.
	Object interface {
		Dispatcher
		Namespace() *Namespace
		Contract() *Type
		// ObjectID identifies the underlying implementation; handles report
		// the ID of their target.
		ObjectID() uint64
	}

	// Proxy is implemented by every cross-namespace handle. Checking for it
	// is how wrapping detects an existing proxy.
	Proxy interface {
		Object
		Target() Object
	}

	object struct {
		id       uint64
		contract *Type
		impl     Dispatcher
	}
)

// Dispatch calls f.
func (f DispatchFunc) Dispatch(ctx context.Context, method string, args []any) ([]any, error) {
	return f(ctx, method, args)
}

// Dispatch calls the method named method.
func (m Methods) Dispatch(ctx context.Context, method string, args []any) ([]any, error) {
	fn, ok := m[method]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownMethod, method)
	}
	return fn(ctx, args)
}

func newObject(t *Type, impl Dispatcher) *object {
	return &object{id: objectSeq.Add(1), contract: t, impl: impl}
}

func (o *object) Namespace() *Namespace { return o.contract.ns }
func (o *object) Contract() *Type       { return o.contract }
func (o *object) ObjectID() uint64      { return o.id }

func (o *object) Dispatch(ctx context.Context, method string, args []any) ([]any, error) {
	if o.contract.ns.Closed() {
		return nil, fmt.Errorf("%s.%s: %w", o.contract.name, method, ErrNamespaceClosed)
	}
	if !o.contract.Declares(method) {
		return nil, fmt.Errorf("%s: %w %q", o.contract.name, ErrUnknownMethod, method)
	}
	return o.impl.Dispatch(ctx, method, args)
}
