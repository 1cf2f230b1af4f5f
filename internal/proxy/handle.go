// SPDX-License-Identifier: MPL-2.0

package proxy

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/furnace-run/furnace/internal/lock"
)

// Handle is an Object in one namespace that forwards to an Object in
// another. It is created by Invoker.Wrap.
type Handle struct {
	target   Object
	origin   *Namespace
	contract *Type
	invoker  *Invoker
}

// Namespace returns the caller's namespace, which owns the handle.
func (h *Handle) Namespace() *Namespace { return h.origin }

// Contract returns the caller's *Type for the contract.
func (h *Handle) Contract() *Type { return h.contract }

// ObjectID returns the target's ID.
func (h *Handle) ObjectID() uint64 { return h.target.ObjectID() }

// Target returns the wrapped Object.
func (h *Handle) Target() Object { return h.target }

// Dispatch forwards the call into the target namespace. Arguments are copied
// into the target namespace and results into the caller's. Coded errors
// with a translation registered by the caller become *TranslatedError;
// every other error, and any panic, becomes *InvocationError.
func (h *Handle) Dispatch(ctx context.Context, method string, args []any) (results []any, err error) {
	if h.origin.Closed() {
		return nil, fmt.Errorf("%s.%s: %w", h.contract.name, method, ErrNamespaceClosed)
	}
	if !h.contract.Declares(method) {
		return nil, fmt.Errorf("%s: %w %q", h.contract.name, ErrUnknownMethod, method)
	}

	to := h.target.Namespace()
	in, err := h.invoker.marshalSlice(args, to)
	if err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			if _, isFatal := r.(lock.Fatal); isFatal {
				panic(r)
			}
			h.invoker.logger.Warn("call panicked", "contract", h.contract.name, "method", method, "namespace", to, "panic", r)
			results = nil
			err = &InvocationError{Contract: h.contract.name, Method: method, From: to.Name(), Panic: r}
		}
	}()

	out, callErr := h.target.Dispatch(ctx, method, in)
	if callErr != nil {
		return nil, h.translate(method, callErr)
	}
	return h.invoker.marshalSlice(out, h.origin)
}

func (h *Handle) translate(method string, err error) error {
	from := h.target.Namespace().Name()

	var coded Coded
	if errors.As(err, &coded) {
		if factory, ok := h.origin.translator(coded.Code()); ok {
			return &TranslatedError{Code: coded.Code(), From: from, Local: factory(coded.Error()), Cause: err}
		}
	}
	// Lifecycle errors from this package stay recognizable to the caller.
	if errors.Is(err, ErrNamespaceClosed) || errors.Is(err, ErrUnknownMethod) {
		return err
	}
	return &InvocationError{Contract: h.contract.name, Method: method, From: from, Cause: err}
}

// marshalSlice copies values into namespace to, wrapping Object values.
func (inv *Invoker) marshalSlice(values []any, to *Namespace) ([]any, error) {
	if values == nil {
		return nil, nil
	}
	out := make([]any, len(values))
	for i, v := range values {
		m, err := inv.marshal(v, to)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		out[i] = m
	}
	return out, nil
}

func (inv *Invoker) marshal(v any, to *Namespace) (any, error) {
	switch val := v.(type) {
	case Object:
		return inv.Wrap(to, val, val.Contract().Name())
	case []byte:
		return slices.Clone(val), nil
	case []any:
		return inv.marshalSlice(val, to)
	case []string:
		return slices.Clone(val), nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			m, err := inv.marshal(item, to)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			out[k] = m
		}
		return out, nil
	case map[string]string:
		return maps.Clone(val), nil
	default:
		return v, nil
	}
}
