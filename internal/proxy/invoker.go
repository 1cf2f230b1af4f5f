// SPDX-License-Identifier: MPL-2.0

package proxy

import (
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/log"
	cmap "github.com/orcaman/concurrent-map/v2"
)

type (
	// InvokerOption configures an Invoker.
	InvokerOption func(*Invoker)

	// Invoker creates and caches cross-namespace handles. One Invoker serves
	// a whole container.
	Invoker struct {
		handles cmap.ConcurrentMap[string, *Handle]
		logger  *log.Logger
	}
)

// WithInvokerLogger sets the logger for handle creation and error
// translation.
func WithInvokerLogger(l *log.Logger) InvokerOption {
	return func(inv *Invoker) {
		if l != nil {
			inv.logger = l
		}
	}
}

// NewInvoker creates an Invoker with an empty handle table.
func NewInvoker(opts ...InvokerOption) *Invoker {
	inv := &Invoker{
		handles: cmap.New[*Handle](),
		logger:  log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// Wrap returns target as seen from caller under contract. A target already
// in caller is returned unchanged. A Handle is unwrapped first so proxies
// never nest. The target must implement a contract of the same name, and
// caller must define that contract.
func (inv *Invoker) Wrap(caller *Namespace, target Object, contract string) (Object, error) {
	if p, ok := target.(Proxy); ok {
		target = p.Target()
	}
	if target.Namespace() == caller {
		return target, nil
	}

	if name := target.Contract().Name(); name != contract {
		return nil, fmt.Errorf("wrap %s as %s: %w", name, contract, ErrContractMismatch)
	}
	local, ok := caller.Contract(contract)
	if !ok {
		return nil, fmt.Errorf("namespace %s: %w %q", caller.Name(), ErrUnknownContract, contract)
	}

	key := handleKey(target, caller, contract)
	if h, ok := inv.handles.Get(key); ok {
		return h, nil
	}
	h := &Handle{target: target, origin: caller, contract: local, invoker: inv}
	if !inv.handles.SetIfAbsent(key, h) {
		// Lost a race; use the winner's handle.
		if existing, ok := inv.handles.Get(key); ok {
			return existing, nil
		}
	}
	inv.logger.Debug("handle created", "contract", contract, "from", caller, "to", target.Namespace())
	return h, nil
}

// Unwrap returns the implementation behind a Handle, or d itself.
func Unwrap(d Dispatcher) Dispatcher {
	if p, ok := d.(Proxy); ok {
		return p.Target()
	}
	return d
}

// Forget drops every cached handle from or to ns. Stopping a module calls it
// so a restarted module gets fresh handles.
func (inv *Invoker) Forget(ns *Namespace) int {
	var stale []string
	inv.handles.IterCb(func(key string, h *Handle) {
		if h.origin == ns || h.target.Namespace() == ns {
			stale = append(stale, key)
		}
	})
	for _, key := range stale {
		inv.handles.Remove(key)
	}
	return len(stale)
}

// Handles returns the number of cached handles.
func (inv *Invoker) Handles() int {
	return inv.handles.Count()
}

func handleKey(target Object, caller *Namespace, contract string) string {
	return strconv.FormatUint(target.ObjectID(), 10) + "/" +
		strconv.FormatUint(caller.id, 10) + "/" + contract
}
