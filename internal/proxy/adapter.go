// SPDX-License-Identifier: MPL-2.0

package proxy

import "fmt"

// RegisterAdapter registers fn as the typed view of contract in ns. Addons
// register one adapter per contract they consume, turning a Dispatcher into
// the Go interface they program against.
func RegisterAdapter[T any](ns *Namespace, contract string, fn func(Dispatcher) T) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ns.adapters[contract] = fn
}

// Adapt returns d as T through the adapter ns registered for contract.
func Adapt[T any](ns *Namespace, contract string, d Dispatcher) (T, error) {
	var zero T
	ns.mu.RLock()
	raw, ok := ns.adapters[contract]
	ns.mu.RUnlock()
	if !ok {
		return zero, fmt.Errorf("namespace %s, contract %s: %w", ns.name, contract, ErrNoAdapter)
	}
	fn, ok := raw.(func(Dispatcher) T)
	if !ok {
		return zero, fmt.Errorf("namespace %s: adapter for %s has unexpected type %T", ns.name, contract, raw)
	}
	return fn(d), nil
}
