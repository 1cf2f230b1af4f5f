// SPDX-License-Identifier: MPL-2.0

package proxy

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
)

var namespaceSeq atomic.Uint64

type (
	// Type is a namespace-local contract identity. Two namespaces defining
	// the same contract name hold different *Type values.
	Type struct {
		ns      *Namespace
		name    string
		methods []string
	}

	// Namespace is the arena owned by one module.
	Namespace struct {
		id     uint64
		name   string
		closed atomic.Bool

		mu          sync.RWMutex
		contracts   map[string]*Type
		exports     map[string]Object
		translators map[string]ErrorFactory
		adapters    map[string]any
	}
)

// NewNamespace creates an empty namespace. name is informational and need
// not be unique.
func NewNamespace(name string) *Namespace {
	return &Namespace{
		id:          namespaceSeq.Add(1),
		name:        name,
		contracts:   make(map[string]*Type),
		exports:     make(map[string]Object),
		translators: make(map[string]ErrorFactory),
		adapters:    make(map[string]any),
	}
}

// Name returns the namespace name.
func (ns *Namespace) Name() string { return ns.name }

// String returns the name and sequence number.
func (ns *Namespace) String() string { return fmt.Sprintf("%s#%d", ns.name, ns.id) }

// Close marks the namespace stopped. Calls into it fail with
// ErrNamespaceClosed from then on.
func (ns *Namespace) Close() { ns.closed.Store(true) }

// Closed reports whether Close was called.
func (ns *Namespace) Closed() bool { return ns.closed.Load() }

// Define adds contract name with the given methods. Defining an existing
// name returns the existing *Type. An empty method list accepts any method.
func (ns *Namespace) Define(name string, methods ...string) *Type {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	if t, ok := ns.contracts[name]; ok {
		return t
	}
	m := slices.Clone(methods)
	slices.Sort(m)
	t := &Type{ns: ns, name: name, methods: m}
	ns.contracts[name] = t
	return t
}

// Contract returns the namespace's *Type for name.
func (ns *Namespace) Contract(name string) (*Type, bool) {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	t, ok := ns.contracts[name]
	return t, ok
}

// Bind makes impl an Object of this namespace under contract.
func (ns *Namespace) Bind(contract string, impl Dispatcher) (Object, error) {
	t, ok := ns.Contract(contract)
	if !ok {
		return nil, fmt.Errorf("namespace %s: %w %q", ns.name, ErrUnknownContract, contract)
	}
	return newObject(t, impl), nil
}

// Export binds impl under contract and publishes it to other namespaces.
func (ns *Namespace) Export(contract string, impl Dispatcher) (Object, error) {
	obj, err := ns.Bind(contract, impl)
	if err != nil {
		return nil, err
	}
	ns.mu.Lock()
	ns.exports[contract] = obj
	ns.mu.Unlock()
	return obj, nil
}

// Exported returns the object published under contract.
func (ns *Namespace) Exported(contract string) (Object, bool) {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	obj, ok := ns.exports[contract]
	return obj, ok
}

// Exports returns the exported contract names in sorted order.
func (ns *Namespace) Exports() []string {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	names := make([]string, 0, len(ns.exports))
	for name := range ns.exports {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// RegisterError registers the error this namespace raises for code when a
// coded error crosses into it.
func (ns *Namespace) RegisterError(code string, factory ErrorFactory) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ns.translators[code] = factory
}

func (ns *Namespace) translator(code string) (ErrorFactory, bool) {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	f, ok := ns.translators[code]
	return f, ok
}

// Name returns the contract name.
func (t *Type) Name() string { return t.name }

// Namespace returns the namespace that defined the contract.
func (t *Type) Namespace() *Namespace { return t.ns }

// Methods returns the declared methods in sorted order.
func (t *Type) Methods() []string { return slices.Clone(t.methods) }

// Declares reports whether method is part of the contract.
func (t *Type) Declares(method string) bool {
	if len(t.methods) == 0 {
		return true
	}
	_, found := slices.BinarySearch(t.methods, method)
	return found
}
