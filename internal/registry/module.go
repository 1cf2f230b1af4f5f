// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/furnace-run/furnace/internal/proxy"
	"github.com/furnace-run/furnace/pkg/addon"
)

// Module is one loaded addon: its descriptor, its namespace and its status.
// Modules are created fresh for every load; a reloaded addon is a new Module.
type Module struct {
	descriptor *addon.Descriptor
	namespace  *proxy.Namespace
	status     atomic.Int32

	mu          sync.Mutex
	lastErr     error
	diagnostics []string
	instance    any
	changedAt   time.Time
}

// NewModule creates an uninitialized module for d with a fresh namespace.
// Every contract the descriptor declares or exports is defined in the
// namespace.
func NewModule(d *addon.Descriptor) *Module {
	ns := proxy.NewNamespace(d.ID.String())
	for _, c := range d.Contracts {
		ns.Define(c.Name, c.Methods...)
	}
	for _, name := range d.Exports {
		ns.Define(name)
	}
	return &Module{descriptor: d, namespace: ns, changedAt: time.Now()}
}

// ID returns the module's addon ID.
func (m *Module) ID() addon.ID { return m.descriptor.ID }

// Descriptor returns the descriptor the module was loaded from.
func (m *Module) Descriptor() *addon.Descriptor { return m.descriptor }

// Namespace returns the module's namespace.
func (m *Module) Namespace() *proxy.Namespace { return m.namespace }

// Status returns the current status.
func (m *Module) Status() Status { return Status(m.status.Load()) }

// LastError returns the error that failed the module, if any.
func (m *Module) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Diagnostics returns notes recorded while loading the module.
func (m *Module) Diagnostics() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.diagnostics)
}

// AddDiagnostic records a note about the module.
func (m *Module) AddDiagnostic(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.diagnostics = append(m.diagnostics, msg)
}

// Instance returns the running addon value set by the lifecycle controller.
func (m *Module) Instance() any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.instance
}

// SetInstance records the running addon value.
func (m *Module) SetInstance(v any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.instance = v
}

// ChangedAt returns when the status last changed.
func (m *Module) ChangedAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.changedAt
}

// Export returns the module's implementation of contract while the module
// is started. Contracts missing from the descriptor's exports stay private
// to the module's namespace.
func (m *Module) Export(contract string) (proxy.Object, bool) {
	if m.Status() != StatusStarted || !m.descriptor.ExportsContract(contract) {
		return nil, false
	}
	return m.namespace.Exported(contract)
}

// transition moves the module to next, or reports why it cannot.
func (m *Module) transition(next Status) error {
	if err := next.Validate(); err != nil {
		return err
	}
	for {
		cur := Status(m.status.Load())
		if !cur.CanTransition(next) {
			return &InvalidTransitionError{From: cur, To: next}
		}
		if m.status.CompareAndSwap(int32(cur), int32(next)) {
			m.mu.Lock()
			m.changedAt = time.Now()
			m.mu.Unlock()
			return nil
		}
	}
}
