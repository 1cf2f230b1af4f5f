// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/furnace-run/furnace/internal/lock"
	"github.com/furnace-run/furnace/pkg/addon"
)

var (
	// ErrModuleNotFound is returned when no module has the requested ID.
	ErrModuleNotFound = errors.New("module not found")
	// ErrDuplicateModule is returned when registering an ID already present.
	ErrDuplicateModule = errors.New("module already registered")
)

// Registry maps addon IDs to live modules.
type Registry struct {
	locks   *lock.Manager
	modules map[addon.ID]*Module
}

// New creates an empty registry guarded by locks.
func New(locks *lock.Manager) *Registry {
	return &Registry{locks: locks, modules: make(map[addon.ID]*Module)}
}

// Locks returns the lock manager guarding the registry.
func (r *Registry) Locks() *lock.Manager { return r.locks }

// Register adds m. The caller must hold WRITE.
func (r *Registry) Register(ctx context.Context, m *Module) error {
	r.locks.MustHold(ctx, lock.ModeWrite, "registry.Register")
	if _, exists := r.modules[m.ID()]; exists {
		return fmt.Errorf("%s: %w", m.ID(), ErrDuplicateModule)
	}
	r.modules[m.ID()] = m
	return nil
}

// Deregister removes the module registered under id. The caller must hold WRITE.
func (r *Registry) Deregister(ctx context.Context, id addon.ID) (*Module, bool) {
	r.locks.MustHold(ctx, lock.ModeWrite, "registry.Deregister")
	m, ok := r.modules[id]
	delete(r.modules, id)
	return m, ok
}

// SetStatus moves m to next. The caller must hold WRITE.
func (r *Registry) SetStatus(ctx context.Context, m *Module, next Status) error {
	r.locks.MustHold(ctx, lock.ModeWrite, "registry.SetStatus")
	return m.transition(next)
}

// Fail marks m failed with cause. It is a no-op for terminal modules. The
// caller must hold WRITE.
func (r *Registry) Fail(ctx context.Context, m *Module, cause error) {
	r.locks.MustHold(ctx, lock.ModeWrite, "registry.Fail")
	if err := m.transition(StatusFailed); err != nil {
		return
	}
	m.mu.Lock()
	m.lastErr = cause
	m.mu.Unlock()
}

// Modules returns a snapshot of every module in ID order.
func (r *Registry) Modules(ctx context.Context) ([]*Module, error) {
	return lock.Perform(ctx, r.locks, lock.ModeRead, func(context.Context) ([]*Module, error) {
		return r.snapshotLocked(), nil
	})
}

// Module returns the module registered under id.
func (r *Registry) Module(ctx context.Context, id addon.ID) (*Module, error) {
	return lock.Perform(ctx, r.locks, lock.ModeRead, func(context.Context) (*Module, error) {
		m, ok := r.modules[id]
		if !ok {
			return nil, fmt.Errorf("%s: %w", id, ErrModuleNotFound)
		}
		return m, nil
	})
}

// Status returns the status of the module registered under id.
func (r *Registry) Status(ctx context.Context, id addon.ID) (Status, error) {
	m, err := r.Module(ctx, id)
	if err != nil {
		return StatusUninitialized, err
	}
	return m.Status(), nil
}

// Lookup returns the module under id without locking. The caller must hold
// at least READ.
func (r *Registry) Lookup(ctx context.Context, id addon.ID) (*Module, bool) {
	r.locks.MustHold(ctx, lock.ModeRead, "registry.Lookup")
	m, ok := r.modules[id]
	return m, ok
}

// Snapshot returns every module in ID order without locking. The caller
// must hold at least READ.
func (r *Registry) Snapshot(ctx context.Context) []*Module {
	r.locks.MustHold(ctx, lock.ModeRead, "registry.Snapshot")
	return r.snapshotLocked()
}

func (r *Registry) snapshotLocked() []*Module {
	out := make([]*Module, 0, len(r.modules))
	for _, m := range r.modules {
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b *Module) int { return a.ID().Compare(b.ID()) })
	return out
}

// provider picks the module that satisfies a dependency on name within rng:
// started modules win over others, then the highest version.
func (r *Registry) provider(name string, rng addon.Range) *Module {
	var best *Module
	for _, m := range r.modules {
		id := m.ID()
		if id.Name != name || !rng.Allows(id.Version) {
			continue
		}
		switch {
		case best == nil:
			best = m
		case (m.Status() == StatusStarted) != (best.Status() == StatusStarted):
			if m.Status() == StatusStarted {
				best = m
			}
		case best.ID().Less(id):
			best = m
		}
	}
	return best
}
