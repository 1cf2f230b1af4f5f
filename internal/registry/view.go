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

// ErrNotVisible is returned when a module is not visible to the requester.
var ErrNotVisible = errors.New("module not visible")

// View is the part of the registry one module can see: itself, its direct
// dependencies, and, transitively, the dependencies those re-export. A view
// is computed on every call and never owns modules. The root view sees
// every module.
type View struct {
	registry  *Registry
	requester addon.ID
}

// View returns the view of requester.
func (r *Registry) View(requester addon.ID) *View {
	return &View{registry: r, requester: requester}
}

// RootView returns the view that sees every module.
func (r *Registry) RootView() *View {
	return &View{registry: r}
}

// Requester returns the viewing module's ID; zero for the root view.
func (v *View) Requester() addon.ID { return v.requester }

// Modules returns the visible modules in ID order.
func (v *View) Modules(ctx context.Context) ([]*Module, error) {
	return lock.Perform(ctx, v.registry.locks, lock.ModeRead, func(ctx context.Context) ([]*Module, error) {
		return v.ModulesLocked(ctx), nil
	})
}

// ModulesLocked is Modules for callers already holding at least READ.
func (v *View) ModulesLocked(ctx context.Context) []*Module {
	v.registry.locks.MustHold(ctx, lock.ModeRead, "registry.View.Modules")
	all := v.registry.snapshotLocked()
	if v.requester.IsZero() {
		return all
	}
	visible := v.visibleLocked()
	return slices.DeleteFunc(all, func(m *Module) bool { return !visible[m.ID()] })
}

// Contains reports whether id is visible.
func (v *View) Contains(ctx context.Context, id addon.ID) (bool, error) {
	return lock.Perform(ctx, v.registry.locks, lock.ModeRead, func(context.Context) (bool, error) {
		if _, ok := v.registry.modules[id]; !ok {
			return false, nil
		}
		return v.requester.IsZero() || v.visibleLocked()[id], nil
	})
}

// Provider returns the visible module currently satisfying the requester's
// dependency on name. The caller must hold at least READ.
func (v *View) Provider(ctx context.Context, name string) (*Module, error) {
	v.registry.locks.MustHold(ctx, lock.ModeRead, "registry.View.Provider")
	rng := addon.AnyVersion
	if !v.requester.IsZero() {
		self, ok := v.registry.modules[v.requester]
		if !ok {
			return nil, fmt.Errorf("%s: %w", v.requester, ErrModuleNotFound)
		}
		if dep, declared := self.Descriptor().Dependency(name); declared {
			rng, _ = dep.Range()
		}
	}
	m := v.registry.provider(name, rng)
	if m == nil {
		return nil, fmt.Errorf("%s: %w", name, ErrModuleNotFound)
	}
	if !v.requester.IsZero() && !v.visibleLocked()[m.ID()] {
		return nil, fmt.Errorf("%s to %s: %w", m.ID(), v.requester, ErrNotVisible)
	}
	return m, nil
}

// visibleLocked walks dependency edges from the requester: every direct
// dependency is visible, and beyond that only exported edges are followed.
func (v *View) visibleLocked() map[addon.ID]bool {
	visible := map[addon.ID]bool{v.requester: true}
	self, ok := v.registry.modules[v.requester]
	if !ok {
		return visible
	}

	queue := v.dependencies(self, false)
	for len(queue) > 0 {
		m := queue[0]
		queue = queue[1:]
		if visible[m.ID()] {
			continue
		}
		visible[m.ID()] = true
		queue = append(queue, v.dependencies(m, true)...)
	}
	return visible
}

func (v *View) dependencies(m *Module, exportedOnly bool) []*Module {
	var out []*Module
	for _, dep := range m.Descriptor().Requires {
		if exportedOnly && !dep.Exported {
			continue
		}
		rng, err := dep.Range()
		if err != nil {
			continue
		}
		if p := v.registry.provider(dep.Name, rng); p != nil {
			out = append(out, p)
		}
	}
	return out
}
