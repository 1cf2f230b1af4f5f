// SPDX-License-Identifier: MPL-2.0

package lifecycle

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/furnace-run/furnace/internal/events"
	"github.com/furnace-run/furnace/internal/lock"
	"github.com/furnace-run/furnace/internal/proxy"
	"github.com/furnace-run/furnace/internal/registry"
	"github.com/furnace-run/furnace/pkg/addon"
)

// Runtime is a module's handle on the container. It is passed to
// Addon.Start and stays valid for the module's lifetime.
type Runtime struct {
	controller *Controller
	module     *registry.Module
	files      FileSet
	logger     *log.Logger
}

// ID returns the module's addon ID.
func (rt *Runtime) ID() addon.ID { return rt.module.ID() }

// Descriptor returns the module's descriptor.
func (rt *Runtime) Descriptor() *addon.Descriptor { return rt.module.Descriptor() }

// Namespace returns the module's namespace.
func (rt *Runtime) Namespace() *proxy.Namespace { return rt.module.Namespace() }

// Files returns the libraries resolved for the module.
func (rt *Runtime) Files() FileSet { return rt.files }

// Logger returns a logger prefixed with the module ID.
func (rt *Runtime) Logger() *log.Logger { return rt.logger }

// Export publishes impl under contract. Only contracts listed in the
// descriptor's exports can be published; anything else returns an
// *addon.UndeclaredExportError.
func (rt *Runtime) Export(contract string, impl proxy.Dispatcher) error {
	if !rt.module.Descriptor().ExportsContract(contract) {
		return &addon.UndeclaredExportError{Addon: rt.ID(), Contract: contract}
	}
	_, err := rt.module.Namespace().Export(contract, impl)
	return err
}

// Service returns a live reference to contract as exported by the declared
// dependency name.
func (rt *Runtime) Service(name, contract string) (*events.LiveService, error) {
	if _, ok := rt.module.Descriptor().Dependency(name); !ok {
		return nil, fmt.Errorf("%s: %w", name, addon.ErrUndeclaredDependency)
	}
	return rt.controller.services.Bind(rt.ID(), name, contract), nil
}

// Lookup returns live references to every visible module exporting contract.
func (rt *Runtime) Lookup(ctx context.Context, contract string) ([]*events.LiveService, error) {
	return rt.controller.services.Lookup(ctx, rt.ID(), contract)
}

// Optional reports the state of the declared dependency name. It never
// returns an error for a declared dependency: a dependency with no addon in
// range is OptionalAbsent, one that exists but is not started is
// OptionalUnavailable. Names the descriptor never declared return
// addon.ErrUndeclaredDependency.
func (rt *Runtime) Optional(ctx context.Context, name string) (addon.OptionalRef, error) {
	dep, ok := rt.module.Descriptor().Dependency(name)
	if !ok {
		return addon.OptionalRef{}, fmt.Errorf("%s: %w", name, addon.ErrUndeclaredDependency)
	}
	c := rt.controller
	return lock.Perform(ctx, c.locks, lock.ModeRead, func(ctx context.Context) (addon.OptionalRef, error) {
		ref := addon.OptionalRef{Dependency: name, State: addon.OptionalAbsent}

		var target addon.ID
		if dep.Optional {
			b, ok := c.resolution.Binding(rt.ID(), name)
			if !ok || b.State == addon.Absent {
				return ref, nil
			}
			target = b.Target
		} else {
			for _, id := range c.resolution.Required[rt.ID()] {
				if id.Name == name {
					target = id
				}
			}
			if target.IsZero() {
				return ref, nil
			}
		}

		ref.Target = target
		ref.State = addon.OptionalUnavailable
		if m, ok := c.registry.Lookup(ctx, target); ok && m.Status() == registry.StatusStarted {
			ref.State = addon.OptionalAvailable
		}
		return ref, nil
	})
}

// Fire delivers an event to every started module observing it.
func (rt *Runtime) Fire(ctx context.Context, ev events.Event, qualifiers ...string) (*events.Report, error) {
	return rt.controller.hub.Fire(ctx, ev, qualifiers...)
}
