// SPDX-License-Identifier: MPL-2.0

package events

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/furnace-run/furnace/internal/lock"
	"github.com/furnace-run/furnace/internal/proxy"
	"github.com/furnace-run/furnace/internal/registry"
	"github.com/furnace-run/furnace/pkg/addon"
)

// ErrServiceUnavailable is returned when a live service has no started
// provider at call time.
var ErrServiceUnavailable = errors.New("service unavailable")

type (
	// Services resolves exported contracts for requesting modules.
	Services struct {
		registry *registry.Registry
		invoker  *proxy.Invoker
	}

	// LiveService is a reference to a contract exported by a named module.
	// Every call re-resolves the provider, so the reference survives the
	// provider being reloaded. Calls hold a READ lock, keeping the provider
	// started until the call returns.
	LiveService struct {
		services  *Services
		requester addon.ID
		provider  string
		contract  string
	}
)

// NewServices creates a service resolver over reg.
func NewServices(reg *registry.Registry, invoker *proxy.Invoker) *Services {
	return &Services{registry: reg, invoker: invoker}
}

// Lookup returns a live reference to every module visible to requester that
// currently exports contract, in provider name order.
func (s *Services) Lookup(ctx context.Context, requester addon.ID, contract string) ([]*LiveService, error) {
	return lock.Perform(ctx, s.registry.Locks(), lock.ModeRead, func(ctx context.Context) ([]*LiveService, error) {
		var providers []string
		for _, m := range s.registry.View(requester).ModulesLocked(ctx) {
			if m.ID() == requester {
				continue
			}
			if _, ok := m.Export(contract); ok && !slices.Contains(providers, m.ID().Name) {
				providers = append(providers, m.ID().Name)
			}
		}
		out := make([]*LiveService, len(providers))
		for i, name := range providers {
			out[i] = s.Bind(requester, name, contract)
		}
		return out, nil
	})
}

// Bind returns a live reference to contract as exported by the requester's
// dependency named provider. The provider need not be started yet.
func (s *Services) Bind(requester addon.ID, provider, contract string) *LiveService {
	return &LiveService{services: s, requester: requester, provider: provider, contract: contract}
}

// Provider returns the dependency name the service resolves against.
func (l *LiveService) Provider() string { return l.provider }

// Contract returns the contract name.
func (l *LiveService) Contract() string { return l.contract }

// Dispatch resolves the current provider and forwards the call through a
// handle owned by the requester's namespace.
func (l *LiveService) Dispatch(ctx context.Context, method string, args []any) ([]any, error) {
	s := l.services
	return lock.Perform(ctx, s.registry.Locks(), lock.ModeRead, func(ctx context.Context) ([]any, error) {
		handle, err := l.resolve(ctx)
		if err != nil {
			return nil, err
		}
		return handle.Dispatch(ctx, method, args)
	})
}

// Available reports whether a started provider currently exports the contract.
func (l *LiveService) Available(ctx context.Context) bool {
	ok, _ := lock.Perform(ctx, l.services.registry.Locks(), lock.ModeRead, func(ctx context.Context) (bool, error) {
		_, err := l.resolve(ctx)
		return err == nil, nil
	})
	return ok
}

// resolve finds the current provider export. The caller holds READ.
func (l *LiveService) resolve(ctx context.Context) (proxy.Object, error) {
	s := l.services
	self, ok := s.registry.Lookup(ctx, l.requester)
	if !ok {
		return nil, fmt.Errorf("requester %s: %w", l.requester, registry.ErrModuleNotFound)
	}
	m, err := s.registry.View(l.requester).Provider(ctx, l.provider)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w: %w", l.provider, l.contract, ErrServiceUnavailable, err)
	}
	obj, ok := m.Export(l.contract)
	if !ok {
		return nil, fmt.Errorf("%s.%s: %w: provider %s is %s", l.provider, l.contract, ErrServiceUnavailable, m.ID(), m.Status())
	}
	ns := self.Namespace()
	if _, declared := ns.Contract(l.contract); !declared {
		// Consumers that did not declare the contract adopt the provider's methods.
		ns.Define(l.contract, obj.Contract().Methods()...)
	}
	return s.invoker.Wrap(ns, obj, l.contract)
}
