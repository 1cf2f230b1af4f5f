// SPDX-License-Identifier: MPL-2.0

package events

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/panjf2000/ants/v2"

	"github.com/furnace-run/furnace/internal/lock"
	"github.com/furnace-run/furnace/internal/registry"
	"github.com/furnace-run/furnace/pkg/addon"
)

type (
	// Event is something that happened in the container or an addon.
	Event struct {
		Type    string
		Payload any
	}

	// Observer is implemented by addon instances that handle events. A module
	// receives an event only if its descriptor observes the event type.
	Observer interface {
		Observe(ctx context.Context, ev Event, qualifiers []string) error
	}

	// DeliveryObserver receives delivery statistics.
	DeliveryObserver interface {
		ObserveDelivery(eventType string, failed bool)
	}

	// DeliveryError records one module's failure to handle an event.
	DeliveryError struct {
		Module addon.ID
		Panic  any
		Err    error
	}

	// Report is the outcome of one Fire call.
	Report struct {
		Event     Event
		Delivered []addon.ID
		Failures  map[addon.ID]*DeliveryError
	}

	// HubOption configures a Hub.
	HubOption func(*Hub)

	// Hub delivers events to the modules of a registry.
	Hub struct {
		registry *registry.Registry
		workers  int
		pool     *ants.Pool
		logger   *log.Logger
		observer DeliveryObserver
	}
)

// Error implements the error interface.
func (e *DeliveryError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("module %s panicked handling event: %v", e.Module, e.Panic)
	}
	return fmt.Sprintf("module %s failed handling event: %v", e.Module, e.Err)
}

// Unwrap returns the handler's error.
func (e *DeliveryError) Unwrap() error { return e.Err }

// Err joins every delivery failure in module order, or returns nil.
func (r *Report) Err() error {
	ids := make([]addon.ID, 0, len(r.Failures))
	for id := range r.Failures {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, addon.CompareIDs)
	errs := make([]error, 0, len(ids))
	for _, id := range ids {
		errs = append(errs, r.Failures[id])
	}
	return errors.Join(errs...)
}

// WithParallelDelivery delivers to independent modules concurrently on a
// pool of the given size. Sizes below 2 keep delivery sequential.
func WithParallelDelivery(workers int) HubOption {
	return func(h *Hub) {
		h.workers = workers
	}
}

// WithHubLogger sets the logger for delivery failures.
func WithHubLogger(l *log.Logger) HubOption {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithDeliveryObserver registers an observer for delivery statistics.
func WithDeliveryObserver(o DeliveryObserver) HubOption {
	return func(h *Hub) {
		h.observer = o
	}
}

// NewHub creates a Hub for reg.
func NewHub(reg *registry.Registry, opts ...HubOption) (*Hub, error) {
	h := &Hub{registry: reg, logger: log.New(io.Discard)}
	for _, opt := range opts {
		opt(h)
	}
	if h.workers > 1 {
		pool, err := ants.NewPool(h.workers)
		if err != nil {
			return nil, fmt.Errorf("failed to create delivery pool: %w", err)
		}
		h.pool = pool
	}
	return h, nil
}

// Close releases the delivery pool.
func (h *Hub) Close() {
	if h.pool != nil {
		h.pool.Release()
	}
}

// Fire delivers ev to every started module that observes it, in module ID
// order. With parallel delivery, modules run in waves: a module is delivered
// to only after every observing module it requires. A failing handler is
// recorded in the report and does not stop delivery to the others. Fire
// returns an error only if the READ lock could not be acquired.
func (h *Hub) Fire(ctx context.Context, ev Event, qualifiers ...string) (*Report, error) {
	return lock.Perform(ctx, h.registry.Locks(), lock.ModeRead, func(ctx context.Context) (*Report, error) {
		report := &Report{Event: ev, Failures: make(map[addon.ID]*DeliveryError)}
		targets := h.targets(ctx, ev)
		if h.pool == nil || len(targets) < 2 {
			for _, t := range targets {
				h.record(report, t.module.ID(), h.deliver(ctx, t, ev, qualifiers))
			}
			return report, nil
		}
		h.fireParallel(ctx, report, targets, ev, qualifiers)
		return report, nil
	})
}

type target struct {
	module   *registry.Module
	observer Observer
}

// targets returns the started observers of ev. The caller holds READ.
func (h *Hub) targets(ctx context.Context, ev Event) []target {
	var out []target
	for _, m := range h.registry.RootView().ModulesLocked(ctx) {
		if m.Status() != registry.StatusStarted || !m.Descriptor().ObservesEvent(ev.Type) {
			continue
		}
		obs, ok := m.Instance().(Observer)
		if !ok {
			continue
		}
		out = append(out, target{module: m, observer: obs})
	}
	return out
}

func (h *Hub) fireParallel(ctx context.Context, report *Report, targets []target, ev Event, qualifiers []string) {
	var (
		mu    sync.Mutex
		fatal any
	)
	for _, wave := range waves(targets) {
		var wg sync.WaitGroup
		for _, t := range wave {
			wg.Add(1)
			task := func() {
				defer wg.Done()
				// Fatal panics are carried back to the firing goroutine.
				defer func() {
					if r := recover(); r != nil {
						mu.Lock()
						if fatal == nil {
							fatal = r
						}
						mu.Unlock()
					}
				}()
				err := h.deliver(ctx, t, ev, qualifiers)
				mu.Lock()
				h.record(report, t.module.ID(), err)
				mu.Unlock()
			}
			if err := h.pool.Submit(task); err != nil {
				// Pool closed or overloaded: deliver inline.
				task()
			}
		}
		wg.Wait()
		if fatal != nil {
			panic(fatal)
		}
	}
	slices.SortFunc(report.Delivered, addon.CompareIDs)
}

// waves groups targets so that every target comes after the targets it
// requires by name. Targets stay in ID order within a wave.
func waves(targets []target) [][]target {
	names := make(map[string]bool, len(targets))
	for _, t := range targets {
		names[t.module.ID().Name] = true
	}
	done := make(map[string]bool, len(targets))
	var out [][]target
	remaining := targets
	for len(remaining) > 0 {
		var wave, next []target
		for _, t := range remaining {
			ready := true
			for _, dep := range t.module.Descriptor().Requires {
				if !dep.Optional && names[dep.Name] && !done[dep.Name] {
					ready = false
					break
				}
			}
			if ready {
				wave = append(wave, t)
			} else {
				next = append(next, t)
			}
		}
		if len(wave) == 0 {
			// Only reachable through a name-level cycle; deliver the rest together.
			wave, next = next, nil
		}
		for _, t := range wave {
			done[t.module.ID().Name] = true
		}
		out = append(out, wave)
		remaining = next
	}
	return out
}

func (h *Hub) deliver(ctx context.Context, t target, ev Event, qualifiers []string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if _, isFatal := r.(lock.Fatal); isFatal {
				panic(r)
			}
			err = &DeliveryError{Module: t.module.ID(), Panic: r}
		}
	}()
	if err := t.observer.Observe(ctx, ev, slices.Clone(qualifiers)); err != nil {
		return &DeliveryError{Module: t.module.ID(), Err: err}
	}
	return nil
}

func (h *Hub) record(report *Report, id addon.ID, err error) {
	if h.observer != nil {
		h.observer.ObserveDelivery(report.Event.Type, err != nil)
	}
	if err == nil {
		report.Delivered = append(report.Delivered, id)
		return
	}
	var de *DeliveryError
	if !errors.As(err, &de) {
		de = &DeliveryError{Module: id, Err: err}
	}
	report.Failures[id] = de
	h.logger.Warn("event delivery failed", "event", report.Event.Type, "module", id, "err", err)
}
