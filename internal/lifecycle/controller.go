// SPDX-License-Identifier: MPL-2.0

package lifecycle

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/furnace-run/furnace/internal/events"
	"github.com/furnace-run/furnace/internal/lock"
	"github.com/furnace-run/furnace/internal/proxy"
	"github.com/furnace-run/furnace/internal/reconcile"
	"github.com/furnace-run/furnace/internal/registry"
	"github.com/furnace-run/furnace/pkg/addon"
)

const tracerName = "github.com/furnace-run/furnace/internal/lifecycle"

type (
	// Observer receives lifecycle statistics.
	Observer interface {
		ObserveScan(elapsed time.Duration, applied bool)
		ObserveTransition(id addon.ID, status registry.Status)
	}

	// ScanResult describes one completed scan.
	ScanResult struct {
		// Generation counts completed scans, starting at 1.
		Generation uint64
		Delta      *reconcile.Delta
		// Applied is false when nothing needed to change and WRITE was not taken.
		Applied bool
		Started []addon.ID
		Stopped []addon.ID
		Failed  map[addon.ID]error
	}

	// Option configures a Controller.
	Option func(*Controller)

	// Controller runs the container's modules.
	Controller struct {
		locks      *lock.Manager
		registry   *registry.Registry
		reconciler *reconcile.Reconciler
		invoker    *proxy.Invoker
		hub        *events.Hub
		services   *events.Services

		locations      []string
		statePath      string
		resolver       ArtifactResolver
		factories      map[string]Factory
		logger         *log.Logger
		tracer         trace.Tracer
		observer       Observer
		lockOpts       []lock.Option
		hubOpts        []events.HubOption
		waitTimeout    time.Duration
		pollInterval   time.Duration
		closed         atomic.Bool
		needsReconcile atomic.Bool

		// scanSem serializes Scan from planning through apply.
		scanSem chan struct{}

		// Guarded by the WRITE lock.
		resolution *addon.Resolution
		inventory  []*addon.Descriptor
		startOrder []addon.ID

		scanMu     sync.Mutex
		generation uint64
		scanDone   chan struct{}
		lastScan   *ScanResult

		listenerMu sync.Mutex
		listeners  map[string]func(*ScanResult)
	}
)

// WithStateFile persists the scanned inventory at path.
func WithStateFile(path string) Option {
	return func(c *Controller) { c.statePath = path }
}

// WithLogger sets the controller's logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithResolver sets the artifact resolver. The default is LocalResolver.
func WithResolver(r ArtifactResolver) Option {
	return func(c *Controller) { c.resolver = r }
}

// WithFactory serves descriptors whose entry is entry. The empty entry is
// the default factory.
func WithFactory(entry string, f Factory) Option {
	return func(c *Controller) { c.factories[entry] = f }
}

// WithObserver registers an observer for lifecycle statistics.
func WithObserver(o Observer) Option {
	return func(c *Controller) { c.observer = o }
}

// WithTracerProvider sets the provider for scan and transition spans. The
// default is the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Controller) { c.tracer = tp.Tracer(tracerName) }
}

// WithLockOptions passes options to the controller's lock manager.
func WithLockOptions(opts ...lock.Option) Option {
	return func(c *Controller) { c.lockOpts = append(c.lockOpts, opts...) }
}

// WithHubOptions passes options to the controller's event hub.
func WithHubOptions(opts ...events.HubOption) Option {
	return func(c *Controller) { c.hubOpts = append(c.hubOpts, opts...) }
}

// WithWaitTimeout bounds WaitForStatus when its context has no deadline.
func WithWaitTimeout(d time.Duration) Option {
	return func(c *Controller) { c.waitTimeout = d }
}

// New creates a controller scanning locations.
func New(locations []string, opts ...Option) (*Controller, error) {
	c := &Controller{
		locations:    slices.Clone(locations),
		resolver:     LocalResolver{},
		factories:    make(map[string]Factory),
		logger:       log.New(io.Discard),
		tracer:       otel.Tracer(tracerName),
		waitTimeout:  30 * time.Second,
		pollInterval: 5 * time.Millisecond,
		resolution:   addon.Resolve(nil),
		scanDone:     make(chan struct{}),
		scanSem:      make(chan struct{}, 1),
		listeners:    make(map[string]func(*ScanResult)),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.locks = lock.NewManager(append([]lock.Option{lock.WithLogger(c.logger.WithPrefix("lock"))}, c.lockOpts...)...)
	c.registry = registry.New(c.locks)
	c.invoker = proxy.NewInvoker(proxy.WithInvokerLogger(c.logger.WithPrefix("proxy")))
	c.services = events.NewServices(c.registry, c.invoker)

	hub, err := events.NewHub(c.registry, append([]events.HubOption{events.WithHubLogger(c.logger.WithPrefix("events"))}, c.hubOpts...)...)
	if err != nil {
		return nil, err
	}
	c.hub = hub

	rec, err := reconcile.New(c.statePath, reconcile.WithLogger(c.logger.WithPrefix("reconcile")))
	if err != nil {
		hub.Close()
		return nil, err
	}
	c.reconciler = rec
	c.needsReconcile.Store(true)
	return c, nil
}

// Locks returns the container's lock manager.
func (c *Controller) Locks() *lock.Manager { return c.locks }

// Registry returns the container's module registry.
func (c *Controller) Registry() *registry.Registry { return c.registry }

// Hub returns the container's event hub.
func (c *Controller) Hub() *events.Hub { return c.hub }

// Services returns the container's service resolver.
func (c *Controller) Services() *events.Services { return c.services }

// Invoker returns the container's cross-namespace invoker.
func (c *Controller) Invoker() *proxy.Invoker { return c.invoker }

// Locations returns the scanned storage locations.
func (c *Controller) Locations() []string { return slices.Clone(c.locations) }

// Resolution returns the dependency resolution applied by the last scan.
func (c *Controller) Resolution(ctx context.Context) (*addon.Resolution, error) {
	return lock.Perform(ctx, c.locks, lock.ModeRead, func(context.Context) (*addon.Resolution, error) {
		return c.resolution, nil
	})
}

// Scan reconciles storage with the running modules. WRITE is taken only
// on the first scan, when storage changed, or while modules are failed for
// reasons a later scan may clear. Scans run one at a time, and the new
// inventory is recorded only once it has been applied: a scan that fails to
// take WRITE leaves the change for the next scan to find.
func (c *Controller) Scan(ctx context.Context) (*ScanResult, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	select {
	case c.scanSem <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("scan: %w", ctx.Err())
	}
	defer func() { <-c.scanSem }()

	began := time.Now()
	ctx, span := c.tracer.Start(ctx, "lifecycle.Scan")
	defer span.End()

	delta, err := c.reconciler.Plan(ctx, c.locations)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reconcile failed")
		return nil, fmt.Errorf("scan: %w", err)
	}
	for _, d := range delta.Diagnostics {
		c.logger.Warn("scan diagnostic", "code", d.Code, "path", d.Path, "msg", d.Message)
	}

	result := &ScanResult{Delta: delta, Failed: make(map[addon.ID]error)}
	if !delta.Empty() || c.needsReconcile.Load() {
		ctx, _ = lock.EnsureOwner(ctx, "lifecycle")
		err := c.locks.Do(ctx, lock.ModeWrite, func(ctx context.Context) error {
			if c.closed.Load() {
				return ErrClosed
			}
			if err := c.reconciler.Commit(delta); err != nil {
				return fmt.Errorf("record inventory: %w", err)
			}
			c.inventory = delta.Current
			c.applyLocked(ctx, result)
			return nil
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "apply failed")
			return nil, err
		}
		result.Applied = true
	}

	span.SetAttributes(
		attribute.Int("furnace.scan.added", len(delta.Added)),
		attribute.Int("furnace.scan.removed", len(delta.Removed)),
		attribute.Int("furnace.scan.changed", len(delta.Changed)),
		attribute.Bool("furnace.scan.applied", result.Applied),
	)
	if c.observer != nil {
		c.observer.ObserveScan(time.Since(began), result.Applied)
	}
	c.complete(result)
	return result, nil
}

// Reload stops id if it is running and starts it again from the current
// inventory, clearing a terminal failure.
func (c *Controller) Reload(ctx context.Context, id addon.ID) (*ScanResult, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	ctx, span := c.tracer.Start(ctx, "lifecycle.Reload", trace.WithAttributes(attribute.String("furnace.addon", id.String())))
	defer span.End()

	result := &ScanResult{Delta: &reconcile.Delta{}, Failed: make(map[addon.ID]error)}
	ctx, _ = lock.EnsureOwner(ctx, "lifecycle")
	err := c.locks.Do(ctx, lock.ModeWrite, func(ctx context.Context) error {
		if c.closed.Load() {
			return ErrClosed
		}
		m, ok := c.registry.Lookup(ctx, id)
		if !ok {
			return fmt.Errorf("reload %s: %w", id, registry.ErrModuleNotFound)
		}
		c.stopLocked(ctx, m, result)
		c.applyLocked(ctx, result)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reload failed")
		return nil, err
	}
	result.Applied = true
	c.complete(result)
	return result, nil
}

// Shutdown stops every module in reverse start order and closes the
// controller. Later scans return ErrClosed.
func (c *Controller) Shutdown(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "lifecycle.Shutdown")
	defer span.End()

	var closing bool
	ctx, _ = lock.EnsureOwner(ctx, "lifecycle")
	err := c.locks.Do(ctx, lock.ModeWrite, func(ctx context.Context) error {
		if c.closed.Swap(true) {
			return nil
		}
		closing = true
		result := &ScanResult{Failed: make(map[addon.ID]error)}
		for _, m := range c.stopOrderLocked(c.registry.Snapshot(ctx)) {
			c.stopLocked(ctx, m, result)
		}
		c.inventory = nil
		c.resolution = addon.Resolve(nil)
		c.startOrder = nil
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return err
	}
	if closing {
		c.hub.Close()
		c.logger.Info("controller shut down")
	}
	return nil
}

// applyLocked brings the registry in line with c.inventory. The caller
// holds WRITE.
func (c *Controller) applyLocked(ctx context.Context, result *ScanResult) {
	res := addon.Resolve(c.inventory)
	desired := make(map[addon.ID]*addon.Descriptor, len(c.inventory))
	for _, d := range c.inventory {
		desired[d.ID] = d
	}

	// Stop phase: removed, changed, newly unsatisfied and failures that are
	// not terminal (they are re-evaluated below).
	var stopping []*registry.Module
	for _, m := range c.registry.Snapshot(ctx) {
		d, wanted := desired[m.ID()]
		switch {
		case !wanted:
			stopping = append(stopping, m)
		case d.Fingerprint != m.Descriptor().Fingerprint || d.Location != m.Descriptor().Location:
			stopping = append(stopping, m)
		case m.Status() == registry.StatusStarted && !res.CanStart(m.ID()):
			stopping = append(stopping, m)
		case m.Status() == registry.StatusFailed && !isTerminal(m.LastError()):
			stopping = append(stopping, m)
		}
	}
	for _, m := range c.stopOrderLocked(stopping) {
		c.stopLocked(ctx, m, result)
	}

	c.resolution = res
	c.needsReconcile.Store(false)

	// Start phase, in dependency order.
	for _, id := range res.Order {
		if m, ok := c.registry.Lookup(ctx, id); ok {
			if m.Status() == registry.StatusFailed {
				result.Failed[id] = m.LastError()
			}
			continue
		}
		c.startLocked(ctx, desired[id], res, result)
	}

	// Unresolvable modules are registered as failed so their status and
	// reason are visible.
	for _, d := range res.Descriptors() {
		cause, failed := res.Failed[d.ID]
		if !failed {
			continue
		}
		if _, ok := c.registry.Lookup(ctx, d.ID); ok {
			continue
		}
		m := registry.NewModule(d)
		if err := c.registry.Register(ctx, m); err != nil {
			c.logger.Error("register failed module", "addon", d.ID, "err", err)
			continue
		}
		c.failLocked(ctx, m, cause, result)
	}

	for _, d := range res.Duplicates {
		c.logger.Warn("duplicate addon ignored", "addon", d.ID, "location", d.Location)
	}
}

// stopOrderLocked sorts modules into reverse start order. Modules that were
// never started go first, in reverse ID order.
func (c *Controller) stopOrderLocked(mods []*registry.Module) []*registry.Module {
	rank := make(map[addon.ID]int, len(c.startOrder))
	for i, id := range c.startOrder {
		rank[id] = i + 1
	}
	out := slices.Clone(mods)
	slices.SortStableFunc(out, func(a, b *registry.Module) int {
		ra, rb := rank[a.ID()], rank[b.ID()]
		if ra != rb {
			return rb - ra
		}
		return b.ID().Compare(a.ID())
	})
	return out
}

func (c *Controller) complete(result *ScanResult) {
	c.scanMu.Lock()
	c.generation++
	result.Generation = c.generation
	c.lastScan = result
	close(c.scanDone)
	c.scanDone = make(chan struct{})
	c.scanMu.Unlock()

	c.notify(result)
}

// Failures returns every module currently failed and why.
func (c *Controller) Failures(ctx context.Context) (map[addon.ID]error, error) {
	mods, err := c.registry.Modules(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[addon.ID]error)
	for _, m := range mods {
		if m.Status() == registry.StatusFailed {
			out[m.ID()] = m.LastError()
		}
	}
	return out, nil
}
