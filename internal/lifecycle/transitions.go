// SPDX-License-Identifier: MPL-2.0

package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/furnace-run/furnace/internal/lock"
	"github.com/furnace-run/furnace/internal/registry"
	"github.com/furnace-run/furnace/pkg/addon"
)

// startLocked registers a fresh module for d and runs it up to STARTED or
// FAILED. The caller holds WRITE.
func (c *Controller) startLocked(ctx context.Context, d *addon.Descriptor, res *addon.Resolution, result *ScanResult) {
	ctx, span := c.tracer.Start(ctx, "lifecycle.start", trace.WithAttributes(attribute.String("furnace.addon", d.ID.String())))
	defer span.End()

	m := registry.NewModule(d)
	if err := c.registry.Register(ctx, m); err != nil {
		c.logger.Error("register module", "addon", d.ID, "err", err)
		span.RecordError(err)
		return
	}
	if !c.transitionLocked(ctx, m, registry.StatusStarting) {
		return
	}

	for _, dep := range res.Required[d.ID] {
		target, ok := c.registry.Lookup(ctx, dep)
		if ok && target.Status() == registry.StatusStarted {
			continue
		}
		cause := error(registry.ErrModuleNotFound)
		if ok {
			cause = target.LastError()
			if cause == nil {
				cause = fmt.Errorf("status %s", target.Status())
			}
		}
		c.failLocked(ctx, m, &addon.DependencyFailedError{Addon: d.ID, Dependency: dep, Cause: cause}, result)
		span.SetStatus(codes.Error, "dependency not started")
		return
	}

	files, err := c.resolver.Resolve(ctx, d)
	if err != nil {
		var rerr *ResolutionError
		if !errors.As(err, &rerr) {
			rerr = &ResolutionError{Addon: d.ID, Failures: []error{err}}
		}
		c.failLocked(ctx, m, rerr, result)
		span.RecordError(rerr)
		span.SetStatus(codes.Error, "artifact resolution failed")
		return
	}

	rt := &Runtime{controller: c, module: m, files: files, logger: c.logger.WithPrefix(d.ID.String())}
	inst, err := c.instantiate(ctx, d, files, rt)
	if err != nil {
		c.failLocked(ctx, m, err, result)
		span.RecordError(err)
		span.SetStatus(codes.Error, "start failed")
		return
	}
	m.SetInstance(inst)
	if !c.transitionLocked(ctx, m, registry.StatusStarted) {
		return
	}
	c.startOrder = append(c.startOrder, d.ID)
	result.Started = append(result.Started, d.ID)
	c.logger.Info("module started", "addon", d.ID)
}

// instantiate creates and starts the addon, turning factory errors, start
// errors and non-fatal panics into a *StartError.
func (c *Controller) instantiate(ctx context.Context, d *addon.Descriptor, files FileSet, rt *Runtime) (inst Addon, err error) {
	f, ok := c.factories[d.Entry]
	if !ok {
		f, ok = c.factories[""]
	}
	if !ok {
		return nil, &StartError{Addon: d.ID, Err: fmt.Errorf("entry %q: %w", d.Entry, ErrNoFactory)}
	}

	defer func() {
		if r := recover(); r != nil {
			if _, isFatal := r.(lock.Fatal); isFatal {
				panic(r)
			}
			inst = nil
			err = &StartError{Addon: d.ID, Panic: r}
		}
	}()

	inst, err = f.New(d, files)
	if err != nil {
		return nil, &StartError{Addon: d.ID, Err: err}
	}
	if err := inst.Start(ctx, rt); err != nil {
		return nil, &StartError{Addon: d.ID, Err: err}
	}
	return inst, nil
}

// stopLocked stops m if it is running and removes it from the registry. The
// caller holds WRITE.
func (c *Controller) stopLocked(ctx context.Context, m *registry.Module, result *ScanResult) {
	ctx, span := c.tracer.Start(ctx, "lifecycle.stop", trace.WithAttributes(attribute.String("furnace.addon", m.ID().String())))
	defer span.End()

	if m.Status() == registry.StatusStarted {
		c.transitionLocked(ctx, m, registry.StatusStopRequested)
		if inst, ok := m.Instance().(Addon); ok {
			if err := c.stopInstance(ctx, inst); err != nil {
				c.logger.Warn("module stop failed", "addon", m.ID(), "err", err)
				m.AddDiagnostic(fmt.Sprintf("stop: %v", err))
				span.RecordError(err)
			}
		}
		if c.transitionLocked(ctx, m, registry.StatusStopped) {
			result.Stopped = append(result.Stopped, m.ID())
			c.logger.Info("module stopped", "addon", m.ID())
		}
	} else if !m.Status().IsTerminal() {
		c.transitionLocked(ctx, m, registry.StatusStopped)
	}

	m.Namespace().Close()
	if n := c.invoker.Forget(m.Namespace()); n > 0 {
		c.logger.Debug("dropped proxy handles", "addon", m.ID(), "handles", n)
	}
	c.registry.Deregister(ctx, m.ID())
	for i, id := range c.startOrder {
		if id == m.ID() {
			c.startOrder = append(c.startOrder[:i], c.startOrder[i+1:]...)
			break
		}
	}
}

func (c *Controller) stopInstance(ctx context.Context, inst Addon) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if _, isFatal := r.(lock.Fatal); isFatal {
				panic(r)
			}
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return inst.Stop(ctx)
}

func (c *Controller) failLocked(ctx context.Context, m *registry.Module, cause error, result *ScanResult) {
	c.registry.Fail(ctx, m, cause)
	result.Failed[m.ID()] = cause
	if !isTerminal(cause) {
		c.needsReconcile.Store(true)
	}
	c.logger.Warn("module failed", "addon", m.ID(), "err", cause)
	if c.observer != nil {
		c.observer.ObserveTransition(m.ID(), registry.StatusFailed)
	}
}

func (c *Controller) transitionLocked(ctx context.Context, m *registry.Module, next registry.Status) bool {
	if err := c.registry.SetStatus(ctx, m, next); err != nil {
		c.logger.Error("status transition", "addon", m.ID(), "err", err)
		return false
	}
	if c.observer != nil {
		c.observer.ObserveTransition(m.ID(), next)
	}
	return true
}
