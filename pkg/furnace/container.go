// SPDX-License-Identifier: MPL-2.0

package furnace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/furnace-run/furnace/internal/config"
	"github.com/furnace-run/furnace/internal/events"
	"github.com/furnace-run/furnace/internal/health"
	"github.com/furnace-run/furnace/internal/lifecycle"
	"github.com/furnace-run/furnace/internal/lock"
	"github.com/furnace-run/furnace/internal/metrics"
	"github.com/furnace-run/furnace/internal/registry"
	"github.com/furnace-run/furnace/internal/watch"
	"github.com/furnace-run/furnace/pkg/addon"
)

const shutdownGrace = 5 * time.Second

// Container runs the modules found in its configured storage locations.
type Container struct {
	state   atomic.Int32
	stateMu sync.Mutex
	lastErr error

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startedCh chan struct{}
	errCh     chan error

	cfg            *config.Config
	logger         *log.Logger
	controllerOpts []lifecycle.Option
	httpAddr       string
	watchEnabled   bool
	strictReady    bool

	controller *lifecycle.Controller
	collector  *metrics.Collector
	handler    http.Handler
	server     *http.Server
	listenAddr atomic.Pointer[string]
}

// New creates a Container for cfg. A nil cfg uses config.DefaultConfig.
func New(cfg *config.Config, opts ...Option) (*Container, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Container{
		startedCh:    make(chan struct{}),
		errCh:        make(chan error, 1),
		cfg:          cfg,
		logger:       log.New(io.Discard),
		watchEnabled: cfg.Watch.Enabled,
	}
	c.state.Store(int32(StateCreated))
	for _, opt := range opts {
		opt(c)
	}

	c.collector = metrics.New()
	hubOpts := []events.HubOption{events.WithDeliveryObserver(c.collector)}
	if cfg.Events.Parallel {
		hubOpts = append(hubOpts, events.WithParallelDelivery(cfg.EventWorkers()))
	}
	ctrlOpts := []lifecycle.Option{
		lifecycle.WithLogger(c.logger),
		lifecycle.WithStateFile(cfg.StateFile),
		lifecycle.WithObserver(c.collector),
		lifecycle.WithWaitTimeout(cfg.Lock.WaitTimeout),
		lifecycle.WithLockOptions(
			lock.WithWaitTimeout(cfg.Lock.WaitTimeout),
			lock.WithObserver(c.collector),
		),
		lifecycle.WithHubOptions(hubOpts...),
	}
	ctrl, err := lifecycle.New(cfg.Locations, append(ctrlOpts, c.controllerOpts...)...)
	if err != nil {
		return nil, fmt.Errorf("create controller: %w", err)
	}
	c.controller = ctrl
	if err := c.collector.TrackModules(ctrl.Registry()); err != nil {
		return nil, fmt.Errorf("register module metrics: %w", err)
	}

	healthOpts := []health.Option{
		health.WithTimeout(time.Second),
		health.WithMetrics(c.collector.Registry(), config.AppName),
	}
	if c.strictReady {
		healthOpts = append(healthOpts, health.WithStrictModules())
	}
	checks := health.NewHandler(ctrl, healthOpts...)
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.collector.Handler())
	mux.Handle("/live", checks)
	mux.Handle("/ready", checks)
	c.handler = mux
	return c, nil
}

// State returns the current run state.
func (c *Container) State() State { return State(c.state.Load()) }

// Err returns a channel receiving asynchronous failures of background
// services. It is closed once the container has stopped.
func (c *Container) Err() <-chan error { return c.errCh }

// LastError returns the error that moved the container to Failed, or nil.
func (c *Container) LastError() error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.lastErr
}

// Controller returns the lifecycle controller.
func (c *Container) Controller() *lifecycle.Controller { return c.controller }

// Metrics returns the metrics collector.
func (c *Container) Metrics() *metrics.Collector { return c.collector }

// Handler serves /metrics, /live and /ready.
func (c *Container) Handler() http.Handler { return c.handler }

// Addr returns the address the HTTP listener is bound to, or empty when it
// is not serving.
func (c *Container) Addr() string {
	if p := c.listenAddr.Load(); p != nil {
		return *p
	}
	return ""
}

// Start runs the initial scan and brings up the watcher and HTTP listener.
// Module start failures do not fail Start: they are recorded on the modules
// and reported in the returned result.
func (c *Container) Start(ctx context.Context) (*ScanResult, error) {
	if err := ctx.Err(); err != nil {
		c.fail(fmt.Errorf("context cancelled before start: %w", err))
		return nil, c.LastError()
	}
	if !c.state.CompareAndSwap(int32(StateCreated), int32(StateStarting)) {
		return nil, &TransitionError{Op: "start", State: c.State()}
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	result, err := c.controller.Scan(ctx)
	if err != nil {
		c.fail(err)
		_ = c.controller.Shutdown(context.Background())
		return nil, err
	}

	if c.httpAddr != "" {
		if err := c.listen(); err != nil {
			c.fail(err)
			_ = c.controller.Shutdown(context.Background())
			return nil, err
		}
	}
	if c.watchEnabled {
		if err := c.watch(); err != nil {
			c.fail(err)
			c.closeServer()
			_ = c.controller.Shutdown(context.Background())
			return nil, err
		}
	}

	if c.state.CompareAndSwap(int32(StateStarting), int32(StateRunning)) {
		close(c.startedCh)
	}
	c.logger.Info("container running", "modules", len(result.Started), "failed", len(result.Failed))
	return result, nil
}

// Scan rescans storage. It is valid while starting or running.
func (c *Container) Scan(ctx context.Context) (*ScanResult, error) {
	if s := c.State(); s != StateRunning && s != StateStarting {
		return nil, &TransitionError{Op: "scan", State: s}
	}
	return c.controller.Scan(ctx)
}

// Reload restarts id from the current inventory.
func (c *Container) Reload(ctx context.Context, id addon.ID) (*ScanResult, error) {
	if s := c.State(); s != StateRunning {
		return nil, &TransitionError{Op: "reload", State: s}
	}
	return c.controller.Reload(ctx, id)
}

// Modules returns every registered module in ID order.
func (c *Container) Modules(ctx context.Context) ([]*registry.Module, error) {
	return c.controller.Registry().Modules(ctx)
}

// WaitForReady blocks until the container is running or ctx ends.
func (c *Container) WaitForReady(ctx context.Context) error {
	select {
	case <-c.startedCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for container ready: %w", ctx.Err())
	}
}

// Stop shuts down background services and stops every module in reverse
// dependency order. Stopping a container that never started marks it
// stopped; stopping twice is a no-op.
func (c *Container) Stop(ctx context.Context) error {
	for {
		current := c.State()
		switch current {
		case StateStopped, StateStopping:
			return nil
		case StateCreated:
			if !c.state.CompareAndSwap(int32(StateCreated), int32(StateStopped)) {
				continue
			}
			return c.controller.Shutdown(ctx)
		case StateFailed:
			c.wg.Wait()
			return c.controller.Shutdown(ctx)
		case StateStarting, StateRunning:
			if !c.state.CompareAndSwap(int32(current), int32(StateStopping)) {
				continue
			}
		default:
			return nil
		}
		break
	}

	c.cancel()
	c.closeServer()
	c.wg.Wait()
	err := c.controller.Shutdown(ctx)
	c.state.Store(int32(StateStopped))
	close(c.errCh)
	return err
}

// Run starts the container and blocks until ctx ends or a background
// service fails, then stops it.
func (c *Container) Run(ctx context.Context) error {
	if _, err := c.Start(ctx); err != nil {
		return err
	}
	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-c.errCh:
		if ok {
			runErr = err
		}
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := c.Stop(stopCtx); err != nil {
		return errors.Join(runErr, err)
	}
	return runErr
}

func (c *Container) listen() error {
	ln, err := net.Listen("tcp", c.httpAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", c.httpAddr, err)
	}
	addr := ln.Addr().String()
	c.listenAddr.Store(&addr)
	c.server = &http.Server{Handler: c.handler, ReadHeaderTimeout: 5 * time.Second}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.sendError(fmt.Errorf("serve %s: %w", addr, err))
		}
	}()
	c.logger.Info("serving metrics and health", "addr", addr)
	return nil
}

func (c *Container) closeServer() {
	if c.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := c.server.Shutdown(ctx); err != nil {
		c.logger.Warn("http shutdown", "err", err)
	}
}

func (c *Container) watch() error {
	w, err := watch.New(watch.Config{
		Locations: c.cfg.Locations,
		Ignore:    c.cfg.Watch.Ignore,
		Debounce:  c.cfg.Watch.Debounce,
		Logger:    c.logger.WithPrefix("watch"),
		OnChange: func(ctx context.Context, changed []string) error {
			c.logger.Debug("storage changed", "paths", len(changed))
			result, err := c.controller.Scan(ctx)
			if err != nil {
				if errors.Is(err, lifecycle.ErrClosed) {
					return nil
				}
				return err
			}
			if result.Applied {
				c.logger.Info("rescanned", "generation", result.Generation,
					"started", len(result.Started), "stopped", len(result.Stopped), "failed", len(result.Failed))
			}
			return nil
		},
	})
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := w.Run(c.ctx); err != nil && !errors.Is(err, context.Canceled) {
			c.sendError(fmt.Errorf("watch: %w", err))
		}
	}()
	return nil
}

func (c *Container) fail(err error) {
	c.stateMu.Lock()
	c.lastErr = err
	c.stateMu.Unlock()
	c.state.Store(int32(StateFailed))
	if c.cancel != nil {
		c.cancel()
	}
	c.sendError(err)
}

func (c *Container) sendError(err error) {
	select {
	case c.errCh <- err:
	default:
	}
}
