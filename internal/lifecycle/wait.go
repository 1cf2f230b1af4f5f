// SPDX-License-Identifier: MPL-2.0

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/furnace-run/furnace/internal/lock"
	"github.com/furnace-run/furnace/internal/registry"
	"github.com/furnace-run/furnace/pkg/addon"
)

// ErrUnexpectedStatus is returned by WaitForStatus when the module settles
// in a terminal status other than the one awaited.
var ErrUnexpectedStatus = errors.New("module reached an unexpected status")

// Registration is returned by AddListener.
type Registration struct {
	once   sync.Once
	remove func()
}

// Remove unregisters the listener. Calling it more than once is a no-op.
func (r *Registration) Remove() {
	if r == nil {
		return
	}
	r.once.Do(r.remove)
}

// AddListener calls fn after every completed scan or reload, once the
// controller has released its lock.
func (c *Controller) AddListener(fn func(*ScanResult)) *Registration {
	key := uuid.NewString()
	c.listenerMu.Lock()
	c.listeners[key] = fn
	c.listenerMu.Unlock()
	return &Registration{remove: func() {
		c.listenerMu.Lock()
		delete(c.listeners, key)
		c.listenerMu.Unlock()
	}}
}

// Listeners returns the number of registered listeners.
func (c *Controller) Listeners() int {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()
	return len(c.listeners)
}

func (c *Controller) notify(result *ScanResult) {
	c.listenerMu.Lock()
	fns := make([]func(*ScanResult), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.listenerMu.Unlock()

	for _, fn := range fns {
		c.call(fn, result)
	}
}

func (c *Controller) call(fn func(*ScanResult), result *ScanResult) {
	defer func() {
		if r := recover(); r != nil {
			if _, isFatal := r.(lock.Fatal); isFatal {
				panic(r)
			}
			c.logger.Error("scan listener panicked", "panic", r)
		}
	}()
	fn(result)
}

// LastScan returns the most recent scan result, or nil before the first.
func (c *Controller) LastScan() *ScanResult {
	c.scanMu.Lock()
	defer c.scanMu.Unlock()
	return c.lastScan
}

// AwaitScan blocks until the next scan or reload completes.
func (c *Controller) AwaitScan(ctx context.Context) (*ScanResult, error) {
	c.scanMu.Lock()
	done := c.scanDone
	c.scanMu.Unlock()

	select {
	case <-done:
		return c.LastScan(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// WaitForStatus polls with exponential backoff until module id reports
// want. It gives up when the module settles in another terminal status, or
// when ctx (or the controller's wait timeout, if ctx has no deadline) ends.
func (c *Controller) WaitForStatus(ctx context.Context, id addon.ID, want registry.Status) error {
	if err := want.Validate(); err != nil {
		return err
	}
	if _, has := ctx.Deadline(); !has && c.waitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.waitTimeout)
		defer cancel()
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.pollInterval
	policy.MaxInterval = 250 * time.Millisecond
	policy.MaxElapsedTime = 0

	var last registry.Status
	err := backoff.Retry(func() error {
		status, err := c.registry.Status(ctx, id)
		if err != nil {
			if errors.Is(err, registry.ErrModuleNotFound) {
				return err
			}
			return backoff.Permanent(err)
		}
		last = status
		switch {
		case status == want:
			return nil
		case status.IsTerminal():
			return backoff.Permanent(fmt.Errorf("%s is %s, want %s: %w", id, status, want, ErrUnexpectedStatus))
		default:
			return fmt.Errorf("%s is %s", id, status)
		}
	}, backoff.WithContext(policy, ctx))
	if err != nil && ctx.Err() != nil && !errors.Is(err, ErrUnexpectedStatus) {
		return fmt.Errorf("wait for %s to reach %s (last %s): %w", id, want, last, ctx.Err())
	}
	return err
}
