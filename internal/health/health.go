// SPDX-License-Identifier: MPL-2.0

// Package health serves liveness and readiness endpoints for a running
// container.
//
// Liveness fails when the process leaks goroutines. Readiness fails until
// the first scan completes, while the container lock cannot be read within
// the check timeout, and optionally while any module is failed.
package health

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/furnace-run/furnace/internal/lifecycle"
	"github.com/furnace-run/furnace/internal/lock"
	"github.com/furnace-run/furnace/pkg/addon"
)

var (
	// ErrNotScanned is reported until the first scan completes.
	ErrNotScanned = errors.New("no scan has completed yet")
	// ErrModulesFailed is reported by the strict module check.
	ErrModulesFailed = errors.New("modules failed")
)

type (
	// Target is the container being checked.
	Target interface {
		LastScan() *lifecycle.ScanResult
		Failures(ctx context.Context) (map[addon.ID]error, error)
		Locks() *lock.Manager
	}

	// Option configures the handler.
	Option func(*options)

	options struct {
		timeout       time.Duration
		maxGoroutines int
		strictModules bool
		metrics       prometheus.Registerer
		metricsNS     string
	}
)

// WithTimeout bounds every readiness check. The default is one second.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithMaxGoroutines sets the liveness goroutine threshold. The default is
// 10000.
func WithMaxGoroutines(n int) Option {
	return func(o *options) { o.maxGoroutines = n }
}

// WithStrictModules makes readiness fail while any module is failed.
func WithStrictModules() Option {
	return func(o *options) { o.strictModules = true }
}

// WithMetrics exports check results as gauges under namespace.
func WithMetrics(reg prometheus.Registerer, namespace string) Option {
	return func(o *options) {
		o.metrics = reg
		o.metricsNS = namespace
	}
}

// NewHandler returns a handler serving /live and /ready for t.
func NewHandler(t Target, opts ...Option) healthcheck.Handler {
	o := options{timeout: time.Second, maxGoroutines: 10000}
	for _, opt := range opts {
		opt(&o)
	}

	var h healthcheck.Handler
	if o.metrics != nil {
		h = healthcheck.NewMetricsHandler(o.metrics, o.metricsNS)
	} else {
		h = healthcheck.NewHandler()
	}

	h.AddLivenessCheck("goroutines", healthcheck.GoroutineCountCheck(o.maxGoroutines))
	h.AddReadinessCheck("scan", ScanCheck(t))
	h.AddReadinessCheck("lock", healthcheck.Timeout(LockCheck(t, o.timeout), o.timeout))
	if o.strictModules {
		h.AddReadinessCheck("modules", healthcheck.Timeout(ModulesCheck(t, o.timeout), o.timeout))
	}
	return h
}

// ScanCheck fails until t has completed a scan.
func ScanCheck(t Target) healthcheck.Check {
	return func() error {
		if t.LastScan() == nil {
			return ErrNotScanned
		}
		return nil
	}
}

// LockCheck fails when READ cannot be acquired within timeout.
func LockCheck(t Target, timeout time.Duration) healthcheck.Check {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return t.Locks().Do(ctx, lock.ModeRead, func(context.Context) error { return nil })
	}
}

// ModulesCheck fails while any module is failed, naming them.
func ModulesCheck(t Target, timeout time.Duration) healthcheck.Check {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		failures, err := t.Failures(ctx)
		if err != nil {
			return err
		}
		if len(failures) == 0 {
			return nil
		}
		names := make([]string, 0, len(failures))
		for id := range failures {
			names = append(names, id.String())
		}
		slices.Sort(names)
		return fmt.Errorf("%w: %s", ErrModulesFailed, strings.Join(names, ", "))
	}
}
