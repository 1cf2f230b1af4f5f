// SPDX-License-Identifier: MPL-2.0

package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/furnace-run/furnace/internal/lifecycle"
	"github.com/furnace-run/furnace/internal/lock"
	"github.com/furnace-run/furnace/pkg/addon"
)

type fakeTarget struct {
	mu       sync.Mutex
	scan     *lifecycle.ScanResult
	failures map[addon.ID]error
	locks    *lock.Manager
}

func (f *fakeTarget) LastScan() *lifecycle.ScanResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scan
}

func (f *fakeTarget) Failures(context.Context) (map[addon.ID]error, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failures, nil
}

func (f *fakeTarget) Locks() *lock.Manager { return f.locks }

func status(t *testing.T, h http.Handler, path string) int {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec.Code
}

func TestHandler_Readiness(t *testing.T) {
	t.Parallel()

	target := &fakeTarget{locks: lock.NewManager()}
	h := NewHandler(target, WithTimeout(50*time.Millisecond), WithStrictModules())

	if code := status(t, h, "/live"); code != http.StatusOK {
		t.Errorf("/live = %d", code)
	}
	if code := status(t, h, "/ready"); code != http.StatusServiceUnavailable {
		t.Errorf("/ready before scan = %d", code)
	}

	target.mu.Lock()
	target.scan = &lifecycle.ScanResult{Generation: 1}
	target.mu.Unlock()
	if code := status(t, h, "/ready"); code != http.StatusOK {
		t.Errorf("/ready after scan = %d", code)
	}

	target.mu.Lock()
	target.failures = map[addon.ID]error{addon.MustParseID("app@1.0.0"): errors.New("boom")}
	target.mu.Unlock()
	if code := status(t, h, "/ready"); code != http.StatusServiceUnavailable {
		t.Errorf("/ready with failed module = %d", code)
	}
}

func TestLockCheck_HeldWriter(t *testing.T) {
	t.Parallel()

	target := &fakeTarget{locks: lock.NewManager()}
	tok, err := target.locks.Acquire(lock.WithOwner(context.Background(), lock.NewOwner("writer")), lock.ModeWrite)
	if err != nil {
		t.Fatal(err)
	}
	check := LockCheck(target, 20*time.Millisecond)
	if err := check(); !errors.Is(err, lock.ErrTimeout) {
		t.Errorf("expected ErrTimeout while WRITE is held, got %v", err)
	}
	if err := tok.Release(); err != nil {
		t.Fatal(err)
	}
	if err := check(); err != nil {
		t.Errorf("check after release: %v", err)
	}
}

func TestModulesCheck_NamesFailures(t *testing.T) {
	t.Parallel()

	target := &fakeTarget{failures: map[addon.ID]error{
		addon.MustParseID("zeta@1.0.0"):  errors.New("x"),
		addon.MustParseID("alpha@1.0.0"): errors.New("y"),
	}}
	err := ModulesCheck(target, time.Second)()
	if !errors.Is(err, ErrModulesFailed) || err.Error() != "modules failed: alpha@1.0.0, zeta@1.0.0" {
		t.Errorf("unexpected error %v", err)
	}
}

func TestHandler_Metrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	target := &fakeTarget{locks: lock.NewManager()}
	h := NewHandler(target, WithMetrics(reg, "furnace"))
	status(t, h, "/ready")

	if n, err := testutil.GatherAndCount(reg, "furnace_healthcheck_status"); err != nil || n == 0 {
		t.Errorf("expected healthcheck gauges, got %d (%v)", n, err)
	}
}
