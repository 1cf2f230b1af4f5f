// SPDX-License-Identifier: MPL-2.0

package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/furnace-run/furnace/internal/lock"
	"github.com/furnace-run/furnace/internal/registry"
	"github.com/furnace-run/furnace/pkg/addon"
)

func TestCollector_Lock(t *testing.T) {
	t.Parallel()

	c := New()
	m := lock.NewManager(lock.WithObserver(c))
	ctx := context.Background()
	for range 3 {
		if err := m.Do(ctx, lock.ModeRead, func(context.Context) error { return nil }); err != nil {
			t.Fatal(err)
		}
	}
	if err := m.Do(ctx, lock.ModeWrite, func(context.Context) error { return nil }); err != nil {
		t.Fatal(err)
	}

	if got := testutil.ToFloat64(c.lockAcquires.WithLabelValues("read")); got != 3 {
		t.Errorf("READ acquires = %v, want 3", got)
	}
	if got := testutil.ToFloat64(c.lockAcquires.WithLabelValues("write")); got != 1 {
		t.Errorf("WRITE acquires = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(c.lockWait); got != 2 {
		t.Errorf("wait histograms = %d, want 2", got)
	}
}

func TestCollector_Deadlock(t *testing.T) {
	t.Parallel()

	c := New()
	m := lock.NewManager(lock.WithObserver(c))
	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Error("expected a deadlock panic")
			}
		}()
		_ = m.Do(context.Background(), lock.ModeRead, func(ctx context.Context) error {
			// A plain reader asking for WRITE waits on itself.
			_, err := m.Acquire(ctx, lock.ModeWrite)
			return err
		})
	}()
	if got := testutil.ToFloat64(c.deadlocks); got != 1 {
		t.Errorf("deadlocks = %v, want 1", got)
	}
}

func TestCollector_EventsAndLifecycle(t *testing.T) {
	t.Parallel()

	c := New()
	c.ObserveDelivery("order.placed", false)
	c.ObserveDelivery("order.placed", true)
	c.ObserveDelivery("order.placed", false)
	c.ObserveScan(20*time.Millisecond, true)
	c.ObserveScan(time.Millisecond, false)
	id := addon.MustParseID("app@1.0.0")
	c.ObserveTransition(id, registry.StatusStarting)
	c.ObserveTransition(id, registry.StatusStarted)

	if got := testutil.ToFloat64(c.deliveries.WithLabelValues("order.placed", "ok")); got != 2 {
		t.Errorf("ok deliveries = %v", got)
	}
	if got := testutil.ToFloat64(c.deliveries.WithLabelValues("order.placed", "failed")); got != 1 {
		t.Errorf("failed deliveries = %v", got)
	}
	if got := testutil.ToFloat64(c.scans.WithLabelValues("true")); got != 1 {
		t.Errorf("applied scans = %v", got)
	}
	if got := testutil.ToFloat64(c.transitions.WithLabelValues(registry.StatusStarted.String())); got != 1 {
		t.Errorf("started transitions = %v", got)
	}
}

func TestCollector_TrackModules(t *testing.T) {
	t.Parallel()

	c := New()
	reg := registry.New(lock.NewManager())
	if err := c.TrackModules(reg); err != nil {
		t.Fatalf("TrackModules: %v", err)
	}
	err := reg.Locks().Do(context.Background(), lock.ModeWrite, func(ctx context.Context) error {
		for _, id := range []string{"a@1.0.0", "b@1.0.0"} {
			m := registry.NewModule(&addon.Descriptor{ID: addon.MustParseID(id)})
			if err := reg.Register(ctx, m); err != nil {
				return err
			}
			if err := reg.SetStatus(ctx, m, registry.StatusStarting); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	text := string(body)
	want := `furnace_modules{status="` + registry.StatusStarting.String() + `"} 2`
	if !strings.Contains(text, want) {
		t.Errorf("exposition lacks %q", want)
	}
	if !strings.Contains(text, "go_goroutines") {
		t.Error("exposition lacks the Go collector")
	}
}
