// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/furnace-run/furnace/internal/lifecycle"
	"github.com/furnace-run/furnace/internal/lock"
	"github.com/furnace-run/furnace/internal/reconcile"
	"github.com/furnace-run/furnace/pkg/addon"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	app := addon.MustParseID("app@1.0.0")
	db := addon.MustParseID("db@1.0.0")
	missing := &addon.MissingDependencyError{Addon: db, Dependency: "storage", Range: "*"}

	tests := []struct {
		name string
		err  error
		want ID
	}{
		{name: "missing dependency", err: missing, want: DependencyMissingID},
		{name: "dependency failed wrapping missing", err: &addon.DependencyFailedError{Addon: app, Dependency: db, Cause: missing}, want: DependencyFailedID},
		{name: "cycle", err: &addon.CycleError{Addon: app, Cycle: []addon.ID{app, db}}, want: DependencyCycleID},
		{name: "start error", err: &lifecycle.StartError{Addon: app, Err: errors.New("boom")}, want: StartFailedID},
		{name: "resolution", err: &lifecycle.ResolutionError{Addon: app, Failures: []error{errors.New("gone")}}, want: ResolutionFailedID},
		{name: "wrapped lock timeout", err: fmt.Errorf("scan: %w", &lock.TimeoutError{Owner: "x", Mode: lock.ModeWrite, Cause: errors.New("deadline")}), want: LockTimeoutID},
		{name: "state", err: fmt.Errorf("load: %w", reconcile.ErrUnsupportedState), want: StateUnsupportedID},
		{name: "closed", err: lifecycle.ErrClosed, want: ControllerClosedID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := Classify(tt.err)
			if !ok {
				t.Fatalf("Classify(%v) found nothing", tt.err)
			}
			if got.ID() != tt.want {
				t.Errorf("Classify(%v) = %s, want %d", tt.err, got.Title(), tt.want)
			}
		})
	}

	if _, ok := Classify(errors.New("plain")); ok {
		t.Error("plain errors should not classify")
	}
	if _, ok := Classify(nil); ok {
		t.Error("nil should not classify")
	}
}

func TestCatalog(t *testing.T) {
	t.Parallel()

	seen := make(map[ID]bool)
	values := Values()
	for i, is := range values {
		if seen[is.ID()] {
			t.Errorf("duplicate ID %d", is.ID())
		}
		seen[is.ID()] = true
		if i > 0 && values[i-1].ID() >= is.ID() {
			t.Errorf("Values not in ID order at %d", i)
		}
		if len(is.Hints()) == 0 {
			t.Errorf("%s has no hints", is.Title())
		}
		if Get(is.ID()) != is {
			t.Errorf("Get(%d) mismatch", is.ID())
		}
		if !strings.Contains(is.Render(), is.Title()) {
			t.Errorf("Render() of %d lacks the title", is.ID())
		}
	}
	if Get(ID(999)) != nil {
		t.Error("Get of an unknown ID should be nil")
	}
}

func TestActionableError_Error(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *ActionableError
		want string
	}{
		{name: "operation only", err: &ActionableError{Operation: "scan storage"}, want: "failed to scan storage"},
		{name: "with resource", err: &ActionableError{Operation: "scan storage", Resource: "/srv/addons"}, want: "failed to scan storage: /srv/addons"},
		{
			name: "full",
			err:  &ActionableError{Operation: "scan storage", Resource: "/srv/addons", Cause: errors.New("permission denied")},
			want: "failed to scan storage: /srv/addons: permission denied",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestActionableError_Format(t *testing.T) {
	t.Parallel()

	err := &ActionableError{
		Operation:   "start addon",
		Resource:    "app@1.0.0",
		Suggestions: []string{"Reload it"},
		Cause: &ActionableError{
			Operation: "resolve libraries",
			Cause:     errors.New("not found"),
		},
	}

	plain := err.Format(false)
	if !strings.Contains(plain, "• Reload it") || strings.Contains(plain, "Error chain:") {
		t.Errorf("unexpected non-verbose output:\n%s", plain)
	}
	verbose := err.Format(true)
	for _, want := range []string{"Error chain:", "1. failed to resolve libraries: not found", "2. not found"} {
		if !strings.Contains(verbose, want) {
			t.Errorf("verbose output missing %q:\n%s", want, verbose)
		}
	}
}

func TestErrorContext(t *testing.T) {
	t.Parallel()

	if NewErrorContext().WithResource("x").BuildError() != nil {
		t.Error("a context without operation should build nil")
	}

	cause := &addon.MissingDependencyError{Addon: addon.MustParseID("app@1.0.0"), Dependency: "db", Range: "*"}
	err := NewErrorContext().
		WithOperation("start addon").
		WithResource("app@1.0.0").
		WithSuggestion("Check the storage location").
		Wrap(cause).
		Build()
	if !errors.Is(err, addon.ErrMissingDependency) {
		t.Error("built error should unwrap to the cause")
	}
	want := append([]string{"Check the storage location"}, Get(DependencyMissingID).Hints()...)
	if len(err.Suggestions) != len(want) {
		t.Fatalf("suggestions = %v, want %v", err.Suggestions, want)
	}
	for i := range want {
		if err.Suggestions[i] != want[i] {
			t.Errorf("suggestion %d = %q, want %q", i, err.Suggestions[i], want[i])
		}
	}

	if WrapWithContext(nil, "op", "res") != nil {
		t.Error("WrapWithContext(nil) should be nil")
	}
}
