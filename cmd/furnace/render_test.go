// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/furnace-run/furnace/internal/issue"
	"github.com/furnace-run/furnace/pkg/addon"
)

func descriptor(id string, requires ...addon.Dependency) *addon.Descriptor {
	return &addon.Descriptor{ID: addon.MustParseID(id), Requires: requires, Location: "/" + id}
}

func TestPrintResolution(t *testing.T) {
	t.Parallel()

	res := addon.Resolve([]*addon.Descriptor{
		descriptor("app@1.0.0", addon.Dependency{Name: "base"}, addon.Dependency{Name: "cache", Optional: true}),
		descriptor("base@1.0.0"),
		descriptor("orphan@1.0.0", addon.Dependency{Name: "missing"}),
	})

	var buf bytes.Buffer
	printResolution(&buf, res)
	out := buf.String()

	for _, want := range []string{
		"1. base@1.0.0",
		"2. app@1.0.0 <- base@1.0.0",
		"optional cache: absent",
		"Unresolved",
		"orphan@1.0.0",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestFormatError(t *testing.T) {
	t.Parallel()

	plain := errors.New("plain failure")
	if got := formatError(plain, false); got != "plain failure" {
		t.Errorf("formatError(plain) = %q", got)
	}

	actionable := issue.NewErrorContext().
		WithOperation("scan storage").
		WithResource("./addons").
		WithSuggestion("check the path").
		Wrap(plain).
		BuildError()
	got := formatError(actionable, false)
	if !strings.Contains(got, "scan storage") || !strings.Contains(got, "check the path") {
		t.Errorf("formatError(actionable) = %q", got)
	}

	missing := &addon.MissingDependencyError{Addon: addon.MustParseID("app@1.0.0"), Dependency: "base"}
	if got := formatError(missing, false); !strings.Contains(got, issue.Get(issue.DependencyMissingID).Title()) {
		t.Errorf("formatError(missing) lacks catalog title: %q", got)
	}
}

func TestExitError(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	err := &ExitError{Code: 3, Err: cause}
	if !errors.Is(err, cause) || err.Error() != "boom" {
		t.Errorf("ExitError wraps incorrectly: %v", err)
	}
	if (&ExitError{Code: 2}).Error() != "exit status 2" {
		t.Error("bare ExitError message")
	}
}
