// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"errors"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/furnace-run/furnace/internal/lifecycle"
	"github.com/furnace-run/furnace/internal/lock"
	"github.com/furnace-run/furnace/internal/proxy"
	"github.com/furnace-run/furnace/internal/reconcile"
	"github.com/furnace-run/furnace/pkg/addon"
)

// ID identifies a catalog issue.
type ID int

const (
	DescriptorInvalidID ID = iota + 1
	DependencyMissingID
	DependencyFailedID
	DependencyCycleID
	StartFailedID
	ResolutionFailedID
	StateUnsupportedID
	LockTimeoutID
	ContractMismatchID
	ControllerClosedID
	ConfigLoadFailedID
)

// Issue is a known failure with remediation hints.
type Issue struct {
	id    ID
	title string
	hints []string
	// match reports whether err is an instance of the issue.
	match func(err error) bool
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	hintStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))

	catalog = []*Issue{
		{
			id:    DependencyFailedID,
			title: "A required dependency failed",
			hints: []string{"Fix the failing dependency; this addon is retried on the next scan"},
			match: func(err error) bool { return errors.Is(err, addon.ErrDependencyFailed) },
		},
		{
			id:    DescriptorInvalidID,
			title: "Invalid addon descriptor",
			hints: []string{
				"Check addon.cue against the descriptor schema (name, version, requires)",
				"Versions must be MAJOR.MINOR.PATCH, names lowercase",
			},
			match: func(err error) bool {
				return errors.Is(err, addon.ErrInvalidID) || errors.Is(err, addon.ErrInvalidRange)
			},
		},
		{
			id:    DependencyMissingID,
			title: "Required dependency not found",
			hints: []string{
				"Install an addon satisfying the range into a storage location",
				"Mark the dependency optional if the addon can run without it",
			},
			match: func(err error) bool { return errors.Is(err, addon.ErrMissingDependency) },
		},
		{
			id:    DependencyCycleID,
			title: "Required dependency cycle",
			hints: []string{
				"Break the cycle by making one of the edges optional",
				"Run 'furnace deps' to inspect the graph",
			},
			match: func(err error) bool { return errors.Is(err, addon.ErrDependencyCycle) },
		},
		{
			id:    ResolutionFailedID,
			title: "Addon libraries could not be resolved",
			hints: []string{
				"Check that every entry in 'libraries' exists inside the addon directory",
				"Reload the addon once the artifacts are available",
			},
			match: func(err error) bool { return errors.Is(err, lifecycle.ErrResolution) },
		},
		{
			id:    StartFailedID,
			title: "Addon failed to start",
			hints: []string{"Fix the addon and change its content, or reload it explicitly"},
			match: func(err error) bool {
				var se *lifecycle.StartError
				return errors.As(err, &se)
			},
		},
		{
			id:    StateUnsupportedID,
			title: "State record written by a newer furnace",
			hints: []string{"Upgrade furnace, or point state_file at a fresh path"},
			match: func(err error) bool { return errors.Is(err, reconcile.ErrUnsupportedState) },
		},
		{
			id:    LockTimeoutID,
			title: "Timed out waiting for the container lock",
			hints: []string{"Raise lock.wait_timeout, or look for a long-running addon Start/Stop"},
			match: func(err error) bool { return errors.Is(err, lock.ErrTimeout) },
		},
		{
			id:    ContractMismatchID,
			title: "Service contract mismatch",
			hints: []string{"Make consumer and provider agree on the contract name and methods"},
			match: func(err error) bool {
				return errors.Is(err, proxy.ErrContractMismatch) || errors.Is(err, proxy.ErrUnknownContract)
			},
		},
		{
			id:    ControllerClosedID,
			title: "Container is shut down",
			hints: []string{"Create a new container; a shut-down one cannot scan again"},
			match: func(err error) bool { return errors.Is(err, lifecycle.ErrClosed) },
		},
	}

	configLoadFailed = &Issue{
		id:    ConfigLoadFailedID,
		title: "Configuration could not be loaded",
		hints: []string{
			"Check that the file contains valid CUE matching the #Config schema",
			"Run 'furnace config show' to see the effective configuration",
		},
		match: func(error) bool { return false },
	}
)

// ID returns the issue's identifier.
func (i *Issue) ID() ID { return i.id }

// Title returns a one-line summary.
func (i *Issue) Title() string { return i.title }

// Hints returns the remediation hints.
func (i *Issue) Hints() []string { return slices.Clone(i.hints) }

// Render returns the title and hints styled for a terminal.
func (i *Issue) Render() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(i.title))
	for _, h := range i.hints {
		b.WriteString("\n")
		b.WriteString(hintStyle.Render("  • " + h))
	}
	return b.String()
}

// Get returns the issue registered under id, or nil.
func Get(id ID) *Issue {
	if id == ConfigLoadFailedID {
		return configLoadFailed
	}
	for _, i := range catalog {
		if i.id == id {
			return i
		}
	}
	return nil
}

// Values returns every catalog issue in ID order.
func Values() []*Issue {
	out := append(slices.Clone(catalog), configLoadFailed)
	slices.SortFunc(out, func(a, b *Issue) int { return int(a.id) - int(b.id) })
	return out
}

// Classify returns the first catalog issue err is an instance of. Wrapping
// failures come first in the catalog so a dependency failure is not
// reported as its cause.
func Classify(err error) (*Issue, bool) {
	if err == nil {
		return nil, false
	}
	for _, i := range catalog {
		if i.match(err) {
			return i, true
		}
	}
	return nil, false
}
