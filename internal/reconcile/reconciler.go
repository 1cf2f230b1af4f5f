// SPDX-License-Identifier: MPL-2.0

package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/furnace-run/furnace/pkg/addon"
)

// AddonSuffix marks directories that hold an addon inside a location.
const AddonSuffix = ".addon"

// ErrStaleDelta is returned by Commit for a Delta planned against an
// inventory that another commit has replaced.
var ErrStaleDelta = errors.New("delta was planned against a replaced inventory")

type (
	// Delta is the difference between storage and the previous inventory.
	Delta struct {
		Added   []*addon.Descriptor
		Removed []Record
		Changed []*addon.Descriptor
		// Current is every valid addon found by this scan, in ID order.
		Current []*addon.Descriptor
		// Diagnostics lists addons that were skipped and why.
		Diagnostics []Diagnostic

		base *State
	}

	// Option configures a Reconciler.
	Option func(*Reconciler)

	// Reconciler scans storage locations and tracks the recorded inventory.
	Reconciler struct {
		scanMu    sync.Mutex
		mu        sync.Mutex
		statePath string
		state     *State
		logger    *log.Logger
	}
)

// Empty reports whether nothing was added, removed or changed.
func (d *Delta) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// IsChanged reports whether id is in the Changed set.
func (d *Delta) IsChanged(id addon.ID) bool {
	return slices.ContainsFunc(d.Changed, func(c *addon.Descriptor) bool { return c.ID == id })
}

// IsRemoved reports whether id is in the Removed set.
func (d *Delta) IsRemoved(id addon.ID) bool {
	return slices.ContainsFunc(d.Removed, func(r Record) bool { return r.ID() == id })
}

// WithLogger sets the logger for scan progress.
func WithLogger(l *log.Logger) Option {
	return func(r *Reconciler) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates a Reconciler backed by the state file at statePath. An empty
// statePath keeps the inventory in memory only.
func New(statePath string, opts ...Option) (*Reconciler, error) {
	r := &Reconciler{
		statePath: statePath,
		state:     &State{Format: StateFormatVersion},
		logger:    log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(r)
	}
	if statePath != "" {
		s, err := LoadState(statePath)
		if err != nil {
			return nil, err
		}
		r.state = s
	}
	return r, nil
}

// Inventory returns a copy of the recorded inventory.
func (r *Reconciler) Inventory() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.state.Addons)
}

// Scan discovers the addons under locations, compares them against the
// recorded inventory, records the new inventory and returns the difference.
// Scanning unchanged storage twice yields an empty Delta the second time.
// Scan calls are serialized with each other.
func (r *Reconciler) Scan(ctx context.Context, locations []string) (*Delta, error) {
	r.scanMu.Lock()
	defer r.scanMu.Unlock()

	delta, err := r.Plan(ctx, locations)
	if err != nil {
		return nil, err
	}
	if err := r.Commit(delta); err != nil {
		return nil, err
	}
	return delta, nil
}

// Plan discovers the addons under locations and returns their difference
// from the recorded inventory without recording anything. Until the Delta
// is passed to Commit, later plans keep reporting the same changes.
func (r *Reconciler) Plan(ctx context.Context, locations []string) (*Delta, error) {
	found, diagnostics, err := Discover(ctx, locations)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	base := r.state
	r.mu.Unlock()

	previous := base.index()
	delta := &Delta{Current: found, Diagnostics: diagnostics, base: base}
	seen := make(map[addon.ID]bool, len(found))
	for _, d := range found {
		seen[d.ID] = true
		old, existed := previous[d.ID]
		switch {
		case !existed:
			delta.Added = append(delta.Added, d)
		case old.Fingerprint != d.Fingerprint || old.Location != d.Location:
			delta.Changed = append(delta.Changed, d)
		}
	}
	for _, old := range base.Addons {
		if !seen[old.ID()] {
			delta.Removed = append(delta.Removed, old)
		}
	}
	slices.SortFunc(delta.Removed, func(a, b Record) int { return a.ID().Compare(b.ID()) })

	r.logger.Debug("scan planned",
		"found", len(found), "added", len(delta.Added), "removed", len(delta.Removed),
		"changed", len(delta.Changed), "diagnostics", len(diagnostics))
	return delta, nil
}

// Commit records delta's inventory, persisting it when anything changed.
// A Delta planned against an inventory that has since been replaced returns
// ErrStaleDelta and records nothing.
func (r *Reconciler) Commit(delta *Delta) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if delta.base != r.state {
		return ErrStaleDelta
	}
	next := &State{Format: StateFormatVersion, Addons: make([]Record, 0, len(delta.Current))}
	for _, d := range delta.Current {
		next.Addons = append(next.Addons, recordOf(d))
	}
	if r.statePath != "" && !delta.Empty() {
		if err := next.Save(r.statePath); err != nil {
			return err
		}
	}
	r.state = next
	return nil
}

// Discover reads the addons under locations without consulting or updating
// any inventory. A location is either an addon directory itself or a
// directory whose *.addon children are addons. Missing locations are skipped.
// When two addons share an ID the first one found wins.
func Discover(ctx context.Context, locations []string) ([]*addon.Descriptor, []Diagnostic, error) {
	var (
		found       []*addon.Descriptor
		diagnostics []Diagnostic
		byID        = make(map[addon.ID]string)
	)

	add := func(dir string) {
		d, diag := load(dir)
		if diag != nil {
			diagnostics = append(diagnostics, *diag)
			return
		}
		if first, dup := byID[d.ID]; dup {
			diagnostics = append(diagnostics, Diagnostic{
				Severity: SeverityWarning,
				Code:     CodeIDCollision,
				Message:  fmt.Sprintf("addon %s is already provided by %s, skipping", d.ID, first),
				Path:     dir,
			})
			return
		}
		byID[d.ID] = dir
		found = append(found, d)
	}

	for _, loc := range locations {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		abs, err := filepath.Abs(loc)
		if err != nil {
			diagnostics = append(diagnostics, Diagnostic{
				Severity: SeverityWarning,
				Code:     CodeLocationInvalid,
				Message:  fmt.Sprintf("failed to resolve location %q: %v", loc, err),
				Path:     loc,
				Cause:    err,
			})
			continue
		}
		if _, err := os.Stat(abs); errors.Is(err, os.ErrNotExist) {
			continue
		}

		if IsAddon(abs) {
			add(abs)
			continue
		}

		entries, err := os.ReadDir(abs)
		if err != nil {
			diagnostics = append(diagnostics, Diagnostic{
				Severity: SeverityError,
				Code:     CodeLocationUnreadable,
				Message:  fmt.Sprintf("failed to list location: %v", err),
				Path:     abs,
				Cause:    err,
			})
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() || !strings.HasSuffix(entry.Name(), AddonSuffix) {
				continue
			}
			add(filepath.Join(abs, entry.Name()))
		}
	}

	slices.SortFunc(found, func(a, b *addon.Descriptor) int { return a.ID.Compare(b.ID) })
	return found, diagnostics, nil
}

// IsAddon reports whether dir contains an addon descriptor.
func IsAddon(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, addon.DescriptorFile))
	return err == nil && info.Mode().IsRegular()
}

func load(dir string) (*addon.Descriptor, *Diagnostic) {
	d, err := addon.ParseDescriptor(dir)
	if err != nil {
		return nil, &Diagnostic{
			Severity: SeverityWarning,
			Code:     CodeDescriptorInvalid,
			Message:  fmt.Sprintf("skipping invalid addon: %v", err),
			Path:     dir,
			Cause:    err,
		}
	}
	fp, err := Fingerprint(dir)
	if err != nil {
		return nil, &Diagnostic{
			Severity: SeverityWarning,
			Code:     CodeFingerprintFailed,
			Message:  fmt.Sprintf("skipping addon that could not be hashed: %v", err),
			Path:     dir,
			Cause:    err,
		}
	}
	d.Fingerprint = fp
	return d, nil
}
