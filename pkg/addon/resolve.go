// SPDX-License-Identifier: MPL-2.0

package addon

import (
	"slices"

	"github.com/furnace-run/furnace/internal/dag"
)

// Resolution is the outcome of resolving a set of descriptors.
type Resolution struct {
	// Order lists every addon that can start, dependencies first. Ties are
	// broken by ID order.
	Order []ID
	// Failed maps each addon that must not start to the reason.
	Failed map[ID]error
	// Optional maps each addon to the bindings of its optional dependencies,
	// keyed by dependency name.
	Optional map[ID]map[string]OptionalBinding
	// Required maps each addon to the addons its required dependencies
	// resolved to, in declaration order.
	Required map[ID][]ID
	// Duplicates holds descriptors dropped because an earlier descriptor
	// had the same ID.
	Duplicates []*Descriptor

	descriptors map[ID]*Descriptor
	dependents  map[ID][]ID
}

// Resolve orders descriptors along their required dependencies. Each
// dependency binds to the highest available version in its range, chosen
// before any failure is known: when that version fails, its dependents fail
// with it even if a lower version in range could start. Failures are scoped
// to the addons they affect. A missing or failed required dependency fails
// its dependents transitively, a required cycle fails every member, and
// unrelated addons resolve normally.
func Resolve(descriptors []*Descriptor) *Resolution {
	res := &Resolution{
		Failed:      make(map[ID]error),
		Optional:    make(map[ID]map[string]OptionalBinding),
		Required:    make(map[ID][]ID),
		descriptors: make(map[ID]*Descriptor, len(descriptors)),
		dependents:  make(map[ID][]ID),
	}

	ids := make([]ID, 0, len(descriptors))
	for _, d := range descriptors {
		if _, dup := res.descriptors[d.ID]; dup {
			res.Duplicates = append(res.Duplicates, d)
			continue
		}
		res.descriptors[d.ID] = d
		ids = append(ids, d.ID)
	}
	slices.SortFunc(ids, CompareIDs)

	// Highest version first per name.
	byName := make(map[string][]ID)
	for _, id := range ids {
		byName[id.Name] = append(byName[id.Name], id)
	}
	for _, versions := range byName {
		slices.Reverse(versions)
	}

	keys := make(map[string]ID, len(ids))
	for _, id := range ids {
		keys[id.String()] = id
	}
	g := dag.NewOrdered(func(a, b string) int { return keys[a].Compare(keys[b]) })

	for _, id := range ids {
		g.AddNode(id.String())
		d := res.descriptors[id]
		if err := d.Validate(); err != nil {
			res.Failed[id] = err
			continue
		}
		for _, dep := range d.Requires {
			rng, _ := dep.Range()
			target, found := pick(byName[dep.Name], rng)
			if dep.Optional {
				if res.Optional[id] == nil {
					res.Optional[id] = make(map[string]OptionalBinding)
				}
				b := OptionalBinding{Dependency: dep.Name}
				if found {
					b.State = Present
					b.Target = target
				}
				res.Optional[id][dep.Name] = b
				continue
			}
			if !found {
				if _, failed := res.Failed[id]; !failed {
					res.Failed[id] = &MissingDependencyError{Addon: id, Dependency: dep.Name, Range: rng.String()}
				}
				continue
			}
			res.Required[id] = append(res.Required[id], target)
			res.dependents[target] = append(res.dependents[target], id)
			g.AddEdge(target.String(), id.String())
		}
	}

	for _, cycle := range g.Cycles() {
		members := make([]ID, len(cycle))
		for i, key := range cycle {
			members[i] = keys[key]
		}
		slices.SortFunc(members, CompareIDs)
		for _, id := range members {
			if _, failed := res.Failed[id]; !failed {
				res.Failed[id] = &CycleError{Addon: id, Cycle: members}
			}
		}
	}

	order, blocked := g.PartialSort()
	for _, key := range order {
		id := keys[key]
		if _, failed := res.Failed[id]; failed {
			continue
		}
		if err := res.failedDependency(id); err != nil {
			res.Failed[id] = err
			continue
		}
		res.Order = append(res.Order, id)
	}

	// Nodes downstream of a cycle: propagate until every one has a failed
	// dependency recorded.
	for changed := true; changed; {
		changed = false
		for _, key := range blocked {
			id := keys[key]
			if _, failed := res.Failed[id]; failed {
				continue
			}
			if err := res.failedDependency(id); err != nil {
				res.Failed[id] = err
				changed = true
			}
		}
	}

	return res
}

// pick returns the first (highest) version allowed by rng.
func pick(versions []ID, rng Range) (ID, bool) {
	for _, id := range versions {
		if rng.Allows(id.Version) {
			return id, true
		}
	}
	return ID{}, false
}

func (r *Resolution) failedDependency(id ID) error {
	for _, target := range r.Required[id] {
		if cause, failed := r.Failed[target]; failed {
			return &DependencyFailedError{Addon: id, Dependency: target, Cause: cause}
		}
	}
	return nil
}

// Descriptor returns the descriptor resolved under id.
func (r *Resolution) Descriptor(id ID) (*Descriptor, bool) {
	d, ok := r.descriptors[id]
	return d, ok
}

// Descriptors returns every resolved descriptor in ID order.
func (r *Resolution) Descriptors() []*Descriptor {
	out := make([]*Descriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b *Descriptor) int { return a.ID.Compare(b.ID) })
	return out
}

// CanStart reports whether id resolved without failure.
func (r *Resolution) CanStart(id ID) bool {
	if _, ok := r.descriptors[id]; !ok {
		return false
	}
	_, failed := r.Failed[id]
	return !failed
}

// Dependents returns the addons whose required dependencies resolved to id,
// in ID order.
func (r *Resolution) Dependents(id ID) []ID {
	out := slices.Clone(r.dependents[id])
	slices.SortFunc(out, CompareIDs)
	return out
}

// Binding returns the optional binding of dependency name for id.
func (r *Resolution) Binding(id ID, name string) (OptionalBinding, bool) {
	b, ok := r.Optional[id][name]
	return b, ok
}
