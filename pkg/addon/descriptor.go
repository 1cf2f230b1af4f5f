// SPDX-License-Identifier: MPL-2.0

package addon

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/furnace-run/furnace/pkg/cueutil"
)

const (
	// DescriptorFile is the descriptor filename inside an addon directory.
	DescriptorFile = "addon.cue"
	// MaxDescriptorSize bounds the size of an addon.cue.
	MaxDescriptorSize int64 = 256 * 1024
)

// ErrDescriptorNotFound is returned when a directory has no addon.cue.
var ErrDescriptorNotFound = errors.New("addon.cue not found")

//go:embed addon_schema.cue
var descriptorSchemaSource string

var descriptorSchema = cueutil.MustCompile(descriptorSchemaSource, "#Addon",
	cueutil.WithMaxFileSize(MaxDescriptorSize))

type (
	// Dependency is one entry of a descriptor's requires list.
	Dependency struct {
		Name     string `json:"name"`
		Version  string `json:"version,omitempty"`
		Optional bool   `json:"optional"`
		Exported bool   `json:"exported"`
	}

	// Contract is a capability contract declared by an addon. Methods are
	// informational; dispatch goes through the contract's adapter.
	Contract struct {
		Name    string   `json:"name"`
		Methods []string `json:"methods,omitempty"`
	}

	// Descriptor is the parsed form of addon.cue plus where it was found.
	Descriptor struct {
		ID          ID
		Description string
		Requires    []Dependency
		Exports     []string
		Contracts   []Contract
		Libraries   []string
		Entry       string
		Observes    []string

		// Location is the addon directory.
		Location string
		// Fingerprint is the content hash assigned by the reconciler.
		Fingerprint string
	}

	// descriptorDoc mirrors the #Addon schema for decoding.
	descriptorDoc struct {
		Name        string       `json:"name"`
		Version     string       `json:"version"`
		Description string       `json:"description,omitempty"`
		Requires    []Dependency `json:"requires,omitempty"`
		Exports     []string     `json:"exports,omitempty"`
		Contracts   []Contract   `json:"contracts,omitempty"`
		Libraries   []string     `json:"libraries,omitempty"`
		Entry       string       `json:"entry,omitempty"`
		Observes    []string     `json:"observes,omitempty"`
	}
)

// Range parses the dependency's version range.
func (d Dependency) Range() (Range, error) {
	return ParseRange(d.Version)
}

// ParseDescriptor reads and parses the addon.cue inside dir.
func ParseDescriptor(dir string) (*Descriptor, error) {
	path := filepath.Join(dir, DescriptorFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", dir, ErrDescriptorNotFound)
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return ParseDescriptorBytes(data, path)
}

// ParseDescriptorBytes parses addon.cue content. path is used for error
// messages and its directory becomes the descriptor's Location.
func ParseDescriptorBytes(data []byte, path string) (*Descriptor, error) {
	if path == "" {
		path = DescriptorFile
	}
	doc, err := cueutil.Decode[descriptorDoc](descriptorSchema, data, path)
	if err != nil {
		return nil, err
	}

	id, err := NewID(doc.Name, doc.Version)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	d := &Descriptor{
		ID:          id,
		Description: doc.Description,
		Requires:    doc.Requires,
		Exports:     doc.Exports,
		Contracts:   doc.Contracts,
		Libraries:   doc.Libraries,
		Entry:       doc.Entry,
		Observes:    doc.Observes,
		Location:    filepath.Dir(path),
	}
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

// Validate checks the rules the schema cannot express: parsable ranges,
// no duplicate dependency names, no self dependency, and exports naming
// declared contracts.
func (d *Descriptor) Validate() error {
	if err := d.ID.Validate(); err != nil {
		return err
	}

	seen := make(map[string]bool, len(d.Requires))
	var errs []error
	for i, dep := range d.Requires {
		if dep.Name == d.ID.Name {
			errs = append(errs, fmt.Errorf("requires[%d]: addon %q cannot depend on itself", i, dep.Name))
		}
		if seen[dep.Name] {
			errs = append(errs, fmt.Errorf("requires[%d]: duplicate dependency %q", i, dep.Name))
		}
		seen[dep.Name] = true

		if _, err := dep.Range(); err != nil {
			errs = append(errs, fmt.Errorf("requires[%d]: %w", i, err))
		}
	}

	if len(d.Contracts) > 0 {
		for i, name := range d.Exports {
			if !slices.ContainsFunc(d.Contracts, func(c Contract) bool { return c.Name == name }) {
				errs = append(errs, fmt.Errorf("exports[%d]: contract %q is not declared in contracts", i, name))
			}
		}
	}
	return errors.Join(errs...)
}

// Dependency returns the declared dependency with the given name.
func (d *Descriptor) Dependency(name string) (Dependency, bool) {
	for _, dep := range d.Requires {
		if dep.Name == name {
			return dep, true
		}
	}
	return Dependency{}, false
}

// ExportsContract reports whether the addon publishes contract.
func (d *Descriptor) ExportsContract(contract string) bool {
	return slices.Contains(d.Exports, contract)
}

// ObservesEvent reports whether the addon observes events of the given type.
// "*" observes every type.
func (d *Descriptor) ObservesEvent(eventType string) bool {
	return slices.Contains(d.Observes, eventType) || slices.Contains(d.Observes, "*")
}
