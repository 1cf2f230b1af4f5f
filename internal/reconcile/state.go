// SPDX-License-Identifier: MPL-2.0

package reconcile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/pelletier/go-toml/v2"

	"github.com/furnace-run/furnace/pkg/addon"
)

// StateFormatVersion is the current state file format.
const StateFormatVersion = 1

// ErrUnsupportedState is returned when the state file has a newer format.
var ErrUnsupportedState = errors.New("unsupported state file format")

type (
	// Record is the persisted entry for one addon.
	Record struct {
		Name        string `toml:"name"`
		Version     string `toml:"version"`
		Fingerprint string `toml:"fingerprint"`
		Location    string `toml:"location"`
	}

	// State is the inventory recorded by the last scan.
	State struct {
		Format int      `toml:"format"`
		Addons []Record `toml:"addon"`
	}
)

// ID returns the record's addon ID.
func (r Record) ID() addon.ID {
	return addon.ID{Name: r.Name, Version: r.Version}
}

func recordOf(d *addon.Descriptor) Record {
	return Record{
		Name:        d.ID.Name,
		Version:     d.ID.Version,
		Fingerprint: d.Fingerprint,
		Location:    d.Location,
	}
}

// LoadState reads the state file at path. A missing file is an empty state.
func LoadState(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &State{Format: StateFormatVersion}, nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var s State
	if err := toml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse state file %s: %w", path, err)
	}
	if s.Format > StateFormatVersion {
		return nil, fmt.Errorf("%s: format %d: %w", path, s.Format, ErrUnsupportedState)
	}
	s.Format = StateFormatVersion
	return &s, nil
}

// Save writes the state to path atomically, sorted by addon ID.
func (s *State) Save(path string) error {
	slices.SortFunc(s.Addons, func(a, b Record) int { return a.ID().Compare(b.ID()) })
	s.Format = StateFormatVersion

	data, err := toml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename state file: %w", err)
	}
	return nil
}

// index maps the state's records by ID.
func (s *State) index() map[addon.ID]Record {
	out := make(map[addon.ID]Record, len(s.Addons))
	for _, r := range s.Addons {
		out[r.ID()] = r
	}
	return out
}
