// SPDX-License-Identifier: MPL-2.0

package addon

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/mod/semver"
)

// ErrInvalidID is the sentinel error wrapped by InvalidIDError.
var ErrInvalidID = errors.New("invalid addon id")

// namePattern allows lowercase names with dots, dashes and underscores,
// e.g. "billing", "io.furnace.http-client".
var namePattern = regexp.MustCompile(`^[a-z][a-z0-9]*([._-][a-z0-9]+)*$`)

type (
	// ID identifies an addon by name and semantic version. IDs are
	// comparable and usable as map keys.
	ID struct {
		Name    string
		Version string
	}

	// InvalidIDError is returned when a name or version does not form a valid ID.
	InvalidIDError struct {
		Value  string
		Reason string
	}
)

// Error implements the error interface.
func (e *InvalidIDError) Error() string {
	return fmt.Sprintf("invalid addon id %q: %s", e.Value, e.Reason)
}

// Unwrap returns ErrInvalidID so callers can use errors.Is for programmatic detection.
func (e *InvalidIDError) Unwrap() error { return ErrInvalidID }

// NewID validates name and version and returns the ID. A leading "v" on the
// version is accepted and dropped.
func NewID(name, version string) (ID, error) {
	id := ID{Name: name, Version: strings.TrimPrefix(version, "v")}
	if err := id.Validate(); err != nil {
		return ID{}, err
	}
	return id, nil
}

// ParseID parses the "name@version" form produced by ID.String.
func ParseID(s string) (ID, error) {
	name, version, ok := strings.Cut(s, "@")
	if !ok {
		return ID{}, &InvalidIDError{Value: s, Reason: "expected name@version"}
	}
	return NewID(name, version)
}

// MustParseID is ParseID for literals known to be valid.
func MustParseID(s string) ID {
	id, err := ParseID(s)
	if err != nil {
		panic(err)
	}
	return id
}

// Validate reports whether the name and version are well formed.
func (id ID) Validate() error {
	if !namePattern.MatchString(id.Name) {
		return &InvalidIDError{Value: id.String(), Reason: "name must be lowercase alphanumerics separated by '.', '-' or '_'"}
	}
	if !isVersion(id.Version) {
		return &InvalidIDError{Value: id.String(), Reason: "version must be a full semantic version (MAJOR.MINOR.PATCH)"}
	}
	return nil
}

// String returns "name@version".
func (id ID) String() string {
	return id.Name + "@" + id.Version
}

// IsZero reports whether id is the zero ID.
func (id ID) IsZero() bool {
	return id == ID{}
}

// Compare orders IDs by name, then by semantic version.
func (id ID) Compare(other ID) int {
	if c := strings.Compare(id.Name, other.Name); c != 0 {
		return c
	}
	return semver.Compare(canonical(id.Version), canonical(other.Version))
}

// Less reports whether id sorts before other.
func (id ID) Less(other ID) bool {
	return id.Compare(other) < 0
}

// CompareIDs is ID.Compare as a function value for slices.SortFunc.
func CompareIDs(a, b ID) int {
	return a.Compare(b)
}

// canonical converts "1.2.3" to the "v1.2.3" form x/mod/semver expects.
func canonical(v string) string {
	return "v" + strings.TrimPrefix(v, "v")
}

// isVersion requires all three numeric components; semver.IsValid alone
// accepts shorthands like "v1".
func isVersion(v string) bool {
	if v == "" || strings.HasPrefix(v, "v") {
		return false
	}
	core, _, _ := strings.Cut(v, "+")
	core, _, _ = strings.Cut(core, "-")
	return strings.Count(core, ".") == 2 && semver.IsValid(canonical(v))
}
