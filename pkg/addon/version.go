// SPDX-License-Identifier: MPL-2.0

package addon

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/mod/semver"
)

// ErrInvalidRange is the sentinel error wrapped by InvalidRangeError.
var ErrInvalidRange = errors.New("invalid version range")

// constraintPattern matches one term of a range: an optional operator
// followed by a full or partial version.
var constraintPattern = regexp.MustCompile(`^(\^|~|>=|<=|>|<|=)?v?(\d+(?:\.\d+){0,2}(?:-[0-9A-Za-z.-]+)?)$`)

type (
	// Range is a set of versions, written as space-separated terms that must
	// all hold:
	//
	//	""  or "*"        any version
	//	"1.2.3"           exactly 1.2.3 (also "=1.2.3")
	//	">=1.2 <2"        comparison operators >, >=, <, <=
	//	"^1.2.3"          >=1.2.3 with the same left-most non-zero component
	//	"~1.2.3"          >=1.2.3 with the same major and minor
	Range struct {
		raw   string
		terms []term
	}

	term struct {
		op      string
		version string // canonical "vX.Y.Z[-pre]"
		major   string
		minor   string // "vX.Y"
	}

	// InvalidRangeError is returned when a range expression cannot be parsed.
	InvalidRangeError struct {
		Value  string
		Reason string
	}
)

// Error implements the error interface.
func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid version range %q: %s", e.Value, e.Reason)
}

// Unwrap returns ErrInvalidRange so callers can use errors.Is for programmatic detection.
func (e *InvalidRangeError) Unwrap() error { return ErrInvalidRange }

// AnyVersion is the range that allows every version.
var AnyVersion = Range{}

// ParseRange parses a range expression.
func ParseRange(s string) (Range, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return Range{raw: s}, nil
	}

	r := Range{raw: s}
	for _, field := range strings.Fields(s) {
		m := constraintPattern.FindStringSubmatch(field)
		if m == nil {
			return Range{}, &InvalidRangeError{Value: s, Reason: fmt.Sprintf("bad term %q", field)}
		}
		op := m[1]
		if op == "" {
			op = "="
		}
		v := semver.Canonical("v" + m[2])
		if v == "" {
			return Range{}, &InvalidRangeError{Value: s, Reason: fmt.Sprintf("bad version %q", m[2])}
		}
		r.terms = append(r.terms, term{
			op:      op,
			version: v,
			major:   semver.Major(v),
			minor:   semver.MajorMinor(v),
		})
	}
	return r, nil
}

// MustParseRange is ParseRange for literals known to be valid.
func MustParseRange(s string) Range {
	r, err := ParseRange(s)
	if err != nil {
		panic(err)
	}
	return r
}

// Allows reports whether version satisfies every term of the range.
// Invalid versions are never allowed.
func (r Range) Allows(version string) bool {
	v := canonical(version)
	if !semver.IsValid(v) {
		return false
	}
	for _, t := range r.terms {
		if !t.allows(v) {
			return false
		}
	}
	return true
}

// IsAny reports whether the range allows every version.
func (r Range) IsAny() bool {
	return len(r.terms) == 0
}

// String returns the range as written, or "*" for AnyVersion.
func (r Range) String() string {
	if r.raw == "" {
		return "*"
	}
	return r.raw
}

func (t term) allows(v string) bool {
	c := semver.Compare(v, t.version)
	switch t.op {
	case "=":
		return c == 0
	case ">":
		return c > 0
	case ">=":
		return c >= 0
	case "<":
		return c < 0
	case "<=":
		return c <= 0
	case "~":
		return c >= 0 && semver.MajorMinor(v) == t.minor
	case "^":
		if c < 0 {
			return false
		}
		switch {
		case t.major != "v0":
			return semver.Major(v) == t.major
		case t.minor != "v0.0":
			return semver.MajorMinor(v) == t.minor
		default:
			return semver.Canonical(v) == t.version
		}
	default:
		return false
	}
}
