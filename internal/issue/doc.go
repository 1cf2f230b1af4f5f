// SPDX-License-Identifier: MPL-2.0

// Package issue turns container errors into user-facing messages.
//
// ActionableError carries the failed operation, the resource involved and
// remediation hints. Classify maps the container's typed errors onto a
// catalog of known issues so the CLI can print the same hints wherever a
// failure surfaces.
package issue
