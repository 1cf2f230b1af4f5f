// SPDX-License-Identifier: MPL-2.0

// Package cueutil provides shared CUE parsing utilities.
//
// Addon descriptors and the container configuration follow the same flow:
//
//  1. Compile the embedded schema
//  2. Compile user data and unify it with the schema's root definition
//  3. Validate and decode into a Go struct
//
// Errors are reported with JSON-path prefixes ("requires[1].name: ...") so a
// broken descriptor points at the offending field.
package cueutil
