// SPDX-License-Identifier: MPL-2.0

// Package registry holds the container's live modules.
//
// The registry is guarded by the container's lock manager rather than a
// mutex of its own: reads take a READ lock, and every mutation (Register,
// Deregister, status transitions) panics with a lock.DisciplineError unless
// the caller already holds WRITE. A reader therefore never observes a module
// mid-transition.
package registry
