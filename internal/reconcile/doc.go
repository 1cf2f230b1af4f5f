// SPDX-License-Identifier: MPL-2.0

// Package reconcile compares the addons found in storage against the
// inventory recorded by the previous scan and reports the difference as a
// Delta. It never touches live modules; the lifecycle controller applies
// the Delta under the container's write lock.
//
// The inventory is kept in a TOML state file so deltas stay meaningful across
// process restarts. An addon is "changed" when its ID is unchanged but its
// content fingerprint differs; a version bump is a new ID and therefore shows
// up as one removal plus one addition.
package reconcile
