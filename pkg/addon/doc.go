// SPDX-License-Identifier: MPL-2.0

// Package addon defines addon identity, the addon.cue descriptor format and
// dependency resolution.
//
// An addon is identified by its name and semantic version. Its descriptor
// lists required and optional dependencies on other addons by name and
// version range, the capability contracts it exports, and the libraries an
// ArtifactResolver must supply before it can start.
//
// Resolve turns a set of descriptors into a start order over required edges,
// the addons that cannot start (and why), and the bindings of every optional
// dependency. Optional edges never take part in ordering or cycle detection.
package addon
