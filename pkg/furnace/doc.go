// SPDX-License-Identifier: MPL-2.0

// Package furnace embeds a modular container in a host process.
//
// A Container owns a lifecycle controller for its storage locations and,
// depending on configuration, a file watcher that rescans on change and an
// HTTP listener exposing Prometheus metrics and health checks. A Container
// is single-use: once stopped or failed, create a new one.
package furnace
