// SPDX-License-Identifier: MPL-2.0

// Package config loads furnace configuration using Viper with CUE as the
// file format.
//
// Values come from, in increasing precedence: built-in defaults, a
// furnace.cue file validated against the embedded #Config schema, and
// FURNACE_* environment variables (FURNACE_LOG_LEVEL for log.level).
// Relative paths in a config file are resolved against the file's
// directory.
package config
