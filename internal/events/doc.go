// SPDX-License-Identifier: MPL-2.0

// Package events delivers events to started modules and hands out live
// references to the services modules export.
//
// Delivery holds a READ lock for its whole duration, so the set of started
// modules cannot change mid-delivery: a module registered concurrently waits
// for the lock and never receives the in-flight event.
package events
