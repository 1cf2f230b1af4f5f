// SPDX-License-Identifier: MPL-2.0

// Package lifecycle drives modules through their states.
//
// A Controller owns the container's registry, lock manager, invoker and
// event hub. Scan asks the reconciler what changed on disk, then, holding
// WRITE, resolves the full inventory, stops modules that were removed,
// changed or lost a required dependency (reverse start order), starts every
// module that can start and is not running (dependency order), releases the
// lock and notifies listeners.
//
// Start failures, including artifact resolution failures, are terminal for
// that module until Reload or a content change. Failures caused by
// dependencies are re-evaluated on every scan.
package lifecycle
