// SPDX-License-Identifier: MPL-2.0

// Package lock provides the container-wide read/write/upgrade lock.
//
// A Manager hands out Tokens in one of three modes:
//
//   - ModeRead: shared, any number of owners.
//   - ModeUpgradable: one owner at a time, compatible with readers, and
//     promotable to ModeWrite by the same owner without releasing.
//   - ModeWrite: exclusive.
//
// Ownership is explicit. An Owner travels in the context (WithOwner); an owner
// that already holds the lock re-enters it without blocking itself. Do and
// Perform install an owner when the context carries none, so nested calls made
// with the callback's context are reentrant.
//
// Every blocking acquire is checked against the wait-for graph. When granting
// would require waiting on an owner that (transitively) waits on the requester,
// the Manager panics with a *DeadlockError. Deadlocks are programming defects
// in the caller's locking sequence and implement Fatal, which is deliberately
// separate from the recoverable errors returned by this package.
package lock
