// SPDX-License-Identifier: MPL-2.0

// Package proxy isolates addons from each other and forwards calls across
// the boundary.
//
// Every module owns a Namespace: its own table of capability contracts, the
// implementations it exports and the errors it knows how to raise. A
// contract named "Billing" defined by two namespaces yields two distinct
// *Type values, so nothing typed in one namespace is ever handed directly to
// another. Crossing is explicit: an Invoker wraps an Object living in one
// namespace into a Handle owned by the caller's namespace. Handle calls copy
// arguments, re-wrap Object arguments into the target namespace, re-wrap
// Object results into the caller's namespace and translate errors.
//
// Wrapping is idempotent. A target already in the caller's namespace is
// returned unchanged, a Handle is unwrapped before being wrapped again, and
// handles are cached per (target, caller namespace, contract).
package proxy
