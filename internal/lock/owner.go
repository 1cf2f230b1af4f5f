// SPDX-License-Identifier: MPL-2.0

package lock

import (
	"context"

	"github.com/google/uuid"
)

type (
	// Owner identifies the logical holder of lock tokens. Reentrancy and
	// deadlock detection are tracked per Owner, not per goroutine, so an Owner
	// must not be used by two goroutines that acquire concurrently.
	Owner struct {
		id   uuid.UUID
		name string
	}

	ownerKey struct{}
)

// NewOwner creates an Owner with a fresh identity. The name only appears in
// diagnostics and may be empty.
func NewOwner(name string) *Owner {
	return &Owner{id: uuid.New(), name: name}
}

// ID returns the unique identity of the owner.
func (o *Owner) ID() uuid.UUID { return o.id }

// String returns the owner's name followed by a short form of its identity.
func (o *Owner) String() string {
	short := o.id.String()[:8]
	if o.name == "" {
		return "owner-" + short
	}
	return o.name + "#" + short
}

// WithOwner returns a context carrying the given owner.
func WithOwner(ctx context.Context, o *Owner) context.Context {
	return context.WithValue(ctx, ownerKey{}, o)
}

// OwnerFromContext returns the owner stored in ctx, if any.
func OwnerFromContext(ctx context.Context) (*Owner, bool) {
	o, ok := ctx.Value(ownerKey{}).(*Owner)
	return o, ok && o != nil
}

// EnsureOwner returns ctx unchanged when it already carries an owner, or a
// derived context with a new owner named name.
func EnsureOwner(ctx context.Context, name string) (context.Context, *Owner) {
	if o, ok := OwnerFromContext(ctx); ok {
		return ctx, o
	}
	o := NewOwner(name)
	return WithOwner(ctx, o), o
}
