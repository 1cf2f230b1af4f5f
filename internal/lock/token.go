// SPDX-License-Identifier: MPL-2.0

package lock

import (
	"context"
	"fmt"
	"sync/atomic"
)

// Token is a held lock. It is released exactly once; a second Release
// returns ErrAlreadyReleased.
type Token struct {
	manager  *Manager
	owner    *Owner
	mode     Mode
	released atomic.Bool
}

// Mode returns the mode the token was granted in.
func (t *Token) Mode() Mode { return t.mode }

// Owner returns the owner holding the token.
func (t *Token) Owner() *Owner { return t.owner }

// Release gives the hold back to the Manager.
func (t *Token) Release() error {
	if !t.released.CompareAndSwap(false, true) {
		return ErrAlreadyReleased
	}
	t.manager.release(t)
	return nil
}

// Upgrade promotes an UPGRADABLE token to WRITE without releasing it. The
// returned WRITE token must be released on its own; releasing it leaves the
// owner holding UPGRADABLE again.
func (t *Token) Upgrade(ctx context.Context) (*Token, error) {
	if t.mode != ModeUpgradable {
		return nil, fmt.Errorf("upgrade %s token: only upgradable tokens can be upgraded", t.mode)
	}
	if t.released.Load() {
		return nil, ErrAlreadyReleased
	}
	return t.manager.Acquire(WithOwner(ctx, t.owner), ModeWrite)
}
