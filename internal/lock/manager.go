// SPDX-License-Identifier: MPL-2.0

package lock

import (
	"context"
	"io"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

type (
	// Observer receives lock statistics. Implementations must not call back
	// into the Manager.
	Observer interface {
		ObserveAcquire(mode Mode, waited time.Duration)
		ObserveDeadlock()
	}

	// Option configures a Manager.
	Option func(*Manager)

	// Manager is a reentrant read/write/upgrade lock with deadlock detection.
	// The zero value is not usable; create instances with NewManager.
	Manager struct {
		mu      sync.Mutex
		holders map[*Owner]*holding
		waiting map[*Owner]Mode
		// changed is closed and replaced whenever the holder set shrinks or a
		// waiter leaves, waking every blocked acquirer to re-evaluate.
		changed chan struct{}

		waitTimeout time.Duration
		logger      *log.Logger
		observer    Observer
	}

	holding struct {
		read       int
		upgradable int
		write      int
	}
)

// WithLogger sets the logger used to report detected deadlocks.
func WithLogger(l *log.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithWaitTimeout bounds every acquire whose context has no deadline.
// Zero (the default) waits until the mode is grantable.
func WithWaitTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.waitTimeout = d
	}
}

// WithObserver registers an Observer for acquire and deadlock statistics.
func WithObserver(o Observer) Option {
	return func(m *Manager) {
		m.observer = o
	}
}

// NewManager creates an unlocked Manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		holders: make(map[*Owner]*holding),
		waiting: make(map[*Owner]Mode),
		changed: make(chan struct{}),
		logger:  log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire blocks until mode is granted to the owner carried by ctx. When ctx
// carries no owner the request is made by a fresh anonymous owner and is
// therefore not reentrant.
//
// Acquire panics with a *DeadlockError if waiting would close a cycle in the
// wait-for graph. It returns a *TimeoutError if ctx ends (or the configured
// wait timeout elapses) first.
func (m *Manager) Acquire(ctx context.Context, mode Mode) (*Token, error) {
	if err := mode.Validate(); err != nil {
		return nil, err
	}
	owner, ok := OwnerFromContext(ctx)
	if !ok {
		owner = NewOwner("")
	}
	if m.waitTimeout > 0 {
		if _, has := ctx.Deadline(); !has {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, m.waitTimeout)
			defer cancel()
		}
	}

	start := time.Now()
	m.mu.Lock()
	for {
		blockers := m.blockersLocked(owner, mode)
		if len(blockers) == 0 {
			m.grantLocked(owner, mode)
			delete(m.waiting, owner)
			m.mu.Unlock()
			if m.observer != nil {
				m.observer.ObserveAcquire(mode, time.Since(start))
			}
			return &Token{manager: m, owner: owner, mode: mode}, nil
		}

		if cycle := m.findCycleLocked(owner, blockers); cycle != nil {
			delete(m.waiting, owner)
			err := m.deadlockLocked(owner, mode, cycle)
			m.mu.Unlock()
			m.logger.Error("deadlock detected", "requester", owner, "mode", mode, "cycle", err.Error())
			if m.observer != nil {
				m.observer.ObserveDeadlock()
			}
			panic(err)
		}

		m.waiting[owner] = mode
		ch := m.changed
		m.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			m.mu.Lock()
			delete(m.waiting, owner)
			m.broadcastLocked()
			m.mu.Unlock()
			return nil, &TimeoutError{Owner: owner.String(), Mode: mode, Cause: ctx.Err()}
		}
		m.mu.Lock()
	}
}

// Do acquires mode, runs action and releases on every exit path, including a
// panic raised by action. The context passed to action carries the owner so
// nested acquisitions re-enter.
func (m *Manager) Do(ctx context.Context, mode Mode, action func(ctx context.Context) error) error {
	ctx, _ = EnsureOwner(ctx, "")
	tok, err := m.Acquire(ctx, mode)
	if err != nil {
		return err
	}
	defer tok.Release() //nolint:errcheck // a token released only here cannot be double-released
	return action(ctx)
}

// Perform is the value-returning form of Manager.Do.
func Perform[T any](ctx context.Context, m *Manager, mode Mode, action func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := m.Do(ctx, mode, func(ctx context.Context) error {
		var actionErr error
		result, actionErr = action(ctx)
		return actionErr
	})
	return result, err
}

// Holds reports whether the owner carried by ctx currently holds at least
// mode. WRITE satisfies every mode and UPGRADABLE satisfies READ.
func (m *Manager) Holds(ctx context.Context, mode Mode) bool {
	owner, ok := OwnerFromContext(ctx)
	if !ok {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.holders[owner]
	if h == nil {
		return false
	}
	switch mode {
	case ModeWrite:
		return h.write > 0
	case ModeUpgradable:
		return h.write > 0 || h.upgradable > 0
	case ModeRead:
		return !h.empty()
	default:
		return false
	}
}

// MustHold panics with a *DisciplineError unless the owner carried by ctx
// holds at least mode. Guarded structures call it before mutating.
func (m *Manager) MustHold(ctx context.Context, mode Mode, op string) {
	if m.Holds(ctx, mode) {
		return
	}
	name := "anonymous"
	if o, ok := OwnerFromContext(ctx); ok {
		name = o.String()
	}
	panic(&DisciplineError{Owner: name, Op: op, Detail: mode.String() + " lock not held"})
}

func (m *Manager) release(t *Token) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.holders[t.owner]
	if h == nil {
		return
	}
	switch t.mode {
	case ModeRead:
		h.read--
	case ModeUpgradable:
		h.upgradable--
	case ModeWrite:
		h.write--
	}
	if h.empty() {
		delete(m.holders, t.owner)
	}
	m.broadcastLocked()
}

func (m *Manager) grantLocked(owner *Owner, mode Mode) {
	h := m.holders[owner]
	if h == nil {
		h = &holding{}
		m.holders[owner] = h
	}
	switch mode {
	case ModeRead:
		h.read++
	case ModeUpgradable:
		h.upgradable++
	case ModeWrite:
		h.write++
	}
}

// blockersLocked returns the owners that must release before mode can be
// granted to owner. The result may include owner itself, which always closes
// a cycle.
func (m *Manager) blockersLocked(owner *Owner, mode Mode) []*Owner {
	h := m.holders[owner]
	holdsAny := h != nil && !h.empty()

	var blockers []*Owner
	switch mode {
	case ModeRead:
		if holdsAny {
			return nil
		}
		for o, oh := range m.holders {
			if o != owner && oh.write > 0 {
				blockers = append(blockers, o)
			}
		}
	case ModeUpgradable:
		if h != nil && (h.upgradable > 0 || h.write > 0) {
			return nil
		}
		for o, oh := range m.holders {
			if o != owner && (oh.write > 0 || oh.upgradable > 0) {
				blockers = append(blockers, o)
			}
		}
	case ModeWrite:
		if h != nil && h.write > 0 {
			return nil
		}
		for o, oh := range m.holders {
			if o != owner && !oh.empty() {
				blockers = append(blockers, o)
			}
		}
		// A plain reader asking for WRITE waits on its own read hold.
		if h != nil && h.read > 0 && h.upgradable == 0 {
			blockers = append(blockers, owner)
		}
	}

	// Pending writers go first, but only for owners holding nothing.
	if len(blockers) == 0 && !holdsAny && mode != ModeWrite {
		for o, wm := range m.waiting {
			if o != owner && wm == ModeWrite {
				blockers = append(blockers, o)
			}
		}
	}

	slices.SortFunc(blockers, func(a, b *Owner) int {
		return strings.Compare(a.id.String(), b.id.String())
	})
	return blockers
}

// findCycleLocked walks the wait-for graph from blockers and returns the path
// of owners leading back to start, beginning with start. Edges of waiting
// owners are recomputed from the current holder set.
func (m *Manager) findCycleLocked(start *Owner, blockers []*Owner) []*Owner {
	visited := make(map[*Owner]bool)
	var path []*Owner

	var visit func(o *Owner) bool
	visit = func(o *Owner) bool {
		if o == start {
			return true
		}
		if visited[o] {
			return false
		}
		visited[o] = true
		wm, waiting := m.waiting[o]
		if !waiting {
			return false
		}
		path = append(path, o)
		for _, next := range m.blockersLocked(o, wm) {
			if visit(next) {
				return true
			}
		}
		path = path[:len(path)-1]
		return false
	}

	for _, b := range blockers {
		if visit(b) {
			return append([]*Owner{start}, path...)
		}
	}
	return nil
}

func (m *Manager) deadlockLocked(requester *Owner, mode Mode, cycle []*Owner) *DeadlockError {
	err := &DeadlockError{Cycle: make([]Participant, 0, len(cycle))}
	for _, o := range cycle {
		wants := mode
		if o != requester {
			wants = m.waiting[o]
		}
		err.Cycle = append(err.Cycle, Participant{
			Owner: o.String(),
			Holds: m.holders[o].modes(),
			Wants: wants,
		})
	}
	return err
}

func (m *Manager) broadcastLocked() {
	close(m.changed)
	m.changed = make(chan struct{})
}

// waiters returns the number of blocked acquirers.
func (m *Manager) waiters() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.waiting)
}

func (h *holding) empty() bool {
	return h.read == 0 && h.upgradable == 0 && h.write == 0
}

func (h *holding) modes() []Mode {
	if h == nil {
		return nil
	}
	var out []Mode
	if h.read > 0 {
		out = append(out, ModeRead)
	}
	if h.upgradable > 0 {
		out = append(out, ModeUpgradable)
	}
	if h.write > 0 {
		out = append(out, ModeWrite)
	}
	return out
}
