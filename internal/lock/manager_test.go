// SPDX-License-Identifier: MPL-2.0

package lock

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func ownerCtx(name string) context.Context {
	return WithOwner(context.Background(), NewOwner(name))
}

func mustAcquire(t *testing.T, m *Manager, ctx context.Context, mode Mode) *Token {
	t.Helper()
	tok, err := m.Acquire(ctx, mode)
	if err != nil {
		t.Fatalf("Acquire(%s) failed: %v", mode, err)
	}
	return tok
}

// expectDeadlock runs fn and returns the *DeadlockError it panics with.
func expectDeadlock(t *testing.T, fn func()) (dl *DeadlockError) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected deadlock panic, got none")
		}
		var ok bool
		dl, ok = r.(*DeadlockError)
		if !ok {
			t.Fatalf("expected *DeadlockError, got %T: %v", r, r)
		}
	}()
	fn()
	return nil
}

func waitForWaiters(t *testing.T, m *Manager, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for m.waiters() < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d blocked acquirers (have %d)", n, m.waiters())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestMode_Validate(t *testing.T) {
	t.Parallel()

	for _, mode := range []Mode{ModeRead, ModeUpgradable, ModeWrite} {
		if err := mode.Validate(); err != nil {
			t.Errorf("Mode(%s).Validate() = %v, want nil", mode, err)
		}
	}
	err := Mode(42).Validate()
	if !errors.Is(err, ErrInvalidMode) {
		t.Errorf("Mode(42).Validate() = %v, want ErrInvalidMode", err)
	}
	if Mode(42).String() != "unknown" {
		t.Errorf("Mode(42).String() = %q, want unknown", Mode(42).String())
	}
}

func TestConcurrentReadersDoNotBlock(t *testing.T) {
	t.Parallel()

	m := NewManager()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	const readers = 16
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		tokens []*Token
	)
	for i := range readers {
		wg.Go(func() {
			tok, err := m.Acquire(WithOwner(ctx, NewOwner("reader")), ModeRead)
			if err != nil {
				t.Errorf("reader %d: %v", i, err)
				return
			}
			mu.Lock()
			tokens = append(tokens, tok)
			mu.Unlock()
		})
	}
	wg.Wait()

	if len(tokens) != readers {
		t.Fatalf("expected %d concurrent read holders, got %d", readers, len(tokens))
	}
	for _, tok := range tokens {
		if err := tok.Release(); err != nil {
			t.Errorf("Release: %v", err)
		}
	}
}

func TestWriteExcludesEveryMode(t *testing.T) {
	t.Parallel()

	m := NewManager()
	writer := mustAcquire(t, m, ownerCtx("writer"), ModeWrite)

	for _, mode := range []Mode{ModeRead, ModeUpgradable, ModeWrite} {
		ctx, cancel := context.WithTimeout(ownerCtx("other"), 30*time.Millisecond)
		_, err := m.Acquire(ctx, mode)
		cancel()
		if !errors.Is(err, ErrTimeout) {
			t.Errorf("Acquire(%s) while WRITE held: got %v, want ErrTimeout", mode, err)
		}
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Acquire(%s) timeout should carry the context error, got %v", mode, err)
		}
	}

	if err := writer.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	tok := mustAcquire(t, m, ownerCtx("other"), ModeWrite)
	_ = tok.Release()
}

func TestRelease_Twice(t *testing.T) {
	t.Parallel()

	m := NewManager()
	tok := mustAcquire(t, m, ownerCtx("a"), ModeRead)
	if err := tok.Release(); err != nil {
		t.Fatalf("first Release: %v", err)
	}
	if err := tok.Release(); !errors.Is(err, ErrAlreadyReleased) {
		t.Fatalf("second Release: got %v, want ErrAlreadyReleased", err)
	}

	// The second release must not have dropped a hold acquired afterwards.
	ctx := ownerCtx("b")
	again := mustAcquire(t, m, ctx, ModeRead)
	_ = tok.Release()
	if !m.Holds(ctx, ModeRead) {
		t.Error("double release of a stale token released someone else's hold")
	}
	_ = again.Release()
}

func TestReentrancy(t *testing.T) {
	t.Parallel()

	t.Run("read inside read", func(t *testing.T) {
		t.Parallel()
		m := NewManager()
		ctx := ownerCtx("a")
		outer := mustAcquire(t, m, ctx, ModeRead)
		// Pending writer must not stall a reader that already holds.
		go func() {
			tok, err := m.Acquire(ownerCtx("w"), ModeWrite)
			if err == nil {
				_ = tok.Release()
			}
		}()
		waitForWaiters(t, m, 1)
		inner := mustAcquire(t, m, ctx, ModeRead)
		_ = inner.Release()
		_ = outer.Release()
	})

	t.Run("read and write inside write", func(t *testing.T) {
		t.Parallel()
		m := NewManager()
		ctx := ownerCtx("a")
		w := mustAcquire(t, m, ctx, ModeWrite)
		r := mustAcquire(t, m, ctx, ModeRead)
		w2 := mustAcquire(t, m, ctx, ModeWrite)
		_ = w2.Release()
		_ = r.Release()
		if !m.Holds(ctx, ModeWrite) {
			t.Error("owner should still hold WRITE after releasing nested tokens")
		}
		_ = w.Release()
		if m.Holds(ctx, ModeRead) {
			t.Error("owner should hold nothing after releasing every token")
		}
	})
}

func TestUpgrade(t *testing.T) {
	t.Parallel()

	m := NewManager()
	upCtx := ownerCtx("upgrader")
	readerCtx := ownerCtx("reader")

	up := mustAcquire(t, m, upCtx, ModeUpgradable)
	reader := mustAcquire(t, m, readerCtx, ModeRead)

	// A second upgradable is refused while the first is held.
	ctx, cancel := context.WithTimeout(ownerCtx("second"), 20*time.Millisecond)
	_, err := m.Acquire(ctx, ModeUpgradable)
	cancel()
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("second UPGRADABLE: got %v, want ErrTimeout", err)
	}

	done := make(chan *Token)
	go func() {
		w, err := up.Upgrade(context.Background())
		if err != nil {
			t.Errorf("Upgrade: %v", err)
			close(done)
			return
		}
		done <- w
	}()

	waitForWaiters(t, m, 1)
	select {
	case <-done:
		t.Fatal("upgrade must wait for the remaining reader")
	default:
	}

	_ = reader.Release()
	w := <-done
	if w == nil {
		return
	}
	if w.Mode() != ModeWrite {
		t.Errorf("upgraded token mode = %s, want write", w.Mode())
	}
	_ = w.Release()
	if !m.Holds(upCtx, ModeUpgradable) {
		t.Error("releasing the upgraded token should leave UPGRADABLE held")
	}
	_ = up.Release()
}

func TestUpgrade_NonUpgradableToken(t *testing.T) {
	t.Parallel()

	m := NewManager()
	tok := mustAcquire(t, m, ownerCtx("a"), ModeRead)
	defer tok.Release() //nolint:errcheck
	if _, err := tok.Upgrade(context.Background()); err == nil {
		t.Fatal("expected error upgrading a READ token")
	}
}

func TestDeadlock_ReadThenWrite(t *testing.T) {
	t.Parallel()

	m := NewManager()
	ctx := ownerCtx("a")
	tok := mustAcquire(t, m, ctx, ModeRead)
	defer tok.Release() //nolint:errcheck

	dl := expectDeadlock(t, func() {
		_, _ = m.Acquire(ctx, ModeWrite)
	})
	if len(dl.Cycle) != 1 {
		t.Fatalf("expected a self cycle, got %v", dl)
	}
	if dl.Cycle[0].Wants != ModeWrite {
		t.Errorf("participant wants %s, want write", dl.Cycle[0].Wants)
	}
	var fatal Fatal = dl
	if !strings.Contains(fatal.Error(), "holds read, wants write") {
		t.Errorf("deadlock message should show modes, got %q", fatal.Error())
	}
}

func TestDeadlock_TwoReadersRequestWrite(t *testing.T) {
	t.Parallel()

	m := NewManager()
	ctxA := ownerCtx("a")
	ctxB := ownerCtx("b")
	tokA := mustAcquire(t, m, ctxA, ModeRead)
	tokB := mustAcquire(t, m, ctxB, ModeRead)

	for _, ctx := range []context.Context{ctxA, ctxB} {
		expectDeadlock(t, func() {
			_, _ = m.Acquire(ctx, ModeWrite)
		})
	}
	if m.waiters() != 0 {
		t.Errorf("no requester may remain blocked, have %d", m.waiters())
	}
	_ = tokA.Release()
	_ = tokB.Release()
}

func TestDeadlock_AcrossOwners(t *testing.T) {
	t.Parallel()

	m := NewManager()
	ctxA := ownerCtx("a")
	ctxB := ownerCtx("b")

	up := mustAcquire(t, m, ctxA, ModeUpgradable)
	read := mustAcquire(t, m, ctxB, ModeRead)

	granted := make(chan error, 1)
	go func() {
		w, err := m.Acquire(ctxA, ModeWrite)
		if err == nil {
			_ = w.Release()
		}
		granted <- err
	}()
	waitForWaiters(t, m, 1)

	// b waits for a's upgradable while a waits for b's read.
	dl := expectDeadlock(t, func() {
		defer read.Release() //nolint:errcheck // unwinding releases b's hold
		_, _ = m.Acquire(ctxB, ModeUpgradable)
	})
	if len(dl.Cycle) != 2 {
		t.Fatalf("expected two participants, got %v", dl)
	}
	msg := dl.Error()
	if !strings.Contains(msg, "holds upgradable, wants write") || !strings.Contains(msg, "holds read, wants upgradable") {
		t.Errorf("deadlock message missing participants: %q", msg)
	}

	select {
	case err := <-granted:
		if err != nil {
			t.Fatalf("a's upgrade after b unwound: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("a was not granted WRITE after b released")
	}
	_ = up.Release()
}

func TestWriterPreference(t *testing.T) {
	t.Parallel()

	m := NewManager()
	reader := mustAcquire(t, m, ownerCtx("reader"), ModeRead)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		w, err := m.Acquire(ownerCtx("writer"), ModeWrite)
		if err != nil {
			t.Errorf("writer: %v", err)
			return
		}
		_ = w.Release()
	}()
	waitForWaiters(t, m, 1)

	ctx, cancel := context.WithTimeout(ownerCtx("late"), 30*time.Millisecond)
	_, err := m.Acquire(ctx, ModeRead)
	cancel()
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("new reader should queue behind a pending writer, got %v", err)
	}

	_ = reader.Release()
	<-writerDone
}

func TestWithWaitTimeout(t *testing.T) {
	t.Parallel()

	m := NewManager(WithWaitTimeout(20 * time.Millisecond))
	w := mustAcquire(t, m, ownerCtx("a"), ModeWrite)
	defer w.Release() //nolint:errcheck

	start := time.Now()
	_, err := m.Acquire(ownerCtx("b"), ModeRead)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("got %v, want ErrTimeout", err)
	}
	if time.Since(start) > time.Second {
		t.Error("bounded wait took far longer than the configured timeout")
	}
}

func TestDo(t *testing.T) {
	t.Parallel()

	t.Run("releases on error", func(t *testing.T) {
		t.Parallel()
		m := NewManager()
		want := errors.New("boom")
		err := m.Do(context.Background(), ModeWrite, func(ctx context.Context) error {
			if !m.Holds(ctx, ModeWrite) {
				t.Error("action context should hold WRITE")
			}
			return want
		})
		if !errors.Is(err, want) {
			t.Fatalf("Do returned %v, want %v", err, want)
		}
		tok := mustAcquire(t, m, ownerCtx("after"), ModeWrite)
		_ = tok.Release()
	})

	t.Run("releases on panic", func(t *testing.T) {
		t.Parallel()
		m := NewManager()
		func() {
			defer func() { _ = recover() }()
			_ = m.Do(context.Background(), ModeWrite, func(context.Context) error {
				panic("action failed")
			})
		}()
		tok := mustAcquire(t, m, ownerCtx("after"), ModeWrite)
		_ = tok.Release()
	})

	t.Run("nested calls re-enter", func(t *testing.T) {
		t.Parallel()
		m := NewManager()
		got, err := Perform(context.Background(), m, ModeWrite, func(ctx context.Context) (int, error) {
			return Perform(ctx, m, ModeRead, func(context.Context) (int, error) {
				return 7, nil
			})
		})
		if err != nil || got != 7 {
			t.Fatalf("Perform = (%d, %v), want (7, nil)", got, err)
		}
	})
}

func TestMustHold(t *testing.T) {
	t.Parallel()

	m := NewManager()
	defer func() {
		r := recover()
		de, ok := r.(*DisciplineError)
		if !ok {
			t.Fatalf("expected *DisciplineError panic, got %T", r)
		}
		if !strings.Contains(de.Error(), "write lock not held") {
			t.Errorf("unexpected message %q", de.Error())
		}
	}()
	m.MustHold(ownerCtx("a"), ModeWrite, "register module")
}

type countingObserver struct {
	mu        sync.Mutex
	acquires  int
	deadlocks int
}

func (o *countingObserver) ObserveAcquire(Mode, time.Duration) {
	o.mu.Lock()
	o.acquires++
	o.mu.Unlock()
}

func (o *countingObserver) ObserveDeadlock() {
	o.mu.Lock()
	o.deadlocks++
	o.mu.Unlock()
}

func TestObserver(t *testing.T) {
	t.Parallel()

	obs := &countingObserver{}
	m := NewManager(WithObserver(obs))
	ctx := ownerCtx("a")
	tok := mustAcquire(t, m, ctx, ModeRead)
	expectDeadlock(t, func() { _, _ = m.Acquire(ctx, ModeWrite) })
	_ = tok.Release()

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if obs.acquires != 1 || obs.deadlocks != 1 {
		t.Errorf("observer saw %d acquires / %d deadlocks, want 1/1", obs.acquires, obs.deadlocks)
	}
}
