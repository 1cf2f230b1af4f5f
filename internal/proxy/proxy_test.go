// SPDX-License-Identifier: MPL-2.0

package proxy

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

var errInsufficientFunds = errors.New("insufficient funds")

// ledger is a typed view of the "Ledger" contract.
type ledger interface {
	Balance(ctx context.Context, account string) (int, error)
}

type ledgerAdapter struct{ d Dispatcher }

func (a ledgerAdapter) Balance(ctx context.Context, account string) (int, error) {
	out, err := a.d.Dispatch(ctx, "Balance", []any{account})
	if err != nil {
		return 0, err
	}
	return out[0].(int), nil
}

// fixture sets up a provider namespace exporting Ledger and a consumer
// namespace that defines the same contract independently.
func fixture(t *testing.T) (inv *Invoker, provider, consumer *Namespace, impl Object) {
	t.Helper()
	inv = NewInvoker()
	provider = NewNamespace("provider")
	consumer = NewNamespace("consumer")
	for _, ns := range []*Namespace{provider, consumer} {
		ns.Define("Ledger", "Balance", "Debit", "Subscribe", "Explode", "Snapshot")
		ns.Define("Listener", "Notify")
	}

	balances := map[string]int{"acme": 100}
	var err error
	impl, err = provider.Export("Ledger", Methods{
		"Balance": func(_ context.Context, args []any) ([]any, error) {
			return []any{balances[args[0].(string)]}, nil
		},
		"Debit": func(_ context.Context, args []any) ([]any, error) {
			account, amount := args[0].(string), args[1].(int)
			if balances[account] < amount {
				return nil, NewCodedError("ledger.insufficient", fmt.Sprintf("%s cannot cover %d", account, amount))
			}
			balances[account] -= amount
			return nil, nil
		},
		"Subscribe": func(ctx context.Context, args []any) ([]any, error) {
			listener := args[0].(Object)
			if listener.Namespace() != provider {
				return nil, fmt.Errorf("listener arrived in namespace %s", listener.Namespace().Name())
			}
			return listener.Dispatch(ctx, "Notify", []any{"subscribed"})
		},
		"Explode": func(context.Context, []any) ([]any, error) {
			panic("ledger on fire")
		},
		"Snapshot": func(_ context.Context, args []any) ([]any, error) {
			buf := args[0].([]byte)
			buf[0] = 'X'
			return []any{buf}, nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return inv, provider, consumer, impl
}

func TestWrap_SameNamespaceFastPath(t *testing.T) {
	t.Parallel()
	inv, provider, _, impl := fixture(t)

	got, err := inv.Wrap(provider, impl, "Ledger")
	if err != nil {
		t.Fatal(err)
	}
	if got != impl {
		t.Error("wrapping into the target's own namespace must return the target unchanged")
	}
	if inv.Handles() != 0 {
		t.Errorf("fast path must not create handles, got %d", inv.Handles())
	}
}

func TestWrap_RoundTripAndCollapse(t *testing.T) {
	t.Parallel()
	inv, provider, consumer, impl := fixture(t)

	h, err := inv.Wrap(consumer, impl, "Ledger")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := h.(Proxy); !ok {
		t.Fatal("cross-namespace wrap must produce a Proxy")
	}
	if h.Namespace() != consumer {
		t.Error("handle must live in the caller's namespace")
	}
	local, _ := consumer.Contract("Ledger")
	if h.Contract() != local {
		t.Error("handle must carry the caller's contract identity")
	}
	if Unwrap(h) != Dispatcher(impl) {
		t.Error("unwrap must return the original target")
	}

	// Wrapping the handle again for the same caller collapses to the cached handle.
	again, err := inv.Wrap(consumer, h, "Ledger")
	if err != nil {
		t.Fatal(err)
	}
	if again != h {
		t.Error("double wrap must collapse to the existing handle")
	}

	// Wrapping the handle back into the provider returns the original.
	home, err := inv.Wrap(provider, h, "Ledger")
	if err != nil {
		t.Fatal(err)
	}
	if home != impl {
		t.Error("wrapping a handle into the target namespace must return the target")
	}

	// A third namespace gets a single-layer handle onto the original.
	third := NewNamespace("third")
	third.Define("Ledger")
	h3, err := inv.Wrap(third, h, "Ledger")
	if err != nil {
		t.Fatal(err)
	}
	if h3.(Proxy).Target() != impl {
		t.Error("handles must never nest")
	}
	if inv.Handles() != 2 {
		t.Errorf("expected 2 cached handles, got %d", inv.Handles())
	}
}

func TestWrap_ContractChecks(t *testing.T) {
	t.Parallel()
	inv, _, consumer, impl := fixture(t)

	if _, err := inv.Wrap(consumer, impl, "Listener"); !errors.Is(err, ErrContractMismatch) {
		t.Errorf("expected ErrContractMismatch, got %v", err)
	}
	bare := NewNamespace("bare")
	if _, err := inv.Wrap(bare, impl, "Ledger"); !errors.Is(err, ErrUnknownContract) {
		t.Errorf("expected ErrUnknownContract, got %v", err)
	}
	if _, err := bare.Export("Ledger", Methods{}); !errors.Is(err, ErrUnknownContract) {
		t.Errorf("expected ErrUnknownContract on export, got %v", err)
	}
}

func TestHandle_Dispatch(t *testing.T) {
	t.Parallel()
	inv, _, consumer, impl := fixture(t)
	ctx := context.Background()

	h, err := inv.Wrap(consumer, impl, "Ledger")
	if err != nil {
		t.Fatal(err)
	}

	t.Run("results", func(t *testing.T) {
		out, err := h.Dispatch(ctx, "Balance", []any{"acme"})
		if err != nil {
			t.Fatal(err)
		}
		if out[0] != 100 {
			t.Errorf("expected 100, got %v", out[0])
		}
	})

	t.Run("arguments are copied", func(t *testing.T) {
		buf := []byte("abc")
		out, err := h.Dispatch(ctx, "Snapshot", []any{buf})
		if err != nil {
			t.Fatal(err)
		}
		if string(buf) != "abc" {
			t.Errorf("caller's buffer was modified: %q", buf)
		}
		if string(out[0].([]byte)) != "Xbc" {
			t.Errorf("unexpected result %q", out[0])
		}
	})

	t.Run("object arguments are rewrapped", func(t *testing.T) {
		var got string
		listener, err := consumer.Bind("Listener", Methods{
			"Notify": func(_ context.Context, args []any) ([]any, error) {
				got = args[0].(string)
				return []any{"ack"}, nil
			},
		})
		if err != nil {
			t.Fatal(err)
		}
		out, err := h.Dispatch(ctx, "Subscribe", []any{listener})
		if err != nil {
			t.Fatal(err)
		}
		if got != "subscribed" || out[0] != "ack" {
			t.Errorf("callback not delivered: got=%q out=%v", got, out)
		}
	})

	t.Run("undeclared method", func(t *testing.T) {
		if _, err := h.Dispatch(ctx, "Transfer", nil); !errors.Is(err, ErrUnknownMethod) {
			t.Errorf("expected ErrUnknownMethod, got %v", err)
		}
	})
}

func TestHandle_ErrorTranslation(t *testing.T) {
	t.Parallel()
	inv, _, consumer, impl := fixture(t)
	ctx := context.Background()

	h, err := inv.Wrap(consumer, impl, "Ledger")
	if err != nil {
		t.Fatal(err)
	}

	// Untranslatable until the consumer registers the code.
	_, err = h.Dispatch(ctx, "Debit", []any{"acme", 500})
	var invErr *InvocationError
	if !errors.As(err, &invErr) || invErr.From != "provider" || invErr.Method != "Debit" {
		t.Fatalf("expected *InvocationError, got %T: %v", err, err)
	}

	consumer.RegisterError("ledger.insufficient", func(msg string) error {
		return fmt.Errorf("%w: %s", errInsufficientFunds, msg)
	})
	_, err = h.Dispatch(ctx, "Debit", []any{"acme", 500})
	var tr *TranslatedError
	if !errors.As(err, &tr) {
		t.Fatalf("expected *TranslatedError, got %T: %v", err, err)
	}
	if !errors.Is(err, errInsufficientFunds) {
		t.Error("translated error must match the caller's error")
	}
	var coded Coded
	if !errors.As(err, &coded) || coded.Code() != "ledger.insufficient" {
		t.Error("translated error must keep the original as cause")
	}

	_, err = h.Dispatch(ctx, "Explode", nil)
	if !errors.As(err, &invErr) || invErr.Panic == nil {
		t.Fatalf("expected panic converted to *InvocationError, got %v", err)
	}
}

func TestNamespaceClose_And_Forget(t *testing.T) {
	t.Parallel()
	inv, provider, consumer, impl := fixture(t)

	h, err := inv.Wrap(consumer, impl, "Ledger")
	if err != nil {
		t.Fatal(err)
	}
	provider.Close()
	if _, err := h.Dispatch(context.Background(), "Balance", []any{"acme"}); !errors.Is(err, ErrNamespaceClosed) {
		t.Errorf("expected ErrNamespaceClosed, got %v", err)
	}
	if n := inv.Forget(provider); n != 1 {
		t.Errorf("expected 1 handle forgotten, got %d", n)
	}
	if inv.Handles() != 0 {
		t.Errorf("expected empty handle table, got %d", inv.Handles())
	}
}

func TestAdapt(t *testing.T) {
	t.Parallel()
	inv, _, consumer, impl := fixture(t)

	h, err := inv.Wrap(consumer, impl, "Ledger")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Adapt[ledger](consumer, "Ledger", h); !errors.Is(err, ErrNoAdapter) {
		t.Fatalf("expected ErrNoAdapter, got %v", err)
	}

	RegisterAdapter(consumer, "Ledger", func(d Dispatcher) ledger { return ledgerAdapter{d: d} })
	l, err := Adapt[ledger](consumer, "Ledger", h)
	if err != nil {
		t.Fatal(err)
	}
	balance, err := l.Balance(context.Background(), "acme")
	if err != nil || balance != 100 {
		t.Errorf("expected balance 100, got %d (%v)", balance, err)
	}

	if _, err := Adapt[fmt.Stringer](consumer, "Ledger", h); err == nil {
		t.Error("expected error for adapter of another type")
	}
}
