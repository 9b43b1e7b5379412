package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	p := r.Start(int64(1), nil)

	go r.Resolve(int64(1), "result")

	v, err := p.Await(context.Background())
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if v != "result" {
		t.Fatalf("expected result, got %v", v)
	}
	if r.Len() != 0 {
		t.Fatalf("resolved slot must be removed")
	}
}

func TestRegistryWellKnownKeyShared(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	a := r.Start("positions", nil)
	b := r.Start("positions", nil)
	if a != b {
		t.Fatalf("concurrent requests under a well-known key must share one slot")
	}
}

func TestRegistryAccumulate(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	p := r.Start("openOrders", nil)
	r.Accumulate("openOrders", 1)
	r.Accumulate("openOrders", 2)
	r.Resolve("openOrders", nil)

	v, err := p.Await(context.Background())
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	items, ok := v.([]any)
	if !ok || len(items) != 2 {
		t.Fatalf("nil resolution must yield accumulated items, got %v", v)
	}
}

func TestRegistryLateResolutionDropped(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	// nothing pending for this key; must not panic or create state
	r.Resolve(int64(99), "late")
	if r.Len() != 0 {
		t.Fatalf("late resolution must not create a slot")
	}
}

func TestRegistryRejectOnce(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	p := r.Start(int64(5), nil)
	wantErr := errors.New("boom")
	r.Reject(int64(5), wantErr)
	r.Resolve(int64(5), "too late")

	v, err := p.Await(context.Background())
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected rejection error, got v=%v err=%v", v, err)
	}
}

func TestPendingAwaitDeadline(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	p := r.Start(int64(7), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := p.Await(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	// abandonment does not remove the slot; the decode path still owns it
	if r.Len() != 1 {
		t.Fatalf("abandoned slot must stay pending")
	}
}

func TestRegistryResetRejectsAll(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	a := r.Start(int64(1), nil)
	b := r.Start("positions", nil)
	r.Reset()

	for _, p := range []*Pending{a, b} {
		if _, err := p.Await(context.Background()); !errors.Is(err, ErrDisconnected) {
			t.Fatalf("reset must reject with ErrDisconnected, got %v", err)
		}
	}
	if r.Len() != 0 {
		t.Fatalf("reset must clear the registry")
	}
}
