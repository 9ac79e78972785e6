package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestGestureKind_Qualifies(t *testing.T) {
	tests := []struct {
		kind GestureKind
		want bool
	}{
		{GesturePointerDown, true},
		{GestureClick, true},
		{GestureKeyDown, true},
		{GestureTouchStart, true},
		{GestureTouchEnd, true},
		{GestureOther, false},
	}
	for _, tt := range tests {
		if got := tt.kind.Qualifies(); got != tt.want {
			t.Errorf("%s: expected %v, got %v", tt.kind, tt.want, got)
		}
	}
}

func TestUnlockGate_SubmitSupersedesOlder(t *testing.T) {
	g := NewUnlockGate()
	ctx := context.Background()

	x := newRequest(ctx, source{data: []byte("x")})
	y := newRequest(ctx, source{data: []byte("y")})

	g.submit(x)
	if !g.HasPending() {
		t.Fatal("Expected pending request")
	}
	g.submit(y)

	select {
	case err := <-x.result:
		if !errors.Is(err, ErrSuperseded) {
			t.Errorf("Expected ErrSuperseded, got %v", err)
		}
	default:
		t.Fatal("Expected older request to be rejected")
	}

	select {
	case err := <-y.result:
		t.Fatalf("Expected newest request to stay pending, got %v", err)
	default:
	}

	if newest := g.takeNewest(); newest != y {
		t.Error("Expected newest request to be returned")
	}
	if g.HasPending() {
		t.Error("Expected buffer to be empty after takeNewest")
	}
}

func TestUnlockGate_BufferBounded(t *testing.T) {
	g := NewUnlockGate()
	for i := 0; i < 20; i++ {
		g.submit(newRequest(context.Background(), source{data: []byte{byte(i)}}))
		g.mu.Lock()
		n := len(g.pending)
		g.mu.Unlock()
		if n > MaxPendingRequests {
			t.Fatalf("Pending buffer grew to %d", n)
		}
	}
}

func TestUnlockGate_Cancel(t *testing.T) {
	g := NewUnlockGate()
	r := newRequest(context.Background(), source{data: []byte("x")})
	g.submit(r)
	g.cancel(r)
	if g.HasPending() {
		t.Error("Expected cancelled request to be removed")
	}
}

func TestUnlockGate_TryUnlockSingleEdge(t *testing.T) {
	g := NewUnlockGate()
	u := &MockUnlocker{}

	var wg sync.WaitGroup
	var mu sync.Mutex
	edges := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := g.tryUnlock(context.Background(), u)
			if err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
			if ok {
				mu.Lock()
				edges++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if edges != 1 {
		t.Errorf("Expected exactly one unlock edge, got %d", edges)
	}
	if !g.Unlocked() {
		t.Error("Expected gate to be unlocked")
	}
}

func TestUnlockGate_FailedAttemptStaysLocked(t *testing.T) {
	g := NewUnlockGate()
	u := &MockUnlocker{}
	u.RefuseNext(1)

	if ok, err := g.tryUnlock(context.Background(), u); ok || !errors.Is(err, ErrUnlockDenied) {
		t.Errorf("Expected refused attempt, got ok=%v err=%v", ok, err)
	}
	if g.Unlocked() {
		t.Error("Expected gate to stay locked")
	}
	if ok, _ := g.tryUnlock(context.Background(), u); !ok {
		t.Error("Expected second attempt to unlock")
	}
}

func TestUnlockGate_RejectAll(t *testing.T) {
	g := NewUnlockGate()
	r := newRequest(context.Background(), source{data: []byte("x")})
	g.submit(r)
	g.rejectAll(ErrEngineClosed)

	if err := <-r.result; !errors.Is(err, ErrEngineClosed) {
		t.Errorf("Expected ErrEngineClosed, got %v", err)
	}
}
