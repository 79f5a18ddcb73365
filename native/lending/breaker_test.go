package lending

import (
	"errors"
	"math/big"
	"testing"
)

func TestBreakerAllowLeavesNoTrace(t *testing.T) {
	state := newMockState()
	breaker := NewCircuitBreaker(state, big.NewInt(10_000_000))

	if err := breaker.Allow("stable", big.NewInt(9_000_000), t0); err != nil {
		t.Fatalf("allow under cap: %v", err)
	}
	if len(state.windows["stable"]) != 0 {
		t.Fatalf("allow mutated the window: %d samples", len(state.windows["stable"]))
	}
	if err := breaker.Allow("stable", big.NewInt(10_000_001), t0); !errors.Is(err, ErrCircuitBreakerExceeded) {
		t.Fatalf("expected ErrCircuitBreakerExceeded, got %v", err)
	}
}

func TestBreakerSumsTrailingWindow(t *testing.T) {
	state := newMockState()
	breaker := NewCircuitBreaker(state, big.NewInt(10_000_000))

	if err := breaker.Record("stable", big.NewInt(6_000_000), t0); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := breaker.Allow("stable", big.NewInt(7_000_000), t0+60); !errors.Is(err, ErrCircuitBreakerExceeded) {
		t.Fatalf("expected ErrCircuitBreakerExceeded, got %v", err)
	}
	if err := breaker.Allow("stable", big.NewInt(4_000_000), t0+60); err != nil {
		t.Fatalf("allow at the cap: %v", err)
	}
}

func TestBreakerExpiresOldSamples(t *testing.T) {
	state := newMockState()
	breaker := NewCircuitBreaker(state, big.NewInt(10_000_000))

	if err := breaker.Record("stable", big.NewInt(10_000_000), t0); err != nil {
		t.Fatalf("record: %v", err)
	}
	// Still inside the window one second before expiry.
	if err := breaker.Allow("stable", big.NewInt(1), t0+DefaultBreakerWindowSeconds-1); !errors.Is(err, ErrCircuitBreakerExceeded) {
		t.Fatalf("expected ErrCircuitBreakerExceeded, got %v", err)
	}
	// The sample ages out once the full window has elapsed.
	if err := breaker.Allow("stable", big.NewInt(10_000_000), t0+DefaultBreakerWindowSeconds+1); err != nil {
		t.Fatalf("allow after expiry: %v", err)
	}

	// Record prunes expired samples from storage.
	if err := breaker.Record("stable", big.NewInt(1), t0+DefaultBreakerWindowSeconds+1); err != nil {
		t.Fatalf("record after expiry: %v", err)
	}
	if got := len(state.windows["stable"]); got != 1 {
		t.Fatalf("expired sample not pruned: %d samples", got)
	}
}

func TestBreakerPerPoolOverride(t *testing.T) {
	state := newMockState()
	breaker := NewCircuitBreaker(state, big.NewInt(10_000_000))
	breaker.SetPoolCap("volatile", big.NewInt(1_000_000))

	if err := breaker.Allow("stable", big.NewInt(5_000_000), t0); err != nil {
		t.Fatalf("default cap pool: %v", err)
	}
	if err := breaker.Allow("volatile", big.NewInt(5_000_000), t0); !errors.Is(err, ErrCircuitBreakerExceeded) {
		t.Fatalf("expected override cap to apply, got %v", err)
	}

	// Removing the override falls back to the default cap.
	breaker.SetPoolCap("volatile", nil)
	if err := breaker.Allow("volatile", big.NewInt(5_000_000), t0); err != nil {
		t.Fatalf("after override removal: %v", err)
	}
}

func TestBreakerDisabledWithoutCap(t *testing.T) {
	state := newMockState()
	breaker := NewCircuitBreaker(state, nil)

	if err := breaker.Allow("stable", big.NewInt(1_000_000_000), t0); err != nil {
		t.Fatalf("nil cap must disable enforcement: %v", err)
	}
	if err := breaker.Record("stable", big.NewInt(1_000_000_000), t0); err != nil {
		t.Fatalf("record with nil cap: %v", err)
	}
	if len(state.windows["stable"]) != 0 {
		t.Fatal("disabled breaker must not persist samples")
	}

	zero := NewCircuitBreaker(state, big.NewInt(0))
	if err := zero.Allow("stable", big.NewInt(1_000_000_000), t0); err != nil {
		t.Fatalf("zero cap must disable enforcement: %v", err)
	}
}

func TestBreakerWindowOverride(t *testing.T) {
	state := newMockState()
	breaker := NewCircuitBreaker(state, big.NewInt(1_000_000))
	breaker.SetWindowSeconds(60)

	if err := breaker.Record("stable", big.NewInt(1_000_000), t0); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := breaker.Allow("stable", big.NewInt(1), t0+30); !errors.Is(err, ErrCircuitBreakerExceeded) {
		t.Fatalf("expected ErrCircuitBreakerExceeded inside short window, got %v", err)
	}
	if err := breaker.Allow("stable", big.NewInt(1_000_000), t0+61); err != nil {
		t.Fatalf("allow after short window: %v", err)
	}
}
