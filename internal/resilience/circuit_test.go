package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errAuthorityDown = errors.New("authority query failed")

// frozenClock pins the breaker's clock and returns a handle for advancing it.
func frozenClock(cb *CircuitBreaker) *time.Time {
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	cb.now = func() time.Time { return at }
	return &at
}

func failN(cb *CircuitBreaker, n int) {
	for range n {
		_ = cb.Execute(context.Background(), func(_ context.Context) error {
			return errAuthorityDown
		})
	}
}

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute})
	frozenClock(cb)

	failN(cb, 2)
	if got := cb.State(); got != CircuitClosed {
		t.Fatalf("state after 2 failures = %v, want closed", got)
	}

	failN(cb, 1)
	if got := cb.State(); got != CircuitOpen {
		t.Fatalf("state after 3 failures = %v, want open", got)
	}

	calls := 0
	err := cb.Execute(context.Background(), func(_ context.Context) error {
		calls++
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if calls != 0 {
		t.Error("open circuit must not run the call")
	}
}

func TestCircuitBreaker_SuccessClearsStrikes(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute})
	frozenClock(cb)

	failN(cb, 2)
	_ = cb.Execute(context.Background(), func(_ context.Context) error { return nil })
	failN(cb, 2)

	if got := cb.State(); got != CircuitClosed {
		t.Errorf("state = %v, want closed while failures stay under threshold", got)
	}

	failN(cb, 1)
	if got := cb.State(); got != CircuitOpen {
		t.Errorf("state = %v, want open after a fresh run of 3", got)
	}
}

func TestCircuitBreaker_CooldownAdmitsProbe(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: 30 * time.Second})
	clock := frozenClock(cb)

	failN(cb, 1)
	if got := cb.State(); got != CircuitOpen {
		t.Fatalf("state = %v, want open", got)
	}

	*clock = clock.Add(31 * time.Second)
	if got := cb.State(); got != CircuitHalfOpen {
		t.Fatalf("state after cooldown = %v, want half-open", got)
	}

	err := cb.Execute(context.Background(), func(_ context.Context) error { return nil })
	if err != nil {
		t.Fatalf("probe failed: %v", err)
	}
	if got := cb.State(); got != CircuitClosed {
		t.Errorf("state after successful probe = %v, want closed", got)
	}
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: 30 * time.Second})
	clock := frozenClock(cb)

	failN(cb, 1)
	*clock = clock.Add(31 * time.Second)
	failN(cb, 1) // probe fails

	if got := cb.State(); got != CircuitOpen {
		t.Fatalf("state = %v, want open after failed probe", got)
	}

	// The failed probe starts a fresh cooldown.
	err := cb.Execute(context.Background(), func(_ context.Context) error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen during new cooldown", err)
	}

	*clock = clock.Add(31 * time.Second)
	if err := cb.Execute(context.Background(), func(_ context.Context) error { return nil }); err != nil {
		t.Fatalf("probe after second cooldown: %v", err)
	}
	if got := cb.State(); got != CircuitClosed {
		t.Errorf("state = %v, want closed", got)
	}
}

func TestCircuitBreaker_MultipleProbesToClose(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold:  1,
		ResetTimeout:      time.Second,
		HalfOpenMaxProbes: 2,
	})
	clock := frozenClock(cb)

	failN(cb, 1)
	*clock = clock.Add(2 * time.Second)

	_ = cb.Execute(context.Background(), func(_ context.Context) error { return nil })
	if got := cb.State(); got != CircuitHalfOpen {
		t.Fatalf("state after first probe = %v, want still half-open", got)
	}

	_ = cb.Execute(context.Background(), func(_ context.Context) error { return nil })
	if got := cb.State(); got != CircuitClosed {
		t.Errorf("state after second probe = %v, want closed", got)
	}
}

func TestCircuitBreaker_ShouldTripFilter(t *testing.T) {
	notFound := errors.New("place not found")
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Minute,
		ShouldTrip:       func(err error) bool { return !errors.Is(err, notFound) },
	})
	frozenClock(cb)

	for range 5 {
		_ = cb.Execute(context.Background(), func(_ context.Context) error { return notFound })
	}
	if got := cb.State(); got != CircuitClosed {
		t.Fatalf("state = %v, want closed when errors do not trip", got)
	}

	failN(cb, 1)
	if got := cb.State(); got != CircuitOpen {
		t.Errorf("state = %v, want open on a trip-worthy error", got)
	}
}

func TestCircuitBreaker_OnStateChangeSequence(t *testing.T) {
	type hop struct{ from, to CircuitState }
	var hops []hop

	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Second,
		OnStateChange:    func(from, to CircuitState) { hops = append(hops, hop{from, to}) },
	})
	clock := frozenClock(cb)

	failN(cb, 1)
	*clock = clock.Add(2 * time.Second)
	_ = cb.Execute(context.Background(), func(_ context.Context) error { return nil })

	want := []hop{
		{CircuitClosed, CircuitOpen},
		{CircuitOpen, CircuitHalfOpen},
		{CircuitHalfOpen, CircuitClosed},
	}
	if len(hops) != len(want) {
		t.Fatalf("transitions = %v, want %v", hops, want)
	}
	for i := range want {
		if hops[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, hops[i], want[i])
		}
	}
}

func TestCircuitBreaker_ErrorPassthrough(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())
	err := cb.Execute(context.Background(), func(_ context.Context) error { return errAuthorityDown })
	if !errors.Is(err, errAuthorityDown) {
		t.Errorf("err = %v, want the call's own error", err)
	}
}

func TestCircuitState_String(t *testing.T) {
	tests := map[CircuitState]string{
		CircuitClosed:   "closed",
		CircuitOpen:     "open",
		CircuitHalfOpen: "half-open",
		CircuitState(9): "unknown",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("String(%d) = %q, want %q", int(state), got, want)
		}
	}
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})
	if cb.cfg.FailureThreshold != defaultFailureThreshold {
		t.Errorf("FailureThreshold = %d", cb.cfg.FailureThreshold)
	}
	if cb.cfg.ResetTimeout != defaultResetTimeout {
		t.Errorf("ResetTimeout = %v", cb.cfg.ResetTimeout)
	}
	if cb.cfg.HalfOpenMaxProbes != 1 {
		t.Errorf("HalfOpenMaxProbes = %d", cb.cfg.HalfOpenMaxProbes)
	}
}

func TestFromCircuitConfig(t *testing.T) {
	cfg := FromCircuitConfig(8, 45)
	if cfg.FailureThreshold != 8 {
		t.Errorf("FailureThreshold = %d, want 8", cfg.FailureThreshold)
	}
	if cfg.ResetTimeout != 45*time.Second {
		t.Errorf("ResetTimeout = %v, want 45s", cfg.ResetTimeout)
	}

	zero := FromCircuitConfig(0, 0)
	if zero.FailureThreshold != defaultFailureThreshold || zero.ResetTimeout != defaultResetTimeout {
		t.Errorf("zero config = %+v, want defaults", zero)
	}
}
