package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/jobd-io/jobd/internal/testutil"
)

func TestOpensAfterThreshold(t *testing.T) {
	cb := New(3, time.Minute)

	for i := 0; i < 2; i++ {
		cb.RecordFailure("job-a")
		if err := cb.Allow("job-a"); err != nil {
			t.Fatalf("allow after %d failures: %v", i+1, err)
		}
	}

	cb.RecordFailure("job-a")
	if err := cb.Allow("job-a"); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected open after threshold, got %v", err)
	}
}

func TestFailuresAreTrackedPerCode(t *testing.T) {
	cb := New(1, time.Minute)

	cb.RecordFailure("job-a")
	if err := cb.Allow("job-a"); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected job-a open, got %v", err)
	}
	if err := cb.Allow("job-b"); err != nil {
		t.Fatalf("job-b must be unaffected: %v", err)
	}
}

func TestSuccessResetsConsecutiveCounter(t *testing.T) {
	cb := New(3, time.Minute)

	cb.RecordFailure("job-a")
	cb.RecordFailure("job-a")
	cb.RecordSuccess("job-a")
	cb.RecordFailure("job-a")
	cb.RecordFailure("job-a")

	if err := cb.Allow("job-a"); err != nil {
		t.Fatalf("non-consecutive failures must not open the breaker: %v", err)
	}
}

func TestHalfOpenProbeAfterCooldown(t *testing.T) {
	clock := testutil.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	cb := New(1, time.Minute)
	cb.clock = clock.Now

	cb.RecordFailure("job-a")
	if err := cb.Allow("job-a"); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected open, got %v", err)
	}

	clock.Advance(59 * time.Second)
	if err := cb.Allow("job-a"); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("cooldown not elapsed, expected open, got %v", err)
	}

	clock.Advance(2 * time.Second)
	if err := cb.Allow("job-a"); err != nil {
		t.Fatalf("expected half-open probe allowed: %v", err)
	}

	// Only one probe until its outcome lands.
	if err := cb.Allow("job-a"); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected second probe rejected, got %v", err)
	}
}

func TestProbeOutcomeClosesOrReopens(t *testing.T) {
	clock := testutil.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	cb := New(1, time.Minute)
	cb.clock = clock.Now

	cb.RecordFailure("job-a")
	clock.Advance(2 * time.Minute)
	if err := cb.Allow("job-a"); err != nil {
		t.Fatalf("probe: %v", err)
	}

	cb.RecordSuccess("job-a")
	if err := cb.Allow("job-a"); err != nil {
		t.Fatalf("expected closed after successful probe: %v", err)
	}

	// Trip again; a failed probe re-opens immediately.
	cb.RecordFailure("job-a")
	clock.Advance(2 * time.Minute)
	if err := cb.Allow("job-a"); err != nil {
		t.Fatalf("probe: %v", err)
	}
	cb.RecordFailure("job-a")
	if err := cb.Allow("job-a"); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected re-opened after failed probe, got %v", err)
	}
}

func TestForgetClearsState(t *testing.T) {
	cb := New(1, time.Minute)

	cb.RecordFailure("job-a")
	if err := cb.Allow("job-a"); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected open, got %v", err)
	}

	cb.Forget("job-a")
	if err := cb.Allow("job-a"); err != nil {
		t.Fatalf("expected clean slate after Forget: %v", err)
	}
}
