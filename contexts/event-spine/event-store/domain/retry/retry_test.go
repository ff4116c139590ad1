package retry

import (
	"testing"
	"time"
)

func TestNextDelayGrowsExponentially(t *testing.T) {
	base := time.Second
	previous := time.Duration(0)
	for attempt := 1; attempt <= 5; attempt++ {
		delay := NextDelay(base, attempt)
		floor := base << uint(attempt)
		ceiling := floor + time.Duration(float64(floor)*jitterFactor)
		if delay < floor || delay > ceiling {
			t.Fatalf("attempt %d: delay %v outside [%v, %v]", attempt, delay, floor, ceiling)
		}
		if delay <= previous {
			t.Fatalf("attempt %d: delay %v did not grow past %v", attempt, delay, previous)
		}
		previous = delay
	}
}

func TestNextDelayCapsExponentAndCeiling(t *testing.T) {
	// Past the exponent cap the floor stops growing.
	capped := NextDelay(time.Second, 50)
	floor := time.Second << exponentCap
	if capped < floor {
		t.Fatalf("expected at least %v, got %v", floor, capped)
	}
	if capped > MaxDelay {
		t.Fatalf("expected at most %v, got %v", MaxDelay, capped)
	}

	// A large base hits the one hour ceiling outright.
	if delay := NextDelay(30*time.Minute, 8); delay != MaxDelay {
		t.Fatalf("expected %v ceiling, got %v", MaxDelay, delay)
	}
}

func TestNextDelayDefaultsZeroBase(t *testing.T) {
	delay := NextDelay(0, 1)
	if delay < 2*time.Second {
		t.Fatalf("expected base to default to 1s, got %v", delay)
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(1) || !Retryable(MaxRetries) {
		t.Fatalf("expected attempts within budget to stay retryable")
	}
	if Retryable(MaxRetries + 1) {
		t.Fatalf("expected attempts beyond budget to exhaust")
	}
}
