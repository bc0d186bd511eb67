package infra

import (
	"testing"
	"time"
)

func TestCalculateBackoff(t *testing.T) {
	for retry := 0; retry < 12; retry++ {
		d := CalculateBackoff(retry)
		if d < backoffBase {
			t.Errorf("retry %d: delay %v below base", retry, d)
		}
		// Cap plus the 25% jitter headroom.
		if d > backoffMax+backoffMax/4 {
			t.Errorf("retry %d: delay %v above cap", retry, d)
		}
	}
}

func TestCalculateBackoff_Growth(t *testing.T) {
	// Jitter aside, attempt 3 must wait at least the un-jittered attempt 1.
	if CalculateBackoff(3) < 2*time.Second {
		t.Error("backoff should grow with the retry count")
	}

	if d := CalculateBackoff(-1); d < backoffBase {
		t.Errorf("negative retry should clamp to base, got %v", d)
	}
}
