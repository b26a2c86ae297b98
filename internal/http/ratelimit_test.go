package http

import (
	"testing"
	"time"
)

func TestRateLimiterEnforcesConfiguredLimit(t *testing.T) {
	rl := newRateLimiter(3, time.Minute)
	defer rl.stop()

	metrics := &securityMetrics{}
	for i := 0; i < 3; i++ {
		if !rl.allow("10.0.0.1", metrics) {
			t.Fatalf("request %d denied under the limit", i+1)
		}
	}
	if rl.allow("10.0.0.1", metrics) {
		t.Fatal("over-limit request allowed")
	}
	if metrics.rateLimitHits != 1 {
		t.Fatalf("rateLimitHits = %d", metrics.rateLimitHits)
	}

	// Other clients keep their own budget.
	if !rl.allow("10.0.0.2", metrics) {
		t.Fatal("unrelated client denied")
	}
}

func TestRateLimiterWindowReset(t *testing.T) {
	rl := newRateLimiter(1, 20*time.Millisecond)
	defer rl.stop()

	if !rl.allow("10.0.0.1", nil) {
		t.Fatal("first request denied")
	}
	if rl.allow("10.0.0.1", nil) {
		t.Fatal("second request in the same window allowed")
	}

	time.Sleep(25 * time.Millisecond)
	if !rl.allow("10.0.0.1", nil) {
		t.Fatal("request after window expiry denied")
	}
}
