package gateway

import (
	"testing"
	"time"
)

func TestRateLimiterBurst(t *testing.T) {
	rl := newRateLimiter(3, time.Hour)

	for i := 0; i < 3; i++ {
		if !rl.allow() {
			t.Fatalf("message %d within burst was denied", i+1)
		}
	}
	if rl.allow() {
		t.Error("message beyond burst was allowed")
	}
}

func TestRateLimiterRefill(t *testing.T) {
	rl := newRateLimiter(2, 100*time.Millisecond)

	rl.allow()
	rl.allow()
	if rl.allow() {
		t.Fatal("bucket should be empty")
	}

	time.Sleep(120 * time.Millisecond)
	if !rl.allow() {
		t.Error("bucket did not refill")
	}
}

func TestRateLimiterZeroConfig(t *testing.T) {
	rl := newRateLimiter(0, 0)
	if !rl.allow() {
		t.Error("zero-valued limiter should still allow one message")
	}
}
