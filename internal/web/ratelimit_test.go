package web

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiter_Allow(t *testing.T) {
	tests := []struct {
		name     string
		burst    int
		requests int
		want     int
	}{
		{name: "all requests allowed", burst: 10, requests: 5, want: 5},
		{name: "some requests denied", burst: 3, requests: 5, want: 3},
		{name: "exactly at burst", burst: 5, requests: 5, want: 5},
		{name: "zero burst allows one", burst: 0, requests: 3, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// One token per hour: no refill during the test
			rl := newRateLimiter(1.0/3600, tt.burst)

			allowed := 0
			for i := 0; i < tt.requests; i++ {
				if rl.allow("session") {
					allowed++
				}
			}
			if allowed != tt.want {
				t.Errorf("allowed %d requests, want %d", allowed, tt.want)
			}
		})
	}
}

func TestRateLimiter_PerSession(t *testing.T) {
	rl := newRateLimiter(1.0/3600, 1)

	if !rl.allow("a") {
		t.Fatal("first request for a denied")
	}
	if rl.allow("a") {
		t.Error("second request for a allowed")
	}
	if !rl.allow("b") {
		t.Error("session b limited by session a")
	}
}

func TestRateLimiter_Disabled(t *testing.T) {
	rl := newRateLimiter(0, 1)
	for i := 0; i < 100; i++ {
		if !rl.allow("a") {
			t.Fatalf("request %d denied with limiting disabled", i)
		}
	}
}

func TestRateLimiter_Refill(t *testing.T) {
	rl := newRateLimiter(100, 1)
	if !rl.allow("a") {
		t.Fatal("first request denied")
	}
	time.Sleep(30 * time.Millisecond)
	if !rl.allow("a") {
		t.Error("request denied after refill interval")
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := newRateLimiter(1, 1)
	rl.allow("a")
	rl.allow("b")

	rl.cleanup("a")
	if rl.count() != 1 {
		t.Fatalf("count() = %d after cleanup, want 1", rl.count())
	}

	rl.mu.Lock()
	rl.sessions["b"].lastAccess = time.Now().Add(-time.Hour)
	rl.mu.Unlock()

	rl.cleanupStale(30 * time.Minute)
	if rl.count() != 0 {
		t.Errorf("count() = %d after stale cleanup, want 0", rl.count())
	}
}

func TestRateLimiter_StartCleanupStops(t *testing.T) {
	rl := newRateLimiter(1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	rl.startCleanup(ctx)
	cancel()
	rl.wait()
}
