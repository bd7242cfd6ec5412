package ratelimit

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestAllowWithinLimit(t *testing.T) {
	redis := miniredis.RunT(t)
	limiter, err := NewRedisFixedWindowLimiter(redis.Addr(), "", "test", 3, time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	for i := 0; i < 3; i++ {
		if !limiter.Allow("1.2.3.4") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if limiter.Allow("1.2.3.4") {
		t.Fatal("fourth request should be blocked")
	}
	// A different key has its own quota.
	if !limiter.Allow("5.6.7.8") {
		t.Fatal("other key should be allowed")
	}
}

func TestAllowResetsAfterWindow(t *testing.T) {
	redis := miniredis.RunT(t)
	limiter, err := NewRedisFixedWindowLimiter(redis.Addr(), "", "test", 1, time.Second)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	if !limiter.Allow("1.2.3.4") {
		t.Fatal("first request should be allowed")
	}
	if limiter.Allow("1.2.3.4") {
		t.Fatal("second request should be blocked")
	}
	// The window key is derived from wall-clock buckets; waiting past the
	// window lands in a fresh bucket.
	time.Sleep(1100 * time.Millisecond)
	if !limiter.Allow("1.2.3.4") {
		t.Fatal("request in the next window should be allowed")
	}
}

func TestFailsClosedWhenRedisDown(t *testing.T) {
	redis := miniredis.RunT(t)
	limiter, err := NewRedisFixedWindowLimiter(redis.Addr(), "", "test", 5, time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	redis.Close()
	if limiter.Allow("1.2.3.4") {
		t.Fatal("limiter must fail closed when redis is unreachable")
	}
}

func TestConstructorValidation(t *testing.T) {
	if _, err := NewRedisFixedWindowLimiter("", "", "test", 5, time.Minute); err == nil {
		t.Fatal("expected error for missing addr")
	}
	if _, err := NewRedisFixedWindowLimiter("localhost:6379", "", "test", 0, time.Minute); err == nil {
		t.Fatal("expected error for zero limit")
	}
}
