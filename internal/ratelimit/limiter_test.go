package ratelimit

import (
	"fmt"
	"testing"
	"time"

	"trigger-server/internal/config"
	"trigger-server/internal/observability"
)

func newTestService(global, trigger int) *Service {
	return New(config.RateLimitConfig{
		GlobalCapacity:   global,
		GlobalRefill:     0.001, // effectively no refill within a test
		TriggerCapacity:  trigger,
		TriggerRefill:    0.001,
		EvictionInterval: 10 * time.Minute,
	}, observability.NewLogger())
}

func TestAllowWithinCapacity(t *testing.T) {
	s := newTestService(10, 5)

	for i := 0; i < 5; i++ {
		res := s.Allow("203.0.113.7", "trigger-a")
		if !res.Allowed {
			t.Fatalf("request %d rejected within capacity", i)
		}
	}
}

func TestTriggerBucketExhaustsFirst(t *testing.T) {
	s := newTestService(10, 3)

	for i := 0; i < 3; i++ {
		if res := s.Allow("203.0.113.7", "trigger-a"); !res.Allowed {
			t.Fatalf("request %d rejected within capacity", i)
		}
	}

	res := s.Allow("203.0.113.7", "trigger-a")
	if res.Allowed {
		t.Fatal("expected rejection past trigger capacity")
	}
	if res.Scope != "trigger" {
		t.Errorf("Scope = %q, want trigger", res.Scope)
	}
	if res.RetryAfterSeconds() < 1 {
		t.Errorf("RetryAfterSeconds() = %d, want >= 1", res.RetryAfterSeconds())
	}
}

func TestIPBucketSharedAcrossTriggers(t *testing.T) {
	s := newTestService(4, 100)

	// Burst from one IP across distinct triggers drains only the IP bucket
	for i := 0; i < 4; i++ {
		if res := s.Allow("203.0.113.7", "trigger-a"); !res.Allowed {
			t.Fatalf("request %d rejected within capacity", i)
		}
	}

	res := s.Allow("203.0.113.7", "trigger-b")
	if res.Allowed {
		t.Fatal("expected rejection past ip capacity")
	}
	if res.Scope != "ip" {
		t.Errorf("Scope = %q, want ip", res.Scope)
	}

	// A different IP is unaffected
	if res := s.Allow("198.51.100.2", "trigger-b"); !res.Allowed {
		t.Error("other ip rejected while its bucket is full")
	}
}

func TestRejectionConsumesNothing(t *testing.T) {
	s := newTestService(10, 1)

	if res := s.Allow("203.0.113.7", "trigger-a"); !res.Allowed {
		t.Fatal("first request rejected")
	}

	// Burn rejections against the exhausted trigger bucket
	for i := 0; i < 8; i++ {
		if res := s.Allow("203.0.113.7", "trigger-a"); res.Allowed {
			t.Fatal("expected rejection on exhausted trigger bucket")
		}
	}

	// The IP bucket must still hold the other 9 tokens: rejections above
	// must not have drained it.
	for i := 0; i < 9; i++ {
		triggerID := fmt.Sprintf("trigger-%d", i)
		if res := s.Allow("203.0.113.7", triggerID); !res.Allowed {
			t.Fatalf("ip bucket drained by rejected requests (request %d)", i)
		}
	}
}

func TestEvictIdleKeepsDrainedBuckets(t *testing.T) {
	s := newTestService(2, 2)

	s.Allow("203.0.113.7", "trigger-a")

	// Nothing idle yet
	cutoff := time.Now().Add(-time.Minute)
	if n := s.ipTier.evictIdle(cutoff); n != 0 {
		t.Errorf("evicted %d fresh buckets", n)
	}

	// With a future cutoff everything is idle, but drained buckets hold
	// state and must survive.
	future := time.Now().Add(time.Minute)
	if n := s.triggerTier.evictIdle(future); n != 0 {
		t.Errorf("evicted %d drained buckets", n)
	}
}

func TestEvictIdleDropsFullBuckets(t *testing.T) {
	s := New(config.RateLimitConfig{
		GlobalCapacity:   2,
		GlobalRefill:     1000, // refills instantly
		TriggerCapacity:  2,
		TriggerRefill:    1000,
		EvictionInterval: 10 * time.Minute,
	}, observability.NewLogger())

	s.Allow("203.0.113.7", "trigger-a")
	time.Sleep(10 * time.Millisecond) // let the buckets refill

	future := time.Now().Add(time.Minute)
	evicted := s.ipTier.evictIdle(future) + s.triggerTier.evictIdle(future)
	if evicted != 2 {
		t.Errorf("evicted = %d, want 2", evicted)
	}
	if s.BucketCount() != 0 {
		t.Errorf("BucketCount() = %d, want 0", s.BucketCount())
	}
}

func TestRetryAfterSecondsFloor(t *testing.T) {
	r := Result{RetryAfter: 100 * time.Millisecond}
	if got := r.RetryAfterSeconds(); got != 1 {
		t.Errorf("RetryAfterSeconds() = %d, want 1", got)
	}
	r = Result{RetryAfter: 2500 * time.Millisecond}
	if got := r.RetryAfterSeconds(); got != 3 {
		t.Errorf("RetryAfterSeconds() = %d, want 3", got)
	}
}
