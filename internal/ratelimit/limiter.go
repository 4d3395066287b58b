// Package ratelimit admits webhook deliveries through two token buckets:
// a global one keyed by source IP and a narrower one keyed by trigger.
// A request must clear both; neither bucket is drained when the other
// rejects.
package ratelimit

import (
	"context"
	"hash/fnv"
	"math"
	"sync"
	"time"

	"trigger-server/internal/config"
	"trigger-server/internal/observability"

	"golang.org/x/time/rate"
)

const shardCount = 32

// Result represents the outcome of an admission check
type Result struct {
	Allowed bool
	// Scope names the bucket that rejected: "ip" or "trigger"
	Scope string
	// RetryAfter is how long the client should wait before retrying
	RetryAfter time.Duration
}

// RetryAfterSeconds returns the Retry-After header value, at least 1.
func (r Result) RetryAfterSeconds() int {
	secs := int(math.Ceil(r.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

type bucket struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

type shard struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

type tier struct {
	shards   [shardCount]*shard
	capacity int
	refill   rate.Limit
}

func newTier(capacity int, refill float64) *tier {
	t := &tier{capacity: capacity, refill: rate.Limit(refill)}
	for i := range t.shards {
		t.shards[i] = &shard{buckets: make(map[string]*bucket)}
	}
	return t
}

func (t *tier) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return t.shards[h.Sum32()%shardCount]
}

// get returns the bucket for key, creating it full on first sight.
func (t *tier) get(key string, now time.Time) *rate.Limiter {
	s := t.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(t.refill, t.capacity)}
		s.buckets[key] = b
	}
	b.lastUsed = now
	return b.limiter
}

// evictIdle drops buckets unused past the cutoff that have refilled
// completely, so dropping them loses no state.
func (t *tier) evictIdle(cutoff time.Time) int {
	evicted := 0
	for _, s := range t.shards {
		s.mu.Lock()
		for key, b := range s.buckets {
			if b.lastUsed.Before(cutoff) && b.limiter.Tokens() >= float64(t.capacity) {
				delete(s.buckets, key)
				evicted++
			}
		}
		s.mu.Unlock()
	}
	return evicted
}

func (t *tier) size() int {
	n := 0
	for _, s := range t.shards {
		s.mu.Lock()
		n += len(s.buckets)
		s.mu.Unlock()
	}
	return n
}

// Service is the two-tier admission controller for the webhook surface.
type Service struct {
	ipTier      *tier
	triggerTier *tier
	eviction    time.Duration
	logger      *observability.Logger
}

// New creates a rate limit service from config
func New(cfg config.RateLimitConfig, logger *observability.Logger) *Service {
	return &Service{
		ipTier:      newTier(cfg.GlobalCapacity, cfg.GlobalRefill),
		triggerTier: newTier(cfg.TriggerCapacity, cfg.TriggerRefill),
		eviction:    cfg.EvictionInterval,
		logger:      logger,
	}
}

// Allow reserves one token from the IP bucket and one from the trigger
// bucket. When either bucket cannot serve immediately, both reservations
// are cancelled so a rejected request consumes nothing, and the result
// carries the wait the client should observe.
func (s *Service) Allow(ip, triggerID string) Result {
	now := time.Now()

	ipRes := s.ipTier.get(ip, now).ReserveN(now, 1)
	trigRes := s.triggerTier.get(triggerID, now).ReserveN(now, 1)

	ipDelay := ipRes.DelayFrom(now)
	trigDelay := trigRes.DelayFrom(now)

	if ipDelay == 0 && trigDelay == 0 {
		return Result{Allowed: true}
	}

	ipRes.CancelAt(now)
	trigRes.CancelAt(now)

	scope := "ip"
	retryAfter := ipDelay
	if trigDelay > ipDelay {
		scope = "trigger"
		retryAfter = trigDelay
	}
	return Result{Scope: scope, RetryAfter: retryAfter}
}

// RunEviction periodically drops idle, fully refilled buckets until the
// context is cancelled. Intended to run as a background goroutine.
func (s *Service) RunEviction(ctx context.Context) {
	ticker := time.NewTicker(s.eviction)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-s.eviction)
			evicted := s.ipTier.evictIdle(cutoff) + s.triggerTier.evictIdle(cutoff)
			if evicted > 0 {
				s.logger.Info(observability.WithFields(ctx,
					observability.Field{Key: "evicted_buckets", Value: evicted},
				), "evicted idle rate limit buckets")
			}
		}
	}
}

// BucketCount reports how many buckets are live across both tiers.
func (s *Service) BucketCount() int {
	return s.ipTier.size() + s.triggerTier.size()
}
