package services

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// BucketDecision is the outcome of one consumption attempt against a bucket.
type BucketDecision struct {
	Allowed      bool
	Remaining    int
	ResetAt      time.Time
	BlockedUntil *time.Time
}

// BucketStore applies a single consumption attempt atomically per
// (identifier, operation) key. Two concurrent consumes for the same key must
// never both observe the same remaining point. Implementations hold all
// state themselves so the limiter logic stays identical between a
// single-process deployment (memory) and a shared multi-instance one (redis).
type BucketStore interface {
	Consume(ctx context.Context, identifier, operation string, cfg *RateLimitConfig, now time.Time) (*BucketDecision, error)
	Reset(ctx context.Context, identifier string) error
}

// ==================== IN-MEMORY STORE ====================

type bucketState struct {
	count        int
	windowStart  time.Time
	blockedUntil time.Time
}

type MemoryBucketStore struct {
	mutex   sync.Mutex
	buckets map[string]*bucketState
}

func NewMemoryBucketStore() *MemoryBucketStore {
	return &MemoryBucketStore{buckets: make(map[string]*bucketState)}
}

func bucketKey(identifier, operation string) string {
	return operation + ":" + identifier
}

func (s *MemoryBucketStore) Consume(_ context.Context, identifier, operation string, cfg *RateLimitConfig, now time.Time) (*BucketDecision, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	key := bucketKey(identifier, operation)
	b, exists := s.buckets[key]

	if exists && now.Before(b.blockedUntil) {
		blocked := b.blockedUntil
		return &BucketDecision{Remaining: 0, ResetAt: blocked, BlockedUntil: &blocked}, nil
	}

	// Fresh key or elapsed window: start a new window with this consume
	if !exists || now.Sub(b.windowStart) >= cfg.Duration {
		s.buckets[key] = &bucketState{count: 1, windowStart: now}
		return &BucketDecision{
			Allowed:   true,
			Remaining: cfg.Points - 1,
			ResetAt:   now.Add(cfg.Duration),
		}, nil
	}

	if b.count >= cfg.Points {
		// Exhausted: the penalty window starts now and outlives the refill
		b.blockedUntil = now.Add(cfg.BlockDuration)
		blocked := b.blockedUntil
		return &BucketDecision{Remaining: 0, ResetAt: blocked, BlockedUntil: &blocked}, nil
	}

	b.count++
	return &BucketDecision{
		Allowed:   true,
		Remaining: cfg.Points - b.count,
		ResetAt:   b.windowStart.Add(cfg.Duration),
	}, nil
}

func (s *MemoryBucketStore) Reset(_ context.Context, identifier string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	suffix := ":" + identifier
	for key := range s.buckets {
		if len(key) >= len(suffix) && key[len(key)-len(suffix):] == suffix {
			delete(s.buckets, key)
		}
	}
	return nil
}

// Cleanup drops buckets whose window and block have both long expired.
func (s *MemoryBucketStore) Cleanup(now time.Time, maxWindow time.Duration) int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	removed := 0
	for key, b := range s.buckets {
		if now.Sub(b.windowStart) > maxWindow && now.After(b.blockedUntil) {
			delete(s.buckets, key)
			removed++
		}
	}
	return removed
}

// ==================== REDIS STORE ====================

// RedisBucketStore keeps bucket counters in redis so N instances share one
// budget. Counters use INCR with a window TTL; penalty blocks are separate
// keys with the block TTL.
type RedisBucketStore struct {
	client *redis.Client
}

func NewRedisBucketStore(client *redis.Client) *RedisBucketStore {
	return &RedisBucketStore{client: client}
}

func (s *RedisBucketStore) counterKey(identifier, operation string) string {
	return fmt.Sprintf("rl:%s:%s", operation, identifier)
}

func (s *RedisBucketStore) blockKey(identifier, operation string) string {
	return fmt.Sprintf("rl:block:%s:%s", operation, identifier)
}

func (s *RedisBucketStore) Consume(ctx context.Context, identifier, operation string, cfg *RateLimitConfig, now time.Time) (*BucketDecision, error) {
	blockTTL, err := s.client.PTTL(ctx, s.blockKey(identifier, operation)).Result()
	if err != nil {
		return nil, err
	}
	if blockTTL > 0 {
		blocked := now.Add(blockTTL)
		return &BucketDecision{Remaining: 0, ResetAt: blocked, BlockedUntil: &blocked}, nil
	}

	key := s.counterKey(identifier, operation)
	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	if count == 1 {
		if err := s.client.PExpire(ctx, key, cfg.Duration).Err(); err != nil {
			return nil, err
		}
	}

	windowTTL, err := s.client.PTTL(ctx, key).Result()
	if err != nil || windowTTL < 0 {
		windowTTL = cfg.Duration
	}
	resetAt := now.Add(windowTTL)

	if int(count) > cfg.Points {
		blocked := now.Add(cfg.BlockDuration)
		if err := s.client.Set(ctx, s.blockKey(identifier, operation), strconv.FormatInt(blocked.UnixMilli(), 10), cfg.BlockDuration).Err(); err != nil {
			return nil, err
		}
		return &BucketDecision{Remaining: 0, ResetAt: blocked, BlockedUntil: &blocked}, nil
	}

	return &BucketDecision{
		Allowed:   true,
		Remaining: cfg.Points - int(count),
		ResetAt:   resetAt,
	}, nil
}

func (s *RedisBucketStore) Reset(ctx context.Context, identifier string) error {
	var keys []string
	for _, pattern := range []string{
		fmt.Sprintf("rl:*:%s", identifier),
		fmt.Sprintf("rl:block:*:%s", identifier),
	} {
		found, err := s.client.Keys(ctx, pattern).Result()
		if err != nil {
			return err
		}
		keys = append(keys, found...)
	}
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}
