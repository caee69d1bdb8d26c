package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/summit-chronicles/summit_api/shared"
)

type testClock struct {
	current time.Time
}

func newTestClock() *testClock {
	return &testClock{current: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	return c.current
}

func (c *testClock) Advance(d time.Duration) {
	c.current = c.current.Add(d)
}

func newTestLimiter(clock *testClock) *RateLimitService {
	svc := &RateLimitService{}
	svc.now = clock.Now
	svc.store = NewMemoryBucketStore()
	svc.initDefaultConfigs()
	return svc
}

func TestConsumeExhaustsBudget(t *testing.T) {
	clock := newTestClock()
	svc := newTestLimiter(clock)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		allowed, info, err := svc.Consume(ctx, "1.2.3.4", shared.OpAskAI)
		require.NoError(t, err)
		require.True(t, allowed, "request %d should be within budget", i+1)
		assert.Equal(t, 9-i, info.Remaining)
	}

	allowed, info, err := svc.Consume(ctx, "1.2.3.4", shared.OpAskAI)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, 0, info.Remaining)
	require.NotNil(t, info.BlockedUntil)
	assert.Equal(t, clock.Now().Add(30*time.Minute), *info.BlockedUntil)
}

func TestBlockOutlivesWindowRefill(t *testing.T) {
	clock := newTestClock()
	svc := newTestLimiter(clock)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		allowed, _, err := svc.Consume(ctx, "1.2.3.4", shared.OpExcelUpload)
		require.NoError(t, err)
		require.True(t, allowed)
	}

	allowed, _, err := svc.Consume(ctx, "1.2.3.4", shared.OpExcelUpload)
	require.NoError(t, err)
	require.False(t, allowed)

	// The hourly window has refilled but the 2h penalty has not elapsed
	clock.Advance(61 * time.Minute)
	allowed, info, err := svc.Consume(ctx, "1.2.3.4", shared.OpExcelUpload)
	require.NoError(t, err)
	assert.False(t, allowed)
	require.NotNil(t, info.BlockedUntil)

	clock.Advance(60 * time.Minute)
	allowed, info, err = svc.Consume(ctx, "1.2.3.4", shared.OpExcelUpload)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 4, info.Remaining)
}

func TestWindowRefillsWithoutBlock(t *testing.T) {
	clock := newTestClock()
	svc := newTestLimiter(clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, _, err := svc.Consume(ctx, "1.2.3.4", shared.OpExcelUpload)
		require.NoError(t, err)
		require.True(t, allowed)
	}

	clock.Advance(61 * time.Minute)
	allowed, info, err := svc.Consume(ctx, "1.2.3.4", shared.OpExcelUpload)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 4, info.Remaining, "a fresh window should start with this consume")
}

func TestBudgetsAreIndependent(t *testing.T) {
	clock := newTestClock()
	svc := newTestLimiter(clock)
	ctx := context.Background()

	for i := 0; i < 11; i++ {
		svc.Consume(ctx, "1.2.3.4", shared.OpAskAI)
	}

	// Exhausting ask_ai must not touch excel_upload for the same identifier,
	// nor ask_ai for another identifier.
	allowed, info, err := svc.Consume(ctx, "1.2.3.4", shared.OpExcelUpload)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 4, info.Remaining)

	allowed, info, err = svc.Consume(ctx, "5.6.7.8", shared.OpAskAI)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 9, info.Remaining)
}

func TestUnknownOperationAllowed(t *testing.T) {
	clock := newTestClock()
	svc := newTestLimiter(clock)

	allowed, info, err := svc.Consume(context.Background(), "1.2.3.4", "no_such_operation")
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, -1, info.Remaining)
}

func TestResetClearsAllBucketsForIdentifier(t *testing.T) {
	clock := newTestClock()
	svc := newTestLimiter(clock)
	ctx := context.Background()

	for i := 0; i < 11; i++ {
		svc.Consume(ctx, "1.2.3.4", shared.OpAskAI)
	}
	allowed, _, err := svc.Consume(ctx, "1.2.3.4", shared.OpAskAI)
	require.NoError(t, err)
	require.False(t, allowed)

	require.NoError(t, svc.Reset(ctx, "1.2.3.4"))

	allowed, info, err := svc.Consume(ctx, "1.2.3.4", shared.OpAskAI)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 9, info.Remaining)
}

func TestRedisBucketKeyShapes(t *testing.T) {
	store := NewRedisBucketStore(nil)
	assert.Equal(t, "rl:ask_ai:1.2.3.4", store.counterKey("1.2.3.4", "ask_ai"))
	assert.Equal(t, "rl:block:ask_ai:1.2.3.4", store.blockKey("1.2.3.4", "ask_ai"))
}

func TestMemoryStoreCleanup(t *testing.T) {
	clock := newTestClock()
	store := NewMemoryBucketStore()
	cfg := &RateLimitConfig{Points: 5, Duration: time.Hour, BlockDuration: time.Hour}

	_, err := store.Consume(context.Background(), "1.2.3.4", "op", cfg, clock.Now())
	require.NoError(t, err)

	assert.Equal(t, 0, store.Cleanup(clock.Now(), 2*time.Hour), "live bucket should survive")

	clock.Advance(3 * time.Hour)
	assert.Equal(t, 1, store.Cleanup(clock.Now(), 2*time.Hour))
}
