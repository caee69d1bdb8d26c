package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/summit-chronicles/summit_api/shared"
)

func newTestTracker(clock *testClock) *AbuseTrackerService {
	svc := &AbuseTrackerService{}
	svc.records = make(map[string]*suspiciousRecord)
	svc.now = clock.Now
	return svc
}

func TestEscalationWithinWindow(t *testing.T) {
	clock := newTestClock()
	svc := newTestTracker(clock)

	for i := 0; i < 4; i++ {
		blocked := svc.RecordViolation("1.2.3.4", shared.ViolationSpam)
		assert.False(t, blocked, "violation %d should not block yet", i+1)
		clock.Advance(time.Hour)
	}

	assert.False(t, svc.IsBlocked("1.2.3.4"))

	blocked := svc.RecordViolation("1.2.3.4", shared.ViolationSpam)
	assert.True(t, blocked, "fifth violation within 24h should block")
	assert.True(t, svc.IsBlocked("1.2.3.4"))
}

func TestSlowViolationsDoNotBlock(t *testing.T) {
	clock := newTestClock()
	svc := newTestTracker(clock)

	// Five violations, but spread over more than the escalation window
	for i := 0; i < 5; i++ {
		blocked := svc.RecordViolation("1.2.3.4", shared.ViolationRateLimitIP)
		assert.False(t, blocked)
		clock.Advance(7 * time.Hour)
	}

	assert.False(t, svc.IsBlocked("1.2.3.4"))
}

func TestLazyUnblockResetsCounter(t *testing.T) {
	clock := newTestClock()
	svc := newTestTracker(clock)

	for i := 0; i < 5; i++ {
		svc.RecordViolation("1.2.3.4", shared.ViolationToxicity)
	}
	require.True(t, svc.IsBlocked("1.2.3.4"))

	clock.Advance(23 * time.Hour)
	assert.True(t, svc.IsBlocked("1.2.3.4"), "block holds inside 24h")

	clock.Advance(2 * time.Hour)
	assert.False(t, svc.IsBlocked("1.2.3.4"), "block lifts after 24h quiet")

	// The counter restarted: one new violation must not re-block
	blocked := svc.RecordViolation("1.2.3.4", shared.ViolationSpam)
	assert.False(t, blocked)
	assert.False(t, svc.IsBlocked("1.2.3.4"))
}

func TestGetStats(t *testing.T) {
	clock := newTestClock()
	svc := newTestTracker(clock)

	for i := 0; i < 5; i++ {
		svc.RecordViolation("1.2.3.4", shared.ViolationSpam)
	}
	svc.RecordViolation("5.6.7.8", shared.ViolationSpam)

	clock.Advance(30 * time.Hour)
	svc.RecordViolation("9.9.9.9", shared.ViolationToxicity)

	stats := svc.GetStats()
	assert.Equal(t, 1, stats.BlockedIPs)
	assert.Equal(t, int64(7), stats.TotalViolations)
	assert.Equal(t, int64(1), stats.RecentViolations, "only the fresh address counts as recent")
}
