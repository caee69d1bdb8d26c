package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMonitor(t *testing.T, clock *testClock) *APIMonitorService {
	t.Helper()
	svc := &APIMonitorService{}
	require.NoError(t, svc.Configure(nil))
	svc.now = clock.Now
	return svc
}

func okMeta() *ResponseMetadata {
	return &ResponseMetadata{StatusCode: http.StatusOK}
}

func TestCacheEfficiency(t *testing.T) {
	clock := newTestClock()
	svc := newTestMonitor(t, clock)

	for i := 0; i < 30; i++ {
		svc.RecordCacheHit("strava")
	}
	for i := 0; i < 70; i++ {
		svc.RecordCall("strava", okMeta(), clock.Now(), SourceAPI)
	}

	metrics := svc.GetMetrics("strava")
	assert.Equal(t, int64(100), metrics.TotalRequests)
	assert.Equal(t, int64(30), metrics.CacheHits)
	assert.Equal(t, int64(70), metrics.CacheMisses)
	assert.InDelta(t, 30.0, metrics.CacheEfficiency, 0.001)
}

func TestIdleSurfaceDefaults(t *testing.T) {
	clock := newTestClock()
	svc := newTestMonitor(t, clock)

	metrics := svc.GetMetrics("garmin")
	assert.Equal(t, int64(0), metrics.TotalRequests)
	assert.InDelta(t, 100.0, metrics.SuccessRate, 0.001)
	assert.InDelta(t, 0.0, metrics.CacheEfficiency, 0.001)
	assert.Equal(t, defaultBudget, metrics.RateLimitRemaining)

	health := svc.GetHealthStatus("garmin")
	assert.Equal(t, "healthy", health.Status)
	assert.Empty(t, health.Issues)
}

func TestAverageResponseIsRunningMean(t *testing.T) {
	clock := newTestClock()
	svc := newTestMonitor(t, clock)

	svc.RecordCall("strava", okMeta(), clock.Now().Add(-100*time.Millisecond), SourceAPI)
	svc.RecordCall("strava", okMeta(), clock.Now().Add(-200*time.Millisecond), SourceAPI)

	metrics := svc.GetMetrics("strava")
	assert.InDelta(t, 150.0, metrics.AverageResponseMs, 0.001)
}

func TestRateLimitedResponseAlerts(t *testing.T) {
	clock := newTestClock()
	svc := newTestMonitor(t, clock)

	svc.RecordCall("strava", &ResponseMetadata{StatusCode: http.StatusTooManyRequests}, clock.Now(), SourceAPI)

	metrics := svc.GetMetrics("strava")
	assert.Equal(t, int64(1), metrics.RateLimitedRequests)
	assert.Equal(t, int64(0), metrics.SuccessfulRequests)

	alerts := svc.GetRecentAlerts("strava", time.Hour)
	require.Len(t, alerts, 1)
	assert.Equal(t, "rate_limit", alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
}

func TestBudgetHeaderParsing(t *testing.T) {
	clock := newTestClock()
	svc := newTestMonitor(t, clock)

	header := http.Header{}
	header.Set("X-RateLimit-Remaining", "42")
	header.Set("X-RateLimit-Reset", "600")
	svc.RecordCall("strava", &ResponseMetadata{StatusCode: http.StatusOK, Header: header}, clock.Now(), SourceAPI)

	status := svc.GetRateLimitStatus("strava")
	assert.Equal(t, 42, status.Remaining)
	assert.True(t, status.IsNearLimit)
	assert.True(t, status.IsCritical)
	assert.Equal(t, clock.Now().Add(600*time.Second), status.ResetTime)

	// 42 remaining is under the critical threshold
	alerts := svc.GetRecentAlerts("strava", time.Hour)
	require.NotEmpty(t, alerts)
	last := alerts[len(alerts)-1]
	assert.Equal(t, "rate_limit", last.Type)
	assert.Equal(t, "critical", last.Severity)

	health := svc.GetHealthStatus("strava")
	assert.Equal(t, "critical", health.Status)
	assert.Contains(t, health.Issues, "Rate limit critically low")
	assert.Contains(t, health.Recommendations, "Reduce API polling frequency")
}

func TestSlowCallAlert(t *testing.T) {
	clock := newTestClock()
	svc := newTestMonitor(t, clock)

	svc.RecordCall("strava", okMeta(), clock.Now().Add(-6*time.Second), SourceAPI)

	alerts := svc.GetRecentAlerts("strava", time.Hour)
	require.Len(t, alerts, 1)
	assert.Equal(t, "performance", alerts[0].Type)
}

func TestAlertsCapped(t *testing.T) {
	clock := newTestClock()
	svc := newTestMonitor(t, clock)

	for i := 0; i < 60; i++ {
		svc.RecordCall("strava", &ResponseMetadata{StatusCode: http.StatusBadGateway}, clock.Now(), SourceAPI)
	}

	alerts := svc.GetRecentAlerts("strava", 24*time.Hour)
	assert.Len(t, alerts, maxAlerts)
}

func TestHealthWarnsOnLowSuccessRate(t *testing.T) {
	clock := newTestClock()
	svc := newTestMonitor(t, clock)

	svc.RecordCall("strava", okMeta(), clock.Now(), SourceAPI)
	svc.RecordCall("strava", &ResponseMetadata{StatusCode: http.StatusInternalServerError}, clock.Now(), SourceAPI)

	health := svc.GetHealthStatus("strava")
	assert.Equal(t, "warning", health.Status)
	assert.Contains(t, health.Recommendations, "Investigate API failures")
}

func TestClearOldAlerts(t *testing.T) {
	clock := newTestClock()
	svc := newTestMonitor(t, clock)

	svc.RecordCall("strava", &ResponseMetadata{StatusCode: http.StatusBadGateway}, clock.Now(), SourceAPI)
	clock.Advance(48 * time.Hour)
	svc.RecordCall("strava", &ResponseMetadata{StatusCode: http.StatusBadGateway}, clock.Now(), SourceAPI)

	svc.ClearOldAlerts(24 * time.Hour)

	alerts := svc.GetRecentAlerts("strava", 72*time.Hour)
	require.Len(t, alerts, 1)
	assert.Equal(t, clock.Now(), alerts[0].Timestamp)
}

func TestExportShape(t *testing.T) {
	clock := newTestClock()
	svc := newTestMonitor(t, clock)

	svc.RecordCall("strava", okMeta(), clock.Now(), SourceAPI)

	export := svc.Export("strava")
	assert.Equal(t, "strava", export.Metrics.Surface)
	assert.Equal(t, clock.Now(), export.ExportTime)
	assert.NotNil(t, export.RecentAlerts)
	assert.Equal(t, "healthy", export.HealthStatus.Status)
}

func TestMonitoredCall(t *testing.T) {
	clock := newTestClock()
	svc := newTestMonitor(t, clock)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "500")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok": true}`))
	}))
	defer upstream.Close()

	resp, err := svc.MonitoredCall(context.Background(), "strava", upstream.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, resp.FromCache)
	assert.JSONEq(t, `{"ok": true}`, string(resp.Body))

	metrics := svc.GetMetrics("strava")
	assert.Equal(t, int64(1), metrics.TotalRequests)
	assert.Equal(t, int64(1), metrics.SuccessfulRequests)
	assert.Equal(t, 500, metrics.RateLimitRemaining)
}

func TestMonitoredCallRecordsFailure(t *testing.T) {
	clock := newTestClock()
	svc := newTestMonitor(t, clock)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer upstream.Close()

	resp, err := svc.MonitoredCall(context.Background(), "garmin", upstream.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	metrics := svc.GetMetrics("garmin")
	assert.Equal(t, int64(1), metrics.TotalRequests)
	assert.Equal(t, int64(0), metrics.SuccessfulRequests)
}
