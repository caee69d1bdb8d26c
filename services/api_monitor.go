package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	appContext "github.com/alphabatem/common/context"
	"github.com/google/uuid"
	"github.com/summit-chronicles/summit_api/dto"
	"github.com/summit-chronicles/summit_api/model"
	log "github.com/sirupsen/logrus"
)

// APIMonitorService tracks the health of outbound third-party API calls, one
// monitor per surface (strava, garmin, ...): call counts, cache efficiency,
// latency, the upstream's remaining rate-limit budget, and threshold alerts.
//
// All bookkeeping is in-memory and lock-per-surface; snapshots and alerts are
// flushed to sqlite on a ticker so persistence never taxes the call path.
type APIMonitorService struct {
	appContext.DefaultService

	mutex    sync.RWMutex
	monitors map[string]*surfaceMonitor

	now        func() time.Time
	httpClient *http.Client
	cacheTTL   time.Duration

	sqlSvc   *SqliteService
	redisSvc *RedisService
	minioSvc *MinIOService
	monSvc   *MonitoringService

	closed chan struct{}
}

type surfaceMonitor struct {
	mutex sync.Mutex

	surface             string
	totalRequests       int64
	successfulRequests  int64
	rateLimitedRequests int64
	cacheHits           int64
	cacheMisses         int64
	averageResponseMs   float64
	lastRequestAt       time.Time
	rateLimitRemaining  int
	rateLimitResetAt    time.Time

	alerts        []dto.AlertInfo
	pendingAlerts []dto.AlertInfo
	dirty         bool
}

// ResponseMetadata is the slice of an upstream response the monitor cares
// about. Nil metadata means the call never produced a response.
type ResponseMetadata struct {
	StatusCode int
	Header     http.Header
}

type UpstreamResponse struct {
	StatusCode int
	Body       []byte
	FromCache  bool
}

const (
	API_MONITOR_SVC = "api_monitor_svc"

	SourceAPI   = "api"
	SourceCache = "cache"

	maxAlerts = 50

	// Budget the upstream is assumed to have before the first response
	// reports real headers (Strava's default read limit).
	defaultBudget = 600

	slowCallThresholdMs = 5000
	budgetWarnAt        = 100
	budgetCriticalAt    = 50
	budgetNearLimitAt   = 200
)

func (svc APIMonitorService) Id() string {
	return API_MONITOR_SVC
}

func (svc *APIMonitorService) Configure(ctx *appContext.Context) error {
	svc.monitors = make(map[string]*surfaceMonitor)
	svc.now = time.Now
	svc.httpClient = &http.Client{Timeout: 15 * time.Second}
	svc.closed = make(chan struct{})

	svc.cacheTTL = 10 * time.Minute
	if ttl := os.Getenv("UPSTREAM_CACHE_TTL"); ttl != "" {
		if parsed, err := time.ParseDuration(ttl); err == nil {
			svc.cacheTTL = parsed
		}
	}

	return svc.DefaultService.Configure(ctx)
}

func (svc *APIMonitorService) Start() error {
	svc.sqlSvc, _ = svc.Service(SQLITE_SVC).(*SqliteService)
	svc.redisSvc, _ = svc.Service(REDIS_SVC).(*RedisService)
	svc.minioSvc, _ = svc.Service(MINIO_SVC).(*MinIOService)
	svc.monSvc, _ = svc.Service(MONITORING_SVC).(*MonitoringService)

	svc.loadSnapshots()

	go svc.startFlushJob()
	go svc.startAlertPruneJob()
	return nil
}

func (svc *APIMonitorService) Shutdown() {
	close(svc.closed)
	svc.flush()
}

func (svc *APIMonitorService) monitor(surface string) *surfaceMonitor {
	svc.mutex.RLock()
	m, exists := svc.monitors[surface]
	svc.mutex.RUnlock()
	if exists {
		return m
	}

	svc.mutex.Lock()
	defer svc.mutex.Unlock()
	if m, exists = svc.monitors[surface]; exists {
		return m
	}
	m = &surfaceMonitor{surface: surface, rateLimitRemaining: defaultBudget}
	svc.monitors[surface] = m
	return m
}

// ==================== CALL RECORDING ====================

// RecordCall folds one outbound call into the surface's running metrics. A
// cache-sourced call only counts as a hit: it is assumed successful and free,
// so no header or status processing happens.
func (svc *APIMonitorService) RecordCall(surface string, meta *ResponseMetadata, startTime time.Time, source string) {
	now := svc.now()
	responseMs := float64(now.Sub(startTime).Milliseconds())

	m := svc.monitor(surface)
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.totalRequests++
	m.lastRequestAt = now
	m.averageResponseMs = (m.averageResponseMs*float64(m.totalRequests-1) + responseMs) / float64(m.totalRequests)
	m.dirty = true

	if source == SourceCache {
		m.cacheHits++
		svc.recordPrometheus(surface, "cache", 0)
		return
	}

	m.cacheMisses++

	status := 0
	if meta != nil {
		status = meta.StatusCode
		svc.updateBudget(m, meta.Header, now)

		switch {
		case status >= 200 && status < 300:
			m.successfulRequests++
		case status == http.StatusTooManyRequests:
			m.rateLimitedRequests++
			svc.addAlertLocked(m, dto.AlertInfo{
				Type:      "rate_limit",
				Severity:  "high",
				Message:   fmt.Sprintf("Rate limit hit. Remaining: %d", m.rateLimitRemaining),
				Timestamp: now,
				Data:      map[string]interface{}{"response_ms": responseMs, "status": status},
			})
		default:
			svc.addAlertLocked(m, dto.AlertInfo{
				Type:      "error",
				Severity:  "medium",
				Message:   fmt.Sprintf("API request failed with status: %d", status),
				Timestamp: now,
				Data:      map[string]interface{}{"response_ms": responseMs, "status": status},
			})
		}
	}

	if responseMs > slowCallThresholdMs {
		svc.addAlertLocked(m, dto.AlertInfo{
			Type:      "performance",
			Severity:  "medium",
			Message:   fmt.Sprintf("Slow API response: %.0fms", responseMs),
			Timestamp: now,
			Data:      map[string]interface{}{"response_ms": responseMs},
		})
	}

	if m.rateLimitRemaining < budgetWarnAt {
		severity := "high"
		if m.rateLimitRemaining < budgetCriticalAt {
			severity = "critical"
		}
		svc.addAlertLocked(m, dto.AlertInfo{
			Type:      "rate_limit",
			Severity:  severity,
			Message:   fmt.Sprintf("Low rate limit remaining: %d", m.rateLimitRemaining),
			Timestamp: now,
			Data:      map[string]interface{}{"rate_limit_remaining": m.rateLimitRemaining},
		})
	}

	svc.recordPrometheus(surface, strconv.Itoa(status), responseMs)
	if svc.monSvc != nil {
		svc.monSvc.SetUpstreamBudget(surface, m.rateLimitRemaining)
	}
}

// RecordCacheHit marks one cache-served lookup with zero latency.
func (svc *APIMonitorService) RecordCacheHit(surface string) {
	svc.RecordCall(surface, nil, svc.now(), SourceCache)
}

// updateBudget reads the upstream's rate-limit headers. A missing or
// malformed header means "unknown": the tracked budget is left untouched.
func (svc *APIMonitorService) updateBudget(m *surfaceMonitor, header http.Header, now time.Time) {
	if header == nil {
		return
	}

	if remaining := header.Get("X-RateLimit-Remaining"); remaining != "" {
		if parsed, err := strconv.Atoi(remaining); err == nil {
			m.rateLimitRemaining = parsed
		}
	}

	if reset := header.Get("X-RateLimit-Reset"); reset != "" {
		if parsed, err := strconv.ParseInt(reset, 10, 64); err == nil {
			// Either a unix timestamp or delta-seconds, per upstream taste
			if parsed > now.Unix() {
				m.rateLimitResetAt = time.Unix(parsed, 0)
			} else {
				m.rateLimitResetAt = now.Add(time.Duration(parsed) * time.Second)
			}
		}
	}
}

func (svc *APIMonitorService) addAlertLocked(m *surfaceMonitor, alert dto.AlertInfo) {
	m.alerts = append(m.alerts, alert)
	if len(m.alerts) > maxAlerts {
		m.alerts = m.alerts[len(m.alerts)-maxAlerts:]
	}
	m.pendingAlerts = append(m.pendingAlerts, alert)

	entry := log.WithFields(log.Fields{
		"surface":  m.surface,
		"type":     alert.Type,
		"severity": alert.Severity,
	})
	switch alert.Severity {
	case "critical":
		entry.Error(alert.Message)
	case "high":
		entry.Warn(alert.Message)
	default:
		entry.Info(alert.Message)
	}

	if svc.monSvc != nil {
		svc.monSvc.RecordAlert(m.surface, alert.Severity)
	}
}

func (svc *APIMonitorService) recordPrometheus(surface, status string, responseMs float64) {
	if svc.monSvc != nil {
		svc.monSvc.RecordUpstreamCall(surface, status, responseMs)
	}
}

// ==================== DERIVED METRICS ====================

func (svc *APIMonitorService) GetMetrics(surface string) *dto.APIMetrics {
	m := svc.monitor(surface)
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.metricsLocked()
}

func (m *surfaceMonitor) metricsLocked() *dto.APIMetrics {
	return &dto.APIMetrics{
		Surface:             m.surface,
		TotalRequests:       m.totalRequests,
		SuccessfulRequests:  m.successfulRequests,
		RateLimitedRequests: m.rateLimitedRequests,
		CacheHits:           m.cacheHits,
		CacheMisses:         m.cacheMisses,
		AverageResponseMs:   m.averageResponseMs,
		LastRequestAt:       m.lastRequestAt,
		RateLimitRemaining:  m.rateLimitRemaining,
		RateLimitResetAt:    m.rateLimitResetAt,
		CacheEfficiency:     m.cacheEfficiencyLocked(),
		SuccessRate:         m.successRateLocked(),
	}
}

func (m *surfaceMonitor) cacheEfficiencyLocked() float64 {
	total := m.cacheHits + m.cacheMisses
	if total == 0 {
		return 0
	}
	return float64(m.cacheHits) / float64(total) * 100
}

// successRateLocked is 100 when nothing has been requested yet: an idle
// surface is an optimistic one.
func (m *surfaceMonitor) successRateLocked() float64 {
	if m.totalRequests == 0 {
		return 100
	}
	return float64(m.successfulRequests) / float64(m.totalRequests) * 100
}

func (svc *APIMonitorService) GetRecentAlerts(surface string, window time.Duration) []dto.AlertInfo {
	cutoff := svc.now().Add(-window)

	m := svc.monitor(surface)
	m.mutex.Lock()
	defer m.mutex.Unlock()

	recent := []dto.AlertInfo{}
	for _, alert := range m.alerts {
		if alert.Timestamp.After(cutoff) {
			recent = append(recent, alert)
		}
	}
	return recent
}

func (svc *APIMonitorService) GetRateLimitStatus(surface string) *dto.RateLimitStatus {
	m := svc.monitor(surface)
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return &dto.RateLimitStatus{
		Remaining:   m.rateLimitRemaining,
		ResetTime:   m.rateLimitResetAt,
		IsNearLimit: m.rateLimitRemaining < budgetNearLimitAt,
		IsCritical:  m.rateLimitRemaining < budgetWarnAt,
	}
}

// ==================== HEALTH AGGREGATION ====================

func (svc *APIMonitorService) GetHealthStatus(surface string) *dto.HealthStatus {
	recentAlerts := svc.GetRecentAlerts(surface, time.Hour)

	criticalAlerts := 0
	for _, alert := range recentAlerts {
		if alert.Severity == "critical" {
			criticalAlerts++
		}
	}

	m := svc.monitor(surface)
	m.mutex.Lock()
	remaining := m.rateLimitRemaining
	successRate := m.successRateLocked()
	cacheEfficiency := m.cacheEfficiencyLocked()
	totalCacheable := m.cacheHits + m.cacheMisses
	m.mutex.Unlock()

	issues := []string{}
	recommendations := []string{}

	if criticalAlerts > 0 {
		issues = append(issues, fmt.Sprintf("%d critical alerts in the last hour", criticalAlerts))
	}

	if remaining < budgetWarnAt {
		issues = append(issues, "Rate limit critically low")
		recommendations = append(recommendations, "Reduce API polling frequency")
	} else if remaining < budgetNearLimitAt {
		issues = append(issues, "Rate limit running low")
		recommendations = append(recommendations, "Monitor API usage closely")
	}

	if successRate < 90 {
		issues = append(issues, fmt.Sprintf("Low API success rate: %.1f%%", successRate))
		recommendations = append(recommendations, "Investigate API failures")
	}

	if totalCacheable > 0 && cacheEfficiency < 70 {
		issues = append(issues, fmt.Sprintf("Low cache efficiency: %.1f%%", cacheEfficiency))
		recommendations = append(recommendations, "Extend cache duration or improve cache strategy")
	}

	status := "healthy"
	if criticalAlerts > 0 || remaining < budgetCriticalAt {
		status = "critical"
	} else if len(issues) > 0 {
		status = "warning"
	}

	return &dto.HealthStatus{
		Status:          status,
		Issues:          issues,
		Recommendations: recommendations,
	}
}

func (svc *APIMonitorService) Export(surface string) *dto.MetricsExport {
	return &dto.MetricsExport{
		Metrics:      *svc.GetMetrics(surface),
		RecentAlerts: svc.GetRecentAlerts(surface, 24*time.Hour),
		HealthStatus: *svc.GetHealthStatus(surface),
		ExportTime:   svc.now(),
	}
}

func (svc *APIMonitorService) Surfaces() []string {
	svc.mutex.RLock()
	defer svc.mutex.RUnlock()

	surfaces := make([]string, 0, len(svc.monitors))
	for surface := range svc.monitors {
		surfaces = append(surfaces, surface)
	}
	return surfaces
}

// ==================== MONITORED HTTP WRAPPER ====================

// MonitoredCall performs a GET against a third-party API, serving from the
// redis cache when possible. Every outcome, hit or miss, lands in the
// surface's metrics. Upstream failure is recorded, never escalated to the
// caller's admission path.
func (svc *APIMonitorService) MonitoredCall(ctx context.Context, surface, url string, header http.Header) (*UpstreamResponse, error) {
	startTime := svc.now()
	cacheKey := upstreamCacheKey(surface, url)

	cacheable := svc.redisSvc != nil && svc.redisSvc.GetClient() != nil
	if cacheable {
		if cached, err := svc.redisSvc.Get(ctx, cacheKey); err == nil && cached != "" {
			svc.RecordCall(surface, nil, startTime, SourceCache)
			return &UpstreamResponse{StatusCode: http.StatusOK, Body: []byte(cached), FromCache: true}, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	for key, values := range header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	resp, err := svc.httpClient.Do(req)
	if err != nil {
		svc.RecordCall(surface, nil, startTime, SourceAPI)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	svc.RecordCall(surface, &ResponseMetadata{StatusCode: resp.StatusCode, Header: resp.Header}, startTime, SourceAPI)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusOK && cacheable {
		if err := svc.redisSvc.Set(ctx, cacheKey, body, svc.cacheTTL); err != nil {
			log.WithError(err).WithField("surface", surface).Warn("Failed to cache upstream response")
		}
	}

	return &UpstreamResponse{StatusCode: resp.StatusCode, Body: body}, nil
}

func upstreamCacheKey(surface, url string) string {
	sum := sha256.Sum256([]byte(url))
	return fmt.Sprintf("upstream:%s:%s", surface, hex.EncodeToString(sum[:8]))
}

// ==================== PERSISTENCE ====================

func (svc *APIMonitorService) loadSnapshots() {
	if svc.sqlSvc == nil {
		return
	}

	snapshots, err := svc.sqlSvc.ListSnapshots()
	if err != nil {
		log.WithError(err).Warn("Failed to load metric snapshots, starting fresh")
		return
	}

	svc.mutex.Lock()
	defer svc.mutex.Unlock()
	for _, snap := range snapshots {
		svc.monitors[snap.Surface] = &surfaceMonitor{
			surface:             snap.Surface,
			totalRequests:       snap.TotalRequests,
			successfulRequests:  snap.SuccessfulRequests,
			rateLimitedRequests: snap.RateLimitedRequests,
			cacheHits:           snap.CacheHits,
			cacheMisses:         snap.CacheMisses,
			averageResponseMs:   snap.AverageResponseMs,
			lastRequestAt:       snap.LastRequestAt,
			rateLimitRemaining:  snap.RateLimitRemaining,
			rateLimitResetAt:    snap.RateLimitResetAt,
		}
	}

	if len(snapshots) > 0 {
		log.WithField("surfaces", len(snapshots)).Info("Metric snapshots restored")
	}
}

func (svc *APIMonitorService) startFlushJob() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			svc.flush()
		case <-svc.closed:
			return
		}
	}
}

// flush writes dirty snapshots and pending alerts. Persistence errors are
// swallowed: in-memory reads keep serving either way.
func (svc *APIMonitorService) flush() {
	if svc.sqlSvc == nil {
		return
	}

	svc.mutex.RLock()
	monitors := make([]*surfaceMonitor, 0, len(svc.monitors))
	for _, m := range svc.monitors {
		monitors = append(monitors, m)
	}
	svc.mutex.RUnlock()

	for _, m := range monitors {
		m.mutex.Lock()
		if !m.dirty {
			m.mutex.Unlock()
			continue
		}
		snapshot := &model.APIMetricSnapshot{
			Surface:             m.surface,
			TotalRequests:       m.totalRequests,
			SuccessfulRequests:  m.successfulRequests,
			RateLimitedRequests: m.rateLimitedRequests,
			CacheHits:           m.cacheHits,
			CacheMisses:         m.cacheMisses,
			AverageResponseMs:   m.averageResponseMs,
			LastRequestAt:       m.lastRequestAt,
			RateLimitRemaining:  m.rateLimitRemaining,
			RateLimitResetAt:    m.rateLimitResetAt,
		}
		pending := m.pendingAlerts
		m.pendingAlerts = nil
		m.dirty = false
		m.mutex.Unlock()

		if err := svc.sqlSvc.SaveSnapshot(snapshot); err != nil {
			log.WithError(err).WithField("surface", m.surface).Warn("Failed to persist metric snapshot")
		}
		if len(pending) > 0 {
			if err := svc.sqlSvc.InsertAlerts(svc.toAlertRows(m.surface, pending)); err != nil {
				log.WithError(err).WithField("surface", m.surface).Warn("Failed to persist alerts")
			}
		}
	}
}

func (svc *APIMonitorService) toAlertRows(surface string, alerts []dto.AlertInfo) []model.Alert {
	rows := make([]model.Alert, 0, len(alerts))
	for _, alert := range alerts {
		data := ""
		if alert.Data != nil {
			if encoded, err := json.Marshal(alert.Data); err == nil {
				data = string(encoded)
			}
		}
		rows = append(rows, model.Alert{
			ID:        uuid.NewString(),
			Surface:   surface,
			Type:      alert.Type,
			Severity:  alert.Severity,
			Message:   alert.Message,
			Timestamp: alert.Timestamp,
			Data:      data,
			CreatedAt: svc.now(),
		})
	}
	return rows
}

// ClearOldAlerts drops in-memory and persisted alerts older than the cutoff.
func (svc *APIMonitorService) ClearOldAlerts(olderThan time.Duration) {
	cutoff := svc.now().Add(-olderThan)

	svc.mutex.RLock()
	for _, m := range svc.monitors {
		m.mutex.Lock()
		kept := m.alerts[:0]
		for _, alert := range m.alerts {
			if alert.Timestamp.After(cutoff) {
				kept = append(kept, alert)
			}
		}
		m.alerts = kept
		m.mutex.Unlock()
	}
	svc.mutex.RUnlock()

	if svc.sqlSvc != nil {
		if err := svc.sqlSvc.DeleteAlertsOlderThan(cutoff); err != nil {
			log.WithError(err).Warn("Failed to prune persisted alerts")
		}
	}
}

func (svc *APIMonitorService) startAlertPruneJob() {
	ticker := time.NewTicker(6 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			svc.ClearOldAlerts(7 * 24 * time.Hour)
			svc.archiveExports()
		case <-svc.closed:
			return
		}
	}
}

// archiveExports ships each surface's 24h export to the object bucket for
// the ops dashboard's history view.
func (svc *APIMonitorService) archiveExports() {
	if svc.minioSvc == nil || svc.minioSvc.client == nil {
		return
	}

	for _, surface := range svc.Surfaces() {
		export := svc.Export(surface)
		body, err := json.Marshal(export)
		if err != nil {
			continue
		}
		objectName := fmt.Sprintf("monitoring/%s/%s.json", svc.now().Format("2006-01-02"), surface)
		if err := svc.minioSvc.PutJSON(context.Background(), objectName, body); err != nil {
			log.WithError(err).WithField("surface", surface).Warn("Failed to archive monitoring export")
		}
	}
}
