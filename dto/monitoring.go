package dto

import "time"

type APIMetrics struct {
	Surface             string    `json:"surface"`
	TotalRequests       int64     `json:"total_requests"`
	SuccessfulRequests  int64     `json:"successful_requests"`
	RateLimitedRequests int64     `json:"rate_limited_requests"`
	CacheHits           int64     `json:"cache_hits"`
	CacheMisses         int64     `json:"cache_misses"`
	AverageResponseMs   float64   `json:"average_response_ms"`
	LastRequestAt       time.Time `json:"last_request_at"`
	RateLimitRemaining  int       `json:"rate_limit_remaining"`
	RateLimitResetAt    time.Time `json:"rate_limit_reset_at"`
	CacheEfficiency     float64   `json:"cache_efficiency"`
	SuccessRate         float64   `json:"success_rate"`
}

type AlertInfo struct {
	Type      string                 `json:"type"`
	Severity  string                 `json:"severity"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

type HealthStatus struct {
	Status          string   `json:"status"`
	Issues          []string `json:"issues"`
	Recommendations []string `json:"recommendations"`
}

type RateLimitStatus struct {
	Remaining   int       `json:"remaining"`
	ResetTime   time.Time `json:"reset_time"`
	IsNearLimit bool      `json:"is_near_limit"`
	IsCritical  bool      `json:"is_critical"`
}

type MetricsExport struct {
	Metrics      APIMetrics   `json:"metrics"`
	RecentAlerts []AlertInfo  `json:"recent_alerts"`
	HealthStatus HealthStatus `json:"health_status"`
	ExportTime   time.Time    `json:"export_time"`
}

type AbuseStats struct {
	BlockedIPs       int   `json:"blocked_ips"`
	TotalViolations  int64 `json:"total_violations"`
	RecentViolations int64 `json:"recent_violations"`
}
