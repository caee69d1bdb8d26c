package model

import "time"

// APIMetricSnapshot is the durable form of one surface's running metrics.
// Written asynchronously; the in-memory copy is authoritative while running.
type APIMetricSnapshot struct {
	ID                  string    `json:"id" gorm:"primaryKey;type:text;not null"`
	Surface             string    `json:"surface" gorm:"uniqueIndex;not null;size:50"`
	TotalRequests       int64     `json:"total_requests" gorm:"default:0;not null"`
	SuccessfulRequests  int64     `json:"successful_requests" gorm:"default:0;not null"`
	RateLimitedRequests int64     `json:"rate_limited_requests" gorm:"default:0;not null"`
	CacheHits           int64     `json:"cache_hits" gorm:"default:0;not null"`
	CacheMisses         int64     `json:"cache_misses" gorm:"default:0;not null"`
	AverageResponseMs   float64   `json:"average_response_ms" gorm:"default:0;not null"`
	LastRequestAt       time.Time `json:"last_request_at"`
	RateLimitRemaining  int       `json:"rate_limit_remaining" gorm:"default:600;not null"`
	RateLimitResetAt    time.Time `json:"rate_limit_reset_at"`
	CreatedAt           time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt           time.Time `json:"updated_at" gorm:"not null"`
}

type Alert struct {
	ID        string    `json:"id" gorm:"primaryKey;type:text;not null"`
	Surface   string    `json:"surface" gorm:"not null;index;size:50"`
	Type      string    `json:"type" gorm:"not null;size:20"`
	Severity  string    `json:"severity" gorm:"not null;size:10"`
	Message   string    `json:"message" gorm:"type:text"`
	Timestamp time.Time `json:"timestamp" gorm:"not null;index"`
	Data      string    `json:"data,omitempty" gorm:"type:text"`
	CreatedAt time.Time `json:"created_at" gorm:"not null"`
}
