package dto

import "time"

type RateLimitInfo struct {
	Allowed      bool       `json:"allowed"`
	Remaining    int        `json:"remaining"`
	ResetTime    *time.Time `json:"reset_time,omitempty"`
	BlockedUntil *time.Time `json:"blocked_until,omitempty"`
}

// ContentFilterResult is the outcome of classifying a single text payload.
// It is computed per call and never persisted.
type ContentFilterResult struct {
	IsSpam         bool     `json:"is_spam"`
	IsToxic        bool     `json:"is_toxic"`
	IsIrrelevant   bool     `json:"is_irrelevant"`
	SentimentScore float64  `json:"sentiment_score"`
	Confidence     float64  `json:"confidence"`
	Flags          []string `json:"flags"`
}

type AdmissionResult struct {
	Allowed   bool                 `json:"allowed"`
	Reason    string               `json:"reason,omitempty"`
	Filter    *ContentFilterResult `json:"content_filter,omitempty"`
	RateLimit *RateLimitInfo       `json:"rate_limit,omitempty"`
}

type AskAIRequest struct {
	Question string `json:"question" validate:"required,min=3,max=2000"`
}

type TrainingUploadRequest struct {
	FileName string `json:"file_name" validate:"required,max=255"`
	Notes    string `json:"notes" validate:"max=2000"`
}

type TrainingInsightsRequest struct {
	Query string `json:"query" validate:"required,min=3,max=2000"`
}
