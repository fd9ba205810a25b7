package model

import (
	"time"
)

// EventType represents the type of completion event.
type EventType string

const (
	EventTypeCompleted EventType = "completed"
	EventTypeError     EventType = "error"
	EventTypeRateLimit EventType = "rate_limit"
	EventTypeTimeout   EventType = "timeout"
)

// CompletionEvent is published for operators after every relayed completion.
type CompletionEvent struct {
	ID            string         `json:"id"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Type          EventType      `json:"type"`
	Kind          string         `json:"kind,omitempty"`
	Credential    string         `json:"credential,omitempty"`
	Model         string         `json:"model,omitempty"`
	StatusCode    int            `json:"status_code,omitempty"`
	RetryAfter    *time.Time     `json:"retry_after,omitempty"`
	LatencyMs     int64          `json:"latency_ms"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}
