package model

import (
	"time"
)

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message string             `json:"message" validate:"required_without=Image,max=8000"`
	History []ConversationTurn `json:"history,omitempty" validate:"max=200,dive"`
	Image   string             `json:"image,omitempty" validate:"omitempty,startswith=data:"`
}

// ChatResponse is the success body of POST /api/chat.
type ChatResponse struct {
	Response string `json:"response"`
}

// ErrorResponse is the failure body of POST /api/chat. Response is always
// safe to show to the end user.
type ErrorResponse struct {
	Error     string     `json:"error"`
	Response  string     `json:"response"`
	ResetTime *time.Time `json:"resetTime,omitempty"`
}

// CredentialStatus describes one configured credential without revealing it.
type CredentialStatus struct {
	Label    string `json:"label"`
	Provider string `json:"provider"`
	Present  bool   `json:"present"`
	Valid    bool   `json:"valid"`
	Length   int    `json:"length"`
	Prefix   string `json:"prefix,omitempty"`
}

// HealthResponse is returned by GET /api/chat.
type HealthResponse struct {
	Status      string             `json:"status"`
	Timestamp   time.Time          `json:"timestamp"`
	Environment string             `json:"environment"`
	HasAPIKey   bool               `json:"hasApiKey"`
	Credentials []CredentialStatus `json:"credentials"`
	Models      []string           `json:"models"`
}
