// Package model defines data structures shared by the chat backend and widget.
package model

import (
	"time"
)

// Role represents the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the roles a turn may carry.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// ConversationTurn is one entry of the session-scoped chat history.
// Turns are append-only and ordered by insertion.
type ConversationTurn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// LastTurns returns the newest n turns of history in their original order.
// The returned slice never aliases more than n elements of history.
func LastTurns(history []ConversationTurn, n int) []ConversationTurn {
	if n <= 0 {
		return nil
	}
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}
