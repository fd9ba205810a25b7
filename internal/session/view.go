package session

import (
	"github.com/capitalize-ai/companion-relay/internal/model"
)

// Status is the assistant's presence indicator.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// View receives UI effects. Implementations must not call back into the
// Controller from these methods.
type View interface {
	SetInputEnabled(enabled bool)
	SetStatus(status Status)
	ShowBanner(text string)
	HideBanner()
	SetTyping(typing bool)
	Render(turn model.ConversationTurn)
}

// NopView discards all UI effects.
type NopView struct{}

func (NopView) SetInputEnabled(bool) {}
func (NopView) SetStatus(Status) {}
func (NopView) ShowBanner(string) {}
func (NopView) HideBanner() {}
func (NopView) SetTyping(bool) {}
func (NopView) Render(model.ConversationTurn) {}
