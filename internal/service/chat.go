// Package service relays chat requests to the upstream models.
package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/companion-relay/internal/llm"
	"github.com/capitalize-ai/companion-relay/internal/model"
	"github.com/capitalize-ai/companion-relay/pkg/logger"
)

// EventPublisher receives one event per relayed completion.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event *model.CompletionEvent) (uint64, error)
}

// Settings are the per-deployment completion parameters.
type Settings struct {
	SystemPrompt    string
	Models          []string
	VisionModels    []string
	MaxTokens       int
	VisionMaxTokens int
	Temperature     float64
	HistoryWindow   int
	TextPolicy      llm.Policy
	ImagePolicy     llm.Policy
	// Credentials is called on every request so rotated secrets take effect
	// without a restart.
	Credentials func() []llm.CredentialSlot
}

// ChatService turns chat requests into completion outcomes.
type ChatService struct {
	client   *llm.ResilientClient
	settings Settings
	events   EventPublisher
	logger   *logger.Logger
}

// NewChatService creates a new chat service. events may be nil.
func NewChatService(client *llm.ResilientClient, settings Settings, events EventPublisher, log *logger.Logger) *ChatService {
	if settings.Credentials == nil {
		settings.Credentials = func() []llm.CredentialSlot { return nil }
	}
	return &ChatService{
		client:   client,
		settings: settings,
		events:   events,
		logger:   logger.OrNop(log),
	}
}

// Reply produces the assistant's reply to req.
func (s *ChatService) Reply(ctx context.Context, req *model.ChatRequest, correlationID string) llm.Outcome {
	start := time.Now()

	in := llm.CompletionInput{
		SystemPrompt: s.settings.SystemPrompt,
		History:      cleanHistory(model.LastTurns(req.History, s.settings.HistoryWindow)),
		Message:      req.Message,
		Image:        req.Image,
		MaxTokens:    s.settings.MaxTokens,
		Temperature:  s.settings.Temperature,
	}

	models := s.settings.Models
	policy := s.settings.TextPolicy
	if in.HasImage() {
		models = s.settings.VisionModels
		policy = s.settings.ImagePolicy
		in.MaxTokens = s.settings.VisionMaxTokens
	}

	out := s.client.WithPolicy(policy).Complete(ctx, in, s.settings.Credentials(), models)

	s.publish(ctx, out, correlationID, in.HasImage(), time.Since(start))
	return out
}

// CredentialStatuses describes the configured credentials without revealing them.
func (s *ChatService) CredentialStatuses() []model.CredentialStatus {
	slots := s.settings.Credentials()
	out := make([]model.CredentialStatus, 0, len(slots))
	for _, slot := range slots {
		secret := strings.TrimSpace(slot.Secret)
		out = append(out, model.CredentialStatus{
			Label:    slot.Label,
			Provider: string(slot.Provider),
			Present:  secret != "",
			Valid:    slot.Validate() == nil,
			Length:   len(secret),
			Prefix:   slot.Masked(),
		})
	}
	return out
}

// HasValidCredential reports whether at least one credential is usable.
func (s *ChatService) HasValidCredential() bool {
	return len(llm.ValidCredentials(s.settings.Credentials())) > 0
}

// Models returns the text and vision model lists.
func (s *ChatService) Models() []string {
	out := make([]string, 0, len(s.settings.Models)+len(s.settings.VisionModels))
	out = append(out, s.settings.Models...)
	return append(out, s.settings.VisionModels...)
}

func (s *ChatService) publish(ctx context.Context, out llm.Outcome, correlationID string, image bool, elapsed time.Duration) {
	if s.events == nil {
		return
	}

	event := &model.CompletionEvent{
		ID:            uuid.Must(uuid.NewV7()).String(),
		CorrelationID: correlationID,
		Type:          model.EventTypeCompleted,
		LatencyMs:     elapsed.Milliseconds(),
		Metadata:      map[string]any{"image": image},
		CreatedAt:     time.Now().UTC(),
	}
	if f := out.Err(); f != nil {
		event.Type = model.EventTypeError
		switch f.Kind {
		case llm.KindRateLimited:
			event.Type = model.EventTypeRateLimit
		case llm.KindTimeout:
			event.Type = model.EventTypeTimeout
		}
		event.Kind = string(f.Kind)
		event.Credential = f.Credential
		event.Model = f.Model
		event.StatusCode = f.StatusCode
		event.RetryAfter = f.RetryAfter
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if _, err := s.events.PublishEvent(pubCtx, event); err != nil {
		s.logger.Warn("failed to publish completion event",
			zap.String("correlation_id", correlationID),
			zap.Error(err),
		)
	}
}

// cleanHistory drops turns the upstream cannot use.
func cleanHistory(turns []model.ConversationTurn) []model.ConversationTurn {
	out := make([]model.ConversationTurn, 0, len(turns))
	for _, t := range turns {
		if t.Role.Valid() && strings.TrimSpace(t.Content) != "" {
			out = append(out, t)
		}
	}
	return out
}
