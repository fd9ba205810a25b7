// Package llm provides upstream chat-completion clients and the resilient
// client that fails over between credentials and models.
package llm

import (
	"context"
	"fmt"
	"net/http"

	"github.com/capitalize-ai/companion-relay/internal/model"
)

// Provider is the type of LLM provider.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// DefaultImagePrompt is used when a request carries an image but no text.
const DefaultImagePrompt = "Please describe and analyze this image."

// CompletionInput is the caller's immutable description of one reply to
// produce. A fresh CompletionRequest is built from it for every attempt.
type CompletionInput struct {
	SystemPrompt string
	History      []model.ConversationTurn
	Message      string
	// Image is a data URL (data:<mime>;base64,<payload>) or empty.
	Image       string
	MaxTokens   int
	Temperature float64
}

// HasImage reports whether the input carries an image attachment.
func (in CompletionInput) HasImage() bool {
	return in.Image != ""
}

// Request builds the per-attempt request for the given model.
func (in CompletionInput) Request(modelName string) *CompletionRequest {
	history := make([]model.ConversationTurn, len(in.History))
	copy(history, in.History)

	msg := in.Message
	if msg == "" && in.Image != "" {
		msg = DefaultImagePrompt
	}

	return &CompletionRequest{
		Model:        modelName,
		SystemPrompt: in.SystemPrompt,
		History:      history,
		UserMessage:  msg,
		Image:        in.Image,
		MaxTokens:    in.MaxTokens,
		Temperature:  in.Temperature,
	}
}

// CompletionRequest represents a completion request.
type CompletionRequest struct {
	Model        string
	SystemPrompt string
	History      []model.ConversationTurn
	UserMessage  string
	Image        string
	MaxTokens    int
	Temperature  float64
}

// CompletionResponse represents a completion response.
type CompletionResponse struct {
	Content    string
	Model      string
	TokensIn   int
	TokensOut  int
	StopReason string
	LatencyMs  int64
	// Truncated is set when the upstream stopped because of the token limit.
	Truncated bool
}

// Client is the interface for LLM providers.
type Client interface {
	// Complete sends a completion request and returns the response.
	// Errors carrying an HTTP response are *UpstreamError.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// Name returns the provider name.
	Name() string
}

// Factory builds a provider client for one credential.
type Factory func(slot CredentialSlot) (Client, error)

// NewClient creates a new LLM client for the slot's provider. httpClient may be
// nil, in which case a client with a capturing transport is used.
func NewClient(slot CredentialSlot, httpClient *http.Client) (Client, error) {
	if httpClient == nil {
		httpClient = NewHTTPClient(nil)
	}
	switch slot.Provider {
	case ProviderAnthropic:
		return NewAnthropicClient(slot, httpClient)
	case ProviderOpenAI, "":
		return NewOpenAIClient(slot, httpClient)
	default:
		return nil, fmt.Errorf("unknown provider %q", slot.Provider)
	}
}

// DefaultFactory returns a Factory sharing one capturing HTTP client.
func DefaultFactory() Factory {
	httpClient := NewHTTPClient(nil)
	return func(slot CredentialSlot) (Client, error) {
		return NewClient(slot, httpClient)
	}
}
