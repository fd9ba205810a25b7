package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/capitalize-ai/companion-relay/internal/model"
)

// DefaultOpenRouterBaseURL is used for OpenAI-compatible slots without a BaseURL.
const DefaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"

// OpenAIClient talks to an OpenAI-compatible chat completions endpoint.
type OpenAIClient struct {
	client *openai.Client
	label  string
}

// NewOpenAIClient creates a new OpenAI-compatible client for one credential.
func NewOpenAIClient(slot CredentialSlot, httpClient *http.Client) (*OpenAIClient, error) {
	if slot.Secret == "" {
		return nil, errors.New("OpenAI API key is required")
	}

	cfg := openai.DefaultConfig(slot.Secret)
	cfg.BaseURL = DefaultOpenRouterBaseURL
	if slot.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(slot.BaseURL, "/")
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		label:  slot.Label,
	}, nil
}

// Name returns the provider name.
func (c *OpenAIClient) Name() string {
	return "openai"
}

// Complete sends a completion request.
func (c *OpenAIClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()
	ctx, capt := withCapture(ctx)

	messages := make([]openai.ChatCompletionMessage, 0, len(req.History)+2)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, turn := range req.History {
		role := openai.ChatMessageRoleUser
		if turn.Role == model.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: turn.Content})
	}
	messages = append(messages, userMessage(req))

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
	})
	if err != nil {
		var apiErr *openai.APIError
		msg := ""
		if errors.As(err, &apiErr) {
			msg = apiErr.Message
		}
		return nil, upstreamError(capt, err, msg)
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, ErrMalformedResponse
	}
	choice := resp.Choices[0]

	return &CompletionResponse{
		Content:    choice.Message.Content,
		Model:      resp.Model,
		TokensIn:   resp.Usage.PromptTokens,
		TokensOut:  resp.Usage.CompletionTokens,
		StopReason: string(choice.FinishReason),
		LatencyMs:  time.Since(start).Milliseconds(),
		Truncated:  choice.FinishReason == openai.FinishReasonLength,
	}, nil
}

func userMessage(req *CompletionRequest) openai.ChatCompletionMessage {
	if req.Image == "" {
		return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.UserMessage}
	}
	return openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser,
		MultiContent: []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: req.UserMessage},
			{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    req.Image,
					Detail: openai.ImageURLDetailAuto,
				},
			},
		},
	}
}
