package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/capitalize-ai/companion-relay/internal/model"
)

// AnthropicClient is the Anthropic LLM client.
type AnthropicClient struct {
	client *anthropic.Client
	label  string
}

// NewAnthropicClient creates a new Anthropic client for one credential.
// SDK-level retries are disabled; the resilient client owns retry policy.
func NewAnthropicClient(slot CredentialSlot, httpClient *http.Client) (*AnthropicClient, error) {
	if slot.Secret == "" {
		return nil, errors.New("Anthropic API key is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(slot.Secret),
		option.WithMaxRetries(0),
	}
	if slot.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(slot.BaseURL))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}

	return &AnthropicClient{
		client: anthropic.NewClient(opts...),
		label:  slot.Label,
	}, nil
}

// Name returns the provider name.
func (c *AnthropicClient) Name() string {
	return "anthropic"
}

// Complete sends a completion request.
func (c *AnthropicClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()
	ctx, capt := withCapture(ctx)

	params := anthropic.MessageNewParams{
		Model:       anthropic.F(req.Model),
		MaxTokens:   anthropic.F(int64(req.MaxTokens)),
		Temperature: anthropic.F(req.Temperature),
		Messages:    anthropic.F(anthropicMessages(req)),
	}
	if req.SystemPrompt != "" {
		params.System = anthropic.F([]anthropic.TextBlockParam{anthropic.NewTextBlock(req.SystemPrompt)})
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, upstreamError(capt, err, "")
	}

	var content string
	for _, block := range resp.Content {
		if block.Type == anthropic.ContentBlockTypeText {
			content += block.Text
		}
	}
	if strings.TrimSpace(content) == "" {
		return nil, ErrMalformedResponse
	}

	return &CompletionResponse{
		Content:    content,
		Model:      resp.Model,
		TokensIn:   int(resp.Usage.InputTokens),
		TokensOut:  int(resp.Usage.OutputTokens),
		StopReason: string(resp.StopReason),
		LatencyMs:  time.Since(start).Milliseconds(),
		Truncated:  string(resp.StopReason) == "max_tokens",
	}, nil
}

// anthropicMessages converts history into the strictly alternating,
// user-first sequence the Messages API requires. Consecutive turns by the
// same role are merged.
func anthropicMessages(req *CompletionRequest) []anthropic.MessageParam {
	type turn struct {
		role model.Role
		text string
	}
	var turns []turn
	for _, t := range req.History {
		if len(turns) == 0 && t.Role != model.RoleUser {
			continue
		}
		if n := len(turns); n > 0 && turns[n-1].role == t.Role {
			turns[n-1].text += "\n\n" + t.Content
			continue
		}
		turns = append(turns, turn{role: t.Role, text: t.Content})
	}
	var blocks []anthropic.ContentBlockParamUnion
	// A trailing user turn is folded into the current message.
	if n := len(turns); n > 0 && turns[n-1].role == model.RoleUser {
		blocks = append(blocks, anthropic.NewTextBlock(turns[n-1].text))
		turns = turns[:n-1]
	}

	messages := make([]anthropic.MessageParam, 0, len(turns)+1)
	for _, t := range turns {
		if t.role == model.RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(t.text)))
		} else {
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(t.text)))
		}
	}

	blocks = append(blocks, anthropic.NewTextBlock(req.UserMessage))
	if mediaType, data, ok := splitDataURL(req.Image); ok {
		blocks = append(blocks, anthropic.NewImageBlockBase64(mediaType, data))
	}
	return append(messages, anthropic.NewUserMessage(blocks...))
}

// splitDataURL splits data:<mime>;base64,<payload>.
func splitDataURL(u string) (mediaType, data string, ok bool) {
	rest, found := strings.CutPrefix(u, "data:")
	if !found {
		return "", "", false
	}
	meta, payload, found := strings.Cut(rest, ",")
	if !found || !strings.HasSuffix(meta, ";base64") {
		return "", "", false
	}
	return strings.TrimSuffix(meta, ";base64"), payload, true
}
