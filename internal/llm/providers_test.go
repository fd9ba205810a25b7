package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/companion-relay/internal/model"
)

const openAIKey = "sk-or-v1-0123456789abcdef0123456789abcdef"

func openAISlot(baseURL string) CredentialSlot {
	return CredentialSlot{Label: "primary", Provider: ProviderOpenAI, Secret: openAIKey, BaseURL: baseURL}
}

func TestOpenAIClient_Complete(t *testing.T) {
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer "+openAIKey, r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"1","object":"chat.completion","model":"test/model",
			"choices":[{"index":0,"message":{"role":"assistant","content":"Hi there"},"finish_reason":"length"}],
			"usage":{"prompt_tokens":12,"completion_tokens":3,"total_tokens":15}}`)
	}))
	defer server.Close()

	client, err := NewClient(openAISlot(server.URL), nil)
	require.NoError(t, err)

	resp, err := client.Complete(context.Background(), CompletionInput{
		SystemPrompt: "be nice",
		History: []model.ConversationTurn{
			{Role: model.RoleUser, Content: "hello"},
			{Role: model.RoleAssistant, Content: "hey"},
		},
		Message:     "how are you",
		MaxTokens:   300,
		Temperature: 0.7,
	}.Request("test/model"))
	require.NoError(t, err)

	assert.Equal(t, "Hi there", resp.Content)
	assert.True(t, resp.Truncated)
	assert.Equal(t, 12, resp.TokensIn)

	assert.Equal(t, "test/model", body["model"])
	assert.EqualValues(t, 300, body["max_tokens"])
	messages := body["messages"].([]any)
	require.Len(t, messages, 4)
	assert.Equal(t, "system", messages[0].(map[string]any)["role"])
	assert.Equal(t, "assistant", messages[2].(map[string]any)["role"])
	assert.Equal(t, "how are you", messages[3].(map[string]any)["content"])
}

func TestOpenAIClient_ImageParts(t *testing.T) {
	var raw string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		raw = string(b)
		_, _ = io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"A cat."},"finish_reason":"stop"}]}`)
	}))
	defer server.Close()

	client, err := NewClient(openAISlot(server.URL), nil)
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), CompletionInput{Image: "data:image/png;base64,iVBORw0KGgo="}.Request("vision/model"))
	require.NoError(t, err)

	assert.Contains(t, raw, `"image_url"`)
	assert.Contains(t, raw, "data:image/png;base64,iVBORw0KGgo=")
	assert.Contains(t, raw, DefaultImagePrompt)
}

func TestOpenAIClient_ErrorCapture(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Reset", "1735747200000")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"message":"Rate limit exceeded: free-models-per-day","code":429}}`)
	}))
	defer server.Close()

	client, err := NewClient(openAISlot(server.URL), nil)
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), CompletionInput{Message: "hi"}.Request("m"))
	require.Error(t, err)

	var ue *UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, http.StatusTooManyRequests, ue.StatusCode)
	assert.Equal(t, "1735747200000", ue.Header.Get("X-RateLimit-Reset"))
	assert.Contains(t, ue.Body, "free-models-per-day")

	f := classify(context.Background(), err, true, time.Now())
	assert.Equal(t, KindRateLimited, f.Kind)
	require.NotNil(t, f.RetryAfter)
	assert.Equal(t, int64(1735747200000), f.RetryAfter.UnixMilli())
}

func TestOpenAIClient_MalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"choices":[]}`)
	}))
	defer server.Close()

	client, err := NewClient(openAISlot(server.URL), nil)
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), CompletionInput{Message: "hi"}.Request("m"))
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestResilientClient_AgainstUpstream(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if strings.Contains(r.Header.Get("Authorization"), "first") {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = io.WriteString(w, `{"error":{"message":"upstream overloaded"}}`)
			return
		}
		_, _ = io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"Second key works."},"finish_reason":"stop"}]}`)
	}))
	defer server.Close()

	rc := NewResilientClient(nil, nil).WithPolicy(testPolicy())
	rc.policy.AttemptTimeouts = []time.Duration{time.Second, time.Second}

	out := rc.Complete(context.Background(), CompletionInput{Message: "hi"}, []CredentialSlot{
		{Label: "primary", Provider: ProviderOpenAI, Secret: "sk-or-v1-first-0123456789abcdef", BaseURL: server.URL},
		{Label: "secondary", Provider: ProviderOpenAI, Secret: "sk-or-v1-second-0123456789abcdef", BaseURL: server.URL},
	}, []string{"m"})

	require.True(t, out.OK(), "unexpected failure: %v", out.Err())
	assert.Equal(t, "Second key works.", out.Text())
	assert.Equal(t, int32(2), calls.Load())
}

func TestAnthropicClient_Complete(t *testing.T) {
	var body struct {
		Model    string `json:"model"`
		System   []map[string]any
		Messages []struct {
			Role    string           `json:"role"`
			Content []map[string]any `json:"content"`
		} `json:"messages"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/v1/messages"), r.URL.Path)
		assert.Equal(t, "sk-ant-REDACTED", r.Header.Get("X-Api-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"msg_1","type":"message","role":"assistant","model":"claude-3-5-haiku-20241022",
			"content":[{"type":"text","text":"Hello from Claude"}],"stop_reason":"max_tokens",
			"usage":{"input_tokens":9,"output_tokens":4}}`)
	}))
	defer server.Close()

	client, err := NewClient(CredentialSlot{
		Label:    "anthropic",
		Provider: ProviderAnthropic,
		Secret:   "sk-ant-REDACTED",
		BaseURL:  server.URL + "/",
	}, nil)
	require.NoError(t, err)

	resp, err := client.Complete(context.Background(), CompletionInput{
		SystemPrompt: "be nice",
		History: []model.ConversationTurn{
			{Role: model.RoleAssistant, Content: "welcome!"},
			{Role: model.RoleUser, Content: "one"},
			{Role: model.RoleUser, Content: "two"},
			{Role: model.RoleAssistant, Content: "ok"},
		},
		Message:   "what is this",
		Image:     "data:image/jpeg;base64,/9j/4AAQ",
		MaxTokens: 600,
	}.Request("claude-3-5-haiku-20241022"))
	require.NoError(t, err)

	assert.Equal(t, "Hello from Claude", resp.Content)
	assert.True(t, resp.Truncated)

	roles := make([]string, 0, len(body.Messages))
	for _, m := range body.Messages {
		roles = append(roles, m.Role)
	}
	assert.Equal(t, []string{"user", "assistant", "user"}, roles)
	last := body.Messages[len(body.Messages)-1]
	require.Len(t, last.Content, 2)
	assert.Equal(t, "image", last.Content[1]["type"])
	require.Len(t, body.System, 1)
}

func TestSplitDataURL(t *testing.T) {
	mt, data, ok := splitDataURL("data:image/webp;base64,UklGR")
	assert.True(t, ok)
	assert.Equal(t, "image/webp", mt)
	assert.Equal(t, "UklGR", data)

	_, _, ok = splitDataURL("https://example.com/cat.png")
	assert.False(t, ok)
}
