package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/companion-relay/internal/llm"
	"github.com/capitalize-ai/companion-relay/internal/middleware"
	"github.com/capitalize-ai/companion-relay/internal/model"
	"github.com/capitalize-ai/companion-relay/internal/service"
)

type stubClient struct {
	resp  *llm.CompletionResponse
	err   error
	calls int
}

func (c *stubClient) Complete(context.Context, *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	c.calls++
	return c.resp, c.err
}

func (c *stubClient) Name() string { return "stub" }

func newTestHandler(client *stubClient, secret string) *ChatHandler {
	policy := llm.DefaultPolicy()
	policy.AttemptTimeouts = []time.Duration{time.Second}
	rc := llm.NewResilientClient(func(llm.CredentialSlot) (llm.Client, error) { return client, nil }, nil)
	svc := service.NewChatService(rc, service.Settings{
		Models:       []string{"m"},
		VisionModels: []string{"v"},
		TextPolicy:   policy,
		ImagePolicy:  policy,
		Credentials: func() []llm.CredentialSlot {
			return []llm.CredentialSlot{{Label: "primary", Provider: llm.ProviderOpenAI, Secret: secret}}
		},
	}, nil, nil)
	return NewChatHandler(svc, "test", nil)
}

const validSecret = "sk-or-v1-0123456789abcdef0123456789"

func post(t *testing.T, h *ChatHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Reply(rec, req)
	return rec
}

func TestChatHandler_Success(t *testing.T) {
	h := newTestHandler(&stubClient{resp: &llm.CompletionResponse{Content: "Photosynthesis turns light into sugar."}}, validSecret)

	rec := post(t, h, `{"message":"explain photosynthesis","history":[{"role":"user","content":"hi"}]}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp model.ChatResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "Photosynthesis turns light into sugar.", resp.Response)
}

func TestChatHandler_StatusMapping(t *testing.T) {
	reset := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	limitHeader := http.Header{}
	limitHeader.Set("X-RateLimit-Reset", reset.Format(time.RFC3339))

	tests := []struct {
		name      string
		secret    string
		err       error
		status    int
		errText   string
		wantReset bool
	}{
		{"no credentials", "", nil, http.StatusInternalServerError, "Configuration error", false},
		{"rate limited", validSecret, &llm.UpstreamError{StatusCode: 429, Body: `{"error":{"message":"rate-limit-exceeded"}}`, Header: limitHeader}, http.StatusTooManyRequests, "rate-limit-exceeded", true},
		{"server error", validSecret, &llm.UpstreamError{StatusCode: 502}, http.StatusServiceUnavailable, "Service unavailable", false},
		{"auth", validSecret, &llm.UpstreamError{StatusCode: 401, Body: "invalid key"}, http.StatusUnauthorized, "Authentication error", false},
		{"malformed", validSecret, llm.ErrMalformedResponse, http.StatusInternalServerError, "Internal server error", false},
		{"unknown", validSecret, &llm.UpstreamError{StatusCode: 418}, http.StatusInternalServerError, "Internal server error", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &stubClient{err: tt.err}
			h := newTestHandler(client, tt.secret)

			rec := post(t, h, `{"message":"explain photosynthesis"}`)

			assert.Equal(t, tt.status, rec.Code)
			var resp model.ErrorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, tt.errText, resp.Error)
			assert.NotEmpty(t, resp.Response)
			if tt.wantReset {
				require.NotNil(t, resp.ResetTime)
				assert.True(t, reset.Equal(*resp.ResetTime))
			} else {
				assert.Nil(t, resp.ResetTime)
			}
			if tt.secret == "" {
				assert.Equal(t, 0, client.calls)
			}
		})
	}
}

func TestChatHandler_BadInput(t *testing.T) {
	client := &stubClient{}
	h := newTestHandler(client, validSecret)

	for _, body := range []string{`{`, `{}`, `{"message":"  "}`, `{"message":"hi","image":"nope"}`} {
		rec := post(t, h, body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	assert.Equal(t, 0, client.calls)
}

func TestChatHandler_Diagnostics(t *testing.T) {
	h := newTestHandler(&stubClient{}, validSecret)

	rec := httptest.NewRecorder()
	h.Diagnostics(rec, httptest.NewRequest(http.MethodGet, "/api/chat", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), validSecret)

	var resp model.HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "test", resp.Environment)
	assert.True(t, resp.HasAPIKey)
	require.Len(t, resp.Credentials, 1)
	assert.Equal(t, len(validSecret), resp.Credentials[0].Length)
	assert.Equal(t, "sk-or-v1-0...", resp.Credentials[0].Prefix)
}

func TestChatHandler_Options(t *testing.T) {
	h := newTestHandler(&stubClient{}, validSecret)
	r := chi.NewRouter()
	r.Use(middleware.CORS(nil))
	r.Route("/api/chat", func(r chi.Router) {
		r.Get("/", h.Diagnostics)
		r.Options("/", h.Options)
	})

	tests := []struct {
		name    string
		headers map[string]string
	}{
		{"plain", nil},
		{"with origin", map[string]string{"Origin": "https://example.com"}},
		{"preflight", map[string]string{"Origin": "https://example.com", "Access-Control-Request-Method": http.MethodPost}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.NotEmpty(t, rec.Header().Get("Access-Control-Allow-Origin"))
			assert.Empty(t, rec.Body.String())
		})
	}
}

func TestHealthHandler(t *testing.T) {
	h := NewHealthHandler(nil)

	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
