package middleware

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/companion-relay/internal/model"
)

// 1x1 transparent PNG.
var pngPixel = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNkYAAAAAYAAjCB0C8AAAAASUVORK5CYII="

func TestValidateChatRequest(t *testing.T) {
	tests := []struct {
		name    string
		req     model.ChatRequest
		wantErr bool
	}{
		{"text", model.ChatRequest{Message: "hello"}, false},
		{"image only", model.ChatRequest{Image: "data:image/png;base64," + pngPixel}, false},
		{"empty", model.ChatRequest{Message: "   "}, true},
		{"too long", model.ChatRequest{Message: strings.Repeat("a", 8001)}, true},
		{"bad role", model.ChatRequest{Message: "hi", History: []model.ConversationTurn{{Role: "system", Content: "x"}}}, true},
		{"not a data url", model.ChatRequest{Message: "hi", Image: "https://example.com/a.png"}, true},
		{"not an image", model.ChatRequest{Message: "hi", Image: "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("hello world"))}, true},
		{"bad base64", model.ChatRequest{Message: "hi", Image: "data:image/png;base64,!!!"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			err := ValidateChatRequest(&req)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateChatRequest_RewritesImageType(t *testing.T) {
	req := model.ChatRequest{Message: "what is this?", Image: "data:image/jpeg;base64," + pngPixel}

	require.NoError(t, ValidateChatRequest(&req))
	assert.Equal(t, "data:image/png;base64,"+pngPixel, req.Image)
}

func TestSniffImage(t *testing.T) {
	mt, err := SniffImage("data:image/jpeg;base64," + pngPixel)

	require.NoError(t, err)
	assert.Equal(t, "image/png", mt)
}

func TestLogging_SetsCorrelationID(t *testing.T) {
	var seen string
	h := Logging(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetCorrelationID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/chat", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get("X-Correlation-ID"))

	req := httptest.NewRequest(http.MethodGet, "/api/chat", nil)
	req.Header.Set("X-Correlation-ID", "abc")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc", seen)
}

func TestRateLimit(t *testing.T) {
	h := RateLimit(2, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
		if rec.Code == http.StatusTooManyRequests {
			assert.Contains(t, rec.Body.String(), `"resetTime"`)
		}
	}

	assert.Equal(t, []int{200, 200, 429}, codes)
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestCORS_Preflight(t *testing.T) {
	h := CORS(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("preflight must not reach the handler")
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rec.Body.String())
}
