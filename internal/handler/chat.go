package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/companion-relay/internal/llm"
	"github.com/capitalize-ai/companion-relay/internal/middleware"
	"github.com/capitalize-ai/companion-relay/internal/model"
	"github.com/capitalize-ai/companion-relay/internal/service"
	"github.com/capitalize-ai/companion-relay/pkg/logger"
	"github.com/capitalize-ai/companion-relay/pkg/metrics"
)

// ChatHandler serves /api/chat.
type ChatHandler struct {
	chatService *service.ChatService
	environment string
	logger      *logger.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(chatService *service.ChatService, environment string, log *logger.Logger) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		environment: environment,
		logger:      logger.OrNop(log),
	}
}

// Reply handles POST /api/chat
func (h *ChatHandler) Reply(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())
	log := h.logger.WithContext(correlationID, r.RemoteAddr)

	var req model.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request too large", "That image is too large. Please try a smaller one.")
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid request body", "I couldn't read that message. Please try again.")
		return
	}

	if err := middleware.ValidateChatRequest(&req); err != nil {
		log.Info("rejected chat request", zap.Error(err))
		if errors.Is(err, middleware.ErrMessageRequired) {
			writeError(w, http.StatusBadRequest, "Message is required", "Please type a message or attach an image.")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error(), "I couldn't use that message. Please check it and try again.")
		return
	}

	out := h.chatService.Reply(r.Context(), &req, correlationID)
	if out.OK() {
		writeJSON(w, http.StatusOK, model.ChatResponse{Response: out.Text()})
		return
	}

	f := out.Err()
	status, resp := failureResponse(f)
	if f.Kind == llm.KindConfiguration {
		log.Error("chat relay misconfigured", zap.Error(f))
	} else {
		log.Warn("completion failed",
			zap.String("kind", string(f.Kind)),
			zap.String("credential", f.Credential),
			zap.String("model", f.Model),
			zap.Int("upstream_status", f.StatusCode),
			zap.Error(f),
		)
	}
	if f.Kind == llm.KindRateLimited {
		metrics.RecordOutcome("rate_limited_response")
	}
	writeJSON(w, status, resp)
}

// Diagnostics handles GET /api/chat
func (h *ChatHandler) Diagnostics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, model.HealthResponse{
		Status:      "ok",
		Timestamp:   time.Now().UTC(),
		Environment: h.environment,
		HasAPIKey:   h.chatService.HasValidCredential(),
		Credentials: h.chatService.CredentialStatuses(),
		Models:      h.chatService.Models(),
	})
}

// Options handles a plain OPTIONS /api/chat. CORS preflights are answered
// by the CORS middleware before reaching this handler.
func (h *ChatHandler) Options(w http.ResponseWriter, r *http.Request) {
	hdr := w.Header()
	if hdr.Get("Access-Control-Allow-Origin") == "" {
		hdr.Set("Access-Control-Allow-Origin", "*")
	}
	hdr.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	hdr.Set("Access-Control-Allow-Headers", "Content-Type")
	w.WriteHeader(http.StatusOK)
}

// failureResponse maps a failure to its HTTP status and user-facing body.
func failureResponse(f *llm.Failure) (int, model.ErrorResponse) {
	switch f.Kind {
	case llm.KindConfiguration:
		return http.StatusInternalServerError, model.ErrorResponse{
			Error:    "Configuration error",
			Response: "I'm not properly configured right now. Please contact support.",
		}
	case llm.KindRateLimited:
		return http.StatusTooManyRequests, model.ErrorResponse{
			Error:     "rate-limit-exceeded",
			Response:  "I'm really tired tonight, let's talk tomorrow 😴",
			ResetTime: f.RetryAfter,
		}
	case llm.KindTimeout:
		return http.StatusRequestTimeout, model.ErrorResponse{
			Error:    "Request timeout",
			Response: "The request took too long to process. Please try again.",
		}
	case llm.KindServerError:
		return http.StatusServiceUnavailable, model.ErrorResponse{
			Error:    "Service unavailable",
			Response: "The AI service is temporarily unavailable. Please try again in a few minutes.",
		}
	case llm.KindNetwork:
		return http.StatusServiceUnavailable, model.ErrorResponse{
			Error:    "Network error",
			Response: "I'm having network connectivity issues. Please try again in a moment.",
		}
	}

	if f.StatusCode == http.StatusUnauthorized || f.StatusCode == http.StatusForbidden {
		return http.StatusUnauthorized, model.ErrorResponse{
			Error:    "Authentication error",
			Response: "I'm having authentication issues. Please try again later.",
		}
	}
	return http.StatusInternalServerError, model.ErrorResponse{
		Error:    "Internal server error",
		Response: "Something went wrong on my end. Please try again in a moment.",
	}
}
