// Package chatclient calls the chat backend's POST /api/chat endpoint.
package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/capitalize-ai/companion-relay/internal/model"
)

// maxResponseBody bounds how much of a backend reply is read.
const maxResponseBody = 1 << 20

// Error is a failed call to the backend. Message is always safe to show.
type Error struct {
	StatusCode int
	Message    string
	// RateLimited is set for 429 responses; ResetTime carries the server's
	// reset instant when it sent one.
	RateLimited bool
	ResetTime   *time.Time
	Err         error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("chat backend status %d: %s: %v", e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("chat backend status %d: %s", e.StatusCode, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

var (
	// ErrEmptyResponse means the backend answered with an empty body.
	ErrEmptyResponse = errors.New("empty response from server")
	// ErrHTMLResponse means the backend answered with an HTML page, usually
	// a proxy or hosting error page.
	ErrHTMLResponse = errors.New("server returned an HTML page")
	// ErrUnexpectedResponse means the body was not the expected JSON.
	ErrUnexpectedResponse = errors.New("unexpected response from server")
)

// Client posts chat requests to the backend.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a client for endpoint, for example http://localhost:8080/api/chat.
func New(endpoint string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send posts req and returns the assistant's reply. Failures are *Error.
func (c *Client) Send(ctx context.Context, req model.ChatRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("chatclient: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("chatclient: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", &Error{Message: transportMessage(ctx, err), Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return "", &Error{StatusCode: resp.StatusCode, Message: transportMessage(ctx, err), Err: err}
	}

	text := strings.TrimSpace(string(raw))
	if text == "" {
		return "", &Error{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("Got an empty reply from the server. (Status: %d)", resp.StatusCode),
			Err:        ErrEmptyResponse,
		}
	}

	var data struct {
		Response  string     `json:"response"`
		Error     string     `json:"error"`
		ResetTime *time.Time `json:"resetTime"`
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		lower := strings.ToLower(text)
		if strings.Contains(lower, "<html") || strings.Contains(lower, "<!doctype") {
			return "", &Error{
				StatusCode: resp.StatusCode,
				Message:    fmt.Sprintf("The server returned a web page instead of a reply. (Status: %d)", resp.StatusCode),
				Err:        ErrHTMLResponse,
			}
		}
		return "", &Error{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("Got an unexpected reply from the server. (Status: %d)", resp.StatusCode),
			Err:        fmt.Errorf("%w: %v", ErrUnexpectedResponse, err),
		}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		e := &Error{
			StatusCode:  resp.StatusCode,
			Message:     data.Response,
			RateLimited: resp.StatusCode == http.StatusTooManyRequests,
			ResetTime:   data.ResetTime,
		}
		if data.Error != "" {
			e.Err = errors.New(data.Error)
		}
		if e.Message == "" {
			e.Message = statusMessage(resp.StatusCode)
		}
		return "", e
	}

	if data.Response == "" {
		return "", &Error{
			StatusCode: resp.StatusCode,
			Message:    "Sorry, I didn't catch that.",
			Err:        ErrUnexpectedResponse,
		}
	}
	return data.Response, nil
}

func statusMessage(status int) string {
	switch status {
	case http.StatusTooManyRequests:
		return "I'm really tired tonight, let's talk tomorrow 😴"
	case http.StatusRequestTimeout:
		return "That took too long. Please try again."
	case http.StatusServiceUnavailable:
		return "The AI service is temporarily unavailable. Please try again in a few minutes."
	default:
		return fmt.Sprintf("Connection problem (%d). Please try again in a moment.", status)
	}
}

func transportMessage(ctx context.Context, err error) string {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "The request took too long. Please try again."
	}
	var ne interface{ Timeout() bool }
	if errors.As(err, &ne) && ne.Timeout() {
		return "The request took too long. Please try again."
	}
	return "I can't reach the server right now. Please check your connection and try again."
}
