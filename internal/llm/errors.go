package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrMalformedResponse is returned when a successful response lacks the
	// expected message content.
	ErrMalformedResponse = errors.New("malformed upstream response")

	// ErrNoCredentials is the cause of a configuration failure.
	ErrNoCredentials = errors.New("no credentials configured")
)

// UpstreamError is an HTTP error response from a provider.
type UpstreamError struct {
	StatusCode int
	// Message is the provider's structured error message, if any.
	Message string
	// Body is a bounded prefix of the raw response body.
	Body   string
	Header http.Header
	Err    error
}

func (e *UpstreamError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("upstream status %d: %s", e.StatusCode, msg)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// upstreamError converts an SDK error into an *UpstreamError using what the
// transport captured. Errors without an HTTP response are returned unchanged.
func upstreamError(c *capture, err error, message string) error {
	status, header, body := c.snapshot()
	if status == 0 {
		return err
	}
	if status < http.StatusBadRequest {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if message == "" {
		message = bodyErrorMessage(body)
	}
	return &UpstreamError{
		StatusCode: status,
		Message:    message,
		Body:       string(body),
		Header:     header,
		Err:        err,
	}
}

// errorEnvelope is the OpenAI/OpenRouter error body shape.
type errorEnvelope struct {
	Error struct {
		Message  string `json:"message"`
		Metadata struct {
			Headers map[string]any `json:"headers"`
		} `json:"metadata"`
	} `json:"error"`
}

func bodyErrorMessage(body []byte) string {
	var env errorEnvelope
	if json.Unmarshal(body, &env) != nil {
		return ""
	}
	return env.Error.Message
}

var rateLimitPhrases = []string{
	"rate limit",
	"rate-limit",
	"ratelimit",
	"limit exceeded",
	"daily model quota",
	"quota exceeded",
	"too many requests",
}

func mentionsRateLimit(text string) bool {
	text = strings.ToLower(text)
	for _, p := range rateLimitPhrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}

var unavailableModelPhrases = []string{
	"no endpoints found",
	"model not found",
	"model_not_found",
	"is not a valid model",
	"no such model",
}

func mentionsUnavailableModel(text string) bool {
	text = strings.ToLower(text)
	for _, p := range unavailableModelPhrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}

// ParseResetTime extracts the rate-limit reset instant from response headers
// or from the provider's structured error metadata. Returns nil when none is
// present or parseable.
func ParseResetTime(header http.Header, body []byte, now time.Time) *time.Time {
	if header != nil {
		if t, ok := parseResetValue(header.Get("X-RateLimit-Reset"), now); ok {
			return &t
		}
	}

	var env errorEnvelope
	if len(body) > 0 && json.Unmarshal(body, &env) == nil {
		for k, v := range env.Error.Metadata.Headers {
			if !strings.EqualFold(k, "X-RateLimit-Reset") {
				continue
			}
			if t, ok := parseResetValue(fmt.Sprint(v), now); ok {
				return &t
			}
		}
	}

	if header != nil {
		if t, ok := parseResetValue(header.Get("Retry-After"), now); ok {
			return &t
		}
	}
	return nil
}

// parseResetValue accepts epoch milliseconds, epoch seconds, a delay in
// seconds, RFC 3339 or an HTTP date.
func parseResetValue(v string, now time.Time) (time.Time, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false
	}

	if n, err := strconv.ParseFloat(v, 64); err == nil {
		if n < 0 || math.IsNaN(n) || math.IsInf(n, 0) {
			return time.Time{}, false
		}
		switch {
		case n > 1e12:
			return time.UnixMilli(int64(n)), true
		case n > 1e9:
			return time.Unix(int64(n), 0), true
		default:
			return now.Add(time.Duration(n * float64(time.Second))), true
		}
	}

	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, true
	}
	if t, err := http.ParseTime(v); err == nil {
		return t, true
	}
	return time.Time{}, false
}
