package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies a failed completion.
type Kind string

const (
	KindConfiguration     Kind = "configuration"
	KindRateLimited       Kind = "rate_limited"
	KindTimeout           Kind = "timeout"
	KindServerError       Kind = "server_error"
	KindMalformedResponse Kind = "malformed_response"
	KindNetwork           Kind = "network"
	KindUnknown           Kind = "unknown"
)

// Failure describes why a completion produced no text.
type Failure struct {
	Kind Kind
	// RetryAfter is the upstream's reset instant, only for KindRateLimited.
	RetryAfter *time.Time
	Credential string
	Model      string
	// StatusCode is the upstream HTTP status, zero when none was received.
	StatusCode int
	Err        error

	// tryNextModel is set when the failure is specific to the model, so the
	// same credential may still succeed with another one.
	tryNextModel bool
}

func (f *Failure) Error() string {
	s := string(f.Kind)
	if f.Credential != "" {
		s += " on " + f.Credential
	}
	if f.Model != "" {
		s += "/" + f.Model
	}
	if f.StatusCode != 0 {
		s += fmt.Sprintf(" (status %d)", f.StatusCode)
	}
	if f.Err != nil {
		s += ": " + f.Err.Error()
	}
	return s
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Outcome is either a successful reply or a Failure, never both.
type Outcome struct {
	text    string
	failure *Failure
}

// Success returns a successful outcome carrying text.
func Success(text string) Outcome {
	return Outcome{text: text}
}

// Fail returns a failed outcome. A nil failure is reported as KindUnknown.
func Fail(f *Failure) Outcome {
	if f == nil {
		f = &Failure{Kind: KindUnknown}
	}
	return Outcome{failure: f}
}

// OK reports whether the outcome is a success.
func (o Outcome) OK() bool {
	return o.failure == nil
}

// Text returns the reply text of a successful outcome.
func (o Outcome) Text() string {
	return o.text
}

// Err returns the failure, or nil on success.
func (o Outcome) Err() *Failure {
	return o.failure
}

// classify turns the error of one attempt into a Failure. attemptCtx is the
// context bounding that attempt alone.
func classify(attemptCtx context.Context, err error, networkAsRateLimit bool, now time.Time) *Failure {
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return &Failure{Kind: KindTimeout, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &Failure{Kind: KindUnknown, Err: err}
	}
	if errors.Is(err, ErrMalformedResponse) {
		return &Failure{Kind: KindMalformedResponse, Err: err, tryNextModel: true}
	}

	var ue *UpstreamError
	if !errors.As(err, &ue) || ue.StatusCode == 0 {
		kind := KindNetwork
		if networkAsRateLimit {
			kind = KindRateLimited
		}
		return &Failure{Kind: kind, Err: err}
	}

	f := &Failure{StatusCode: ue.StatusCode, Err: err}
	text := ue.Body + " " + ue.Message
	switch {
	case ue.StatusCode == http.StatusTooManyRequests || mentionsRateLimit(text):
		f.Kind = KindRateLimited
		f.RetryAfter = ParseResetTime(ue.Header, []byte(ue.Body), now)
	case ue.StatusCode == http.StatusNotFound || mentionsUnavailableModel(text):
		f.Kind = KindUnknown
		f.tryNextModel = true
	case ue.StatusCode >= http.StatusInternalServerError:
		f.Kind = KindServerError
		f.tryNextModel = true
	default:
		f.Kind = KindUnknown
	}
	return f
}
