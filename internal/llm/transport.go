package llm

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"
)

// maxCapturedBody bounds how much of an error body is kept for classification.
const maxCapturedBody = 64 << 10

type captureKey struct{}

// capture holds what the transport saw of the last response for one request.
type capture struct {
	mu     sync.Mutex
	status int
	header http.Header
	body   []byte
}

func withCapture(ctx context.Context) (context.Context, *capture) {
	c := &capture{}
	return context.WithValue(ctx, captureKey{}, c), c
}

func captureFrom(ctx context.Context) *capture {
	c, _ := ctx.Value(captureKey{}).(*capture)
	return c
}

func (c *capture) snapshot() (int, http.Header, []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status, c.header, c.body
}

// captureTransport records status, headers and, for error statuses, a bounded
// body prefix of every response whose request context carries a capture.
// Provider SDKs hide most of this behind their own error types.
type captureTransport struct {
	base http.RoundTripper
}

// NewHTTPClient returns an HTTP client whose transport records upstream
// responses for error classification. base defaults to http.DefaultTransport.
// The client has no timeout of its own; callers bound requests by context.
func NewHTTPClient(base http.RoundTripper) *http.Client {
	if base == nil {
		base = http.DefaultTransport
	}
	return &http.Client{Transport: &captureTransport{base: base}}
}

func (t *captureTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return resp, err
	}

	c := captureFrom(req.Context())
	if c == nil {
		return resp, nil
	}

	var snippet []byte
	if resp.StatusCode >= http.StatusBadRequest && resp.Body != nil {
		snippet, _ = io.ReadAll(io.LimitReader(resp.Body, maxCapturedBody))
		resp.Body = struct {
			io.Reader
			io.Closer
		}{io.MultiReader(bytes.NewReader(snippet), resp.Body), resp.Body}
	}

	c.mu.Lock()
	c.status = resp.StatusCode
	c.header = resp.Header.Clone()
	c.body = snippet
	c.mu.Unlock()

	return resp, nil
}
