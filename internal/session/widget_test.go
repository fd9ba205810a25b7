package session

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/companion-relay/internal/chatclient"
	"github.com/capitalize-ai/companion-relay/internal/model"
	"github.com/capitalize-ai/companion-relay/internal/responder"
)

type fakeBackend struct {
	calls    atomic.Int32
	requests []model.ChatRequest
	reply    string
	err      error
	block    chan struct{}
}

func (b *fakeBackend) Send(ctx context.Context, req model.ChatRequest) (string, error) {
	b.calls.Add(1)
	b.requests = append(b.requests, req)
	if b.block != nil {
		<-b.block
	}
	return b.reply, b.err
}

func newTestWidget(t *testing.T, backend Backend) (*Widget, *Controller, *recordingView, *fakeScheduler) {
	t.Helper()
	ctrl, view, sched := newTestController(t, nil)
	w := NewWidget(ctrl, view, backend, responder.New(responder.DefaultTable("Melissa")))
	return w, ctrl, view, sched
}

func TestWidget_CannedReplySkipsBackend(t *testing.T) {
	backend := &fakeBackend{reply: "should not be used"}
	w, ctrl, view, _ := newTestWidget(t, backend)

	reply, err := w.Submit(context.Background(), "hello", "")

	require.NoError(t, err)
	assert.NotEmpty(t, reply)
	assert.Equal(t, int32(0), backend.calls.Load())
	history := ctrl.History()
	require.Len(t, history, 2)
	assert.Equal(t, model.RoleUser, history[0].Role)
	assert.Equal(t, "hello", history[0].Content)
	assert.Equal(t, reply, history[1].Content)
	assert.Equal(t, []string{"hello", reply}, view.contents())
}

func TestWidget_RelaysToBackend(t *testing.T) {
	backend := &fakeBackend{reply: "Rainbows form through refraction."}
	w, ctrl, view, _ := newTestWidget(t, backend)
	ctx := context.Background()
	_, err := ctrl.AppendTurn(ctx, model.RoleAssistant, "welcome")
	require.NoError(t, err)

	reply, err := w.Submit(ctx, "how do rainbows form", "")

	require.NoError(t, err)
	assert.Equal(t, "Rainbows form through refraction.", reply)
	require.Len(t, backend.requests, 1)
	assert.Equal(t, "how do rainbows form", backend.requests[0].Message)
	require.Len(t, backend.requests[0].History, 1)
	assert.Equal(t, "welcome", backend.requests[0].History[0].Content)
	assert.Len(t, ctrl.History(), 3)
	assert.False(t, view.typing)
}

func TestWidget_ImageBypassesResponder(t *testing.T) {
	backend := &fakeBackend{reply: "A tomato plant."}
	w, ctrl, _, _ := newTestWidget(t, backend)

	_, err := w.Submit(context.Background(), "", "data:image/png;base64,AAAA")

	require.NoError(t, err)
	require.Equal(t, int32(1), backend.calls.Load())
	assert.Equal(t, "data:image/png;base64,AAAA", backend.requests[0].Image)
	assert.Equal(t, imagePlaceholder, ctrl.History()[0].Content)
}

func TestWidget_RateLimitedEndToEnd(t *testing.T) {
	resetAt := fixedNow.Add(3 * time.Hour)
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":"rate-limit-exceeded","response":"I'm really tired tonight, let's talk tomorrow 😴","resetTime":"`+resetAt.Format(time.RFC3339)+`"}`)
	}))
	defer server.Close()

	w, ctrl, view, sched := newTestWidget(t, chatclient.New(server.URL, time.Second))
	ctx := context.Background()

	reply, err := w.Submit(ctx, "tell me about black holes", "")

	require.NoError(t, err)
	assert.Equal(t, "I'm really tired tonight, let's talk tomorrow 😴", reply)
	assert.True(t, ctrl.Limited())
	assert.False(t, view.enabled)
	assert.Equal(t, StatusOffline, view.status)
	assert.Contains(t, view.banner, "wake-up alarm")
	require.Len(t, sched.active(), 1)
	assert.Equal(t, 3*time.Hour, sched.active()[0].delay)

	// The limit message is shown but not kept.
	history := ctrl.History()
	require.Len(t, history, 1)
	assert.Equal(t, model.RoleUser, history[0].Role)
	assert.Contains(t, view.contents(), reply)

	// Everything is gated while limited, canned replies included.
	_, err = w.Submit(ctx, "hello", "")
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, int32(1), hits.Load())
	assert.Len(t, ctrl.History(), 1)
}

func TestWidget_OtherFailuresAreAppended(t *testing.T) {
	backend := &fakeBackend{err: &chatclient.Error{StatusCode: 503, Message: "The AI service is temporarily unavailable."}}
	w, ctrl, _, _ := newTestWidget(t, backend)

	reply, err := w.Submit(context.Background(), "what is entropy", "")

	require.NoError(t, err)
	assert.Equal(t, "The AI service is temporarily unavailable.", reply)
	assert.False(t, ctrl.Limited())
	history := ctrl.History()
	require.Len(t, history, 2)
	assert.Equal(t, reply, history[1].Content)
}

func TestWidget_SingleFlight(t *testing.T) {
	backend := &fakeBackend{reply: "done", block: make(chan struct{})}
	w, _, _, _ := newTestWidget(t, backend)
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = w.Submit(ctx, "first question", "")
	}()

	require.Eventually(t, func() bool { return backend.calls.Load() == 1 }, time.Second, time.Millisecond)

	_, err := w.Submit(ctx, "second question", "")
	assert.ErrorIs(t, err, ErrBusy)

	close(backend.block)
	<-done

	_, err = w.Submit(ctx, "third question", "")
	assert.NoError(t, err)
}

func TestWidget_EmptyMessage(t *testing.T) {
	w, _, _, _ := newTestWidget(t, &fakeBackend{})

	_, err := w.Submit(context.Background(), "   ", "")

	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestWidget_StartAndReset(t *testing.T) {
	store, _ := NewStorage(StoreTypeMemory)
	ctx := context.Background()
	resetAt := fixedNow.Add(time.Hour)

	first, _, _ := newTestController(t, store)
	_, err := first.AppendTurn(ctx, model.RoleUser, "earlier")
	require.NoError(t, err)
	require.NoError(t, first.SetRateLimited(ctx, &resetAt))

	ctrl, view, sched := newTestController(t, store)
	w := NewWidget(ctrl, view, &fakeBackend{}, nil, WithWelcome("welcome back"))
	w.Start(ctx)

	assert.Equal(t, []string{"earlier"}, view.contents())
	assert.True(t, ctrl.Limited())
	assert.False(t, view.enabled)
	require.Len(t, sched.active(), 1)

	require.NoError(t, w.Reset(ctx))

	assert.False(t, ctrl.Limited())
	assert.True(t, view.enabled)
	assert.Empty(t, sched.active())
	history := ctrl.History()
	require.Len(t, history, 1)
	assert.Equal(t, "welcome back", history[0].Content)
}
