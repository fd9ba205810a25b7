package session

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/capitalize-ai/companion-relay/internal/chatclient"
	"github.com/capitalize-ai/companion-relay/internal/model"
	"github.com/capitalize-ai/companion-relay/pkg/logger"
	"github.com/capitalize-ai/companion-relay/pkg/metrics"
)

var (
	// ErrBusy is returned when a submission is already in flight.
	ErrBusy = errors.New("session: a reply is still pending")
	// ErrRateLimited is returned when submissions are blocked until the
	// rate limit resets.
	ErrRateLimited = errors.New("session: rate limited")
	// ErrEmptyMessage is returned when there is neither text nor image.
	ErrEmptyMessage = errors.New("session: empty message")
)

const imagePlaceholder = "Image uploaded"

// Backend sends a chat request to the relay.
type Backend interface {
	Send(ctx context.Context, req model.ChatRequest) (string, error)
}

// Responder answers some messages locally.
type Responder interface {
	Lookup(message string) (string, bool)
}

// Widget drives one chat session: it gates submissions, answers canned
// messages locally and relays everything else to the backend.
type Widget struct {
	ctrl      *Controller
	view      View
	backend   Backend
	responder Responder
	log       *logger.Logger

	welcome       string
	historyWindow int

	inflight atomic.Bool
}

// WidgetOption configures a Widget.
type WidgetOption func(*Widget)

// WithWelcome sets the greeting shown in an empty conversation.
func WithWelcome(text string) WidgetOption {
	return func(w *Widget) { w.welcome = text }
}

// WithHistoryWindow sets how many prior turns are sent with a request.
func WithHistoryWindow(n int) WidgetOption {
	return func(w *Widget) { w.historyWindow = n }
}

// WithWidgetLogger sets the logger.
func WithWidgetLogger(log *logger.Logger) WidgetOption {
	return func(w *Widget) { w.log = log }
}

// NewWidget wires a widget. responder may be nil.
func NewWidget(ctrl *Controller, view View, backend Backend, responder Responder, opts ...WidgetOption) *Widget {
	if view == nil {
		view = NopView{}
	}
	w := &Widget{
		ctrl:          ctrl,
		view:          view,
		backend:       backend,
		responder:     responder,
		historyWindow: 10,
		welcome:       "Hello! I'm " + ctrl.assistantName + ". Ask me anything, or send me a picture to look at.",
	}
	for _, opt := range opts {
		opt(w)
	}
	w.log = logger.OrNop(w.log)
	return w
}

// Start restores the session: history is loaded and rendered (or the welcome
// shown when empty) and a persisted rate limit is re-applied.
func (w *Widget) Start(ctx context.Context) {
	history := w.ctrl.LoadHistory(ctx)
	if len(history) == 0 {
		w.greet(ctx)
	}
	for _, t := range history {
		w.view.Render(t)
	}
	w.ctrl.CheckRateLimit(ctx)
}

// Reset clears the conversation and any rate limit, then greets again.
func (w *Widget) Reset(ctx context.Context) error {
	err := w.ctrl.ClearHistory(ctx)
	if ferr := w.ctrl.ForceReset(ctx); err == nil {
		err = ferr
	}
	w.greet(ctx)
	return err
}

func (w *Widget) greet(ctx context.Context) {
	turn, err := w.ctrl.AppendTurn(ctx, model.RoleAssistant, w.welcome)
	if err != nil {
		w.log.Warn("failed to save welcome message", zap.Error(err))
	}
	w.view.Render(turn)
}

// Submit handles one user submission and returns the reply shown to the
// user. It returns ErrBusy while another submission is pending and
// ErrRateLimited while limited; in both cases nothing is sent or shown.
// Backend failures are not returned as errors: their user-facing text is
// the reply.
func (w *Widget) Submit(ctx context.Context, text, image string) (string, error) {
	if !w.inflight.CompareAndSwap(false, true) {
		return "", ErrBusy
	}
	defer w.inflight.Store(false)

	if w.ctrl.Limited() {
		return "", ErrRateLimited
	}

	text = strings.TrimSpace(text)
	if text == "" && image == "" {
		return "", ErrEmptyMessage
	}

	prior := model.LastTurns(w.ctrl.History(), w.historyWindow)

	shown := text
	if shown == "" {
		shown = imagePlaceholder
	}
	w.say(ctx, model.RoleUser, shown)

	if image == "" && w.responder != nil {
		if reply, ok := w.responder.Lookup(text); ok {
			metrics.CannedRepliesTotal.Inc()
			w.say(ctx, model.RoleAssistant, reply)
			return reply, nil
		}
	}

	w.view.SetTyping(true)
	reply, err := w.backend.Send(ctx, model.ChatRequest{Message: text, History: prior, Image: image})
	w.view.SetTyping(false)

	if err == nil {
		w.say(ctx, model.RoleAssistant, reply)
		return reply, nil
	}

	var ce *chatclient.Error
	if errors.As(err, &ce) && ce.RateLimited {
		if serr := w.ctrl.SetRateLimited(ctx, ce.ResetTime); serr != nil {
			w.log.Warn("failed to persist rate limit", zap.Error(serr))
		}
		w.view.Render(model.ConversationTurn{Role: model.RoleAssistant, Content: ce.Message, Timestamp: w.ctrl.now()})
		return ce.Message, nil
	}

	msg := "Something went wrong on my end. Please try again in a moment."
	if ce != nil && ce.Message != "" {
		msg = ce.Message
	}
	w.log.Warn("chat request failed", zap.Error(err))
	w.say(ctx, model.RoleAssistant, msg)
	return msg, nil
}

func (w *Widget) say(ctx context.Context, role model.Role, content string) {
	turn, err := w.ctrl.AppendTurn(ctx, role, content)
	if err != nil {
		w.log.Warn("failed to save turn", zap.Error(err))
	}
	w.view.Render(turn)
}
