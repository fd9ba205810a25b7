package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/capitalize-ai/companion-relay/internal/model"
)

type recordingView struct {
	mu       sync.Mutex
	enabled  bool
	status   Status
	banner   string
	typing   bool
	rendered []model.ConversationTurn
}

func newRecordingView() *recordingView {
	return &recordingView{enabled: true, status: StatusOnline}
}

func (v *recordingView) SetInputEnabled(enabled bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.enabled = enabled
}

func (v *recordingView) SetStatus(s Status) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.status = s
}

func (v *recordingView) ShowBanner(text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.banner = text
}

func (v *recordingView) HideBanner() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.banner = ""
}

func (v *recordingView) SetTyping(typing bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.typing = typing
}

func (v *recordingView) Render(turn model.ConversationTurn) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rendered = append(v.rendered, turn)
}

func (v *recordingView) contents() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]string, len(v.rendered))
	for i, t := range v.rendered {
		out[i] = t.Content
	}
	return out
}

// fakeScheduler records timers and fires them on demand.
type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	delay   time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	wasActive := !t.stopped && !t.fired
	t.stopped = true
	return wasActive
}

func (s *fakeScheduler) schedule(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{delay: d, f: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) active() []*fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*fakeTimer
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	return out
}

// fireAll runs every pending timer, including stopped ones, the way a
// timer that already started running would.
func (s *fakeScheduler) fireAll() {
	s.mu.Lock()
	timers := append([]*fakeTimer(nil), s.timers...)
	s.mu.Unlock()
	for _, t := range timers {
		if !t.fired {
			t.fired = true
			t.f()
		}
	}
}

type failingStorage struct{}

func (failingStorage) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("storage unavailable")
}
func (failingStorage) Set(context.Context, string, string) error { return errors.New("storage unavailable") }
func (failingStorage) Remove(context.Context, string) error      { return errors.New("storage unavailable") }
func (failingStorage) Close() error                              { return nil }
