package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/companion-relay/internal/model"
	"github.com/capitalize-ai/companion-relay/pkg/logger"
)

const (
	historySuffix   = "_chat_history"
	rateLimitSuffix = "_rate_limit"
)

// RateLimitState is the persisted rate-limit flag and its reset instant.
type RateLimitState struct {
	Limited bool       `json:"limited"`
	ResetAt *time.Time `json:"resetAt,omitempty"`
}

// Timer is a pending one-shot callback.
type Timer interface {
	Stop() bool
}

// Scheduler runs f once after d.
type Scheduler func(d time.Duration, f func()) Timer

func realScheduler(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Controller owns the session's history and rate-limit state. Methods are
// safe for concurrent use; the reset timer fires on its own goroutine.
type Controller struct {
	mu sync.Mutex

	store    Storage
	view     View
	log      *logger.Logger
	schedule Scheduler
	now      func() time.Time

	keyPrefix     string
	maxHistory    int
	fallback      time.Duration
	assistantName string
	backOnline    string

	history []model.ConversationTurn
	state   RateLimitState
	timer   Timer
	// gen invalidates callbacks of superseded timers.
	gen uint64
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithKeyPrefix sets the storage key prefix, default "green_companion".
func WithKeyPrefix(prefix string) ControllerOption {
	return func(c *Controller) { c.keyPrefix = prefix }
}

// WithMaxHistory sets how many turns are retained, default 50.
func WithMaxHistory(n int) ControllerOption {
	return func(c *Controller) { c.maxHistory = n }
}

// WithFallbackHorizon sets the reset delay used when the server sent no
// reset time, default 24h.
func WithFallbackHorizon(d time.Duration) ControllerOption {
	return func(c *Controller) { c.fallback = d }
}

// WithAssistantName sets the name used in the banner and back-online message.
func WithAssistantName(name string) ControllerOption {
	return func(c *Controller) { c.assistantName = name }
}

// WithScheduler replaces time.AfterFunc.
func WithScheduler(s Scheduler) ControllerOption {
	return func(c *Controller) { c.schedule = s }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) ControllerOption {
	return func(c *Controller) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(log *logger.Logger) ControllerOption {
	return func(c *Controller) { c.log = log }
}

// NewController creates a controller over store. view may be nil.
func NewController(store Storage, view View, opts ...ControllerOption) *Controller {
	if view == nil {
		view = NopView{}
	}
	c := &Controller{
		store:         store,
		view:          view,
		schedule:      realScheduler,
		now:           time.Now,
		keyPrefix:     "green_companion",
		maxHistory:    50,
		fallback:      24 * time.Hour,
		assistantName: "Melissa",
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = logger.OrNop(c.log)
	c.backOnline = fmt.Sprintf("Good morning! %s is back online and ready to chat! 😊", c.assistantName)
	return c
}

func (c *Controller) historyKey() string   { return c.keyPrefix + historySuffix }
func (c *Controller) rateLimitKey() string { return c.keyPrefix + rateLimitSuffix }

// LoadHistory reads history from storage. Missing or corrupt data yields an
// empty history.
func (c *Controller) LoadHistory(ctx context.Context) []model.ConversationTurn {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.history = nil
	raw, ok, err := c.store.Get(ctx, c.historyKey())
	if err != nil {
		c.log.Warn("failed to read chat history", zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}

	var turns []model.ConversationTurn
	if err := json.Unmarshal([]byte(raw), &turns); err != nil {
		c.log.Warn("discarding corrupt chat history", zap.Error(err))
		return nil
	}

	valid := turns[:0]
	for _, t := range turns {
		if t.Role.Valid() {
			valid = append(valid, t)
		}
	}
	c.history = truncate(valid, c.maxHistory)
	return c.snapshot()
}

// SaveHistory persists the in-memory history.
func (c *Controller) SaveHistory(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.saveHistoryLocked(ctx)
}

func (c *Controller) saveHistoryLocked(ctx context.Context) error {
	c.history = truncate(c.history, c.maxHistory)
	if c.history == nil {
		c.history = []model.ConversationTurn{}
	}
	raw, err := json.Marshal(c.history)
	if err != nil {
		return fmt.Errorf("session: marshal history: %w", err)
	}
	if err := c.store.Set(ctx, c.historyKey(), string(raw)); err != nil {
		return fmt.Errorf("session: save history: %w", err)
	}
	return nil
}

// AppendTurn appends a turn, truncates to the maximum length and persists.
func (c *Controller) AppendTurn(ctx context.Context, role model.Role, content string) (model.ConversationTurn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.appendLocked(ctx, role, content)
}

func (c *Controller) appendLocked(ctx context.Context, role model.Role, content string) (model.ConversationTurn, error) {
	if !role.Valid() {
		return model.ConversationTurn{}, fmt.Errorf("session: invalid role %q", role)
	}
	turn := model.ConversationTurn{Role: role, Content: content, Timestamp: c.now()}
	c.history = append(c.history, turn)
	return turn, c.saveHistoryLocked(ctx)
}

// ClearHistory empties the history and clears any rate limit.
func (c *Controller) ClearHistory(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.history = nil
	if err := c.saveHistoryLocked(ctx); err != nil {
		return err
	}
	return c.clearRateLimitLocked(ctx)
}

// History returns a copy of the current history.
func (c *Controller) History() []model.ConversationTurn {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.snapshot()
}

// State returns the current rate-limit state.
func (c *Controller) State() RateLimitState {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// Limited reports whether submissions are currently blocked.
func (c *Controller) Limited() bool {
	return c.State().Limited
}

// SetRateLimited enters the limited state until resetAt. A nil resetAt uses
// the fallback horizon; a past resetAt is due immediately. Any pending reset
// timer is replaced.
func (c *Controller) SetRateLimited(ctx context.Context, resetAt *time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	at := now.Add(c.fallback)
	if resetAt != nil {
		at = *resetAt
	}
	c.state = RateLimitState{Limited: true, ResetAt: &at}

	err := c.persistStateLocked(ctx)

	c.view.SetStatus(StatusOffline)
	c.view.SetInputEnabled(false)
	c.view.ShowBanner(c.banner(at, now))

	c.stopTimerLocked()
	c.scheduleLocked(at.Sub(now))

	c.log.Info("rate limited", zap.Time("reset_at", at))
	return err
}

// ClearRateLimit leaves the limited state, cancels the reset timer and
// re-enables input.
func (c *Controller) ClearRateLimit(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.clearRateLimitLocked(ctx)
}

func (c *Controller) clearRateLimitLocked(ctx context.Context) error {
	c.state = RateLimitState{}
	c.stopTimerLocked()

	err := c.store.Remove(ctx, c.rateLimitKey())
	if err != nil {
		err = fmt.Errorf("session: clear rate limit: %w", err)
	}

	c.view.SetStatus(StatusOnline)
	c.view.HideBanner()
	c.view.SetInputEnabled(true)
	return err
}

// ForceReset clears the rate limit and its persisted reset time whether or
// not it has elapsed. Used after credentials are rotated.
func (c *Controller) ForceReset(ctx context.Context) error {
	c.log.Info("force resetting rate limit")
	return c.ClearRateLimit(ctx)
}

// CheckRateLimit restores the limited state persisted by an earlier run and
// re-applies the disabled UI. A reset timer is scheduled only when none is
// pending. Reports whether the session is limited.
func (c *Controller) CheckRateLimit(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.Limited {
		raw, ok, err := c.store.Get(ctx, c.rateLimitKey())
		if err != nil {
			c.log.Warn("failed to read rate limit state", zap.Error(err))
			return false
		}
		if !ok {
			return false
		}
		var st RateLimitState
		if err := json.Unmarshal([]byte(raw), &st); err != nil || !st.Limited {
			return false
		}
		c.state = st
	}

	now := c.now()
	if c.state.ResetAt == nil {
		at := now.Add(c.fallback)
		c.state.ResetAt = &at
	}

	c.view.SetStatus(StatusOffline)
	c.view.SetInputEnabled(false)
	c.view.ShowBanner(c.banner(*c.state.ResetAt, now))

	if c.timer == nil {
		c.scheduleLocked(c.state.ResetAt.Sub(now))
	}
	return true
}

func (c *Controller) persistStateLocked(ctx context.Context) error {
	raw, err := json.Marshal(c.state)
	if err != nil {
		return fmt.Errorf("session: marshal rate limit: %w", err)
	}
	if err := c.store.Set(ctx, c.rateLimitKey(), string(raw)); err != nil {
		return fmt.Errorf("session: save rate limit: %w", err)
	}
	return nil
}

func (c *Controller) scheduleLocked(delay time.Duration) {
	if delay < 0 {
		delay = 0
	}
	c.gen++
	gen := c.gen
	c.timer = c.schedule(delay, func() { c.onResetDue(gen) })
}

func (c *Controller) stopTimerLocked() {
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Controller) onResetDue(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		return
	}
	c.timer = nil

	ctx := context.Background()
	if err := c.clearRateLimitLocked(ctx); err != nil {
		c.log.Warn("failed to clear rate limit", zap.Error(err))
	}
	turn, err := c.appendLocked(ctx, model.RoleAssistant, c.backOnline)
	if err != nil {
		c.log.Warn("failed to save back-online message", zap.Error(err))
	}
	c.view.Render(turn)
}

func (c *Controller) banner(at, now time.Time) string {
	when := "now"
	if at.After(now) {
		local := at.Local()
		when = local.Format("3:04 PM Jan 2")
	}
	return fmt.Sprintf("%s set the wake-up alarm for %s", c.assistantName, when)
}

func (c *Controller) snapshot() []model.ConversationTurn {
	out := make([]model.ConversationTurn, len(c.history))
	copy(out, c.history)
	return out
}

func truncate(turns []model.ConversationTurn, n int) []model.ConversationTurn {
	if n <= 0 || len(turns) <= n {
		return turns
	}
	out := make([]model.ConversationTurn, n)
	copy(out, turns[len(turns)-n:])
	return out
}
