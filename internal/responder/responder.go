// Package responder answers common greetings and small talk locally so they
// never consume upstream quota.
package responder

import (
	"math/rand"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Reply produces one canned reply. now is the caller's clock at lookup time.
type Reply func(now time.Time) string

// Text is a Reply with fixed content.
func Text(s string) Reply {
	return func(time.Time) string { return s }
}

// Entry is one table row. Keys are lowercase.
type Entry struct {
	Key     string
	Replies []Reply
}

// Rand is the subset of *rand.Rand used to pick replies.
type Rand interface {
	Intn(n int) int
}

// Responder looks messages up in an ordered table. It is safe for concurrent
// use when its Rand is.
type Responder struct {
	table []Entry
	rng   Rand
	now   func() time.Time
}

// Option configures a Responder.
type Option func(*Responder)

// WithRand sets the source used to choose among a key's replies.
func WithRand(r Rand) Option {
	return func(rs *Responder) { rs.rng = r }
}

// WithClock sets the clock passed to generated replies.
func WithClock(now func() time.Time) Option {
	return func(rs *Responder) { rs.now = now }
}

type globalRand struct{}

func (globalRand) Intn(n int) int { return rand.Intn(n) }

// New returns a Responder over table. Table order decides which key wins
// when several match.
func New(table []Entry, opts ...Option) *Responder {
	r := &Responder{
		table: table,
		rng:   globalRand{},
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Lookup returns a canned reply for message, or false when the message
// should go to the upstream model.
func (r *Responder) Lookup(message string) (string, bool) {
	msg := strings.ToLower(strings.TrimSpace(message))
	if msg == "" {
		return "", false
	}

	for _, e := range r.table {
		if e.Key == msg {
			return r.pick(e), true
		}
	}

	for _, e := range r.table {
		if utf8.RuneCountInString(e.Key) > 2 && containsWord(msg, e.Key) {
			return r.pick(e), true
		}
	}

	for _, e := range r.table {
		if utf8.RuneCountInString(e.Key) > 2 && strings.Contains(msg, e.Key) {
			return r.pick(e), true
		}
	}

	return "", false
}

func (r *Responder) pick(e Entry) string {
	if len(e.Replies) == 0 {
		return ""
	}
	return e.Replies[r.rng.Intn(len(e.Replies))](r.now())
}

// containsWord reports whether key occurs in s bounded by non-word runes.
func containsWord(s, key string) bool {
	for from := 0; from <= len(s)-len(key); {
		i := strings.Index(s[from:], key)
		if i < 0 {
			return false
		}
		start := from + i
		end := start + len(key)

		before, _ := utf8.DecodeLastRuneInString(s[:start])
		after, _ := utf8.DecodeRuneInString(s[end:])
		if (start == 0 || !isWordRune(before)) && (end == len(s) || !isWordRune(after)) {
			return true
		}

		_, size := utf8.DecodeRuneInString(s[start:])
		from = start + size
	}
	return false
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || unicode.Is(unicode.Mn, r) || unicode.Is(unicode.Mc, r)
}
