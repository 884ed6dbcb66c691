package conversation

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"lightlink/cmd/identity"
	"lightlink/cmd/identity/ids"
	"lightlink/cmd/internal/notify"
	"lightlink/cmd/internal/outbox"
	"lightlink/cmd/internal/store"
)

const (
	// MaxBodyRunes bounds a message body after trimming.
	MaxBodyRunes = 4000
	// MaxDataBytes bounds the opaque encrypted payload of a direct message.
	MaxDataBytes = 64 << 10

	maxLabelRunes = 64
	maxIconBytes  = 2048
	pushPreview   = 100
)

// CallTable is the part of the call coordinator that membership changes reach.
// *calls.Coordinator satisfies it.
type CallTable interface {
	LeaveScope(st *store.State, kind store.Kind, scope, name string) outbox.Outcome
	EndScope(st *store.State, kind store.Kind, scope string) outbox.Outcome
}

type noCalls struct{}

func (noCalls) LeaveScope(*store.State, store.Kind, string, string) outbox.Outcome {
	return outbox.Outcome{}
}
func (noCalls) EndScope(*store.State, store.Kind, string) outbox.Outcome { return outbox.Outcome{} }

// Engine serves the conversation commands.
type Engine struct {
	store      *store.Store
	queue      *notify.Queue
	calls      CallTable
	log        *slog.Logger
	historyCap int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger (default: slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithHistoryCap bounds group and space-channel histories (default store.DefaultHistoryCap).
func WithHistoryCap(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.historyCap = n
		}
	}
}

// WithQueue shares the notification queue policy with other managers.
func WithQueue(q *notify.Queue) Option {
	return func(e *Engine) {
		if q != nil {
			e.queue = q
		}
	}
}

// WithCalls wires the live call table so kicks, leaves and deletions end the
// affected call memberships.
func WithCalls(c CallTable) Option {
	return func(e *Engine) {
		if c != nil {
			e.calls = c
		}
	}
}

// New returns an Engine over st.
func New(st *store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:      st,
		queue:      notify.NewQueue(notify.DefaultQueueCap),
		calls:      noCalls{},
		log:        slog.Default(),
		historyCap: store.DefaultHistoryCap,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// body trims and bounds a message text.
func body(op, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", identity.Invalid(op, "")
	}
	if utf8.RuneCountInString(text) > MaxBodyRunes {
		return "", identity.Invalid(op, "Message is too long.")
	}
	return text, nil
}

// label trims and bounds a group or space name.
func label(op, s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" || utf8.RuneCountInString(s) > maxLabelRunes {
		return "", identity.Invalid(op, "Invalid name")
	}
	return s, nil
}

// checkMuted rejects sends from a muted identity.
func checkMuted(st *store.State, op, name string, now time.Time) error {
	if mu, ok := st.Mutes[name]; ok && mu.Active(now) {
		return identity.Forbidden(op, "You are muted")
	}
	return nil
}

// expireMute drops an expired mute of name in its own write, so the cleanup
// is saved even when the send that follows is rejected.
func (e *Engine) expireMute(ctx context.Context, name string) error {
	return e.store.Write(ctx, func(st *store.State) error {
		mu, ok := st.Mutes[name]
		if !ok || mu.Active(e.store.Now()) {
			return store.ErrNoChange
		}
		delete(st.Mutes, name)
		return nil
	})
}

func newMessage(from, text string, now time.Time) store.Message {
	return store.Message{ID: ids.MustULID(now), From: from, Text: text, TS: now}
}

func systemMessage(from, text string, now time.Time) store.Message {
	m := newMessage(from, text, now)
	m.System = true
	return m
}

func validData(data json.RawMessage) bool {
	return len(data) <= MaxDataBytes && (len(data) == 0 || json.Valid(data))
}

func preview(s string) string {
	if utf8.RuneCountInString(s) <= pushPreview {
		return s
	}
	r := []rune(s)
	return string(r[:pushPreview]) + "..."
}
