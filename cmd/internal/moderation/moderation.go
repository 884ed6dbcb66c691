// Package moderation implements the admin command set, IP bans, mutes,
// warnings, user reports and broadcast announcements.
//
// Every admin command carries the shared secret. Without a configured secret
// all admin commands are refused.
package moderation

import (
	"context"
	"crypto/subtle"
	"log/slog"

	"lightlink/cmd/identity"
	"lightlink/cmd/internal/notify"
	"lightlink/cmd/internal/outbox"
	"lightlink/cmd/internal/store"
	v1 "lightlink/contracts/realtime/v1"
)

// DefaultBanReason is reported for bans recorded without a reason.
const DefaultBanReason = "You have been banned from lightlink."

const (
	accessDenied       = "Access Denied"
	maxAnnouncements   = 50
	maxReportTextRunes = 4000
	maxFeedbackRunes   = 2000
)

// Presence is the live-session view moderation needs.
type Presence interface {
	Online(name string) bool
	// Sessions lists every live session. Unbound sessions have an empty Name.
	Sessions() []outbox.Caller
}

type noPresence struct{}

func (noPresence) Online(string) bool        { return false }
func (noPresence) Sessions() []outbox.Caller { return nil }

// Manager serves the moderation commands.
type Manager struct {
	store    *store.Store
	queue    *notify.Queue
	presence Presence
	secret   []byte
	log      *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger (default: slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithPresence wires the live-session view.
func WithPresence(p Presence) Option {
	return func(m *Manager) {
		if p != nil {
			m.presence = p
		}
	}
}

// WithQueue shares the notification queue policy with other managers.
func WithQueue(q *notify.Queue) Option {
	return func(m *Manager) {
		if q != nil {
			m.queue = q
		}
	}
}

// New returns a Manager over st guarded by secret.
func New(st *store.Store, secret string, opts ...Option) *Manager {
	m := &Manager{
		store:    st,
		queue:    notify.NewQueue(notify.DefaultQueueCap),
		presence: noPresence{},
		secret:   []byte(secret),
		log:      slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// authorized compares the presented secret in constant time.
func (m *Manager) authorized(presented string) bool {
	if len(m.secret) == 0 || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare(m.secret, []byte(presented)) == 1
}

func (m *Manager) guard(op, presented string) error {
	if !m.authorized(presented) {
		m.log.Warn("admin.denied", "op", op)
		return identity.Forbidden(op, accessDenied)
	}
	return nil
}

// Verify replies admin_verified with the result of the secret check.
func (m *Manager) Verify(ctx context.Context, caller outbox.Caller, p v1.AdminPayload) (outbox.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return outbox.Outcome{}, err
	}
	ok := m.authorized(p.Password)
	if !ok {
		m.log.Warn("admin.denied", "op", "moderation.Verify", "user", caller.Name)
	}
	var out outbox.Outcome
	out.Reply(v1.TypeAdminVerified, v1.AdminVerifiedPayload{Success: ok})
	return out, nil
}

func system(msg string) v1.SystemPayload { return v1.SystemPayload{Msg: msg} }
