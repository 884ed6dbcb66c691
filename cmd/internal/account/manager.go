package account

import (
	"log/slog"
	"time"

	"lightlink/cmd/internal/outbox"
	"lightlink/cmd/internal/store"
	v1 "lightlink/contracts/realtime/v1"
)

const (
	// DefaultRenameCooldown is the minimum time between two renames of one identity.
	DefaultRenameCooldown = 24 * time.Hour
	// DefaultChallengeTTL is how long an emailed login code stays valid.
	DefaultChallengeTTL = 5 * time.Minute

	minPasswordLength = 8
	maxPublicKeyBytes = 8 << 10
	tokenBytes        = 32
)

// Hasher is the credential primitive. password.Config satisfies it.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(encodedHash, password string) (bool, error)
	NeedsRehash(encodedHash string) bool
}

// CallDirectory is the slice of the call coordinator identity changes need.
// *calls.Coordinator satisfies it.
type CallDirectory interface {
	Visible(st *store.State, name string) map[string]v1.CallInfo
	RenameParticipant(oldName, newName string)
	Disconnect(st *store.State, name string) outbox.Outcome
}

type noCalls struct{}

func (noCalls) Visible(*store.State, string) map[string]v1.CallInfo { return map[string]v1.CallInfo{} }
func (noCalls) RenameParticipant(string, string)                    {}
func (noCalls) Disconnect(*store.State, string) outbox.Outcome      { return outbox.Outcome{} }

// Manager serves the identity and session commands.
type Manager struct {
	store   *store.Store
	hasher  Hasher
	calls   CallDirectory
	lockout *Lockout
	log     *slog.Logger

	cooldown     time.Duration
	challengeTTL time.Duration
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

// WithCalls wires the live call table so renames and deletes reach it.
func WithCalls(c CallDirectory) Option {
	return func(m *Manager) {
		if c != nil {
			m.calls = c
		}
	}
}

// WithLockout replaces the default progressive lockout.
func WithLockout(l *Lockout) Option {
	return func(m *Manager) {
		if l != nil {
			m.lockout = l
		}
	}
}

// WithRenameCooldown overrides DefaultRenameCooldown. Zero disables it.
func WithRenameCooldown(d time.Duration) Option {
	return func(m *Manager) {
		if d >= 0 {
			m.cooldown = d
		}
	}
}

// WithChallengeTTL overrides DefaultChallengeTTL.
func WithChallengeTTL(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.challengeTTL = d
		}
	}
}

// New returns a Manager over st.
func New(st *store.Store, hasher Hasher, opts ...Option) *Manager {
	m := &Manager{
		store:        st,
		hasher:       hasher,
		calls:        noCalls{},
		lockout:      NewLockout(),
		log:          slog.Default(),
		cooldown:     DefaultRenameCooldown,
		challengeTTL: DefaultChallengeTTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Init builds the initial state snapshot for name.
func (m *Manager) Init(name string) v1.InitPayload {
	var p v1.InitPayload
	m.store.Read(func(st *store.State) { p = m.InitLocked(st, name) })
	return p
}

// InitLocked is Init for callers already holding the store lock.
func (m *Manager) InitLocked(st *store.State, name string) v1.InitPayload {
	p := v1.InitPayload{
		Username:    name,
		Friends:     st.Friends(name),
		Blocked:     st.BlockedBy(name),
		Groups:      []v1.Group{},
		Spaces:      []v1.Space{},
		ActiveCalls: m.calls.Visible(st, name),
	}
	if p.Friends == nil {
		p.Friends = []string{}
	}
	if p.Blocked == nil {
		p.Blocked = []string{}
	}
	if id := st.Identity(name); id.Claimed() {
		p.Claimed = true
		p.Email = id.Credential.Email
	}
	for _, g := range st.GroupsOf(name) {
		p.Groups = append(p.Groups, g.Wire())
	}
	for _, sp := range st.SpacesOf(name) {
		p.Spaces = append(p.Spaces, sp.Wire())
	}
	return p
}
