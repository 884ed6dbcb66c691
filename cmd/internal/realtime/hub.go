package realtime

import (
	"log/slog"
	"sort"
	"sync"

	"lightlink/cmd/internal/outbox"
	v1 "lightlink/contracts/realtime/v1"
)

// Hub tracks live sessions and keeps one Room per bound identity.
// It is intentionally minimal: all durable state lives in the store.
type Hub struct {
	log *slog.Logger

	mu       sync.RWMutex
	rooms    map[string]*Room
	sessions map[string]*Client
}

// NewHub constructs a Hub instance.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:      log,
		rooms:    make(map[string]*Room),
		sessions: make(map[string]*Client),
	}
}

// Register records a new, not yet bound session.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.sessions[c.SessionID] = c
	h.mu.Unlock()
}

// Bind moves c into the room of name. It returns the identity c was bound to
// before and whether that identity has no live session left.
func (h *Hub) Bind(c *Client, name string) (prev string, prevGone bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	prev = c.Name()
	if prev == name {
		return prev, false
	}
	if prev != "" {
		prevGone = h.leaveLocked(prev, c.SessionID)
	}
	h.roomLocked(name).Join(c)
	c.setName(name)
	return prev, prevGone
}

// Unregister drops c. It returns the identity c was bound to and whether that
// identity has no live session left.
func (h *Hub) Unregister(c *Client) (name string, last bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.sessions, c.SessionID)
	name = c.Name()
	if name == "" {
		return "", false
	}
	return name, h.leaveLocked(name, c.SessionID)
}

// Rename moves every live session of oldName to newName.
func (h *Hub) Rename(oldName, newName string) {
	if oldName == newName {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	old := h.rooms[oldName]
	if old == nil {
		return
	}
	delete(h.rooms, oldName)
	dst := h.roomLocked(newName)
	for _, c := range old.Clients() {
		dst.Join(c)
		c.setName(newName)
	}
	h.log.Info("hub.rename", "from", oldName, "to", newName, "sessions", dst.Len())
}

// SendTo fans env out to every live session of name.
func (h *Hub) SendTo(name string, env v1.Envelope) {
	h.mu.RLock()
	r := h.rooms[name]
	h.mu.RUnlock()
	r.Broadcast(env)
}

// SendAll offers env to every live session, bound or not.
func (h *Hub) SendAll(env v1.Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.sessions {
		c.offer(env)
	}
}

// Clients returns the live sessions of name.
func (h *Hub) Clients(name string) []*Client {
	h.mu.RLock()
	r := h.rooms[name]
	h.mu.RUnlock()
	return r.Clients()
}

// Online reports whether name has at least one live session.
func (h *Hub) Online(name string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms[name].Len() > 0
}

// Sessions lists every live session, ordered by session id.
func (h *Hub) Sessions() []outbox.Caller {
	h.mu.RLock()
	out := make([]outbox.Caller, 0, len(h.sessions))
	for _, c := range h.sessions {
		out = append(out, c.Caller())
	}
	h.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Session < out[j].Session })
	return out
}

// Len returns the number of live sessions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

func (h *Hub) roomLocked(name string) *Room {
	r, ok := h.rooms[name]
	if !ok {
		r = NewRoom(h.log, name)
		h.rooms[name] = r
	}
	return r
}

// leaveLocked removes a session from a room and drops the room once empty.
func (h *Hub) leaveLocked(name, sessionID string) bool {
	r := h.rooms[name]
	if r == nil {
		return true
	}
	if r.Leave(sessionID) > 0 {
		return false
	}
	delete(h.rooms, name)
	return true
}
