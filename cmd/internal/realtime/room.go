package realtime

import (
	"log/slog"
	"sync"

	v1 "lightlink/contracts/realtime/v1"
)

// Room is the set of live sessions bound to one identity.
//
// Concurrency guarantees:
// - Join/Leave are safe under concurrent Broadcast.
// - Broadcast never blocks (drops under backpressure).
// - Broadcast is panic-safe because Client.Send is never closed by the server.
type Room struct {
	log  *slog.Logger
	Name string

	mu      sync.RWMutex
	members map[string]*Client
}

// NewRoom constructs an empty room for an identity.
func NewRoom(log *slog.Logger, name string) *Room {
	return &Room{
		log:     log,
		Name:    name,
		members: make(map[string]*Client),
	}
}

// Join adds a client to the room.
func (r *Room) Join(client *Client) {
	if r == nil || client == nil || client.SessionID == "" {
		return
	}

	r.mu.Lock()
	r.members[client.SessionID] = client
	r.mu.Unlock()

	r.log.Debug("room.join", "identity", r.Name, "session_id", client.SessionID)
}

// Leave removes a session from the room and returns how many remain.
// Unlike a kick it does not close the client: a rebinding session stays open.
func (r *Room) Leave(sessionID string) int {
	if r == nil || sessionID == "" {
		return 0
	}

	r.mu.Lock()
	delete(r.members, sessionID)
	n := len(r.members)
	r.mu.Unlock()

	r.log.Debug("room.leave", "identity", r.Name, "session_id", sessionID, "remaining", n)
	return n
}

// Len returns the number of live sessions in the room.
func (r *Room) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Clients returns a snapshot of the room's sessions.
func (r *Room) Clients() []*Client {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.members))
	for _, c := range r.members {
		out = append(out, c)
	}
	return out
}

// Broadcast fans an envelope out to all sessions.
// Non-blocking: if a session queue is full or the client is shutting down, it is dropped.
func (r *Room) Broadcast(env v1.Envelope) {
	if r == nil {
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, m := range r.members {
		if m == nil {
			continue
		}
		if !m.offer(env) {
			r.log.Debug("room.drop", "identity", r.Name, "session_id", m.SessionID, "type", env.Type)
		}
	}
}
