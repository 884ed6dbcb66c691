package notify

import (
	"time"

	"lightlink/cmd/identity/ids"
	"lightlink/cmd/internal/outbox"
	"lightlink/cmd/internal/store"
	v1 "lightlink/contracts/realtime/v1"
)

// DefaultQueueCap bounds each identity's notification queue.
const DefaultQueueCap = 50

// Notification kinds.
const (
	KindInfo    = "info"
	KindFriend  = "friend"
	KindMessage = "message"
	KindWarning = "warning"
)

// Queue manages per-identity notification lists, newest first.
type Queue struct {
	cap int
}

// NewQueue returns a queue capped at limit entries per identity.
func NewQueue(limit int) *Queue {
	if limit <= 0 {
		limit = DefaultQueueCap
	}
	return &Queue{cap: limit}
}

// Add prepends a notification for to, trims the queue and emits it live.
// Must be called under the store lock.
func (q *Queue) Add(st *store.State, out *outbox.Outcome, to, title, message, kind string, now time.Time) store.Notification {
	n := store.Notification{
		ID:      ids.NewUUID(),
		Title:   title,
		Message: message,
		Kind:    kind,
		Date:    now,
	}
	list := append([]store.Notification{n}, st.Notifications[to]...)
	if len(list) > q.cap {
		list = list[:q.cap]
	}
	st.Notifications[to] = list
	out.Send(to, v1.TypeNotification, n.Wire())
	return n
}

// List returns name's queue in protocol form.
func (q *Queue) List(st *store.State, name string) []v1.Notification {
	list := st.Notifications[name]
	out := make([]v1.Notification, 0, len(list))
	for _, n := range list {
		out = append(out, n.Wire())
	}
	return out
}

// MarkRead flags every entry as read and reports whether anything changed.
func (q *Queue) MarkRead(st *store.State, name string) bool {
	list := st.Notifications[name]
	changed := false
	for i := range list {
		if !list[i].Read {
			list[i].Read = true
			changed = true
		}
	}
	return changed
}

// Delete removes the entry with id and reports whether it existed.
func (q *Queue) Delete(st *store.State, name, id string) bool {
	list := st.Notifications[name]
	for i := range list {
		if list[i].ID == id {
			st.Notifications[name] = append(list[:i:i], list[i+1:]...)
			return true
		}
	}
	return false
}
