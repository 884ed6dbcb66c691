// Package outbox describes what a command produced: the events to fan out and
// the side effects to run once the store lock is released.
//
// Managers never touch sessions or the network directly. They return an
// Outcome; the realtime gateway delivers Events, Kicks and Refreshes, and the
// notify dispatcher runs Pushes, Emails and Relays.
package outbox

import (
	"encoding/json"
	"log/slog"
	"time"
)

// Caller identifies the session a command came from.
type Caller struct {
	Session string
	Name    string
	Addr    string
}

// Event is one payload addressed to an identity or to the acting session.
type Event struct {
	// To is the recipient identity. Empty means the originating session only.
	To      string
	Type    string
	Payload any
}

// Kick closes every live session of an identity after sending force_disconnect.
type Kick struct {
	Identity string
	Reason   string
}

// Rename rebinds live sessions after a display-name change.
type Rename struct {
	From string
	To   string
}

// Push is a push notification request.
type Push struct {
	To    string
	Title string
	Body  string
	// OfflineOnly skips delivery when the recipient has a live session.
	OfflineOnly bool
}

// Email is an outbound email request.
type Email struct {
	To      string
	Subject string
	HTML    string
}

// EmbedField is one name/value row of a relay embed.
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// Relay is a moderation webhook embed.
type Relay struct {
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
	// Timestamp is when the relayed event happened. Zero means the time of posting.
	Timestamp time.Time `json:"-"`
}

// Outcome is the explicit result of a command.
type Outcome struct {
	Events []Event
	// Bind rebinds the originating session to this identity before Events are delivered.
	Bind string
	// Refresh lists identities whose sessions get a fresh init snapshot.
	Refresh []string
	// Broadcast events go to every live session regardless of identity.
	Broadcast []Event
	Kicks     []Kick
	// Renames moves every live session bound to From over to To.
	Renames []Rename
	Pushes  []Push
	Emails  []Email
	Relays  []Relay
}

// Reply queues an event for the originating session.
func (o *Outcome) Reply(typ string, payload any) {
	o.Events = append(o.Events, Event{Type: typ, Payload: payload})
}

// Send queues an event for every session of identity to.
func (o *Outcome) Send(to, typ string, payload any) {
	o.Events = append(o.Events, Event{To: to, Type: typ, Payload: payload})
}

// SendAll queues the same event for each identity in to.
func (o *Outcome) SendAll(to []string, typ string, payload any) {
	for _, name := range to {
		o.Send(name, typ, payload)
	}
}

// RefreshAll schedules init snapshots for names, skipping duplicates.
func (o *Outcome) RefreshAll(names ...string) {
	for _, n := range names {
		if n == "" {
			continue
		}
		dup := false
		for _, have := range o.Refresh {
			if have == n {
				dup = true
				break
			}
		}
		if !dup {
			o.Refresh = append(o.Refresh, n)
		}
	}
}

// Merge appends everything in other to o. A non-empty other.Bind wins.
func (o *Outcome) Merge(other Outcome) {
	o.Events = append(o.Events, other.Events...)
	if other.Bind != "" {
		o.Bind = other.Bind
	}
	o.RefreshAll(other.Refresh...)
	o.Broadcast = append(o.Broadcast, other.Broadcast...)
	o.Kicks = append(o.Kicks, other.Kicks...)
	o.Renames = append(o.Renames, other.Renames...)
	o.Pushes = append(o.Pushes, other.Pushes...)
	o.Emails = append(o.Emails, other.Emails...)
	o.Relays = append(o.Relays, other.Relays...)
}

// Empty reports whether the outcome carries nothing.
func (o Outcome) Empty() bool {
	return len(o.Events) == 0 && o.Bind == "" && len(o.Refresh) == 0 &&
		len(o.Broadcast) == 0 && len(o.Kicks) == 0 && len(o.Renames) == 0 && len(o.Pushes) == 0 &&
		len(o.Emails) == 0 && len(o.Relays) == 0
}

// LogValue keeps outcome logs compact.
func (o Outcome) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("events", len(o.Events)),
		slog.Int("refresh", len(o.Refresh)),
		slog.Int("kicks", len(o.Kicks)),
		slog.Int("pushes", len(o.Pushes)),
		slog.Int("emails", len(o.Emails)),
		slog.Int("relays", len(o.Relays)),
	)
}

// EncodePayload marshals an event payload to raw JSON.
func EncodePayload(p any) (json.RawMessage, error) {
	if p == nil {
		return nil, nil
	}
	if raw, ok := p.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(p)
}
