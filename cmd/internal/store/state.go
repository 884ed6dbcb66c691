package store

import (
	"encoding/json"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	v1 "lightlink/contracts/realtime/v1"
)

// Identity is a unique display name. It is claimed iff Credential is non-nil.
type Identity struct {
	Name       string      `json:"name"`
	CreatedAt  time.Time   `json:"created_at"`
	RenamedAt  time.Time   `json:"renamed_at,omitzero"`
	PublicKey  string      `json:"public_key,omitempty"`
	Credential *Credential `json:"credential,omitempty"`
}

// Claimed reports whether the identity has a credential record.
func (i *Identity) Claimed() bool { return i != nil && i.Credential != nil }

// Credential is the authentication record of a claimed identity.
type Credential struct {
	PasswordHash string     `json:"password_hash"`
	Email        string     `json:"email,omitempty"`
	TokenHash    string     `json:"token_hash,omitempty"`
	Challenge    *Challenge `json:"challenge,omitempty"`
}

// Challenge is a pending two-factor code.
type Challenge struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Message is one entry of a conversation history.
type Message struct {
	ID        string          `json:"id"`
	From      string          `json:"from"`
	Text      string          `json:"text"`
	TS        time.Time       `json:"ts"`
	Status    Delivery        `json:"status,omitempty"`
	Pinned    bool            `json:"pinned,omitempty"`
	Reported  bool            `json:"reported,omitempty"`
	System    bool            `json:"system,omitempty"`
	Encrypted bool            `json:"encrypted,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Wire converts the message to its protocol form.
func (m Message) Wire() v1.Message {
	return v1.Message{
		ID:        m.ID,
		From:      m.From,
		Text:      m.Text,
		TS:        m.TS,
		Status:    m.Status.String(),
		Pinned:    m.Pinned,
		Reported:  m.Reported,
		System:    m.System,
		Encrypted: m.Encrypted,
		Data:      m.Data,
	}
}

// WireMessages converts a history slice to its protocol form.
func WireMessages(msgs []Message) []v1.Message {
	out := make([]v1.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Wire())
	}
	return out
}

// DirectThread is the conversation between exactly two identities.
type DirectThread struct {
	Key      string    `json:"key"`
	Members  [2]string `json:"members"`
	Messages []Message `json:"messages"`
}

// Counterpart returns the other member of the thread.
func (t *DirectThread) Counterpart(name string) string {
	if t.Members[0] == name {
		return t.Members[1]
	}
	return t.Members[0]
}

// Group is a conversation with an explicit, mutable member list.
type Group struct {
	ID       string    `json:"id"`
	Label    string    `json:"label"`
	Members  []string  `json:"members"`
	Messages []Message `json:"messages"`
}

// HasMember reports whether name belongs to the group.
func (g *Group) HasMember(name string) bool { return g != nil && slices.Contains(g.Members, name) }

// Wire converts the group to its protocol form (without history).
func (g *Group) Wire() v1.Group {
	return v1.Group{ID: g.ID, Label: g.Label, Members: slices.Clone(g.Members)}
}

// Channel is a named sub-channel of a space.
type Channel struct {
	ID   string      `json:"id"`
	Name string      `json:"name"`
	Type ChannelType `json:"type"`
}

// Space is a channelized conversation with an owner and an invite code.
type Space struct {
	ID       string               `json:"id"`
	Name     string               `json:"name"`
	Icon     string               `json:"icon,omitempty"`
	Owner    string               `json:"owner"`
	Code     string               `json:"code"`
	Members  []string             `json:"members"`
	Channels []Channel            `json:"channels"`
	Messages map[string][]Message `json:"messages"`
}

// HasMember reports whether name belongs to the space.
func (s *Space) HasMember(name string) bool { return s != nil && slices.Contains(s.Members, name) }

// Channel returns the channel with the given id.
func (s *Space) Channel(id string) (Channel, bool) {
	for _, c := range s.Channels {
		if c.ID == id {
			return c, true
		}
	}
	return Channel{}, false
}

// Wire converts the space to its protocol form (without history).
func (s *Space) Wire() v1.Space {
	chans := make([]v1.Channel, 0, len(s.Channels))
	for _, c := range s.Channels {
		chans = append(chans, v1.Channel{ID: c.ID, Name: c.Name, Type: c.Type.String()})
	}
	return v1.Space{
		ID:       s.ID,
		Name:     s.Name,
		Icon:     s.Icon,
		Owner:    s.Owner,
		Code:     s.Code,
		Members:  slices.Clone(s.Members),
		Channels: chans,
	}
}

// Ban is an IP-scoped ban with optional expiry.
type Ban struct {
	IP        string     `json:"ip"`
	Target    string     `json:"target,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	Expires   *time.Time `json:"expires,omitempty"`
}

// Expired reports whether the ban has lapsed at now.
func (b *Ban) Expired(now time.Time) bool {
	return b.Expires != nil && now.After(*b.Expires)
}

// Wire converts the ban to its protocol form.
func (b *Ban) Wire() v1.Ban {
	return v1.Ban{IP: b.IP, Target: b.Target, Reason: b.Reason, Expires: b.Expires}
}

// Mute is an identity-scoped mute with optional expiry.
type Mute struct {
	CreatedAt time.Time  `json:"created_at"`
	Until     *time.Time `json:"until,omitempty"`
}

// Active reports whether the mute is still in effect at now.
func (m *Mute) Active(now time.Time) bool {
	return m != nil && (m.Until == nil || now.Before(*m.Until))
}

// Warning is a one-shot admin warning awaiting pickup.
type Warning struct {
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Report is a moderation report filed against a message.
type Report struct {
	ID           string    `json:"id"`
	Reporter     string    `json:"reporter"`
	ReportedUser string    `json:"reported_user"`
	Message      string    `json:"message"`
	Context      string    `json:"context,omitempty"`
	MessageID    string    `json:"message_id,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Wire converts the report to its protocol form.
func (r Report) Wire() v1.Report {
	return v1.Report(r)
}

// Announcement is a recorded admin broadcast.
type Announcement struct {
	ID      string    `json:"id"`
	Message string    `json:"message"`
	Date    time.Time `json:"date"`
}

// Wire converts the announcement to its protocol form.
func (a Announcement) Wire() v1.Announcement {
	return v1.Announcement(a)
}

// Notification is one entry of an identity's notification queue.
type Notification struct {
	ID      string    `json:"id"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
	Kind    string    `json:"kind"`
	Date    time.Time `json:"date"`
	Read    bool      `json:"read"`
}

// Wire converts the notification to its protocol form.
func (n Notification) Wire() v1.Notification {
	return v1.Notification(n)
}

// PushKeys are the client encryption keys of a push subscription.
type PushKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// PushSubscription is one registered push endpoint.
type PushSubscription struct {
	Endpoint  string    `json:"endpoint"`
	Keys      PushKeys  `json:"keys"`
	CreatedAt time.Time `json:"created_at"`
}

// State is the whole persisted engine state. It is only ever touched through Store.
type State struct {
	Identities    map[string]*Identity          `json:"identities"`
	Friendships   map[string][]string           `json:"friendships"`
	Blocked       map[string][]string           `json:"blocked"`
	Direct        map[string]*DirectThread      `json:"direct"`
	Groups        map[string]*Group             `json:"groups"`
	Spaces        map[string]*Space             `json:"spaces"`
	Bans          map[string]*Ban               `json:"bans"`
	Mutes         map[string]*Mute              `json:"mutes"`
	Warnings      map[string]*Warning           `json:"warnings"`
	Reports       []Report                      `json:"reports"`
	Announcements []Announcement                `json:"announcements"`
	Notifications map[string][]Notification     `json:"notifications"`
	PushSubs      map[string][]PushSubscription `json:"push_subscriptions"`
	GroupCounter  int                           `json:"group_counter"`
}

// NewState returns an empty default state.
func NewState() *State {
	st := &State{}
	st.normalize()
	return st
}

// normalize replaces nil containers so callers never nil-check maps.
func (st *State) normalize() {
	if st.Identities == nil {
		st.Identities = make(map[string]*Identity)
	}
	if st.Friendships == nil {
		st.Friendships = make(map[string][]string)
	}
	if st.Blocked == nil {
		st.Blocked = make(map[string][]string)
	}
	if st.Direct == nil {
		st.Direct = make(map[string]*DirectThread)
	}
	if st.Groups == nil {
		st.Groups = make(map[string]*Group)
	}
	if st.Spaces == nil {
		st.Spaces = make(map[string]*Space)
	}
	if st.Bans == nil {
		st.Bans = make(map[string]*Ban)
	}
	if st.Mutes == nil {
		st.Mutes = make(map[string]*Mute)
	}
	if st.Warnings == nil {
		st.Warnings = make(map[string]*Warning)
	}
	if st.Notifications == nil {
		st.Notifications = make(map[string][]Notification)
	}
	if st.PushSubs == nil {
		st.PushSubs = make(map[string][]PushSubscription)
	}
	for _, sp := range st.Spaces {
		if sp.Messages == nil {
			sp.Messages = make(map[string][]Message)
		}
	}
}

// ---- identities ----

// Identity returns the identity record for name, or nil.
func (st *State) Identity(name string) *Identity { return st.Identities[name] }

// HasIdentity reports whether name is registered (claimed or not).
func (st *State) HasIdentity(name string) bool {
	_, ok := st.Identities[name]
	return ok
}

// EnsureIdentity registers name as unclaimed if absent and returns its record.
func (st *State) EnsureIdentity(name string, now time.Time) *Identity {
	if id, ok := st.Identities[name]; ok {
		return id
	}
	id := &Identity{Name: name, CreatedAt: now}
	st.Identities[name] = id
	return id
}

// Names returns all registered identity names, sorted.
func (st *State) Names() []string {
	out := make([]string, 0, len(st.Identities))
	for n := range st.Identities {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// ---- relationships ----

// Friends returns a copy of name's friend list.
func (st *State) Friends(name string) []string { return slices.Clone(st.Friendships[name]) }

// BlockedBy returns a copy of the identities name has blocked.
func (st *State) BlockedBy(name string) []string { return slices.Clone(st.Blocked[name]) }

// AreFriends reports whether a symmetric edge exists between a and b.
func (st *State) AreFriends(a, b string) bool { return slices.Contains(st.Friendships[a], b) }

// AddFriendship inserts the symmetric edge. It is idempotent and reports whether anything changed.
func (st *State) AddFriendship(a, b string) bool {
	if a == b {
		return false
	}
	changed := false
	if !slices.Contains(st.Friendships[a], b) {
		st.Friendships[a] = append(st.Friendships[a], b)
		changed = true
	}
	if !slices.Contains(st.Friendships[b], a) {
		st.Friendships[b] = append(st.Friendships[b], a)
		changed = true
	}
	return changed
}

// RemoveFriendship removes the symmetric edge and reports whether anything changed.
func (st *State) RemoveFriendship(a, b string) bool {
	ra := removeName(st.Friendships, a, b)
	rb := removeName(st.Friendships, b, a)
	return ra || rb
}

// HasBlocked reports whether blocker has blocked target.
func (st *State) HasBlocked(blocker, target string) bool {
	return slices.Contains(st.Blocked[blocker], target)
}

// Block records a directed block and removes any friendship edge.
func (st *State) Block(blocker, target string) {
	if !slices.Contains(st.Blocked[blocker], target) {
		st.Blocked[blocker] = append(st.Blocked[blocker], target)
	}
	st.RemoveFriendship(blocker, target)
}

// Unblock removes a directed block and reports whether it existed.
func (st *State) Unblock(blocker, target string) bool {
	return removeName(st.Blocked, blocker, target)
}

func removeName(m map[string][]string, key, name string) bool {
	list, ok := m[key]
	if !ok {
		return false
	}
	i := slices.Index(list, name)
	if i < 0 {
		return false
	}
	m[key] = slices.Delete(list, i, i+1)
	return true
}

// ---- conversations ----

// DirectKey returns the thread key for two identities: the sorted pair joined by "|".
func DirectKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}

// SplitDirectKey returns the two members encoded in a direct thread key.
func SplitDirectKey(key string) (string, string, bool) {
	a, b, ok := strings.Cut(key, "|")
	if !ok || a == "" || b == "" {
		return "", "", false
	}
	return a, b, true
}

// DirectThread returns the thread between a and b, creating it when create is set.
func (st *State) DirectThread(a, b string, create bool) *DirectThread {
	key := DirectKey(a, b)
	if t, ok := st.Direct[key]; ok {
		return t
	}
	if !create {
		return nil
	}
	x, y, _ := SplitDirectKey(key)
	t := &DirectThread{Key: key, Members: [2]string{x, y}}
	st.Direct[key] = t
	return t
}

// NextGroupID allocates the next sequential group id.
func (st *State) NextGroupID() string {
	st.GroupCounter++
	return "g" + strconv.Itoa(st.GroupCounter)
}

// GroupsOf returns the groups name belongs to, sorted by id.
func (st *State) GroupsOf(name string) []*Group {
	var out []*Group
	for _, g := range st.Groups {
		if g.HasMember(name) {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SpacesOf returns the spaces name belongs to, sorted by id.
func (st *State) SpacesOf(name string) []*Space {
	var out []*Space
	for _, s := range st.Spaces {
		if s.HasMember(name) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SpaceByCode finds a space by its (normalized) invite code.
func (st *State) SpaceByCode(code string) *Space {
	for _, s := range st.Spaces {
		if s.Code == code {
			return s
		}
	}
	return nil
}

// GroupPeers returns every identity sharing at least one group with name, sorted.
func (st *State) GroupPeers(name string) []string {
	seen := make(map[string]struct{})
	for _, g := range st.GroupsOf(name) {
		for _, m := range g.Members {
			if m != name {
				seen[m] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for m := range seen {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// DefaultHistoryCap bounds group and space-channel histories.
const DefaultHistoryCap = 100

// AppendBounded appends m and drops the oldest entries beyond limit.
func AppendBounded(msgs []Message, m Message, limit int) []Message {
	msgs = append(msgs, m)
	if limit > 0 && len(msgs) > limit {
		msgs = slices.Delete(msgs, 0, len(msgs)-limit)
	}
	return msgs
}
