package calls

import (
	"context"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"lightlink/cmd/identity"
	"lightlink/cmd/identity/ids"
	"lightlink/cmd/internal/outbox"
	"lightlink/cmd/internal/store"
	v1 "lightlink/contracts/realtime/v1"
)

// DefaultVoiceChannel is used when a space call names no channel.
const DefaultVoiceChannel = "voice"

type call struct {
	id           string
	kind         store.Kind
	scope        string // direct key, group id or space id
	participants []string
}

// Coordinator owns the live call table.
type Coordinator struct {
	mu    sync.Mutex
	calls map[string]*call

	store      *store.Store
	log        *slog.Logger
	historyCap int
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger (default: slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.log = l
		}
	}
}

// WithHistoryCap bounds group history when a call-start line is appended.
func WithHistoryCap(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.historyCap = n
		}
	}
}

// New returns an empty coordinator.
func New(st *store.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		calls:      make(map[string]*call),
		store:      st,
		log:        slog.Default(),
		historyCap: store.DefaultHistoryCap,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// SpaceCallID returns the call-id of a space channel.
func SpaceCallID(spaceID, channelID string) string { return spaceID + ":" + channelID }

// Join adds the caller to the call addressed by p, creating it when absent.
func (c *Coordinator) Join(ctx context.Context, caller outbox.Caller, p v1.CallRefPayload) (outbox.Outcome, error) {
	const op = "calls.Join"
	var out outbox.Outcome

	err := c.store.WriteAs(ctx, caller.Name, func(st *store.State) error {
		ref, err := resolve(st, caller.Name, p, op)
		if err != nil {
			return err
		}

		c.mu.Lock()
		defer c.mu.Unlock()

		cl, ok := c.calls[ref.id]
		if !ok {
			cl = &call{id: ref.id, kind: ref.kind, scope: ref.scope}
			c.calls[ref.id] = cl
		}
		started := len(cl.participants) == 0
		if slices.Contains(cl.participants, caller.Name) {
			out.Reply(v1.TypeCallStatusChanged, cl.status())
			return store.ErrNoChange
		}
		cl.participants = append(cl.participants, caller.Name)

		mutated := false
		if started && cl.kind != store.KindSpace {
			announceStart(st, cl, caller.Name, c.store.Now(), c.historyCap, &out)
			mutated = true
		}

		for _, other := range cl.participants {
			if other != caller.Name {
				out.Send(other, v1.TypeUserJoinedCall, v1.CallPresencePayload{From: caller.Name, CallID: cl.id})
			}
		}
		out.SendAll(recipients(st, cl), v1.TypeCallStatusChanged, cl.status())

		c.log.Debug("call.join", "call_id", cl.id, "participants", len(cl.participants))
		if !mutated {
			return store.ErrNoChange
		}
		return nil
	})
	return out, err
}

// Leave removes the caller from the call addressed by p.
// A bare space id resolves to the space call that contains the caller.
func (c *Coordinator) Leave(ctx context.Context, caller outbox.Caller, p v1.CallRefPayload) (outbox.Outcome, error) {
	const op = "calls.Leave"
	if err := ctx.Err(); err != nil {
		return outbox.Outcome{}, err
	}

	var out outbox.Outcome
	var err error
	c.store.Read(func(st *store.State) {
		c.mu.Lock()
		defer c.mu.Unlock()

		id := c.leaveID(st, caller.Name, p)
		if id == "" {
			err = identity.NotFound(op, "")
			return
		}
		if !c.leaveLocked(st, id, caller.Name, &out) {
			err = identity.NotFound(op, "")
		}
	})
	return out, err
}

// Signal relays an opaque signaling payload to the named target, or to every
// other participant of CallID when no target is given.
func (c *Coordinator) Signal(ctx context.Context, caller outbox.Caller, p v1.CallSignalPayload) (outbox.Outcome, error) {
	const op = "calls.Signal"
	if err := ctx.Err(); err != nil {
		return outbox.Outcome{}, err
	}
	var out outbox.Outcome
	relay := v1.CallSignalPayload{CallID: p.CallID, From: caller.Name, Signal: p.Signal}

	target := identity.NormalizeName(p.Target)
	if target != "" {
		if target == caller.Name {
			return out, identity.Invalid(op, "")
		}
		relay.Target = target
		out.Send(target, v1.TypeCallSignal, relay)
		return out, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	cl, ok := c.calls[p.CallID]
	if !ok || !slices.Contains(cl.participants, caller.Name) {
		return out, identity.NotFound(op, "")
	}
	for _, other := range cl.participants {
		if other != caller.Name {
			out.Send(other, v1.TypeCallSignal, relay)
		}
	}
	return out, nil
}

// Disconnect is the implicit leave from every call when name's last session goes away.
func (c *Coordinator) Disconnect(st *store.State, name string) outbox.Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out outbox.Outcome
	for _, id := range c.idsLocked() {
		c.leaveLocked(st, id, name, &out)
	}
	return out
}

// DisconnectNow runs Disconnect under the store lock.
func (c *Coordinator) DisconnectNow(name string) outbox.Outcome {
	var out outbox.Outcome
	c.store.Read(func(st *store.State) { out = c.Disconnect(st, name) })
	return out
}

// LeaveScope removes name from every call of the conversation scope, such as
// after a kick from a group or leaving a space. st must be held by the caller.
func (c *Coordinator) LeaveScope(st *store.State, kind store.Kind, scope, name string) outbox.Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out outbox.Outcome
	for _, id := range c.idsLocked() {
		if cl := c.calls[id]; cl.kind == kind && cl.scope == scope {
			c.leaveLocked(st, id, name, &out)
		}
	}
	return out
}

// EndScope empties every call of a conversation that is being deleted.
func (c *Coordinator) EndScope(st *store.State, kind store.Kind, scope string) outbox.Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out outbox.Outcome
	for _, id := range c.idsLocked() {
		cl := c.calls[id]
		if cl.kind != kind || cl.scope != scope {
			continue
		}
		for _, name := range slices.Clone(cl.participants) {
			c.leaveLocked(st, id, name, &out)
		}
		c.log.Info("call.end", "call_id", id, "reason", "conversation_deleted")
	}
	return out
}

// Visible lists the active calls of conversations name belongs to.
func (c *Coordinator) Visible(st *store.State, name string) map[string]v1.CallInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	res := make(map[string]v1.CallInfo)
	for id, cl := range c.calls {
		if slices.Contains(recipients(st, cl), name) {
			res[id] = v1.CallInfo{Type: cl.kind.String(), Participants: slices.Clone(cl.participants)}
		}
	}
	return res
}

// RenameParticipant rewrites name in every participant set and re-keys direct calls.
func (c *Coordinator) RenameParticipant(oldName, newName string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, cl := range c.calls {
		for i := range cl.participants {
			if cl.participants[i] == oldName {
				cl.participants[i] = newName
			}
		}
		if cl.kind != store.KindDirect {
			continue
		}
		a, b, ok := store.SplitDirectKey(cl.scope)
		if !ok || (a != oldName && b != oldName) {
			continue
		}
		if a == oldName {
			a = newName
		} else {
			b = newName
		}
		cl.scope = store.DirectKey(a, b)
		cl.id = cl.scope
		delete(c.calls, id)
		c.calls[cl.id] = cl
	}
}

// Active reports the participants of id, or nil when no such call exists.
func (c *Coordinator) Active(id string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cl, ok := c.calls[id]; ok {
		return slices.Clone(cl.participants)
	}
	return nil
}

// Len returns the number of live calls.
func (c *Coordinator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func (c *Coordinator) leaveID(st *store.State, name string, p v1.CallRefPayload) string {
	kind, err := store.ParseKind(p.Kind)
	if err != nil {
		return ""
	}
	switch kind {
	case store.KindDirect:
		target := identity.NormalizeName(p.Target)
		if target == "" {
			return ""
		}
		return store.DirectKey(name, target)
	case store.KindGroup:
		return p.ID
	default:
		spaceID, channelID := splitSpaceRef(p.ID, p.ChannelID)
		if channelID != "" {
			return SpaceCallID(spaceID, channelID)
		}
		prefix := spaceID + ":"
		for _, id := range c.idsLocked() {
			if strings.HasPrefix(id, prefix) && slices.Contains(c.calls[id].participants, name) {
				return id
			}
		}
		return ""
	}
}

func (c *Coordinator) leaveLocked(st *store.State, id, name string, out *outbox.Outcome) bool {
	cl, ok := c.calls[id]
	if !ok {
		return false
	}
	i := slices.Index(cl.participants, name)
	if i < 0 {
		return false
	}
	cl.participants = slices.Delete(cl.participants, i, i+1)
	if len(cl.participants) == 0 {
		delete(c.calls, id)
	}

	for _, other := range cl.participants {
		out.Send(other, v1.TypeUserLeftCall, v1.CallPresencePayload{From: name, CallID: id})
	}
	rcpt := recipients(st, cl)
	if !slices.Contains(rcpt, name) {
		rcpt = append(rcpt, name)
	}
	out.SendAll(rcpt, v1.TypeCallStatusChanged, cl.status())

	c.log.Debug("call.leave", "call_id", id, "participants", len(cl.participants))
	return true
}

func (c *Coordinator) idsLocked() []string {
	out := make([]string, 0, len(c.calls))
	for id := range c.calls {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (cl *call) status() v1.CallStatusPayload {
	return v1.CallStatusPayload{
		CallID:       cl.id,
		Type:         cl.kind.String(),
		IsActive:     len(cl.participants) > 0,
		Participants: slices.Clone(cl.participants),
	}
}

// recipients returns the conversation members of cl plus anyone still in the call.
func recipients(st *store.State, cl *call) []string {
	var members []string
	switch cl.kind {
	case store.KindDirect:
		if a, b, ok := store.SplitDirectKey(cl.scope); ok {
			members = []string{a, b}
		}
	case store.KindGroup:
		if g := st.Groups[cl.scope]; g != nil {
			members = slices.Clone(g.Members)
		}
	case store.KindSpace:
		if sp := st.Spaces[cl.scope]; sp != nil {
			members = slices.Clone(sp.Members)
		}
	}
	for _, p := range cl.participants {
		if !slices.Contains(members, p) {
			members = append(members, p)
		}
	}
	return members
}

func announceStart(st *store.State, cl *call, name string, now time.Time, historyCap int, out *outbox.Outcome) {
	msg := store.Message{
		ID:     ids.MustULID(now),
		From:   name,
		Text:   name + " started a call",
		TS:     now,
		System: true,
	}
	switch cl.kind {
	case store.KindDirect:
		a, b, _ := store.SplitDirectKey(cl.scope)
		t := st.DirectThread(a, b, true)
		t.Messages = append(t.Messages, msg)
		out.SendAll([]string{a, b}, v1.TypeDM, v1.DMPayload{Key: t.Key, Entry: msg.Wire()})
	case store.KindGroup:
		g := st.Groups[cl.scope]
		if g == nil {
			return
		}
		g.Messages = store.AppendBounded(g.Messages, msg, historyCap)
		out.SendAll(g.Members, v1.TypeGroupMsg, v1.GroupMsgPayload{GroupID: g.ID, Entry: msg.Wire()})
	}
}
