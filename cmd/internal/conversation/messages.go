package conversation

import (
	"context"
	"slices"
	"strings"

	"lightlink/cmd/identity"
	"lightlink/cmd/internal/outbox"
	"lightlink/cmd/internal/store"
	v1 "lightlink/contracts/realtime/v1"
)

// Ref is a parsed message context key of the form type:id[:channel].
// For direct threads id names the counterpart of the acting identity.
type Ref struct {
	Kind    store.Kind
	ID      string
	Channel string
}

// ParseContext parses a composite context key. "server" is accepted as an
// older spelling of "space".
func ParseContext(s string) (Ref, bool) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 3)
	if len(parts) < 2 || parts[1] == "" {
		return Ref{}, false
	}
	kindStr := parts[0]
	if kindStr == "server" {
		kindStr = store.KindSpace.String()
	}
	kind, err := store.ParseKind(kindStr)
	if err != nil {
		return Ref{}, false
	}
	ref := Ref{Kind: kind, ID: parts[1]}
	if kind == store.KindSpace {
		ref.Channel = GeneralChannel
		if len(parts) == 3 && parts[2] != "" {
			ref.Channel = parts[2]
		}
	}
	return ref, true
}

// history is a resolved message list and its audience.
type history struct {
	msgs    []store.Message
	set     func([]store.Message)
	members []string
	owner   string
}

func (h history) index(id string) int {
	return slices.IndexFunc(h.msgs, func(m store.Message) bool { return m.ID == id })
}

// locate resolves ref for name. Only members of the conversation resolve it.
func locate(st *store.State, name string, ref Ref) (history, bool) {
	switch ref.Kind {
	case store.KindDirect:
		t := st.DirectThread(name, ref.ID, false)
		if t == nil {
			return history{}, false
		}
		return history{
			msgs:    t.Messages,
			set:     func(m []store.Message) { t.Messages = m },
			members: []string{t.Members[0], t.Members[1]},
		}, true
	case store.KindGroup:
		g := st.Groups[ref.ID]
		if !g.HasMember(name) {
			return history{}, false
		}
		return history{
			msgs:    g.Messages,
			set:     func(m []store.Message) { g.Messages = m },
			members: slices.Clone(g.Members),
		}, true
	case store.KindSpace:
		sp := st.Spaces[ref.ID]
		if !sp.HasMember(name) {
			return history{}, false
		}
		if _, ok := sp.Channel(ref.Channel); !ok {
			return history{}, false
		}
		return history{
			msgs:    sp.Messages[ref.Channel],
			set:     func(m []store.Message) { sp.Messages[ref.Channel] = m },
			members: slices.Clone(sp.Members),
			owner:   sp.Owner,
		}, true
	}
	return history{}, false
}

// MarkReported flags the message id in the conversation named by context,
// as seen by name. It reports whether a message was flagged.
// Must be called under the store lock.
func MarkReported(st *store.State, name, context, id string) bool {
	ref, ok := ParseContext(context)
	if !ok || id == "" {
		return false
	}
	h, ok := locate(st, name, ref)
	if !ok {
		return false
	}
	i := h.index(id)
	if i < 0 || h.msgs[i].Reported {
		return false
	}
	h.msgs[i].Reported = true
	return true
}

// DeleteMessage removes a message. The author may delete it; in spaces the
// owner may delete any message.
func (e *Engine) DeleteMessage(ctx context.Context, caller outbox.Caller, p v1.MessageRefPayload) (outbox.Outcome, error) {
	const op = "conversation.DeleteMessage"

	var out outbox.Outcome
	err := e.store.WriteAs(ctx, caller.Name, func(st *store.State) error {
		h, i, err := findMessage(st, op, caller.Name, p)
		if err != nil {
			return err
		}
		if !mayModify(h, h.msgs[i], caller.Name) {
			return identity.Forbidden(op, "")
		}
		h.set(slices.Delete(h.msgs, i, i+1))
		out.SendAll(h.members, v1.TypeMessageDeleted, v1.MessageRefPayload{ID: p.ID, Context: p.Context})
		return nil
	})
	if err != nil {
		return outbox.Outcome{}, err
	}
	return out, nil
}

// PinMessage pins a message for every member of the conversation.
func (e *Engine) PinMessage(ctx context.Context, caller outbox.Caller, p v1.MessageRefPayload) (outbox.Outcome, error) {
	return e.setPinned(ctx, "conversation.PinMessage", caller, p, true)
}

// UnpinMessage reverses PinMessage.
func (e *Engine) UnpinMessage(ctx context.Context, caller outbox.Caller, p v1.MessageRefPayload) (outbox.Outcome, error) {
	return e.setPinned(ctx, "conversation.UnpinMessage", caller, p, false)
}

func (e *Engine) setPinned(ctx context.Context, op string, caller outbox.Caller, p v1.MessageRefPayload, pinned bool) (outbox.Outcome, error) {
	var out outbox.Outcome
	err := e.store.WriteAs(ctx, caller.Name, func(st *store.State) error {
		h, i, err := findMessage(st, op, caller.Name, p)
		if err != nil {
			return err
		}
		m := &h.msgs[i]
		if !mayModify(h, *m, caller.Name) {
			return identity.Forbidden(op, "")
		}
		if m.Pinned == pinned {
			return store.ErrNoChange
		}
		m.Pinned = pinned
		out.SendAll(h.members, v1.TypeMessageUpdated, v1.MessageUpdatedPayload{Message: m.Wire(), Context: p.Context})
		return nil
	})
	if err != nil {
		return outbox.Outcome{}, err
	}
	return out, nil
}

func findMessage(st *store.State, op, name string, p v1.MessageRefPayload) (history, int, error) {
	if p.ID == "" {
		return history{}, -1, identity.Invalid(op, "")
	}
	ref, ok := ParseContext(p.Context)
	if !ok {
		return history{}, -1, identity.Invalid(op, "")
	}
	h, ok := locate(st, name, ref)
	if !ok {
		return history{}, -1, identity.NotFound(op, "")
	}
	i := h.index(p.ID)
	if i < 0 {
		return history{}, -1, identity.NotFound(op, "")
	}
	return h, i, nil
}

// mayModify reports whether name may delete or pin m: its author, or the
// owner when the conversation is a space.
func mayModify(h history, m store.Message, name string) bool {
	return m.From == name || (h.owner != "" && h.owner == name)
}
