package conversation

import (
	"context"
	"fmt"
	"slices"

	"lightlink/cmd/identity"
	"lightlink/cmd/internal/outbox"
	"lightlink/cmd/internal/store"
	v1 "lightlink/contracts/realtime/v1"
)

// CreateGroup creates a group with the caller and every known member listed.
func (e *Engine) CreateGroup(ctx context.Context, caller outbox.Caller, p v1.CreateGroupPayload) (outbox.Outcome, error) {
	const op = "conversation.CreateGroup"
	name, err := label(op, p.Label)
	if err != nil {
		return outbox.Outcome{}, err
	}

	var out outbox.Outcome
	err = e.store.WriteAs(ctx, caller.Name, func(st *store.State) error {
		members := []string{caller.Name}
		for _, raw := range p.Members {
			m := identity.NormalizeName(raw)
			if m == "" || slices.Contains(members, m) || !st.HasIdentity(m) {
				continue
			}
			members = append(members, m)
		}

		g := &store.Group{ID: st.NextGroupID(), Label: name, Members: members, Messages: []store.Message{}}
		st.Groups[g.ID] = g

		wire := g.Wire()
		for _, m := range g.Members {
			out.Send(m, v1.TypeGroupCreated, wire)
			out.Send(m, v1.TypeSystem, v1.SystemPayload{Msg: fmt.Sprintf(`Added to group "%s"`, name)})
		}
		e.log.Info("group.create", "group_id", g.ID, "owner", caller.Name, "members", len(members))
		return nil
	})
	if err != nil {
		return outbox.Outcome{}, err
	}
	return out, nil
}

// SendGroup appends a group message and fans it out to every member.
func (e *Engine) SendGroup(ctx context.Context, caller outbox.Caller, p v1.SendGroupPayload) (outbox.Outcome, error) {
	const op = "conversation.SendGroup"
	text, err := body(op, p.Text)
	if err != nil {
		return outbox.Outcome{}, err
	}

	if err := e.expireMute(ctx, caller.Name); err != nil {
		return outbox.Outcome{}, err
	}

	var out outbox.Outcome
	err = e.store.WriteAs(ctx, caller.Name, func(st *store.State) error {
		g, err := memberGroup(st, op, p.GroupID, caller.Name)
		if err != nil {
			return err
		}
		now := e.store.Now()
		if err := checkMuted(st, op, caller.Name, now); err != nil {
			return err
		}

		msg := newMessage(caller.Name, text, now)
		g.Messages = store.AppendBounded(g.Messages, msg, e.historyCap)

		out.SendAll(g.Members, v1.TypeGroupMsg, v1.GroupMsgPayload{GroupID: g.ID, Entry: msg.Wire()})
		for _, m := range g.Members {
			if m == caller.Name {
				continue
			}
			out.Pushes = append(out.Pushes, outbox.Push{
				To:          m,
				Title:       g.Label,
				Body:        g.Label + " dmed you",
				OfflineOnly: true,
			})
		}
		return nil
	})
	if err != nil {
		return outbox.Outcome{}, err
	}
	return out, nil
}

// UpdateGroup renames a group. Any member may do it.
func (e *Engine) UpdateGroup(ctx context.Context, caller outbox.Caller, p v1.UpdateGroupPayload) (outbox.Outcome, error) {
	const op = "conversation.UpdateGroup"
	name, err := label(op, p.Label)
	if err != nil {
		return outbox.Outcome{}, err
	}

	var out outbox.Outcome
	err = e.store.WriteAs(ctx, caller.Name, func(st *store.State) error {
		g, err := memberGroup(st, op, p.GroupID, caller.Name)
		if err != nil {
			return err
		}
		if g.Label == name {
			return store.ErrNoChange
		}
		g.Label = name
		wire := g.Wire()
		for _, m := range g.Members {
			out.Send(m, v1.TypeGroupUpdated, wire)
			out.Send(m, v1.TypeSystem, v1.SystemPayload{Msg: fmt.Sprintf(`Group renamed to "%s"`, name)})
		}
		return nil
	})
	if err != nil {
		return outbox.Outcome{}, err
	}
	return out, nil
}

// AddToGroup adds a known identity to a group the caller belongs to.
func (e *Engine) AddToGroup(ctx context.Context, caller outbox.Caller, p v1.GroupMemberPayload) (outbox.Outcome, error) {
	const op = "conversation.AddToGroup"
	target := identity.NormalizeName(p.Target)
	if target == "" {
		return outbox.Outcome{}, identity.Invalid(op, "")
	}

	var out outbox.Outcome
	err := e.store.WriteAs(ctx, caller.Name, func(st *store.State) error {
		g, err := memberGroup(st, op, p.GroupID, caller.Name)
		if err != nil {
			return err
		}
		if g.HasMember(target) {
			return store.ErrNoChange
		}
		if !st.HasIdentity(target) {
			return identity.NotFound(op, "User not found")
		}
		g.Members = append(g.Members, target)

		wire := g.Wire()
		for _, m := range g.Members {
			out.Send(m, v1.TypeGroupUpdated, wire)
			if m != target {
				out.Send(m, v1.TypeSystem, v1.SystemPayload{Msg: target + " added to group"})
			}
		}
		out.Send(target, v1.TypeGroupCreated, wire)
		out.Send(target, v1.TypeSystem, v1.SystemPayload{Msg: fmt.Sprintf(`You were added to group "%s"`, g.Label)})
		return nil
	})
	if err != nil {
		return outbox.Outcome{}, err
	}
	return out, nil
}

// KickFromGroup removes a member. Any member may kick any other member,
// including themselves. A group left without members is deleted.
func (e *Engine) KickFromGroup(ctx context.Context, caller outbox.Caller, p v1.GroupMemberPayload) (outbox.Outcome, error) {
	const op = "conversation.KickFromGroup"
	target := identity.NormalizeName(p.Target)

	var out outbox.Outcome
	err := e.store.WriteAs(ctx, caller.Name, func(st *store.State) error {
		g, err := memberGroup(st, op, p.GroupID, caller.Name)
		if err != nil {
			return err
		}
		if !g.HasMember(target) {
			return identity.NotFound(op, "")
		}
		g.Members = slices.DeleteFunc(g.Members, func(m string) bool { return m == target })

		wire := g.Wire()
		for _, m := range g.Members {
			out.Send(m, v1.TypeGroupUpdated, wire)
			out.Send(m, v1.TypeSystem, v1.SystemPayload{Msg: target + " kicked from group"})
		}
		out.Send(target, v1.TypeGroupKicked, v1.GroupKickedPayload{GroupID: g.ID, Label: g.Label})
		out.Send(target, v1.TypeSystem, v1.SystemPayload{Msg: fmt.Sprintf(`You were kicked from group "%s"`, g.Label)})

		out.Merge(e.calls.LeaveScope(st, store.KindGroup, g.ID, target))
		if len(g.Members) == 0 {
			out.Merge(e.calls.EndScope(st, store.KindGroup, g.ID))
			delete(st.Groups, g.ID)
		}
		e.log.Info("group.kick", "group_id", g.ID, "by", caller.Name, "target", target)
		return nil
	})
	if err != nil {
		return outbox.Outcome{}, err
	}
	return out, nil
}

// GetGroup replies with a group's history. Members only.
func (e *Engine) GetGroup(ctx context.Context, caller outbox.Caller, p v1.GroupRefPayload) (outbox.Outcome, error) {
	const op = "conversation.GetGroup"
	if err := ctx.Err(); err != nil {
		return outbox.Outcome{}, err
	}

	var (
		out outbox.Outcome
		err error
	)
	e.store.Read(func(st *store.State) {
		var g *store.Group
		if g, err = memberGroup(st, op, p.GroupID, caller.Name); err != nil {
			return
		}
		out.Reply(v1.TypeGroupHistory, v1.GroupHistoryPayload{GroupID: g.ID, History: store.WireMessages(g.Messages)})
	})
	return out, err
}

// memberGroup returns the group when name belongs to it. Misses are silent.
func memberGroup(st *store.State, op, id, name string) (*store.Group, error) {
	g := st.Groups[id]
	if g == nil {
		return nil, identity.NotFound(op, "")
	}
	if !g.HasMember(name) {
		return nil, identity.Forbidden(op, "")
	}
	return g, nil
}
