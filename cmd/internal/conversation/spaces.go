package conversation

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"

	"lightlink/cmd/identity"
	"lightlink/cmd/identity/ids"
	"lightlink/cmd/internal/outbox"
	"lightlink/cmd/internal/store"
	v1 "lightlink/contracts/realtime/v1"
)

// Default space channels.
const (
	GeneralChannel = "general"
	VoiceChannel   = "voice"

	inviteCodeLen = 6
)

// CreateSpace creates a space owned by the caller with a text and a voice channel.
func (e *Engine) CreateSpace(ctx context.Context, caller outbox.Caller, p v1.CreateSpacePayload) (outbox.Outcome, error) {
	const op = "conversation.CreateSpace"
	name, err := label(op, p.Name)
	if err != nil {
		return outbox.Outcome{}, err
	}

	var out outbox.Outcome
	err = e.store.WriteAs(ctx, caller.Name, func(st *store.State) error {
		sp := &store.Space{
			ID:      ids.MustULID(e.store.Now()),
			Name:    name,
			Icon:    defaultIcon(name),
			Owner:   caller.Name,
			Code:    newInviteCode(st),
			Members: []string{caller.Name},
			Channels: []store.Channel{
				{ID: GeneralChannel, Name: "general", Type: store.ChannelText},
				{ID: VoiceChannel, Name: "General", Type: store.ChannelVoice},
			},
			Messages: map[string][]store.Message{GeneralChannel: {}},
		}
		st.Spaces[sp.ID] = sp

		out.Reply(v1.TypeSpaceCreated, v1.SpacePayload{Space: sp.Wire()})
		out.RefreshAll(caller.Name)
		e.log.Info("space.create", "space_id", sp.ID, "owner", caller.Name)
		return nil
	})
	if err != nil {
		return outbox.Outcome{}, err
	}
	return out, nil
}

// JoinSpace adds the caller to the space with the given invite code.
func (e *Engine) JoinSpace(ctx context.Context, caller outbox.Caller, p v1.JoinSpacePayload) (outbox.Outcome, error) {
	const op = "conversation.JoinSpace"
	code := identity.NormalizeInviteCode(p.Code)
	if code == "" {
		return outbox.Outcome{}, identity.Invalid(op, "Invalid invite code.")
	}

	var out outbox.Outcome
	err := e.store.WriteAs(ctx, caller.Name, func(st *store.State) error {
		sp := st.SpaceByCode(code)
		if sp == nil {
			return identity.NotFound(op, "Invalid invite code.")
		}
		if sp.HasMember(caller.Name) {
			return identity.Conflict(op, "You are already in this server.")
		}
		sp.Members = append(sp.Members, caller.Name)

		if _, ok := sp.Channel(GeneralChannel); ok {
			msg := systemMessage(caller.Name, caller.Name+" joined the server.", e.store.Now())
			sp.Messages[GeneralChannel] = store.AppendBounded(sp.Messages[GeneralChannel], msg, e.historyCap)
			out.SendAll(sp.Members, v1.TypeSpaceMsg, v1.SpaceMsgPayload{SpaceID: sp.ID, ChannelID: GeneralChannel, Entry: msg.Wire()})
		}

		wire := sp.Wire()
		for _, m := range sp.Members {
			if m != caller.Name {
				out.Send(m, v1.TypeSpaceUpdated, v1.SpacePayload{Space: wire})
			}
		}
		out.Reply(v1.TypeSpaceJoined, v1.SpacePayload{Space: wire})
		out.RefreshAll(caller.Name)
		return nil
	})
	if err != nil {
		return outbox.Outcome{}, err
	}
	return out, nil
}

// GetSpace replies with a space and its per-channel histories. Members only.
func (e *Engine) GetSpace(ctx context.Context, caller outbox.Caller, p v1.SpaceRefPayload) (outbox.Outcome, error) {
	const op = "conversation.GetSpace"
	if err := ctx.Err(); err != nil {
		return outbox.Outcome{}, err
	}

	var (
		out outbox.Outcome
		err error
	)
	e.store.Read(func(st *store.State) {
		var sp *store.Space
		if sp, err = memberSpace(st, op, p.SpaceID, caller.Name); err != nil {
			return
		}
		msgs := make(map[string][]v1.Message, len(sp.Channels))
		for _, c := range sp.Channels {
			if c.Type == store.ChannelText {
				msgs[c.ID] = store.WireMessages(sp.Messages[c.ID])
			}
		}
		out.Reply(v1.TypeSpaceData, v1.SpaceDataPayload{Space: sp.Wire(), Messages: msgs})
	})
	return out, err
}

// SendSpaceMsg appends a message to a text channel of a space.
func (e *Engine) SendSpaceMsg(ctx context.Context, caller outbox.Caller, p v1.SendSpaceMsgPayload) (outbox.Outcome, error) {
	const op = "conversation.SendSpaceMsg"
	text, err := body(op, p.Text)
	if err != nil {
		return outbox.Outcome{}, err
	}
	channelID := strings.TrimSpace(p.ChannelID)
	if channelID == "" {
		channelID = GeneralChannel
	}

	if err := e.expireMute(ctx, caller.Name); err != nil {
		return outbox.Outcome{}, err
	}

	var out outbox.Outcome
	err = e.store.WriteAs(ctx, caller.Name, func(st *store.State) error {
		sp, err := memberSpace(st, op, p.SpaceID, caller.Name)
		if err != nil {
			return err
		}
		ch, ok := sp.Channel(channelID)
		if !ok {
			return identity.NotFound(op, "")
		}
		if ch.Type != store.ChannelText {
			return identity.Invalid(op, "That channel does not accept messages.")
		}
		now := e.store.Now()
		if err := checkMuted(st, op, caller.Name, now); err != nil {
			return err
		}

		msg := newMessage(caller.Name, text, now)
		sp.Messages[ch.ID] = store.AppendBounded(sp.Messages[ch.ID], msg, e.historyCap)

		out.SendAll(sp.Members, v1.TypeSpaceMsg, v1.SpaceMsgPayload{SpaceID: sp.ID, ChannelID: ch.ID, Entry: msg.Wire()})
		for _, m := range sp.Members {
			if m == caller.Name {
				continue
			}
			out.Pushes = append(out.Pushes, outbox.Push{
				To:          m,
				Title:       sp.Name,
				Body:        caller.Name + ": " + preview(text),
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

// LeaveSpace removes the caller. Ownership passes to the first remaining
// member and an empty space is deleted.
func (e *Engine) LeaveSpace(ctx context.Context, caller outbox.Caller, p v1.SpaceRefPayload) (outbox.Outcome, error) {
	const op = "conversation.LeaveSpace"

	var out outbox.Outcome
	err := e.store.WriteAs(ctx, caller.Name, func(st *store.State) error {
		sp, err := memberSpace(st, op, p.SpaceID, caller.Name)
		if err != nil {
			return err
		}
		deleted := st.LeaveSpace(sp, caller.Name)
		if !deleted {
			out.SendAll(sp.Members, v1.TypeSpaceUpdated, v1.SpacePayload{Space: sp.Wire()})
		}
		out.Merge(e.calls.LeaveScope(st, store.KindSpace, sp.ID, caller.Name))
		if deleted {
			out.Merge(e.calls.EndScope(st, store.KindSpace, sp.ID))
		}
		out.Reply(v1.TypeSpaceLeft, v1.SpaceRefPayload{SpaceID: sp.ID})
		out.RefreshAll(caller.Name)
		return nil
	})
	if err != nil {
		return outbox.Outcome{}, err
	}
	return out, nil
}

// UpdateSpace changes the name or icon of a space. Owner only.
func (e *Engine) UpdateSpace(ctx context.Context, caller outbox.Caller, p v1.UpdateSpacePayload) (outbox.Outcome, error) {
	const op = "conversation.UpdateSpace"

	var name, icon string
	if p.Name != nil {
		n, err := label(op, *p.Name)
		if err != nil {
			return outbox.Outcome{}, err
		}
		name = n
	}
	if p.Icon != nil {
		icon = strings.TrimSpace(*p.Icon)
		if len(icon) > maxIconBytes {
			return outbox.Outcome{}, identity.Invalid(op, "Icon is too large.")
		}
	}

	var out outbox.Outcome
	err := e.store.WriteAs(ctx, caller.Name, func(st *store.State) error {
		sp, err := ownedSpace(st, op, p.SpaceID, caller.Name)
		if err != nil {
			return err
		}
		changed := false
		if name != "" && name != sp.Name {
			sp.Name = name
			changed = true
		}
		if p.Icon != nil && icon != sp.Icon {
			sp.Icon = icon
			changed = true
		}
		if !changed {
			return store.ErrNoChange
		}
		out.SendAll(sp.Members, v1.TypeSpaceUpdated, v1.SpacePayload{Space: sp.Wire()})
		out.RefreshAll(sp.Members...)
		return nil
	})
	if err != nil {
		return outbox.Outcome{}, err
	}
	return out, nil
}

// DeleteSpace deletes a space and its history. Owner only.
func (e *Engine) DeleteSpace(ctx context.Context, caller outbox.Caller, p v1.SpaceRefPayload) (outbox.Outcome, error) {
	const op = "conversation.DeleteSpace"

	var out outbox.Outcome
	err := e.store.WriteAs(ctx, caller.Name, func(st *store.State) error {
		sp, err := ownedSpace(st, op, p.SpaceID, caller.Name)
		if err != nil {
			return err
		}
		out.Merge(e.calls.EndScope(st, store.KindSpace, sp.ID))
		delete(st.Spaces, sp.ID)
		out.SendAll(sp.Members, v1.TypeSpaceDeleted, v1.SpaceRefPayload{SpaceID: sp.ID})
		out.RefreshAll(sp.Members...)
		e.log.Info("space.delete", "space_id", sp.ID, "owner", caller.Name)
		return nil
	})
	if err != nil {
		return outbox.Outcome{}, err
	}
	return out, nil
}

func memberSpace(st *store.State, op, id, name string) (*store.Space, error) {
	sp := st.Spaces[id]
	if sp == nil {
		return nil, identity.NotFound(op, "")
	}
	if !sp.HasMember(name) {
		return nil, identity.Forbidden(op, "")
	}
	return sp, nil
}

func ownedSpace(st *store.State, op, id, name string) (*store.Space, error) {
	sp, err := memberSpace(st, op, id, name)
	if err != nil {
		return nil, err
	}
	if sp.Owner != name {
		return nil, identity.Forbidden(op, "Only the server owner can do that.")
	}
	return sp, nil
}

// newInviteCode draws uppercase codes until one is unused.
func newInviteCode(st *store.State) string {
	for {
		raw := strings.ReplaceAll(ids.NewUUID(), "-", "")
		code := strings.ToUpper(raw[:inviteCodeLen])
		if st.SpaceByCode(code) == nil {
			return code
		}
	}
}

func defaultIcon(name string) string {
	r, _ := utf8.DecodeRuneInString(name)
	if r == utf8.RuneError {
		return ""
	}
	return string(unicode.ToUpper(r))
}
