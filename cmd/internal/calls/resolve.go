package calls

import (
	"strings"

	"lightlink/cmd/identity"
	"lightlink/cmd/internal/store"
	v1 "lightlink/contracts/realtime/v1"
)

type callRef struct {
	id    string
	kind  store.Kind
	scope string
}

// resolve maps a call reference to its call-id and checks the caller may join it.
func resolve(st *store.State, name string, p v1.CallRefPayload, op string) (callRef, error) {
	kind, err := store.ParseKind(p.Kind)
	if err != nil {
		return callRef{}, identity.Invalid(op, "")
	}

	switch kind {
	case store.KindDirect:
		target := identity.NormalizeName(p.Target)
		if target == "" || target == name {
			return callRef{}, identity.Invalid(op, "")
		}
		if !st.HasIdentity(target) {
			return callRef{}, identity.NotFound(op, "User not found.")
		}
		if st.HasBlocked(target, name) {
			return callRef{}, identity.Forbidden(op, "You cannot call this user.")
		}
		key := store.DirectKey(name, target)
		return callRef{id: key, kind: kind, scope: key}, nil

	case store.KindGroup:
		g := st.Groups[p.ID]
		if g == nil {
			return callRef{}, identity.NotFound(op, "")
		}
		if !g.HasMember(name) {
			return callRef{}, identity.Forbidden(op, "")
		}
		return callRef{id: g.ID, kind: kind, scope: g.ID}, nil

	default:
		spaceID, channelID := splitSpaceRef(p.ID, p.ChannelID)
		if channelID == "" {
			channelID = DefaultVoiceChannel
		}
		sp := st.Spaces[spaceID]
		if sp == nil {
			return callRef{}, identity.NotFound(op, "")
		}
		if !sp.HasMember(name) {
			return callRef{}, identity.Forbidden(op, "")
		}
		ch, ok := sp.Channel(channelID)
		if !ok {
			return callRef{}, identity.NotFound(op, "")
		}
		if ch.Type != store.ChannelVoice {
			return callRef{}, identity.Invalid(op, "That channel does not support calls.")
		}
		return callRef{id: SpaceCallID(sp.ID, ch.ID), kind: kind, scope: sp.ID}, nil
	}
}

// splitSpaceRef accepts either (spaceID, channelID) or a full "spaceID:channelID" id.
func splitSpaceRef(id, channelID string) (string, string) {
	id = strings.TrimSpace(id)
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		if sp, ch, ok := strings.Cut(id, ":"); ok {
			return sp, ch
		}
	}
	return id, channelID
}
