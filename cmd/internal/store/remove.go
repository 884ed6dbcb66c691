package store

import "slices"

// RemoveIdentity deletes name and every record owned by it: credential,
// relationships in both directions, group and space membership (transferring
// or dropping spaces it owned), moderation timers, notifications and push
// subscriptions. Groups left without members are deleted. Direct-thread
// history is kept for the counterpart.
//
// It returns the ids of spaces that were deleted because they became empty.
func (st *State) RemoveIdentity(name string) []string {
	delete(st.Identities, name)

	for _, friend := range st.Friendships[name] {
		removeName(st.Friendships, friend, name)
	}
	delete(st.Friendships, name)

	delete(st.Blocked, name)
	for blocker := range st.Blocked {
		removeName(st.Blocked, blocker, name)
	}

	for id, g := range st.Groups {
		g.Members = slices.DeleteFunc(g.Members, func(m string) bool { return m == name })
		if len(g.Members) == 0 {
			delete(st.Groups, id)
		}
	}

	var dropped []string
	for id, sp := range st.Spaces {
		if !sp.HasMember(name) && sp.Owner != name {
			continue
		}
		if st.LeaveSpace(sp, name) {
			dropped = append(dropped, id)
		}
	}

	delete(st.Mutes, name)
	delete(st.Warnings, name)
	delete(st.Notifications, name)
	delete(st.PushSubs, name)
	return dropped
}

// LeaveSpace removes name from sp. Ownership passes to the first remaining
// member; a space left without members is deleted along with its history.
// It reports whether the space was deleted.
func (st *State) LeaveSpace(sp *Space, name string) bool {
	sp.Members = slices.DeleteFunc(sp.Members, func(m string) bool { return m == name })
	if len(sp.Members) == 0 {
		delete(st.Spaces, sp.ID)
		return true
	}
	if sp.Owner == name {
		sp.Owner = sp.Members[0]
	}
	return false
}
