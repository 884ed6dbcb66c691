package store

import (
	"fmt"
	"sort"
	"time"
)

// Rename substitutes newName for oldName across every structure that keys or
// references an identity: the identity record, relationships, direct-thread keys
// (re-sorted), group and space membership, space ownership, message authorship,
// moderation records, notifications and push subscriptions.
//
// It rejects the rename without touching anything when oldName is unknown or
// newName is already registered.
func (st *State) Rename(oldName, newName string, now time.Time) error {
	if oldName == newName {
		return fmt.Errorf("store: rename to same name %q", oldName)
	}
	id, ok := st.Identities[oldName]
	if !ok {
		return fmt.Errorf("store: rename unknown identity %q", oldName)
	}
	if _, taken := st.Identities[newName]; taken {
		return fmt.Errorf("store: rename target %q already registered", newName)
	}

	delete(st.Identities, oldName)
	id.Name = newName
	id.RenamedAt = now
	st.Identities[newName] = id

	renameKeyedList(st.Friendships, oldName, newName)
	renameKeyedList(st.Blocked, oldName, newName)

	st.renameDirect(oldName, newName)

	for _, g := range st.Groups {
		replaceAll(g.Members, oldName, newName)
		renameAuthors(g.Messages, oldName, newName)
	}
	for _, sp := range st.Spaces {
		if sp.Owner == oldName {
			sp.Owner = newName
		}
		replaceAll(sp.Members, oldName, newName)
		for _, msgs := range sp.Messages {
			renameAuthors(msgs, oldName, newName)
		}
	}

	for _, b := range st.Bans {
		if b.Target == oldName {
			b.Target = newName
		}
	}
	moveKey(st.Mutes, oldName, newName)
	moveKey(st.Warnings, oldName, newName)
	moveKey(st.Notifications, oldName, newName)
	moveKey(st.PushSubs, oldName, newName)

	for i := range st.Reports {
		if st.Reports[i].Reporter == oldName {
			st.Reports[i].Reporter = newName
		}
		if st.Reports[i].ReportedUser == oldName {
			st.Reports[i].ReportedUser = newName
		}
	}
	return nil
}

func (st *State) renameDirect(oldName, newName string) {
	var touched []*DirectThread
	for key, t := range st.Direct {
		if t.Members[0] != oldName && t.Members[1] != oldName {
			continue
		}
		delete(st.Direct, key)
		touched = append(touched, t)
	}

	for _, t := range touched {
		other := t.Counterpart(oldName)
		if other == oldName {
			other = newName
		}
		key := DirectKey(newName, other)
		a, b, _ := SplitDirectKey(key)
		renameAuthors(t.Messages, oldName, newName)

		if existing, ok := st.Direct[key]; ok {
			// A stale thread under the new key survives from a deleted identity; merge by time.
			existing.Messages = append(existing.Messages, t.Messages...)
			sort.SliceStable(existing.Messages, func(i, j int) bool {
				return existing.Messages[i].TS.Before(existing.Messages[j].TS)
			})
			continue
		}
		t.Key = key
		t.Members = [2]string{a, b}
		st.Direct[key] = t
	}
}

func renameKeyedList(m map[string][]string, oldName, newName string) {
	moveKey(m, oldName, newName)
	for _, list := range m {
		replaceAll(list, oldName, newName)
	}
}

func moveKey[V any](m map[string]V, oldName, newName string) {
	v, ok := m[oldName]
	if !ok {
		return
	}
	delete(m, oldName)
	m[newName] = v
}

func replaceAll(list []string, oldName, newName string) {
	for i := range list {
		if list[i] == oldName {
			list[i] = newName
		}
	}
}

func renameAuthors(msgs []Message, oldName, newName string) {
	for i := range msgs {
		if msgs[i].From == oldName {
			msgs[i].From = newName
		}
	}
}
