package store

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seededState(t *testing.T) *State {
	t.Helper()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	until := now.Add(time.Hour)

	st := NewState()
	for _, n := range []string{"alice", "bob", "carol"} {
		st.EnsureIdentity(n, now)
	}
	st.Identities["alice"].Credential = &Credential{PasswordHash: "h", Email: "a@example.com"}
	st.AddFriendship("alice", "bob")
	st.Block("carol", "alice")
	st.Block("alice", "carol")

	ab := st.DirectThread("alice", "bob", true)
	ab.Messages = append(ab.Messages,
		Message{ID: "m1", From: "alice", Text: "hi", TS: now},
		Message{ID: "m2", From: "bob", Text: "yo", TS: now.Add(time.Second)},
	)
	st.Groups["g1"] = &Group{ID: "g1", Label: "crew", Members: []string{"alice", "bob"},
		Messages: []Message{{ID: "m3", From: "alice", Text: "g", TS: now}}}
	st.Spaces["s1"] = &Space{ID: "s1", Name: "hangout", Owner: "alice", Code: "ABCDEF",
		Members:  []string{"alice", "carol"},
		Messages: map[string][]Message{"general": {{ID: "m4", From: "alice", Text: "s", TS: now}}}}
	st.Bans["10.0.0.1"] = &Ban{IP: "10.0.0.1", Target: "alice", CreatedAt: now}
	st.Mutes["alice"] = &Mute{CreatedAt: now, Until: &until}
	st.Warnings["alice"] = &Warning{Message: "be nice", At: now}
	st.Reports = append(st.Reports, Report{ID: "r1", Reporter: "bob", ReportedUser: "alice", Timestamp: now})
	st.Notifications["alice"] = []Notification{{ID: "n1", Title: "t", Date: now}}
	st.PushSubs["alice"] = []PushSubscription{{Endpoint: "https://push.example/1"}}
	return st
}

func TestRename_ReplacesEveryReference(t *testing.T) {
	t.Parallel()

	st := seededState(t)
	now := time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC)
	require.NoError(t, st.Rename("alice", "zed", now))

	raw, err := json.Marshal(st)
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(raw), `"alice"`), "old name still referenced: %s", raw)
	assert.False(t, strings.Contains(string(raw), `alice|`), "old name still in a thread key")

	id := st.Identity("zed")
	require.NotNil(t, id)
	assert.True(t, id.Claimed())
	assert.Equal(t, now, id.RenamedAt)

	assert.True(t, st.AreFriends("bob", "zed"))
	assert.True(t, st.HasBlocked("carol", "zed"))
	assert.True(t, st.HasBlocked("zed", "carol"))

	th := st.DirectThread("zed", "bob", false)
	require.NotNil(t, th)
	assert.Equal(t, "bob|zed", th.Key)
	assert.Equal(t, [2]string{"bob", "zed"}, th.Members)
	assert.Equal(t, "zed", th.Messages[0].From)

	assert.Equal(t, "zed", st.Spaces["s1"].Owner)
	assert.Equal(t, "zed", st.Bans["10.0.0.1"].Target)
	assert.Equal(t, "zed", st.Reports[0].ReportedUser)
	assert.Contains(t, st.Mutes, "zed")
	assert.Contains(t, st.Warnings, "zed")
	assert.Contains(t, st.Notifications, "zed")
	assert.Contains(t, st.PushSubs, "zed")
}

func TestRename_Rejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		old, new string
	}{
		{name: "unknown", old: "nobody", new: "zed"},
		{name: "taken", old: "alice", new: "bob"},
		{name: "same", old: "alice", new: "alice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			st := seededState(t)
			before, err := json.Marshal(st)
			require.NoError(t, err)

			require.Error(t, st.Rename(tt.old, tt.new, time.Now()))

			after, err := json.Marshal(st)
			require.NoError(t, err)
			assert.JSONEq(t, string(before), string(after))
		})
	}
}

func TestRemoveIdentity(t *testing.T) {
	t.Parallel()

	st := seededState(t)
	dropped := st.RemoveIdentity("alice")
	assert.Empty(t, dropped)

	assert.False(t, st.HasIdentity("alice"))
	assert.Empty(t, st.Friends("bob"))
	assert.False(t, st.HasBlocked("carol", "alice"))
	assert.NotContains(t, st.Blocked, "alice")
	assert.Equal(t, []string{"bob"}, st.Groups["g1"].Members)
	assert.Equal(t, "carol", st.Spaces["s1"].Owner)
	assert.NotContains(t, st.PushSubs, "alice")
	assert.NotContains(t, st.Notifications, "alice")
	assert.NotNil(t, st.DirectThread("alice", "bob", false), "history is kept for the counterpart")
}

func TestRemoveIdentity_DropsEmptyGroups(t *testing.T) {
	t.Parallel()

	st := seededState(t)
	st.Groups["g2"] = &Group{ID: "g2", Label: "solo", Members: []string{"alice"}}
	st.RemoveIdentity("alice")

	assert.NotContains(t, st.Groups, "g2")
	assert.Contains(t, st.Groups, "g1", "groups with members left survive")
}

func TestLeaveSpace_LastMemberDeletes(t *testing.T) {
	t.Parallel()

	st := NewState()
	st.Spaces["s1"] = &Space{ID: "s1", Owner: "solo", Members: []string{"solo"}, Messages: map[string][]Message{}}
	assert.True(t, st.LeaveSpace(st.Spaces["s1"], "solo"))
	assert.NotContains(t, st.Spaces, "s1")
}

func TestDirectKey_Sorted(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a|b", DirectKey("b", "a"))
	assert.Equal(t, DirectKey("x", "y"), DirectKey("y", "x"))
	a, b, ok := SplitDirectKey("a|b")
	assert.True(t, ok)
	assert.Equal(t, "a", a)
	assert.Equal(t, "b", b)
	_, _, ok = SplitDirectKey("nokey")
	assert.False(t, ok)
}

func TestDeliveryAdvance_OnlyForward(t *testing.T) {
	t.Parallel()

	orders := [][]Delivery{
		{DeliverySent, DeliveryDelivered, DeliveryRead},
		{DeliverySent, DeliveryRead, DeliveryDelivered},
		{DeliveryRead, DeliverySent, DeliveryDelivered},
	}
	for _, order := range orders {
		cur := DeliveryNone
		for _, next := range order {
			cur, _ = cur.Advance(next)
		}
		assert.Equal(t, DeliveryRead, cur)
	}
}
