package social

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lightlink/cmd/identity"
	"lightlink/cmd/internal/outbox"
	"lightlink/cmd/internal/store"
	v1 "lightlink/contracts/realtime/v1"
)

func fixture(t *testing.T) (*store.Store, *Manager) {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s, err := store.Open(context.Background(), store.NewMemorySnapshotter(), nil,
		store.WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	require.NoError(t, s.Write(context.Background(), func(st *store.State) error {
		for _, n := range []string{"alice", "bob", "carol"} {
			st.EnsureIdentity(n, now)
		}
		return nil
	}))
	return s, New(s, nil, nil)
}

func who(name string) outbox.Caller { return outbox.Caller{Session: "s-" + name, Name: name} }

func TestRequestFriend_BlockMasquerade(t *testing.T) {
	t.Parallel()
	s, m := fixture(t)
	ctx := context.Background()

	_, err := m.Block(ctx, who("alice"), v1.TargetPayload{Target: "bob"})
	require.NoError(t, err)

	out, err := m.RequestFriend(ctx, who("bob"), v1.TargetPayload{Target: "alice"})
	require.Error(t, err)
	assert.Equal(t, "User not found.", identity.PublicMessage(err))
	assert.True(t, out.Empty())

	unknown, err := m.RequestFriend(ctx, who("bob"), v1.TargetPayload{Target: "zed"})
	assert.Equal(t, "User not found.", identity.PublicMessage(err), "blocked and unknown look the same")
	assert.True(t, unknown.Empty())

	s.Read(func(st *store.State) { assert.Empty(t, st.Notifications["alice"]) })

	_, err = m.RequestFriend(ctx, who("alice"), v1.TargetPayload{Target: "bob"})
	assert.Equal(t, "Unblock user first.", identity.PublicMessage(err))
}

func TestRequestFriend_Delivers(t *testing.T) {
	t.Parallel()
	s, m := fixture(t)

	out, err := m.RequestFriend(context.Background(), who("alice"), v1.TargetPayload{Target: "bob"})
	require.NoError(t, err)

	var types []string
	for _, e := range out.Events {
		types = append(types, e.To+"/"+e.Type)
	}
	assert.Equal(t, []string{"bob/friend_request", "/system", "bob/notification"}, types)
	require.Len(t, out.Pushes, 1)
	assert.True(t, out.Pushes[0].OfflineOnly)
	assert.Equal(t, "alice wants to be your friend", out.Pushes[0].Body)

	s.Read(func(st *store.State) {
		require.Len(t, st.Notifications["bob"], 1)
		assert.Equal(t, "friend", st.Notifications["bob"][0].Kind)
	})
}

func TestRespondFriend_DuplicateAcceptSingleEdge(t *testing.T) {
	t.Parallel()
	s, m := fixture(t)
	ctx := context.Background()

	out, err := m.RespondFriend(ctx, who("bob"), v1.RespondFriendPayload{From: "alice", Accepted: true})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob"}, out.Refresh)
	require.Len(t, out.Events, 1)
	assert.Equal(t, v1.SystemPayload{Msg: "bob accepted your friend request!"}, out.Events[0].Payload)

	_, err = m.RespondFriend(ctx, who("bob"), v1.RespondFriendPayload{From: "alice", Accepted: true})
	require.NoError(t, err)

	s.Read(func(st *store.State) {
		assert.Equal(t, []string{"alice"}, st.Friends("bob"))
		assert.Equal(t, []string{"bob"}, st.Friends("alice"))
	})

	_, err = m.RequestFriend(ctx, who("alice"), v1.TargetPayload{Target: "bob"})
	assert.Equal(t, "already friends", identity.PublicMessage(err))
}

func TestBlockUnblockRemove(t *testing.T) {
	t.Parallel()
	s, m := fixture(t)
	ctx := context.Background()
	_, err := m.RespondFriend(ctx, who("bob"), v1.RespondFriendPayload{From: "alice", Accepted: true})
	require.NoError(t, err)

	out, err := m.Block(ctx, who("alice"), v1.TargetPayload{Target: "bob"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob"}, out.Refresh)

	_, err = m.Unblock(ctx, who("alice"), v1.TargetPayload{Target: "bob"})
	require.NoError(t, err)
	s.Read(func(st *store.State) {
		assert.False(t, st.HasBlocked("alice", "bob"))
		assert.False(t, st.AreFriends("alice", "bob"), "unblock does not restore the edge")
	})

	_, err = m.RespondFriend(ctx, who("carol"), v1.RespondFriendPayload{From: "alice", Accepted: true})
	require.NoError(t, err)
	out, err = m.RemoveFriend(ctx, who("alice"), v1.TargetPayload{Target: "carol"})
	require.NoError(t, err)
	assert.Equal(t, v1.SystemPayload{Msg: "Removed carol"}, out.Events[0].Payload)
	s.Read(func(st *store.State) { assert.False(t, st.AreFriends("carol", "alice")) })
}
