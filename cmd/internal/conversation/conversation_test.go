package conversation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lightlink/cmd/identity"
	"lightlink/cmd/internal/outbox"
	"lightlink/cmd/internal/store"
	v1 "lightlink/contracts/realtime/v1"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func fixture(t *testing.T, opts ...Option) (*store.Store, *Engine, *clock) {
	t.Helper()
	clk := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	s, err := store.Open(context.Background(), store.NewMemorySnapshotter(), nil, store.WithClock(clk.Now))
	require.NoError(t, err)
	require.NoError(t, s.Write(context.Background(), func(st *store.State) error {
		for _, n := range []string{"alice", "bob", "carol", "dave"} {
			st.EnsureIdentity(n, clk.Now())
		}
		return nil
	}))
	return s, New(s, opts...), clk
}

func who(name string) outbox.Caller { return outbox.Caller{Session: "s-" + name, Name: name} }

func ofType(out outbox.Outcome, typ string) []outbox.Event {
	var res []outbox.Event
	for _, e := range out.Events {
		if e.Type == typ {
			res = append(res, e)
		}
	}
	return res
}

func recipients(events []outbox.Event) []string {
	var res []string
	for _, e := range events {
		res = append(res, e.To)
	}
	return res
}

func sendDM(t *testing.T, e *Engine, from, to, text string) v1.DMPayload {
	t.Helper()
	out, err := e.SendDM(context.Background(), who(from), v1.SendDMPayload{Target: to, Text: text})
	require.NoError(t, err)
	dms := ofType(out, v1.TypeDM)
	require.Len(t, dms, 2)
	return dms[0].Payload.(v1.DMPayload)
}

func TestSendDM_DeliversAndMaterializesFriendship(t *testing.T) {
	t.Parallel()
	s, e, _ := fixture(t)

	out, err := e.SendDM(context.Background(), who("alice"), v1.SendDMPayload{Target: "bob", Text: "  hi bob  "})
	require.NoError(t, err)

	dms := ofType(out, v1.TypeDM)
	assert.ElementsMatch(t, []string{"alice", "bob"}, recipients(dms))
	entry := dms[0].Payload.(v1.DMPayload)
	assert.Equal(t, "alice|bob", entry.Key)
	assert.Equal(t, "hi bob", entry.Entry.Text)
	assert.Equal(t, "sent", entry.Entry.Status)

	assert.Len(t, ofType(out, v1.TypeFriendAdded), 2)
	assert.Equal(t, []string{"bob"}, recipients(ofType(out, v1.TypeNotification)))
	require.Len(t, out.Pushes, 1)
	assert.Equal(t, outbox.Push{To: "bob", Title: "New Message", Body: "alice dmed you", OfflineOnly: true}, out.Pushes[0])

	out, err = e.SendDM(context.Background(), who("bob"), v1.SendDMPayload{Target: "alice", Text: "hey"})
	require.NoError(t, err)
	assert.Empty(t, ofType(out, v1.TypeFriendAdded), "edge already exists")

	s.Read(func(st *store.State) {
		assert.True(t, st.AreFriends("alice", "bob"))
		require.Len(t, st.Direct["alice|bob"].Messages, 2)
	})
}

func TestSendDM_Rejections(t *testing.T) {
	t.Parallel()
	s, e, clk := fixture(t)
	ctx := context.Background()
	require.NoError(t, s.Write(ctx, func(st *store.State) error {
		st.Block("bob", "alice")
		st.Block("alice", "carol")
		until := clk.Now().Add(time.Minute)
		st.Mutes["dave"] = &store.Mute{CreatedAt: clk.Now(), Until: &until}
		return nil
	}))

	_, err := e.SendDM(ctx, who("alice"), v1.SendDMPayload{Target: "bob", Text: "x"})
	assert.Equal(t, "You cannot message this user.", identity.PublicMessage(err))

	_, err = e.SendDM(ctx, who("alice"), v1.SendDMPayload{Target: "carol", Text: "x"})
	assert.Equal(t, "Unblock this user to message them.", identity.PublicMessage(err))

	_, err = e.SendDM(ctx, who("alice"), v1.SendDMPayload{Target: "dave", Text: "   "})
	assert.True(t, identity.IsInvalidInput(err))

	_, err = e.SendDM(ctx, who("dave"), v1.SendDMPayload{Target: "alice", Text: "x"})
	assert.Equal(t, "You are muted", identity.PublicMessage(err))

	clk.Advance(2 * time.Minute)
	_, err = e.SendDM(ctx, who("dave"), v1.SendDMPayload{Target: "alice", Text: "x"})
	require.NoError(t, err)
	s.Read(func(st *store.State) { assert.NotContains(t, st.Mutes, "dave", "expired mute is dropped lazily") })
}

func TestSendDM_RenamedCallerIsRejected(t *testing.T) {
	t.Parallel()
	s, e, clk := fixture(t)
	ctx := context.Background()
	require.NoError(t, s.Write(ctx, func(st *store.State) error {
		return st.Rename("alice", "alicia", clk.Now())
	}))

	_, err := e.SendDM(ctx, who("alice"), v1.SendDMPayload{Target: "bob", Text: "still here?"})
	require.Error(t, err)
	assert.True(t, identity.IsUnauthenticated(err))

	s.Read(func(st *store.State) {
		assert.False(t, st.HasIdentity("alice"))
		assert.Empty(t, st.Friends("bob"))
		assert.Nil(t, st.DirectThread("alice", "bob", false))
	})
}

func TestSendDM_ExpiredMuteCleanupIsSaved(t *testing.T) {
	t.Parallel()
	clk := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	snap := store.NewMemorySnapshotter()
	s, err := store.Open(context.Background(), snap, nil, store.WithClock(clk.Now))
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.Write(ctx, func(st *store.State) error {
		st.EnsureIdentity("alice", clk.Now())
		st.EnsureIdentity("bob", clk.Now())
		st.Block("bob", "alice")
		until := clk.Now().Add(time.Minute)
		st.Mutes["alice"] = &store.Mute{CreatedAt: clk.Now(), Until: &until}
		return nil
	}))
	e := New(s)

	clk.Advance(2 * time.Minute)
	_, err = e.SendDM(ctx, who("alice"), v1.SendDMPayload{Target: "bob", Text: "x"})
	assert.True(t, identity.IsForbidden(err), "the send itself is still rejected")

	reopened, err := store.Open(ctx, snap, nil)
	require.NoError(t, err)
	reopened.Read(func(st *store.State) { assert.NotContains(t, st.Mutes, "alice") })
}

func TestReceipts_MarkReadThenDeliveredDoesNotRegress(t *testing.T) {
	t.Parallel()
	s, e, _ := fixture(t)
	ctx := context.Background()

	first := sendDM(t, e, "alice", "bob", "one")
	sendDM(t, e, "alice", "bob", "two")

	out, err := e.MarkRead(ctx, who("bob"), v1.TargetPayload{Target: "alice"})
	require.NoError(t, err)
	receipts := ofType(out, v1.TypeReceiptUpdate)
	assert.ElementsMatch(t, []string{"alice", "bob"}, recipients(receipts))
	assert.Equal(t, v1.ReceiptUpdatePayload{Key: "alice|bob", Type: "read", By: "bob"}, receipts[0].Payload)

	out, err = e.MarkDelivered(ctx, who("bob"), v1.MarkDeliveredPayload{Key: first.Key, ID: first.Entry.ID})
	require.NoError(t, err)
	assert.Empty(t, out.Events)

	s.Read(func(st *store.State) {
		for _, m := range st.Direct["alice|bob"].Messages {
			assert.Equal(t, store.DeliveryRead, m.Status)
		}
	})

	out, err = e.MarkRead(ctx, who("bob"), v1.TargetPayload{Target: "alice"})
	require.NoError(t, err)
	assert.Empty(t, out.Events, "nothing left to mark")
}

func TestReceipts_DeliveredThenRead(t *testing.T) {
	t.Parallel()
	s, e, _ := fixture(t)
	ctx := context.Background()
	msg := sendDM(t, e, "alice", "bob", "one")

	_, err := e.MarkDelivered(ctx, who("alice"), v1.MarkDeliveredPayload{Key: msg.Key, ID: msg.Entry.ID})
	require.NoError(t, err)
	s.Read(func(st *store.State) {
		assert.Equal(t, store.DeliverySent, st.Direct[msg.Key].Messages[0].Status, "the author cannot acknowledge its own message")
	})

	out, err := e.MarkDelivered(ctx, who("bob"), v1.MarkDeliveredPayload{Key: msg.Key, ID: msg.Entry.ID})
	require.NoError(t, err)
	receipts := ofType(out, v1.TypeReceiptUpdate)
	require.Len(t, receipts, 1)
	assert.Equal(t, "alice", receipts[0].To)
	assert.Equal(t, "delivered", receipts[0].Payload.(v1.ReceiptUpdatePayload).Type)

	_, err = e.MarkDelivered(ctx, who("carol"), v1.MarkDeliveredPayload{Key: msg.Key, ID: msg.Entry.ID})
	assert.True(t, identity.IsNotFound(err))
}

func TestGroups_Lifecycle(t *testing.T) {
	t.Parallel()
	s, e, _ := fixture(t, WithHistoryCap(2))
	ctx := context.Background()

	_, err := e.CreateGroup(ctx, who("alice"), v1.CreateGroupPayload{Label: "  "})
	assert.Equal(t, "Invalid name", identity.PublicMessage(err))

	out, err := e.CreateGroup(ctx, who("alice"), v1.CreateGroupPayload{Label: "crew", Members: []string{"bob", "ghost", "bob"}})
	require.NoError(t, err)
	created := ofType(out, v1.TypeGroupCreated)
	assert.ElementsMatch(t, []string{"alice", "bob"}, recipients(created))
	g := created[0].Payload.(v1.Group)
	assert.Equal(t, "g1", g.ID)
	assert.Equal(t, v1.SystemPayload{Msg: `Added to group "crew"`}, ofType(out, v1.TypeSystem)[0].Payload)

	_, err = e.AddToGroup(ctx, who("carol"), v1.GroupMemberPayload{GroupID: "g1", Target: "dave"})
	assert.True(t, identity.IsForbidden(err))

	_, err = e.AddToGroup(ctx, who("bob"), v1.GroupMemberPayload{GroupID: "g1", Target: "nobody"})
	assert.Equal(t, "User not found", identity.PublicMessage(err))

	out, err = e.AddToGroup(ctx, who("bob"), v1.GroupMemberPayload{GroupID: "g1", Target: "carol"})
	require.NoError(t, err)
	assert.Equal(t, []string{"carol"}, recipients(ofType(out, v1.TypeGroupCreated)))

	for _, text := range []string{"one", "two", "three"} {
		out, err = e.SendGroup(ctx, who("carol"), v1.SendGroupPayload{GroupID: "g1", Text: text})
		require.NoError(t, err)
	}
	assert.Len(t, ofType(out, v1.TypeGroupMsg), 3)
	assert.Len(t, out.Pushes, 2)

	out, err = e.GetGroup(ctx, who("alice"), v1.GroupRefPayload{GroupID: "g1"})
	require.NoError(t, err)
	hist := ofType(out, v1.TypeGroupHistory)[0].Payload.(v1.GroupHistoryPayload).History
	require.Len(t, hist, 2, "history is capped")
	assert.Equal(t, "two", hist[0].Text)

	out, err = e.KickFromGroup(ctx, who("bob"), v1.GroupMemberPayload{GroupID: "g1", Target: "alice"})
	require.NoError(t, err)
	assert.Equal(t, v1.GroupKickedPayload{GroupID: "g1", Label: "crew"}, ofType(out, v1.TypeGroupKicked)[0].Payload)

	_, err = e.GetGroup(ctx, who("alice"), v1.GroupRefPayload{GroupID: "g1"})
	assert.True(t, identity.IsForbidden(err))

	_, err = e.UpdateGroup(ctx, who("carol"), v1.UpdateGroupPayload{GroupID: "g1", Label: "squad"})
	require.NoError(t, err)
	s.Read(func(st *store.State) {
		assert.Equal(t, "squad", st.Groups["g1"].Label)
		assert.Equal(t, []string{"bob", "carol"}, st.Groups["g1"].Members)
	})
}

func TestSpaces_Lifecycle(t *testing.T) {
	t.Parallel()
	s, e, _ := fixture(t)
	ctx := context.Background()

	out, err := e.CreateSpace(ctx, who("alice"), v1.CreateSpacePayload{Name: "hangout"})
	require.NoError(t, err)
	sp := ofType(out, v1.TypeSpaceCreated)[0].Payload.(v1.SpacePayload).Space
	assert.Len(t, sp.Code, 6)
	assert.Equal(t, "H", sp.Icon)
	assert.Equal(t, []v1.Channel{
		{ID: "general", Name: "general", Type: "text"},
		{ID: "voice", Name: "General", Type: "voice"},
	}, sp.Channels)

	_, err = e.JoinSpace(ctx, who("bob"), v1.JoinSpacePayload{Code: "zzzzzz"})
	assert.Equal(t, "Invalid invite code.", identity.PublicMessage(err))

	out, err = e.JoinSpace(ctx, who("bob"), v1.JoinSpacePayload{Code: " " + sp.Code + " "})
	require.NoError(t, err)
	joinLine := ofType(out, v1.TypeSpaceMsg)
	assert.ElementsMatch(t, []string{"alice", "bob"}, recipients(joinLine))
	assert.Equal(t, "bob joined the server.", joinLine[0].Payload.(v1.SpaceMsgPayload).Entry.Text)

	_, err = e.JoinSpace(ctx, who("bob"), v1.JoinSpacePayload{Code: sp.Code})
	assert.Equal(t, "You are already in this server.", identity.PublicMessage(err))

	_, err = e.SendSpaceMsg(ctx, who("bob"), v1.SendSpaceMsgPayload{SpaceID: sp.ID, ChannelID: "voice", Text: "hi"})
	assert.True(t, identity.IsInvalidInput(err))

	_, err = e.SendSpaceMsg(ctx, who("carol"), v1.SendSpaceMsgPayload{SpaceID: sp.ID, Text: "hi"})
	assert.True(t, identity.IsForbidden(err))

	out, err = e.SendSpaceMsg(ctx, who("bob"), v1.SendSpaceMsgPayload{SpaceID: sp.ID, ChannelID: "general", Text: "hi"})
	require.NoError(t, err)
	assert.Len(t, ofType(out, v1.TypeSpaceMsg), 2)

	out, err = e.GetSpace(ctx, who("bob"), v1.SpaceRefPayload{SpaceID: sp.ID})
	require.NoError(t, err)
	data := ofType(out, v1.TypeSpaceData)[0].Payload.(v1.SpaceDataPayload)
	assert.Len(t, data.Messages["general"], 2)
	assert.NotContains(t, data.Messages, "voice")

	name := "renamed"
	_, err = e.UpdateSpace(ctx, who("bob"), v1.UpdateSpacePayload{SpaceID: sp.ID, Name: &name})
	assert.Equal(t, "Only the server owner can do that.", identity.PublicMessage(err))

	_, err = e.LeaveSpace(ctx, who("alice"), v1.SpaceRefPayload{SpaceID: sp.ID})
	require.NoError(t, err)
	s.Read(func(st *store.State) { assert.Equal(t, "bob", st.Spaces[sp.ID].Owner) })

	out, err = e.DeleteSpace(ctx, who("bob"), v1.SpaceRefPayload{SpaceID: sp.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, out.Refresh)
	s.Read(func(st *store.State) { assert.NotContains(t, st.Spaces, sp.ID) })
}

func TestDeleteAndPin_Permissions(t *testing.T) {
	t.Parallel()
	_, e, _ := fixture(t)
	ctx := context.Background()

	msg := sendDM(t, e, "alice", "bob", "secret")
	ref := v1.MessageRefPayload{ID: msg.Entry.ID, Context: "dm:alice"}

	_, err := e.DeleteMessage(ctx, who("bob"), ref)
	assert.True(t, identity.IsForbidden(err), "only the author deletes in a direct thread")

	out, err := e.PinMessage(ctx, who("alice"), v1.MessageRefPayload{ID: msg.Entry.ID, Context: "dm:bob"})
	require.NoError(t, err)
	upd := ofType(out, v1.TypeMessageUpdated)
	assert.ElementsMatch(t, []string{"alice", "bob"}, recipients(upd))
	assert.True(t, upd[0].Payload.(v1.MessageUpdatedPayload).Message.Pinned)

	out, err = e.DeleteMessage(ctx, who("alice"), v1.MessageRefPayload{ID: msg.Entry.ID, Context: "dm:bob"})
	require.NoError(t, err)
	assert.Len(t, ofType(out, v1.TypeMessageDeleted), 2)

	out, err = e.CreateSpace(ctx, who("carol"), v1.CreateSpacePayload{Name: "club"})
	require.NoError(t, err)
	sp := ofType(out, v1.TypeSpaceCreated)[0].Payload.(v1.SpacePayload).Space
	_, err = e.JoinSpace(ctx, who("dave"), v1.JoinSpacePayload{Code: sp.Code})
	require.NoError(t, err)
	out, err = e.SendSpaceMsg(ctx, who("dave"), v1.SendSpaceMsgPayload{SpaceID: sp.ID, Text: "spam"})
	require.NoError(t, err)
	spam := ofType(out, v1.TypeSpaceMsg)[0].Payload.(v1.SpaceMsgPayload).Entry

	_, err = e.PinMessage(ctx, who("carol"), v1.MessageRefPayload{ID: spam.ID, Context: "space:" + sp.ID + ":general"})
	require.NoError(t, err, "the owner may pin any message")
	_, err = e.DeleteMessage(ctx, who("carol"), v1.MessageRefPayload{ID: spam.ID, Context: "server:" + sp.ID + ":general"})
	require.NoError(t, err, "the owner may delete any message")
}

func TestParseContext(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want Ref
		ok   bool
	}{
		{"dm:bob", Ref{Kind: store.KindDirect, ID: "bob"}, true},
		{"group:g4", Ref{Kind: store.KindGroup, ID: "g4"}, true},
		{"space:s1", Ref{Kind: store.KindSpace, ID: "s1", Channel: "general"}, true},
		{"server:s1:memes", Ref{Kind: store.KindSpace, ID: "s1", Channel: "memes"}, true},
		{"dm:", Ref{}, false},
		{"chat:x", Ref{}, false},
		{"", Ref{}, false},
	}
	for _, tc := range cases {
		got, ok := ParseContext(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestSweep_DropsExpiredUnlessReported(t *testing.T) {
	t.Parallel()
	s, e, clk := fixture(t)
	ctx := context.Background()

	old := sendDM(t, e, "alice", "bob", "old")
	sendDM(t, e, "alice", "carol", "old too")
	_, err := e.CreateGroup(ctx, who("alice"), v1.CreateGroupPayload{Label: "crew"})
	require.NoError(t, err)
	_, err = e.SendGroup(ctx, who("alice"), v1.SendGroupPayload{GroupID: "g1", Text: "old group"})
	require.NoError(t, err)
	require.NoError(t, s.Write(ctx, func(st *store.State) error {
		require.True(t, MarkReported(st, "bob", "dm:alice", old.Entry.ID))
		return nil
	}))

	clk.Advance(25 * time.Hour)
	sendDM(t, e, "alice", "bob", "fresh")

	var hooked int
	sw := NewSweeper(s, WithPruneHook(func(n int) { hooked = n }))
	n, err := sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, hooked)

	s.Read(func(st *store.State) {
		msgs := st.Direct["alice|bob"].Messages
		require.Len(t, msgs, 2)
		assert.True(t, msgs[0].Reported)
		assert.Equal(t, "fresh", msgs[1].Text)
		assert.NotContains(t, st.Direct, "alice|carol", "empty threads are removed")
		assert.Empty(t, st.Groups["g1"].Messages)
	})

	n, err = sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
