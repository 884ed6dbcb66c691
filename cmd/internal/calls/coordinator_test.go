package calls

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

type memSnap struct{}

func (memSnap) Load(context.Context) ([]byte, error)                      { return nil, nil }
func (memSnap) Save(context.Context, []byte) error                        { return nil }
func (memSnap) Backup(context.Context, []byte, time.Time) (string, error) { return "", nil }
func (memSnap) Close() error                                              { return nil }

func fixture(t *testing.T) (*store.Store, *Coordinator) {
	t.Helper()
	s, err := store.Open(context.Background(), memSnap{}, nil)
	require.NoError(t, err)

	require.NoError(t, s.Write(context.Background(), func(st *store.State) error {
		now := s.Now()
		for _, n := range []string{"alice", "bob", "carol"} {
			st.EnsureIdentity(n, now)
		}
		st.Groups["g1"] = &store.Group{ID: "g1", Label: "crew", Members: []string{"alice", "bob", "carol"}}
		st.Spaces["s1"] = &store.Space{
			ID: "s1", Name: "hangout", Owner: "alice", Code: "ABCDEF",
			Members: []string{"alice", "bob"},
			Channels: []store.Channel{
				{ID: "general", Name: "general", Type: store.ChannelText},
				{ID: "voice", Name: "General", Type: store.ChannelVoice},
			},
			Messages: map[string][]store.Message{},
		}
		return nil
	}))
	return s, New(s)
}

func who(name string) outbox.Caller { return outbox.Caller{Session: "s-" + name, Name: name} }

func eventsOfType(out outbox.Outcome, typ string) []outbox.Event {
	var res []outbox.Event
	for _, e := range out.Events {
		if e.Type == typ {
			res = append(res, e)
		}
	}
	return res
}

func TestSpaceVoice_JoinThenDisconnect(t *testing.T) {
	t.Parallel()

	s, c := fixture(t)
	ctx := context.Background()

	assert.Nil(t, c.Active("s1:voice"))

	out, err := c.Join(ctx, who("alice"), v1.CallRefPayload{Kind: "space", ID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, c.Active("s1:voice"))

	status := eventsOfType(out, v1.TypeCallStatusChanged)
	require.Len(t, status, 2, "both space members see the status")
	p := status[0].Payload.(v1.CallStatusPayload)
	assert.True(t, p.IsActive)
	assert.Equal(t, "space", p.Type)

	s.Read(func(st *store.State) {
		assert.Empty(t, st.Spaces["s1"].Messages, "space calls do not post a start line")
	})

	out = c.DisconnectNow("alice")
	assert.Nil(t, c.Active("s1:voice"))
	assert.Equal(t, 0, c.Len())
	status = eventsOfType(out, v1.TypeCallStatusChanged)
	require.NotEmpty(t, status)
	assert.False(t, status[0].Payload.(v1.CallStatusPayload).IsActive)
}

func TestSpaceVoice_TextChannelRejected(t *testing.T) {
	t.Parallel()

	_, c := fixture(t)
	_, err := c.Join(context.Background(), who("alice"), v1.CallRefPayload{Kind: "space", ID: "s1", ChannelID: "general"})
	require.Error(t, err)
	assert.True(t, identity.IsInvalidInput(err))
	assert.Equal(t, 0, c.Len())
}

func TestSpaceVoice_NonMemberForbidden(t *testing.T) {
	t.Parallel()

	_, c := fixture(t)
	_, err := c.Join(context.Background(), who("carol"), v1.CallRefPayload{Kind: "space", ID: "s1"})
	assert.True(t, identity.IsForbidden(err))
}

func TestLeave_BareSpaceIDIsLegacyAlias(t *testing.T) {
	t.Parallel()

	_, c := fixture(t)
	ctx := context.Background()

	_, err := c.Join(ctx, who("alice"), v1.CallRefPayload{Kind: "space", ID: "s1:voice"})
	require.NoError(t, err)
	_, err = c.Join(ctx, who("bob"), v1.CallRefPayload{Kind: "space", ID: "s1", ChannelID: "voice"})
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, c.Active("s1:voice"))

	out, err := c.Leave(ctx, who("bob"), v1.CallRefPayload{Kind: "space", ID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, c.Active("s1:voice"))

	left := eventsOfType(out, v1.TypeUserLeftCall)
	require.Len(t, left, 1)
	assert.Equal(t, "alice", left[0].To)
}

func TestGroupCall_StartLineAndDeltas(t *testing.T) {
	t.Parallel()

	s, c := fixture(t)
	ctx := context.Background()

	out, err := c.Join(ctx, who("alice"), v1.CallRefPayload{Kind: "group", ID: "g1"})
	require.NoError(t, err)
	assert.Len(t, eventsOfType(out, v1.TypeGroupMsg), 3)
	assert.Empty(t, eventsOfType(out, v1.TypeUserJoinedCall))

	s.Read(func(st *store.State) {
		msgs := st.Groups["g1"].Messages
		require.Len(t, msgs, 1)
		assert.True(t, msgs[0].System)
		assert.Equal(t, "alice started a call", msgs[0].Text)
	})

	out, err = c.Join(ctx, who("bob"), v1.CallRefPayload{Kind: "group", ID: "g1"})
	require.NoError(t, err)
	assert.Empty(t, eventsOfType(out, v1.TypeGroupMsg), "only the first join posts a start line")
	joined := eventsOfType(out, v1.TypeUserJoinedCall)
	require.Len(t, joined, 1)
	assert.Equal(t, "alice", joined[0].To)

	_, err = c.Leave(ctx, who("alice"), v1.CallRefPayload{Kind: "group", ID: "g1"})
	require.NoError(t, err)
	_, err = c.Leave(ctx, who("bob"), v1.CallRefPayload{Kind: "group", ID: "g1"})
	require.NoError(t, err)
	assert.Equal(t, 0, c.Len())

	_, err = c.Leave(ctx, who("bob"), v1.CallRefPayload{Kind: "group", ID: "g1"})
	assert.True(t, identity.IsNotFound(err))
}

func TestDirectCall_KeyAndRename(t *testing.T) {
	t.Parallel()

	s, c := fixture(t)
	ctx := context.Background()

	_, err := c.Join(ctx, who("bob"), v1.CallRefPayload{Kind: "dm", Target: "alice"})
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, c.Active("alice|bob"))

	s.Read(func(st *store.State) {
		visible := c.Visible(st, "alice")
		require.Contains(t, visible, "alice|bob")
		assert.Equal(t, "dm", visible["alice|bob"].Type)
		assert.Empty(t, c.Visible(st, "carol"))
	})

	c.RenameParticipant("bob", "zed")
	assert.Nil(t, c.Active("alice|bob"))
	assert.Equal(t, []string{"zed"}, c.Active("alice|zed"))
}

func TestSignal_RelayToTargetOrParticipants(t *testing.T) {
	t.Parallel()

	_, c := fixture(t)
	ctx := context.Background()

	out, err := c.Signal(ctx, who("alice"), v1.CallSignalPayload{Target: "bob", Signal: []byte(`{"sdp":"x"}`)})
	require.NoError(t, err)
	require.Len(t, out.Events, 1)
	assert.Equal(t, "bob", out.Events[0].To)
	assert.Equal(t, "alice", out.Events[0].Payload.(v1.CallSignalPayload).From)

	_, err = c.Signal(ctx, who("alice"), v1.CallSignalPayload{CallID: "g1", Signal: []byte(`{}`)})
	assert.True(t, identity.IsNotFound(err))

	_, err = c.Join(ctx, who("alice"), v1.CallRefPayload{Kind: "group", ID: "g1"})
	require.NoError(t, err)
	_, err = c.Join(ctx, who("carol"), v1.CallRefPayload{Kind: "group", ID: "g1"})
	require.NoError(t, err)

	out, err = c.Signal(ctx, who("alice"), v1.CallSignalPayload{CallID: "g1", Signal: []byte(`{}`)})
	require.NoError(t, err)
	require.Len(t, out.Events, 1)
	assert.Equal(t, "carol", out.Events[0].To)
}

func TestLeaveScope_OnlyTouchesThatConversation(t *testing.T) {
	t.Parallel()

	s, c := fixture(t)
	ctx := context.Background()
	_, err := c.Join(ctx, who("bob"), v1.CallRefPayload{Kind: "group", ID: "g1"})
	require.NoError(t, err)
	_, err = c.Join(ctx, who("bob"), v1.CallRefPayload{Kind: "space", ID: "s1"})
	require.NoError(t, err)
	_, err = c.Join(ctx, who("alice"), v1.CallRefPayload{Kind: "space", ID: "s1"})
	require.NoError(t, err)

	var out outbox.Outcome
	s.Read(func(st *store.State) { out = c.LeaveScope(st, store.KindSpace, "s1", "bob") })

	assert.Equal(t, []string{"alice"}, c.Active(SpaceCallID("s1", "voice")))
	assert.Equal(t, []string{"bob"}, c.Active("g1"), "calls elsewhere are kept")
	left := eventsOfType(out, v1.TypeUserLeftCall)
	require.Len(t, left, 1)
	assert.Equal(t, "alice", left[0].To)
}

func TestEndScope_EmptiesEveryChannelCall(t *testing.T) {
	t.Parallel()

	s, c := fixture(t)
	ctx := context.Background()
	_, err := c.Join(ctx, who("alice"), v1.CallRefPayload{Kind: "space", ID: "s1"})
	require.NoError(t, err)
	_, err = c.Join(ctx, who("bob"), v1.CallRefPayload{Kind: "space", ID: "s1"})
	require.NoError(t, err)
	_, err = c.Join(ctx, who("carol"), v1.CallRefPayload{Kind: "group", ID: "g1"})
	require.NoError(t, err)

	var out outbox.Outcome
	s.Read(func(st *store.State) { out = c.EndScope(st, store.KindSpace, "s1") })

	assert.Nil(t, c.Active(SpaceCallID("s1", "voice")))
	assert.Equal(t, 1, c.Len())
	assert.NotEmpty(t, eventsOfType(out, v1.TypeCallStatusChanged))
}
