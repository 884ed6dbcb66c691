package account

import (
	"context"
	"errors"
	"slices"
	"strings"
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

// plainHasher keeps tests fast; the real argon2id path is covered in security/password.
type plainHasher struct{}

func (plainHasher) Hash(pw string) (string, error) {
	if pw == "" {
		return "", errors.New("empty")
	}
	return "plain$" + pw, nil
}

func (plainHasher) Verify(hash, pw string) (bool, error) { return hash == "plain$"+pw, nil }
func (plainHasher) NeedsRehash(string) bool              { return false }

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

func fixture(t *testing.T, opts ...Option) (*store.Store, *Manager, *clock) {
	t.Helper()
	clk := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	s, err := store.Open(context.Background(), store.NewMemorySnapshotter(), nil, store.WithClock(clk.Now))
	require.NoError(t, err)
	return s, New(s, plainHasher{}, opts...), clk
}

func who(name string) outbox.Caller { return outbox.Caller{Session: "sess-" + name, Name: name} }

func reply(t *testing.T, out outbox.Outcome, typ string) any {
	t.Helper()
	for _, e := range out.Events {
		if e.To == "" && e.Type == typ {
			return e.Payload
		}
	}
	t.Fatalf("no %s reply in %+v", typ, out.Events)
	return nil
}

func sentTo(out outbox.Outcome, to, typ string) []any {
	var res []any
	for _, e := range out.Events {
		if e.To == to && e.Type == typ {
			res = append(res, e.Payload)
		}
	}
	return res
}

func signup(t *testing.T, m *Manager, name, pw, email string) string {
	t.Helper()
	out, err := m.Signup(context.Background(), who("guest"), v1.SignupPayload{Username: name, Password: pw, Email: email})
	require.NoError(t, err)
	return reply(t, out, v1.TypeAuthSuccess).(v1.AuthSuccessPayload).Token
}

func TestResolve(t *testing.T) {
	t.Parallel()
	s, m, _ := fixture(t)
	ctx := context.Background()

	name, out, err := m.Resolve(ctx, v1.HelloPayload{Username: "  casey "})
	require.NoError(t, err)
	assert.Equal(t, "casey", name)
	assert.True(t, out.Empty())

	name, _, err = m.Resolve(ctx, v1.HelloPayload{})
	require.NoError(t, err)
	assert.Len(t, strings.Split(name, "-"), 3)
	s.Read(func(st *store.State) { assert.True(t, st.HasIdentity(name)) })

	token := signup(t, m, "dana", "correct-horse", "")

	name, out, err = m.Resolve(ctx, v1.HelloPayload{Username: "dana", Token: "wrong"})
	require.NoError(t, err)
	assert.NotEqual(t, "dana", name)
	assert.Equal(t, v1.AuthErrorPayload{Msg: guestFallbackMsg}, reply(t, out, v1.TypeAuthError))

	name, out, err = m.Resolve(ctx, v1.HelloPayload{Username: "dana", Token: token})
	require.NoError(t, err)
	assert.Equal(t, "dana", name)
	assert.Empty(t, out.Events)
}

func TestResolve_ReattachesGeneratedNames(t *testing.T) {
	t.Parallel()
	s, m, _ := fixture(t)
	ctx := context.Background()

	long := []string{"curious-indigo-beaver", "curious-indigo-beaver-1a2b"}
	require.NoError(t, s.Write(ctx, func(st *store.State) error {
		for _, n := range long {
			st.EnsureIdentity(n, s.Now())
		}
		return nil
	}))

	names := slices.Clone(long)
	for range 300 {
		name, _, err := m.Resolve(ctx, v1.HelloPayload{})
		require.NoError(t, err)
		names = append(names, name)
	}
	for _, want := range names {
		got, out, err := m.Resolve(ctx, v1.HelloPayload{Username: want})
		require.NoError(t, err)
		assert.Equal(t, want, got, "reconnect with %q", want)
		assert.True(t, out.Empty())
	}
}

func TestResolve_UnknownInvalidNameGetsGuest(t *testing.T) {
	t.Parallel()
	s, m, _ := fixture(t)
	ctx := context.Background()

	for _, in := range []string{strings.Repeat("x", identity.MaxNameLength+1), "ab", "a|b|c", "sp:ace"} {
		name, _, err := m.Resolve(ctx, v1.HelloPayload{Username: in})
		require.NoError(t, err)
		assert.NotEqual(t, in, name)
		s.Read(func(st *store.State) {
			assert.False(t, st.HasIdentity(in))
			assert.True(t, st.HasIdentity(name))
		})
	}
}

func TestSignup_Validation(t *testing.T) {
	t.Parallel()
	_, m, _ := fixture(t)
	signup(t, m, "taken", "password1", "")

	cases := []struct {
		name string
		in   v1.SignupPayload
		msg  string
	}{
		{"missing", v1.SignupPayload{Username: "x"}, "Missing fields"},
		{"short name", v1.SignupPayload{Username: "ab", Password: "password1"}, "Invalid username length"},
		{"long name", v1.SignupPayload{Username: strings.Repeat("a", 21), Password: "password1"}, "Invalid username length"},
		{"short password", v1.SignupPayload{Username: "abc", Password: "short"}, "Password must be at least 8 characters"},
		{"claimed", v1.SignupPayload{Username: "taken", Password: "password1"}, "Username already registered"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := m.Signup(context.Background(), who("guest"), tc.in)
			require.Error(t, err)
			assert.Equal(t, tc.msg, identity.PublicMessage(err))
		})
	}
}

func TestSignup_BindsAndVerifyToken(t *testing.T) {
	t.Parallel()
	s, m, _ := fixture(t)
	ctx := context.Background()

	out, err := m.Signup(ctx, who("guest"), v1.SignupPayload{Username: "erin", Password: "password1", Email: "Erin@Example.com"})
	require.NoError(t, err)
	assert.Equal(t, "erin", out.Bind)
	assert.Equal(t, []string{"erin"}, out.Refresh)
	ok := reply(t, out, v1.TypeAuthSuccess).(v1.AuthSuccessPayload)
	assert.Equal(t, "erin@example.com", ok.Email)
	require.NotEmpty(t, ok.Token)

	s.Read(func(st *store.State) {
		id := st.Identity("erin")
		require.True(t, id.Claimed())
		assert.NotEqual(t, ok.Token, id.Credential.TokenHash, "only the hash is stored")
	})

	out, err = m.VerifyToken(ctx, who("other"), v1.VerifyTokenPayload{Username: "erin", Token: ok.Token})
	require.NoError(t, err)
	assert.Equal(t, "erin", out.Bind)

	_, err = m.VerifyToken(ctx, who("other"), v1.VerifyTokenPayload{Username: "erin", Token: "nope"})
	require.True(t, identity.IsUnauthenticated(err))
	assert.Equal(t, "Invalid session", identity.PublicMessage(err))
}

func TestLogin_Errors(t *testing.T) {
	t.Parallel()
	s, m, _ := fixture(t)
	ctx := context.Background()
	signup(t, m, "fran", "password1", "")
	require.NoError(t, s.Write(ctx, func(st *store.State) error {
		st.EnsureIdentity("guesty", s.Now())
		return nil
	}))

	_, err := m.Login(ctx, who("x"), v1.LoginPayload{Username: "nobody", Password: "password1"})
	assert.Equal(t, "User not found", identity.PublicMessage(err))

	_, err = m.Login(ctx, who("x"), v1.LoginPayload{Username: "guesty", Password: "password1"})
	assert.Equal(t, "Account not claimed. Please use Signup to claim this username.", identity.PublicMessage(err))

	_, err = m.Login(ctx, who("x"), v1.LoginPayload{Username: "fran", Password: "wrong-pass"})
	assert.Equal(t, "Invalid password", identity.PublicMessage(err))

	out, err := m.Login(ctx, who("x"), v1.LoginPayload{Username: "fran", Password: "password1"})
	require.NoError(t, err)
	assert.Equal(t, "fran", out.Bind)
}

func TestLogin_LockoutAfterRepeatedFailures(t *testing.T) {
	t.Parallel()
	_, m, clk := fixture(t)
	ctx := context.Background()
	signup(t, m, "gale", "password1", "")

	for i := 0; i < 5; i++ {
		_, err := m.Login(ctx, who("x"), v1.LoginPayload{Username: "gale", Password: "bad-password"})
		require.Equal(t, "Invalid password", identity.PublicMessage(err))
	}
	_, err := m.Login(ctx, who("x"), v1.LoginPayload{Username: "gale", Password: "password1"})
	assert.Equal(t, "Too many attempts, try again later", identity.PublicMessage(err))

	clk.Advance(6 * time.Minute)
	_, err = m.Login(ctx, who("x"), v1.LoginPayload{Username: "gale", Password: "password1"})
	assert.NoError(t, err)
}

func TestLogin_TwoFactor(t *testing.T) {
	t.Parallel()
	s, m, clk := fixture(t)
	ctx := context.Background()
	signup(t, m, "hana", "password1", "hana@example.com")

	out, err := m.Login(ctx, who("x"), v1.LoginPayload{Username: "hana", Password: "password1"})
	require.NoError(t, err)
	assert.Empty(t, out.Bind)
	assert.Equal(t, v1.Auth2FARequiredPayload{Username: "hana"}, reply(t, out, v1.TypeAuth2FARequired))
	require.Len(t, out.Emails, 1)
	assert.Equal(t, "hana@example.com", out.Emails[0].To)

	var code string
	s.Read(func(st *store.State) { code = st.Identity("hana").Credential.Challenge.Code })
	require.Len(t, code, 6)
	assert.Contains(t, out.Emails[0].HTML, code)

	_, err = m.Verify2FA(ctx, who("x"), v1.Verify2FAPayload{Username: "hana", Code: "000000"})
	assert.Equal(t, "Incorrect code", identity.PublicMessage(err))

	out, err = m.Verify2FA(ctx, who("x"), v1.Verify2FAPayload{Username: "hana", Code: code})
	require.NoError(t, err)
	assert.Equal(t, "hana", out.Bind)
	s.Read(func(st *store.State) { assert.Nil(t, st.Identity("hana").Credential.Challenge) })

	_, err = m.Verify2FA(ctx, who("x"), v1.Verify2FAPayload{Username: "hana", Code: code})
	assert.Equal(t, "Code expired or invalid", identity.PublicMessage(err))

	_, err = m.Login(ctx, who("x"), v1.LoginPayload{Username: "hana", Password: "password1"})
	require.NoError(t, err)
	s.Read(func(st *store.State) { code = st.Identity("hana").Credential.Challenge.Code })
	clk.Advance(DefaultChallengeTTL + time.Second)
	_, err = m.Verify2FA(ctx, who("x"), v1.Verify2FAPayload{Username: "hana", Code: code})
	assert.Equal(t, "Code expired or invalid", identity.PublicMessage(err))
}

func TestVerify2FA_ExpiredChallengeClearIsSaved(t *testing.T) {
	t.Parallel()
	clk := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	snap := store.NewMemorySnapshotter()
	s, err := store.Open(context.Background(), snap, nil, store.WithClock(clk.Now))
	require.NoError(t, err)
	m := New(s, plainHasher{})
	ctx := context.Background()
	signup(t, m, "ines", "password1", "ines@example.com")

	_, err = m.Login(ctx, who("x"), v1.LoginPayload{Username: "ines", Password: "password1"})
	require.NoError(t, err)
	var code string
	s.Read(func(st *store.State) { code = st.Identity("ines").Credential.Challenge.Code })

	clk.Advance(DefaultChallengeTTL + time.Second)
	_, err = m.Verify2FA(ctx, who("x"), v1.Verify2FAPayload{Username: "ines", Code: code})
	assert.Equal(t, "Code expired or invalid", identity.PublicMessage(err))

	reopened, err := store.Open(ctx, snap, nil)
	require.NoError(t, err)
	reopened.Read(func(st *store.State) {
		assert.Nil(t, st.Identity("ines").Credential.Challenge, "the expired challenge is dropped on disk too")
	})
}

func TestChangeUsername(t *testing.T) {
	t.Parallel()
	s, m, clk := fixture(t)
	ctx := context.Background()
	require.NoError(t, s.Write(ctx, func(st *store.State) error {
		for _, n := range []string{"ivan", "jo", "kim", "lee"} {
			st.EnsureIdentity(n, s.Now())
		}
		st.AddFriendship("ivan", "jo")
		st.Groups["g1"] = &store.Group{ID: "g1", Label: "crew", Members: []string{"ivan", "kim"}}
		return nil
	}))

	_, err := m.ChangeUsername(ctx, who("ivan"), v1.ChangeUsernamePayload{NewName: "lee"})
	assert.Equal(t, "user already taken.", identity.PublicMessage(err))

	_, err = m.ChangeUsername(ctx, who("ivan"), v1.ChangeUsernamePayload{NewName: "x"})
	assert.Equal(t, "name must be 3-20 characters.", identity.PublicMessage(err))

	_, err = m.ChangeUsername(ctx, who("ivan"), v1.ChangeUsernamePayload{NewName: "iv|an"})
	assert.True(t, identity.IsInvalidInput(err), "key separators are not allowed in names")

	out, err := m.ChangeUsername(ctx, who("ivan"), v1.ChangeUsernamePayload{NewName: "ivy"})
	require.NoError(t, err)
	assert.Equal(t, []outbox.Rename{{From: "ivan", To: "ivy"}}, out.Renames)
	assert.Equal(t, v1.SystemPayload{Msg: "Username changed successfully!"}, reply(t, out, v1.TypeSystem))
	assert.Len(t, sentTo(out, "ivy", v1.TypeUsernameChanged), 1)
	assert.Equal(t, []any{v1.SystemPayload{Msg: "ivan changed name to ivy"}}, sentTo(out, "jo", v1.TypeSystem))
	assert.Equal(t, []any{v1.SystemPayload{Msg: "ivan (group crew) changed name to ivy"}}, sentTo(out, "kim", v1.TypeSystem))
	assert.ElementsMatch(t, []string{"ivy", "jo", "kim"}, out.Refresh)

	s.Read(func(st *store.State) {
		assert.False(t, st.HasIdentity("ivan"))
		assert.True(t, st.AreFriends("ivy", "jo"))
	})

	clk.Advance(90 * time.Minute)
	_, err = m.ChangeUsername(ctx, who("ivy"), v1.ChangeUsernamePayload{NewName: "ivo"})
	assert.True(t, identity.IsConflict(err))
	assert.Equal(t, "cooldown active. 23 hours left.", identity.PublicMessage(err))

	clk.Advance(23 * time.Hour)
	_, err = m.ChangeUsername(ctx, who("ivy"), v1.ChangeUsernamePayload{NewName: "ivo"})
	assert.NoError(t, err)
}

func TestUpdateProfile(t *testing.T) {
	t.Parallel()
	s, m, _ := fixture(t)
	ctx := context.Background()
	token := signup(t, m, "maya", "password1", "")
	signup(t, m, "nico", "password1", "")

	name := "nico"
	_, err := m.UpdateProfile(ctx, who("maya"), v1.UpdateProfilePayload{Username: "maya", Token: token, Updates: v1.ProfileUpdates{Username: &name}})
	assert.Equal(t, "Username taken", identity.PublicMessage(err))

	_, err = m.UpdateProfile(ctx, who("maya"), v1.UpdateProfilePayload{Username: "maya", Token: "bad"})
	assert.Equal(t, "Session invalid", identity.PublicMessage(err))

	email := "Maya@Example.com"
	pw := "new-password"
	out, err := m.UpdateProfile(ctx, who("maya"), v1.UpdateProfilePayload{
		Username: "maya",
		Token:    token,
		Updates:  v1.ProfileUpdates{Email: &email, Password: &pw},
	})
	require.NoError(t, err)
	ok := reply(t, out, v1.TypeProfileUpdateSuccess).(v1.ProfileUpdateSuccessPayload)
	assert.Equal(t, "maya", ok.Username)
	assert.Equal(t, "maya@example.com", ok.Email)
	assert.NotEqual(t, token, ok.Token, "a password change rotates the token")

	s.Read(func(st *store.State) {
		assert.Equal(t, "plain$new-password", st.Identity("maya").Credential.PasswordHash)
	})
}

func TestDeleteAccount(t *testing.T) {
	t.Parallel()
	s, m, _ := fixture(t)
	ctx := context.Background()
	token := signup(t, m, "otto", "password1", "")
	require.NoError(t, s.Write(ctx, func(st *store.State) error {
		st.EnsureIdentity("pia", s.Now())
		st.AddFriendship("otto", "pia")
		st.Groups["g9"] = &store.Group{ID: "g9", Label: "solo", Members: []string{"otto"}}
		return nil
	}))

	_, err := m.DeleteAccount(ctx, who("otto"), v1.DeleteAccountPayload{Username: "otto", Token: token, Password: "wrong-pass"})
	assert.Equal(t, "Invalid password", identity.PublicMessage(err))

	_, err = m.DeleteAccount(ctx, who("otto"), v1.DeleteAccountPayload{Username: "otto", Token: "bad", Password: "password1"})
	assert.Equal(t, "Invalid session", identity.PublicMessage(err))

	out, err := m.DeleteAccount(ctx, who("otto"), v1.DeleteAccountPayload{Username: "otto", Token: token, Password: "password1"})
	require.NoError(t, err)
	reply(t, out, v1.TypeAccountDeleted)
	require.Len(t, out.Renames, 1)
	guest := out.Renames[0].To
	assert.Contains(t, out.Refresh, "pia")

	s.Read(func(st *store.State) {
		assert.False(t, st.HasIdentity("otto"))
		assert.True(t, st.HasIdentity(guest))
		assert.Empty(t, st.Friends("pia"))
		assert.NotContains(t, st.Groups, "g9", "a group left without members is deleted")
	})
}

func TestPublicKeys(t *testing.T) {
	t.Parallel()
	s, m, _ := fixture(t)
	ctx := context.Background()
	require.NoError(t, s.Write(ctx, func(st *store.State) error {
		st.EnsureIdentity("quinn", s.Now())
		return nil
	}))

	out, err := m.GetPublicKey(ctx, who("x"), v1.GetPublicKeyPayload{Username: "quinn"})
	require.NoError(t, err)
	assert.Nil(t, reply(t, out, v1.TypePublicKey).(v1.PublicKeyPayload).PublicKey)

	out, err = m.RegisterPublicKey(ctx, who("quinn"), v1.RegisterPublicKeyPayload{PublicKey: "pk-1"})
	require.NoError(t, err)
	assert.Equal(t, v1.SystemPayload{Msg: "end to end encryption enabled"}, reply(t, out, v1.TypeSystem))

	out, err = m.GetPublicKey(ctx, who("x"), v1.GetPublicKeyPayload{Username: "quinn"})
	require.NoError(t, err)
	got := reply(t, out, v1.TypePublicKey).(v1.PublicKeyPayload).PublicKey
	require.NotNil(t, got)
	assert.Equal(t, "pk-1", *got)
}

func TestInitLocked(t *testing.T) {
	t.Parallel()
	s, m, _ := fixture(t)
	ctx := context.Background()
	require.NoError(t, s.Write(ctx, func(st *store.State) error {
		st.EnsureIdentity("rex", s.Now())
		st.EnsureIdentity("sol", s.Now())
		st.AddFriendship("rex", "sol")
		st.Groups["g1"] = &store.Group{ID: "g1", Label: "duo", Members: []string{"rex", "sol"}}
		return nil
	}))

	p := m.Init("rex")
	assert.Equal(t, "rex", p.Username)
	assert.False(t, p.Claimed)
	assert.Equal(t, []string{"sol"}, p.Friends)
	assert.Equal(t, []string{}, p.Blocked)
	require.Len(t, p.Groups, 1)
	assert.Equal(t, "duo", p.Groups[0].Label)
	assert.NotNil(t, p.ActiveCalls)
}
