package account

import (
	"context"

	"lightlink/cmd/identity"
	"lightlink/cmd/internal/outbox"
	"lightlink/cmd/internal/store"
	v1 "lightlink/contracts/realtime/v1"
)

const guestFallbackMsg = "Authentication required for claimed username. Logged in as guest."

// Resolve picks the identity a new session binds to.
//
// A claimed name needs its current token; otherwise the session continues as a
// generated guest and the outcome carries an auth_error. Names not yet known
// are registered as unclaimed when they pass ValidName.
func (m *Manager) Resolve(ctx context.Context, p v1.HelloPayload) (string, outbox.Outcome, error) {
	var (
		out  outbox.Outcome
		name string
	)
	err := m.store.Write(ctx, func(st *store.State) error {
		requested := identity.NormalizeName(p.Username)
		if requested != "" {
			if id := st.Identity(requested); id.Claimed() && !identity.TokenMatches(id.Credential.TokenHash, p.Token) {
				out.Reply(v1.TypeAuthError, v1.AuthErrorPayload{Msg: guestFallbackMsg})
				requested = ""
			}
		}
		// Known names reattach as stored; generated guest names may exceed the
		// length bound that applies to names chosen by users.
		if requested == "" || (!st.HasIdentity(requested) && !identity.ValidName(requested)) {
			requested = identity.GenerateName(st.HasIdentity)
		}
		name = requested

		if st.HasIdentity(name) {
			return store.ErrNoChange
		}
		st.EnsureIdentity(name, m.store.Now())
		return nil
	})
	if err != nil {
		return "", outbox.Outcome{}, err
	}
	return name, out, nil
}
