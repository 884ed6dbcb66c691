package account

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"lightlink/cmd/identity"
	"lightlink/cmd/internal/outbox"
	"lightlink/cmd/internal/store"
	v1 "lightlink/contracts/realtime/v1"
)

// ChangeUsername renames the caller's identity everywhere it is referenced.
func (m *Manager) ChangeUsername(ctx context.Context, caller outbox.Caller, p v1.ChangeUsernamePayload) (outbox.Outcome, error) {
	const op = "account.ChangeUsername"
	newName := identity.NormalizeName(p.NewName)

	var out outbox.Outcome
	err := m.store.WriteAs(ctx, caller.Name, func(st *store.State) error {
		if !identity.ValidName(newName) {
			return identity.Invalid(op, "name must be 3-20 characters.")
		}
		if st.HasIdentity(newName) {
			return identity.Conflict(op, "user already taken.")
		}
		if err := m.renameLocked(st, op, caller.Name, newName, &out); err != nil {
			return err
		}
		out.Reply(v1.TypeSystem, v1.SystemPayload{Msg: "Username changed successfully!"})
		return nil
	})
	if err != nil {
		return outbox.Outcome{}, err
	}
	m.log.Info("account.rename", "from", caller.Name, "to", newName)
	return out, nil
}

// UpdateProfile changes name, email and password of a claimed identity.
func (m *Manager) UpdateProfile(ctx context.Context, caller outbox.Caller, p v1.UpdateProfilePayload) (outbox.Outcome, error) {
	const op = "account.UpdateProfile"
	if err := ctx.Err(); err != nil {
		return outbox.Outcome{}, err
	}

	name := identity.NormalizeName(p.Username)
	if name == "" {
		name = caller.Name
	}
	if name != caller.Name {
		return outbox.Outcome{}, identity.Unauthenticated(op, "Session invalid")
	}

	u := p.Updates
	var newName string
	if u.Username != nil {
		newName = identity.NormalizeName(*u.Username)
		if newName == name {
			newName = ""
		} else if !identity.ValidName(newName) {
			return outbox.Outcome{}, identity.Invalid(op, "Invalid username length")
		}
	}

	var newHash, newToken string
	if u.Password != nil {
		if err := checkPassword(op, *u.Password); err != nil {
			return outbox.Outcome{}, err
		}
		if !m.tokenValid(name, p.Token) {
			return outbox.Outcome{}, identity.Unauthenticated(op, "Session invalid")
		}
		h, err := m.hashPassword(op, *u.Password)
		if err != nil {
			return outbox.Outcome{}, err
		}
		tok, err := identity.NewOpaqueToken(tokenBytes)
		if err != nil {
			return outbox.Outcome{}, err
		}
		newHash, newToken = h, tok
	}

	var out outbox.Outcome
	err := m.store.WriteAs(ctx, caller.Name, func(st *store.State) error {
		id := st.Identity(name)
		if !id.Claimed() || !identity.TokenMatches(id.Credential.TokenHash, p.Token) {
			return identity.Unauthenticated(op, "Session invalid")
		}
		if newName != "" && st.HasIdentity(newName) {
			return identity.Conflict(op, "Username taken")
		}

		final := name
		if newName != "" {
			if err := m.renameLocked(st, op, name, newName, &out); err != nil {
				return err
			}
			final = newName
		}

		token := p.Token
		if newHash != "" {
			id.Credential.PasswordHash = newHash
			id.Credential.TokenHash = identity.HashSessionToken(newToken)
			token = newToken
		}
		if u.Email != nil {
			id.Credential.Email = identity.NormalizeEmail(*u.Email)
		}
		out.Reply(v1.TypeProfileUpdateSuccess, v1.ProfileUpdateSuccessPayload{
			Username: final,
			Token:    token,
			Email:    id.Credential.Email,
		})
		return nil
	})
	if err != nil {
		return outbox.Outcome{}, err
	}
	m.log.Info("account.profile.update", "user", name, "renamed", newName != "", "password", newHash != "")
	return out, nil
}

// DeleteAccount removes a claimed identity after checking token and password.
// The caller's live sessions continue under a fresh guest name.
func (m *Manager) DeleteAccount(ctx context.Context, caller outbox.Caller, p v1.DeleteAccountPayload) (outbox.Outcome, error) {
	const op = "account.DeleteAccount"
	if err := ctx.Err(); err != nil {
		return outbox.Outcome{}, err
	}

	name := identity.NormalizeName(p.Username)
	if name == "" {
		name = caller.Name
	}

	var hash string
	m.store.Read(func(st *store.State) {
		if id := st.Identity(name); name == caller.Name && id.Claimed() && identity.TokenMatches(id.Credential.TokenHash, p.Token) {
			hash = id.Credential.PasswordHash
		}
	})
	if hash == "" {
		return outbox.Outcome{}, identity.Unauthenticated(op, "Invalid session")
	}
	if ok, err := m.hasher.Verify(hash, p.Password); err != nil || !ok {
		m.lockout.Fail(name, m.store.Now())
		return outbox.Outcome{}, identity.Unauthenticated(op, "Invalid password")
	}

	var (
		out   outbox.Outcome
		guest string
	)
	err := m.store.WriteAs(ctx, caller.Name, func(st *store.State) error {
		id := st.Identity(name)
		if !id.Claimed() || id.Credential.PasswordHash != hash {
			return identity.Unauthenticated(op, "Invalid session")
		}

		affected := st.Friends(name)
		affected = append(affected, st.GroupPeers(name)...)
		for _, sp := range st.SpacesOf(name) {
			affected = append(affected, sp.Members...)
		}
		out.Merge(m.calls.Disconnect(st, name))
		st.RemoveIdentity(name)

		guest = identity.GenerateName(st.HasIdentity)
		st.EnsureIdentity(guest, m.store.Now())
		out.Renames = append(out.Renames, outbox.Rename{From: name, To: guest})
		out.Reply(v1.TypeAccountDeleted, nil)

		out.RefreshAll(guest)
		for _, n := range affected {
			if n != name {
				out.RefreshAll(n)
			}
		}
		return nil
	})
	if err != nil {
		return outbox.Outcome{}, err
	}
	m.lockout.Reset(name)
	m.log.Info("account.delete", "user", name, "guest", guest)
	return out, nil
}

// RegisterPublicKey stores the caller's end-to-end encryption public key.
func (m *Manager) RegisterPublicKey(ctx context.Context, caller outbox.Caller, p v1.RegisterPublicKeyPayload) (outbox.Outcome, error) {
	const op = "account.RegisterPublicKey"
	key := strings.TrimSpace(p.PublicKey)
	if key == "" {
		return outbox.Outcome{}, identity.Invalid(op, "public key required")
	}
	if len(key) > maxPublicKeyBytes {
		return outbox.Outcome{}, identity.Invalid(op, "public key too large")
	}

	var out outbox.Outcome
	err := m.store.WriteAs(ctx, caller.Name, func(st *store.State) error {
		id := st.Identity(caller.Name)
		if id == nil {
			return identity.NotFound(op, "")
		}
		out.Reply(v1.TypeSystem, v1.SystemPayload{Msg: "end to end encryption enabled"})
		if id.PublicKey == key {
			return store.ErrNoChange
		}
		id.PublicKey = key
		return nil
	})
	return out, err
}

// GetPublicKey replies with a user's public key, or null when none is registered.
func (m *Manager) GetPublicKey(ctx context.Context, _ outbox.Caller, p v1.GetPublicKeyPayload) (outbox.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return outbox.Outcome{}, err
	}
	name := identity.NormalizeName(p.Username)
	reply := v1.PublicKeyPayload{Username: name}
	m.store.Read(func(st *store.State) {
		if id := st.Identity(name); id != nil && id.PublicKey != "" {
			k := id.PublicKey
			reply.PublicKey = &k
		}
	})
	var out outbox.Outcome
	out.Reply(v1.TypePublicKey, reply)
	return out, nil
}

// renameLocked moves oldName to newName across the state and the call table and
// queues the rebinding, notices and refreshes. newName must be valid and free.
func (m *Manager) renameLocked(st *store.State, op, oldName, newName string, out *outbox.Outcome) error {
	id := st.Identity(oldName)
	if id == nil {
		return identity.NotFound(op, "")
	}
	now := m.store.Now()
	if left := m.cooldownLeft(id, now); left > 0 {
		hours := int(math.Ceil(left.Hours()))
		return identity.Conflict(op, fmt.Sprintf("cooldown active. %d hours left.", hours))
	}

	friends := st.Friends(oldName)
	if err := st.Rename(oldName, newName, now); err != nil {
		return identity.Conflict(op, "user already taken.")
	}
	m.calls.RenameParticipant(oldName, newName)

	out.Renames = append(out.Renames, outbox.Rename{From: oldName, To: newName})
	out.Send(newName, v1.TypeUsernameChanged, v1.UsernameChangedPayload{NewName: newName})

	notice := fmt.Sprintf("%s changed name to %s", oldName, newName)
	out.SendAll(friends, v1.TypeSystem, v1.SystemPayload{Msg: notice})

	notified := slices.Clone(friends)
	for _, g := range st.GroupsOf(newName) {
		for _, peer := range g.Members {
			if peer == newName || slices.Contains(notified, peer) {
				continue
			}
			notified = append(notified, peer)
			out.Send(peer, v1.TypeSystem, v1.SystemPayload{
				Msg: fmt.Sprintf("%s (group %s) changed name to %s", oldName, g.Label, newName),
			})
		}
	}

	out.RefreshAll(newName)
	out.RefreshAll(notified...)
	return nil
}

func (m *Manager) cooldownLeft(id *store.Identity, now time.Time) time.Duration {
	if m.cooldown <= 0 || id.RenamedAt.IsZero() {
		return 0
	}
	return m.cooldown - now.Sub(id.RenamedAt)
}

func (m *Manager) tokenValid(name, token string) bool {
	var ok bool
	m.store.Read(func(st *store.State) {
		id := st.Identity(name)
		ok = id.Claimed() && identity.TokenMatches(id.Credential.TokenHash, token)
	})
	return ok
}
