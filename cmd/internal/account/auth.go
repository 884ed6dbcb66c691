package account

import (
	"context"
	"crypto/subtle"
	"errors"
	"unicode/utf8"

	"lightlink/cmd/identity"
	"lightlink/cmd/internal/notify"
	"lightlink/cmd/internal/outbox"
	"lightlink/cmd/internal/store"
	"lightlink/cmd/security/password"
	v1 "lightlink/contracts/realtime/v1"
)

const loginEmailSubject = "Lightlink Login Code"

// Signup claims a name with a password and binds the session to it.
func (m *Manager) Signup(ctx context.Context, caller outbox.Caller, p v1.SignupPayload) (outbox.Outcome, error) {
	const op = "account.Signup"
	if err := ctx.Err(); err != nil {
		return outbox.Outcome{}, err
	}

	name := identity.NormalizeName(p.Username)
	email := identity.NormalizeEmail(p.Email)
	if name == "" || p.Password == "" {
		return outbox.Outcome{}, identity.Invalid(op, "Missing fields")
	}
	if !identity.ValidName(name) {
		return outbox.Outcome{}, identity.Invalid(op, "Invalid username length")
	}
	if err := checkPassword(op, p.Password); err != nil {
		return outbox.Outcome{}, err
	}

	var claimed bool
	m.store.Read(func(st *store.State) { claimed = st.Identity(name).Claimed() })
	if claimed {
		return outbox.Outcome{}, identity.Conflict(op, "Username already registered")
	}

	hash, err := m.hashPassword(op, p.Password)
	if err != nil {
		return outbox.Outcome{}, err
	}
	token, err := identity.NewOpaqueToken(tokenBytes)
	if err != nil {
		return outbox.Outcome{}, err
	}

	var out outbox.Outcome
	err = m.store.Write(ctx, func(st *store.State) error {
		id := st.EnsureIdentity(name, m.store.Now())
		if id.Claimed() {
			return identity.Conflict(op, "Username already registered")
		}
		id.Credential = &store.Credential{
			PasswordHash: hash,
			Email:        email,
			TokenHash:    identity.HashSessionToken(token),
		}
		m.bindAuthenticated(&out, name, token, email)
		return nil
	})
	if err != nil {
		return outbox.Outcome{}, err
	}
	m.log.Info("account.signup", "user", name, "session_id", caller.Session)
	return out, nil
}

// Login checks the password of a claimed name. With a recovery email on file it
// sends a one-time code instead of issuing a token.
func (m *Manager) Login(ctx context.Context, caller outbox.Caller, p v1.LoginPayload) (outbox.Outcome, error) {
	const op = "account.Login"
	if err := ctx.Err(); err != nil {
		return outbox.Outcome{}, err
	}

	name := identity.NormalizeName(p.Username)
	if name == "" || p.Password == "" {
		return outbox.Outcome{}, identity.Invalid(op, "Missing fields")
	}
	if locked, retry := m.lockout.Check(name, m.store.Now()); locked {
		m.log.Warn("account.login.locked", "user", name, "retry_after", retry)
		return outbox.Outcome{}, identity.Unauthenticated(op, "Too many attempts, try again later")
	}

	var (
		known  bool
		cred   store.Credential
		hasCrd bool
	)
	m.store.Read(func(st *store.State) {
		id := st.Identity(name)
		known = id != nil
		if id.Claimed() {
			cred, hasCrd = *id.Credential, true
		}
	})
	switch {
	case !known:
		return outbox.Outcome{}, identity.Unauthenticated(op, "User not found")
	case !hasCrd:
		return outbox.Outcome{}, identity.Unauthenticated(op, "Account not claimed. Please use Signup to claim this username.")
	}

	ok, err := m.hasher.Verify(cred.PasswordHash, p.Password)
	if err != nil || !ok {
		m.lockout.Fail(name, m.store.Now())
		if err != nil {
			m.log.Warn("account.login.verify_fail", "user", name, "err", err)
		}
		return outbox.Outcome{}, identity.Unauthenticated(op, "Invalid password")
	}

	rehash := ""
	if m.hasher.NeedsRehash(cred.PasswordHash) {
		if h, err := m.hasher.Hash(p.Password); err == nil {
			rehash = h
		} else {
			m.log.Warn("account.login.rehash_fail", "user", name, "err", err)
		}
	}

	if cred.Email != "" {
		return m.startChallenge(ctx, op, name, cred, rehash)
	}
	return m.issue(ctx, op, caller, name, cred.PasswordHash, rehash)
}

// Verify2FA completes a login that was answered with auth_2fa_required.
func (m *Manager) Verify2FA(ctx context.Context, caller outbox.Caller, p v1.Verify2FAPayload) (outbox.Outcome, error) {
	const op = "account.Verify2FA"
	if err := ctx.Err(); err != nil {
		return outbox.Outcome{}, err
	}

	name := identity.NormalizeName(p.Username)
	if locked, _ := m.lockout.Check(name, m.store.Now()); locked {
		return outbox.Outcome{}, identity.Unauthenticated(op, "Too many attempts, try again later")
	}
	token, err := identity.NewOpaqueToken(tokenBytes)
	if err != nil {
		return outbox.Outcome{}, err
	}

	var (
		out      outbox.Outcome
		mismatch bool
		expired  bool
	)
	err = m.store.Write(ctx, func(st *store.State) error {
		id := st.Identity(name)
		if !id.Claimed() || id.Credential.Challenge == nil {
			return identity.Unauthenticated(op, "Code expired or invalid")
		}
		ch := id.Credential.Challenge
		if !m.store.Now().Before(ch.ExpiresAt) {
			// Commit the cleared challenge; the error is reported after the write.
			id.Credential.Challenge = nil
			expired = true
			return nil
		}
		if subtle.ConstantTimeCompare([]byte(ch.Code), []byte(p.Code)) != 1 {
			mismatch = true
			return identity.Unauthenticated(op, "Incorrect code")
		}
		id.Credential.Challenge = nil
		id.Credential.TokenHash = identity.HashSessionToken(token)
		m.bindAuthenticated(&out, name, token, id.Credential.Email)
		return nil
	})
	if mismatch {
		m.lockout.Fail(name, m.store.Now())
	}
	if err != nil {
		return outbox.Outcome{}, err
	}
	if expired {
		return outbox.Outcome{}, identity.Unauthenticated(op, "Code expired or invalid")
	}
	m.lockout.Reset(name)
	m.log.Info("account.login", "user", name, "session_id", caller.Session, "two_factor", true)
	return out, nil
}

// VerifyToken reattaches a session to a claimed name by its current token.
func (m *Manager) VerifyToken(ctx context.Context, caller outbox.Caller, p v1.VerifyTokenPayload) (outbox.Outcome, error) {
	const op = "account.VerifyToken"
	if err := ctx.Err(); err != nil {
		return outbox.Outcome{}, err
	}

	name := identity.NormalizeName(p.Username)
	var (
		out outbox.Outcome
		ok  bool
	)
	m.store.Read(func(st *store.State) {
		id := st.Identity(name)
		if !id.Claimed() || !identity.TokenMatches(id.Credential.TokenHash, p.Token) {
			return
		}
		ok = true
		m.bindAuthenticated(&out, name, p.Token, id.Credential.Email)
	})
	if !ok {
		return outbox.Outcome{}, identity.Unauthenticated(op, "Invalid session")
	}
	m.log.Debug("account.reattach", "user", name, "session_id", caller.Session)
	return out, nil
}

func (m *Manager) startChallenge(ctx context.Context, op, name string, cred store.Credential, rehash string) (outbox.Outcome, error) {
	code, err := identity.NewVerificationCode()
	if err != nil {
		return outbox.Outcome{}, err
	}
	html, err := notify.LoginEmail(code, m.challengeTTL)
	if err != nil {
		return outbox.Outcome{}, err
	}

	var out outbox.Outcome
	err = m.store.Write(ctx, func(st *store.State) error {
		id := st.Identity(name)
		if !id.Claimed() || id.Credential.PasswordHash != cred.PasswordHash {
			return identity.Unauthenticated(op, "Invalid password")
		}
		if rehash != "" {
			id.Credential.PasswordHash = rehash
		}
		id.Credential.Challenge = &store.Challenge{Code: code, ExpiresAt: m.store.Now().Add(m.challengeTTL)}
		return nil
	})
	if err != nil {
		return outbox.Outcome{}, err
	}
	out.Emails = append(out.Emails, outbox.Email{To: cred.Email, Subject: loginEmailSubject, HTML: html})
	out.Reply(v1.TypeAuth2FARequired, v1.Auth2FARequiredPayload{Username: name})
	m.log.Info("account.login.challenge", "user", name)
	return out, nil
}

// issue rotates the session token of a verified login.
func (m *Manager) issue(ctx context.Context, op string, caller outbox.Caller, name, verifiedHash, rehash string) (outbox.Outcome, error) {
	token, err := identity.NewOpaqueToken(tokenBytes)
	if err != nil {
		return outbox.Outcome{}, err
	}

	var out outbox.Outcome
	err = m.store.Write(ctx, func(st *store.State) error {
		id := st.Identity(name)
		if !id.Claimed() || id.Credential.PasswordHash != verifiedHash {
			return identity.Unauthenticated(op, "Invalid password")
		}
		if rehash != "" {
			id.Credential.PasswordHash = rehash
		}
		id.Credential.TokenHash = identity.HashSessionToken(token)
		m.bindAuthenticated(&out, name, token, id.Credential.Email)
		return nil
	})
	if err != nil {
		return outbox.Outcome{}, err
	}
	m.lockout.Reset(name)
	m.log.Info("account.login", "user", name, "session_id", caller.Session)
	return out, nil
}

func (m *Manager) bindAuthenticated(out *outbox.Outcome, name, token, email string) {
	out.Bind = name
	out.Reply(v1.TypeAuthSuccess, v1.AuthSuccessPayload{Username: name, Token: token, Email: email})
	out.RefreshAll(name)
}

func (m *Manager) hashPassword(op, pw string) (string, error) {
	hash, err := m.hasher.Hash(pw)
	switch {
	case err == nil:
		return hash, nil
	case errors.Is(err, password.ErrPasswordTooShort):
		return "", identity.Invalid(op, "Password must be at least 8 characters")
	case errors.Is(err, password.ErrPasswordTooLong):
		return "", identity.Invalid(op, "Password is too long")
	case errors.Is(err, password.ErrWeakPassword):
		return "", identity.Invalid(op, "Password is too weak")
	default:
		return "", err
	}
}

func checkPassword(op, pw string) error {
	if utf8.RuneCountInString(pw) < minPasswordLength {
		return identity.Invalid(op, "Password must be at least 8 characters")
	}
	return nil
}
