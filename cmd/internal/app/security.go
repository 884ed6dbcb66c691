package app

import (
	"errors"

	"lightlink/cmd/security/token"
)

// ValidateSecurityConfig enforces Lightlink's security policy at startup.
//
// - Fail-fast is intentional: silently falling back to weaker token hashing in production is unacceptable.
// - Enforcement is end-to-end by validating the same module that performs hashing (security/token).
func ValidateSecurityConfig(cfg Config) error {
	if !cfg.RequireTokenHMAC {
		return nil
	}

	// Minimum 32 bytes for an HMAC-SHA256 secret, measured in bytes because the key is used raw.
	if _, err := token.HMACKeyFromEnv(32); err != nil {
		switch {
		case errors.Is(err, token.ErrHMACKeyMissing):
			return errors.New("security policy: LIGHTLINK_REQUIRE_TOKEN_HMAC=true but LIGHTLINK_TOKEN_HMAC_KEY is missing")
		case errors.Is(err, token.ErrHMACKeyTooShort):
			return errors.New("security policy: LIGHTLINK_REQUIRE_TOKEN_HMAC=true but LIGHTLINK_TOKEN_HMAC_KEY is too short (min 32 bytes)")
		default:
			return err
		}
	}

	if !token.HMACEnabled() {
		return errors.New("security policy: LIGHTLINK_REQUIRE_TOKEN_HMAC=true but token hasher is not in HMAC mode")
	}

	return nil
}
