// Package identity implements Lightlink's display-name identity foundation.
//
// It contains the error taxonomy shared by every manager, display-name rules,
// the anonymous name generator, and the session token and verification code
// primitives used by the account manager.
//
// This package is intentionally dependency-light and security-first.
package identity
