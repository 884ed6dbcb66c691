package identity

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"math/big"

	"lightlink/cmd/security/token"
)

// Session tokens:
// - identity delegates token hashing to cmd/security/token as the single source of truth.
// - Only the hash is stored; the raw token lives on the client.

// NewOpaqueToken returns a cryptographically random, URL-safe session token.
func NewOpaqueToken(nBytes int) (string, error) {
	if nBytes <= 0 {
		nBytes = 32
	}

	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	// URL-safe, no padding.
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashSessionToken returns the server-stored hash for a session token.
func HashSessionToken(tokenStr string) string { return token.HashSessionTokenHex(tokenStr) }

// TokenMatches reports whether tokenStr hashes to storedHash, in constant time.
func TokenMatches(storedHash, tokenStr string) bool {
	if storedHash == "" || tokenStr == "" {
		return false
	}
	got := HashSessionToken(tokenStr)
	return subtle.ConstantTimeCompare([]byte(got), []byte(storedHash)) == 1
}

// NewVerificationCode returns a random six-digit numeric code.
func NewVerificationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}
