package identity

import (
	"strings"
	"unicode/utf8"
)

// Display-name length bounds, counted in runes.
const (
	MinNameLength = 3
	MaxNameLength = 20
)

// NormalizeName trims surrounding whitespace. Display names are case-sensitive.
func NormalizeName(s string) string {
	return strings.TrimSpace(s)
}

// reservedNameChars separate names inside direct-thread keys and message contexts.
const reservedNameChars = "|:"

// ValidName reports whether a normalized display name is within length bounds
// and free of the key separators.
func ValidName(s string) bool {
	n := utf8.RuneCountInString(s)
	return n >= MinNameLength && n <= MaxNameLength && !strings.ContainsAny(s, reservedNameChars)
}

// NormalizeEmail performs case-insensitive canonicalization.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeInviteCode canonicalizes a space invite code for lookup.
func NormalizeInviteCode(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
