// Package account binds live sessions to display identities.
//
// It allocates guest names, claims names with a credential, authenticates
// with an optional emailed two-factor code, reattaches sessions by token and
// handles rename, profile update and account deletion.
//
// Password hashing runs before a command takes the store lock. Every method
// returns an outbox.Outcome describing rebinds, replies and refreshes; the
// gateway applies them.
package account
