package realtime

import (
	"time"

	"lightlink/cmd/identity/ids"
)

// NewSessionID returns the ULID assigned to a websocket session.
func NewSessionID(now time.Time) (string, error) {
	return ids.NewULID(now)
}

// NewEnvelopeID returns a ULID for a server-sent envelope. Ids minted in the
// same millisecond still sort in send order.
func NewEnvelopeID(ts time.Time) string {
	return ids.MustULID(ts)
}
