package store

import (
	"context"
	"time"
)

// Snapshotter is the durable boundary for whole-state snapshots.
type Snapshotter interface {
	// Load returns the last saved payload, or nil when nothing was saved yet.
	Load(ctx context.Context) ([]byte, error)
	// Save replaces the stored payload.
	Save(ctx context.Context, data []byte) error
	// Backup keeps a copy of data stamped with at and returns where it went.
	Backup(ctx context.Context, data []byte, at time.Time) (string, error)
	Close() error
}
