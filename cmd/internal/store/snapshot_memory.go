package store

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// MemorySnapshotter keeps the last snapshot in process memory. It backs the
// "memory" backend used for throwaway deployments and tests.
type MemorySnapshotter struct {
	mu      sync.Mutex
	data    []byte
	backups map[string][]byte
}

// NewMemorySnapshotter returns an empty in-memory snapshotter.
func NewMemorySnapshotter() *MemorySnapshotter {
	return &MemorySnapshotter{backups: make(map[string][]byte)}
}

func (m *MemorySnapshotter) Load(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.data...), nil
}

func (m *MemorySnapshotter) Save(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = append([]byte(nil), data...)
	return nil
}

func (m *MemorySnapshotter) Backup(ctx context.Context, data []byte, at time.Time) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ref := "memory.bak." + strconv.FormatInt(at.UnixMilli(), 10)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backups[ref] = append([]byte(nil), data...)
	return ref, nil
}

func (m *MemorySnapshotter) Close() error { return nil }

// Bytes returns a copy of the last saved snapshot.
func (m *MemorySnapshotter) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.data...)
}
