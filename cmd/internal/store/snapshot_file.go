package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// FileSnapshotter keeps the snapshot in a single JSON file, replaced atomically.
type FileSnapshotter struct {
	path string
}

// NewFileSnapshotter returns a snapshotter for path, creating its directory.
func NewFileSnapshotter(path string) (*FileSnapshotter, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("store: empty snapshot path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("store: create data dir: %w", err)
	}
	return &FileSnapshotter{path: path}, nil
}

// Path returns the snapshot file path.
func (f *FileSnapshotter) Path() string { return f.path }

func (f *FileSnapshotter) Load(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return data, err
}

// Save writes to a temp file in the same directory and renames it over the snapshot.
func (f *FileSnapshotter) Save(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir, base := filepath.Split(f.path)
	if dir == "" {
		dir = "."
	}

	tmp, err := os.CreateTemp(dir, base+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, f.path)
}

// Backup writes data next to the snapshot as <path>.bak.<unix-ms>.
func (f *FileSnapshotter) Backup(ctx context.Context, data []byte, at time.Time) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dst := f.path + ".bak." + strconv.FormatInt(at.UnixMilli(), 10)
	if err := os.WriteFile(dst, data, 0o600); err != nil {
		return "", err
	}
	return dst, nil
}

func (f *FileSnapshotter) Close() error { return nil }
