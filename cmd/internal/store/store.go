package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"lightlink/cmd/identity"
)

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("store: closed")

// ErrNoChange may be returned by a Write callback that decided not to mutate.
// Write then skips persistence and returns nil.
var ErrNoChange = errors.New("store: no change")

// Store is the single coordination point for engine state.
//
// Concurrency model:
//   - mu guards st; every Read/Write callback runs to completion under it.
//   - The snapshot is encoded under mu and saved after it is released.
//   - saveMu serializes saves; seq/saved drop snapshots older than the last one written.
type Store struct {
	mu     sync.Mutex
	st     *State
	seq    uint64
	closed bool

	saveMu sync.Mutex
	saved  uint64

	snap   Snapshotter
	log    *slog.Logger
	now    func() time.Time
	onSave func(error)
}

// Option configures Store behavior.
type Option func(*Store)

// WithClock overrides the wall clock (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSaveHook registers a callback invoked after every snapshot attempt with its result.
func WithSaveHook(fn func(error)) Option {
	return func(s *Store) { s.onSave = fn }
}

// Open loads the last snapshot from snap and returns a ready Store.
//
// A malformed payload is backed up through snap.Backup and the Store starts
// from empty defaults. Load I/O errors are returned as is.
func Open(ctx context.Context, snap Snapshotter, log *slog.Logger, opts ...Option) (*Store, error) {
	if snap == nil {
		return nil, errors.New("store: nil snapshotter")
	}
	if log == nil {
		log = slog.Default()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := &Store{
		snap: snap,
		log:  log,
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	data, err := snap.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: load snapshot: %w", err)
	}
	if len(data) == 0 {
		s.st = NewState()
		log.Info("store.load.empty")
		return s, nil
	}

	st, err := DecodeState(data)
	if err != nil {
		at := s.now()
		where, bErr := snap.Backup(ctx, data, at)
		if bErr != nil {
			return nil, fmt.Errorf("store: backup malformed snapshot: %w", bErr)
		}
		log.Warn("store.load.malformed", "err", err, "backup", where)
		st = NewState()
	} else {
		log.Info("store.load.ok",
			"identities", len(st.Identities),
			"groups", len(st.Groups),
			"spaces", len(st.Spaces),
		)
	}
	s.st = st
	return s, nil
}

// DecodeState parses a snapshot payload.
func DecodeState(data []byte) (*State, error) {
	st := &State{}
	if err := json.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	st.normalize()
	return st, nil
}

// EncodeState serializes the state to its snapshot payload.
func EncodeState(st *State) ([]byte, error) {
	data, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	return data, nil
}

// Now returns the store clock's current time.
func (s *Store) Now() time.Time { return s.now() }

// Read runs fn under the store lock without persisting.
// fn must not retain st or anything reachable from it.
func (s *Store) Read(fn func(st *State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.st)
}

// Write runs fn under the store lock and persists the result.
//
// A non-nil error from fn is returned and nothing is persisted; fn must
// validate before it mutates. ErrNoChange is swallowed. Persistence failures
// are logged and reported to the save hook but never returned: the in-memory
// mutation stands.
func (s *Store) Write(ctx context.Context, fn func(st *State) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if err := fn(s.st); err != nil {
		s.mu.Unlock()
		if errors.Is(err, ErrNoChange) {
			return nil
		}
		return err
	}
	data, encErr := EncodeState(s.st)
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	if encErr != nil {
		s.log.Error("store.encode.fail", "err", encErr)
		s.reportSave(encErr)
		return nil
	}
	s.persist(context.WithoutCancel(ctx), seq, data)
	return nil
}

// WriteAs is Write on behalf of the identity name. fn is skipped and an
// unauthenticated error returned when name no longer exists, which happens to
// a session whose identity was renamed or deleted before it was rebound.
func (s *Store) WriteAs(ctx context.Context, name string, fn func(st *State) error) error {
	return s.Write(ctx, func(st *State) error {
		if !st.HasIdentity(name) {
			return identity.Unauthenticated("store.WriteAs", "")
		}
		return fn(st)
	})
}

// Flush writes the current state regardless of pending mutations.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	data, err := EncodeState(s.st)
	s.seq++
	seq := s.seq
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	if seq <= s.saved {
		return nil
	}
	if err := s.snap.Save(ctx, data); err != nil {
		s.reportSave(err)
		return fmt.Errorf("store: flush: %w", err)
	}
	s.saved = seq
	s.reportSave(nil)
	return nil
}

// Close flushes the state, rejects further writes and closes the snapshotter.
func (s *Store) Close(ctx context.Context) error {
	flushErr := s.Flush(ctx)

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	return errors.Join(flushErr, s.snap.Close())
}

func (s *Store) persist(ctx context.Context, seq uint64, data []byte) {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	if seq <= s.saved {
		return
	}
	if err := s.snap.Save(ctx, data); err != nil {
		s.log.Error("store.save.fail", "seq", seq, "bytes", len(data), "err", err)
		s.reportSave(err)
		return
	}
	s.saved = seq
	s.reportSave(nil)
}

func (s *Store) reportSave(err error) {
	if s.onSave != nil {
		s.onSave(err)
	}
}
