package conversation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"lightlink/cmd/internal/store"
)

// Retention defaults.
const (
	DefaultSweepInterval = 10 * time.Minute
	DefaultMaxAge        = 24 * time.Hour
)

// PruneExpired drops direct and group messages older than cutoff unless they
// were reported. Direct threads left empty are removed. It returns the number
// of messages dropped. Must be called under the store lock.
func PruneExpired(st *store.State, cutoff time.Time) int {
	keep := func(m store.Message) bool { return m.Reported || m.TS.After(cutoff) }

	pruned := 0
	for key, t := range st.Direct {
		before := len(t.Messages)
		t.Messages = filter(t.Messages, keep)
		pruned += before - len(t.Messages)
		if len(t.Messages) == 0 {
			delete(st.Direct, key)
		}
	}
	for _, g := range st.Groups {
		before := len(g.Messages)
		g.Messages = filter(g.Messages, keep)
		pruned += before - len(g.Messages)
	}
	return pruned
}

func filter(msgs []store.Message, keep func(store.Message) bool) []store.Message {
	out := msgs[:0]
	for _, m := range msgs {
		if keep(m) {
			out = append(out, m)
		}
	}
	clear(msgs[len(out):])
	return out
}

// Sweeper runs PruneExpired periodically.
type Sweeper struct {
	store    *store.Store
	interval time.Duration
	maxAge   time.Duration
	log      *slog.Logger
	onPrune  func(int)
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithInterval sets the sweep period (default DefaultSweepInterval).
func WithInterval(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithMaxAge sets the retention window (default DefaultMaxAge).
func WithMaxAge(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.maxAge = d
		}
	}
}

// WithSweepLogger sets the logger (default: slog.Default()).
func WithSweepLogger(l *slog.Logger) SweeperOption {
	return func(s *Sweeper) {
		if l != nil {
			s.log = l
		}
	}
}

// WithPruneHook is called with the count of every sweep that dropped messages.
func WithPruneHook(fn func(int)) SweeperOption {
	return func(s *Sweeper) { s.onPrune = fn }
}

// NewSweeper returns a Sweeper over st.
func NewSweeper(st *store.Store, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		store:    st,
		interval: DefaultSweepInterval,
		maxAge:   DefaultMaxAge,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Sweep runs one pass under the store lock and persists only when something was dropped.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	var pruned int
	err := s.store.Write(ctx, func(st *store.State) error {
		pruned = PruneExpired(st, s.store.Now().Add(-s.maxAge))
		if pruned == 0 {
			return store.ErrNoChange
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if pruned > 0 {
		s.log.Info("retention.sweep", "pruned", pruned)
		if s.onPrune != nil {
			s.onPrune(pruned)
		}
	}
	return pruned, nil
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := s.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, store.ErrClosed) {
				s.log.Error("retention.sweep.fail", "err", err)
			}
		}
	}
}
