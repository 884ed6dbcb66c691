package account

import (
	"sort"
	"sync"
	"time"
)

// LockoutTier engages once Threshold failures are on record and lasts Duration
// past the most recent failure.
type LockoutTier struct {
	Threshold int
	Duration  time.Duration
}

// DefaultLockoutTiers are ordered most severe first.
var DefaultLockoutTiers = []LockoutTier{
	{Threshold: 20, Duration: 2 * time.Hour},
	{Threshold: 10, Duration: 30 * time.Minute},
	{Threshold: 5, Duration: 5 * time.Minute},
}

// Lockout tracks failed credential checks per identity in memory.
type Lockout struct {
	mu       sync.Mutex
	failures map[string][]time.Time
	tiers    []LockoutTier
	horizon  time.Duration
}

// NewLockout returns a Lockout using tiers (DefaultLockoutTiers when empty).
func NewLockout(tiers ...LockoutTier) *Lockout {
	if len(tiers) == 0 {
		tiers = DefaultLockoutTiers
	}
	tiers = append([]LockoutTier(nil), tiers...)
	sort.SliceStable(tiers, func(i, j int) bool { return tiers[i].Threshold > tiers[j].Threshold })

	var horizon time.Duration
	for _, t := range tiers {
		horizon = max(horizon, t.Duration)
	}
	return &Lockout{failures: make(map[string][]time.Time), tiers: tiers, horizon: horizon}
}

// Check reports whether name is locked out at now and for how long.
func (l *Lockout) Check(name string, now time.Time) (bool, time.Duration) {
	if l == nil {
		return false, 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return evaluateProgressiveLockout(now, l.pruneLocked(name, now), l.tiers)
}

// Fail records a failed attempt.
func (l *Lockout) Fail(name string, now time.Time) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures[name] = append([]time.Time{now}, l.pruneLocked(name, now)...)
}

// Reset forgets name's failures after a successful check.
func (l *Lockout) Reset(name string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.failures, name)
}

// pruneLocked drops failures older than the longest tier. Newest first.
func (l *Lockout) pruneLocked(name string, now time.Time) []time.Time {
	list := l.failures[name]
	cut := now.Add(-l.horizon)
	kept := list[:0]
	for _, t := range list {
		if t.After(cut) {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		delete(l.failures, name)
		return nil
	}
	l.failures[name] = kept
	return kept
}

// evaluateWindowThrottle blocks once max failures fall inside the trailing window.
func evaluateWindowThrottle(now time.Time, failures []time.Time, maxFailures int, window time.Duration) (bool, time.Duration) {
	if maxFailures <= 0 || window <= 0 {
		return false, 0
	}
	cut := now.Add(-window)
	var oldest time.Time
	count := 0
	for _, f := range failures {
		if f.Before(cut) {
			continue
		}
		count++
		if oldest.IsZero() || f.Before(oldest) {
			oldest = f
		}
	}
	if count < maxFailures {
		return false, 0
	}
	return true, oldest.Add(window).Sub(now)
}

// evaluateProgressiveLockout applies the first tier whose threshold is met and
// whose duration has not yet elapsed since the most recent failure.
func evaluateProgressiveLockout(now time.Time, failures []time.Time, tiers []LockoutTier) (bool, time.Duration) {
	if len(failures) == 0 {
		return false, 0
	}
	latest := failures[0]
	for _, f := range failures[1:] {
		if f.After(latest) {
			latest = f
		}
	}
	for _, tier := range tiers {
		if tier.Threshold <= 0 || len(failures) < tier.Threshold {
			continue
		}
		until := latest.Add(tier.Duration)
		if until.After(now) {
			return true, until.Sub(now)
		}
	}
	return false, 0
}
