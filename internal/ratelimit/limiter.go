// Package ratelimit implements the per-identity sliding window that feeds the
// rate signal. It is a scoring input, not an enforcement layer; callers decide
// what an exceeded window means.
package ratelimit

import (
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Limiter tracks request timestamps per identity over a trailing window.
// All state lives behind one mutex; operations are single critical sections
// so concurrent admits for the same identity cannot interleave partially.
type Limiter struct {
	mu          sync.Mutex
	window      time.Duration
	sweepChance float64
	rng         *rand.Rand
	windows     map[string][]time.Time
	log         *zap.Logger
}

// New returns a limiter over the given window. sweepChance is the per-admit
// probability of a full-table sweep; zero disables sweeping entirely.
func New(window time.Duration, sweepChance float64, log *zap.Logger) *Limiter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Limiter{
		window:      window,
		sweepChance: sweepChance,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		windows:     make(map[string][]time.Time),
		log:         log.Named("ratelimit"),
	}
}

// Admit records a request for the identity and returns how many requests the
// identity has made within the window, including this one. The count is the
// value scoring consults; Admit itself never rejects.
func (l *Limiter) Admit(identity string) int {
	return l.admit(identity, time.Now())
}

// admit is the clock-injected implementation backing Admit.
func (l *Limiter) admit(identity string, now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.window)
	kept := pruneBefore(l.windows[identity], cutoff)
	kept = append(kept, now)
	l.windows[identity] = kept

	if l.sweepChance > 0 && l.rng.Float64() < l.sweepChance {
		l.sweepLocked(cutoff)
	}

	return len(kept)
}

// sweepLocked walks the whole table and drops identities whose windows hold
// no timestamp newer than the cutoff. Callers must hold l.mu.
func (l *Limiter) sweepLocked(cutoff time.Time) {
	removed := 0
	for identity, stamps := range l.windows {
		kept := pruneBefore(stamps, cutoff)
		if len(kept) == 0 {
			delete(l.windows, identity)
			removed++
			continue
		}
		l.windows[identity] = kept
	}
	if removed > 0 {
		l.log.Debug("Swept idle identities from rate table",
			zap.Int("removed", removed),
			zap.Int("remaining", len(l.windows)))
	}
}

// Len reports how many identities are currently tracked.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// pruneBefore drops timestamps at or before the cutoff, keeping the slice
// ordered. Entries exactly on the cutoff are outside the trailing window.
func pruneBefore(stamps []time.Time, cutoff time.Time) []time.Time {
	idx := 0
	for idx < len(stamps) && !stamps[idx].After(cutoff) {
		idx++
	}
	if idx == 0 {
		return stamps
	}
	return append(stamps[:0:0], stamps[idx:]...)
}
