// Package ledger tracks which client fingerprints have been seen and from
// where. Its single purpose is answering, per observation, whether the
// fingerprint is new and whether it arrived from a different address than the
// one that first presented it.
package ledger

import (
	"encoding/hex"
	"math/rand"
	"sync"
	"time"

	"github.com/zeebo/blake3"
	"go.uber.org/zap"
)

// Record is the retained state for one fingerprint hash. OwnerIP is the
// address of the first observation and is never reassigned; reuse by other
// addresses only increments Count and refreshes LastSeen.
type Record struct {
	OwnerIP   string
	Count     int
	FirstSeen time.Time
	LastSeen  time.Time
}

// Observation is the outcome of recording one sighting.
type Observation struct {
	// IsNew is true when the hash had never been seen before.
	IsNew bool
	// Reused is true when the hash was already owned by a different IP.
	Reused bool
}

// Ledger is the mutex-guarded fingerprint table. Records expire ttl after
// their last sighting; expiry runs as a probabilistic sweep piggybacked on
// Observe, never as a background goroutine.
type Ledger struct {
	mu          sync.Mutex
	ttl         time.Duration
	sweepChance float64
	rng         *rand.Rand
	records     map[string]*Record
	log         *zap.Logger
}

// New returns an empty ledger. sweepChance is the per-observe probability of
// a full sweep; zero disables sweeping.
func New(ttl time.Duration, sweepChance float64, log *zap.Logger) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{
		ttl:         ttl,
		sweepChance: sweepChance,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		records:     make(map[string]*Record),
		log:         log.Named("ledger"),
	}
}

// Hash derives the ledger key for raw fingerprint material. Keys are content
// hashes, so equal fingerprints collide into one record no matter which
// visitor sent them.
func Hash(raw []byte) string {
	sum := blake3.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Observe records a sighting of hash from ip and reports whether the hash is
// new and whether it was reused from a different address. Insert and update
// happen inside one critical section; two concurrent observers of a brand-new
// hash serialize into exactly one insert.
func (l *Ledger) Observe(hash, ip string) Observation {
	return l.observe(hash, ip, time.Now())
}

// observe is the clock-injected implementation backing Observe.
func (l *Ledger) observe(hash, ip string, now time.Time) Observation {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sweepChance > 0 && l.rng.Float64() < l.sweepChance {
		l.sweepLocked(now)
	}

	rec, ok := l.records[hash]
	if !ok {
		l.records[hash] = &Record{
			OwnerIP:   ip,
			Count:     1,
			FirstSeen: now,
			LastSeen:  now,
		}
		return Observation{IsNew: true}
	}

	rec.Count++
	rec.LastSeen = now
	return Observation{Reused: rec.OwnerIP != ip}
}

// Lookup returns a copy of the record for hash, if present. It exists for
// introspection and tests; scoring goes through Observe.
func (l *Ledger) Lookup(hash string) (Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[hash]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Len reports how many fingerprints are currently retained.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// sweepLocked drops records whose last sighting is older than the TTL.
// Callers must hold l.mu.
func (l *Ledger) sweepLocked(now time.Time) {
	cutoff := now.Add(-l.ttl)
	removed := 0
	for hash, rec := range l.records {
		if rec.LastSeen.Before(cutoff) {
			delete(l.records, hash)
			removed++
		}
	}
	if removed > 0 {
		l.log.Debug("Swept expired fingerprints",
			zap.Int("removed", removed),
			zap.Int("remaining", len(l.records)))
	}
}
