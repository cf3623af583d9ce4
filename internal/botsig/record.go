package botsig

// ScoreRecord accumulates the signals applied to a single request flow. It
// preserves insertion order, permits duplicate names, and is owned by exactly
// one goroutine for its lifetime, so it carries no locking.
type ScoreRecord struct {
	names []string
	total int
}

// NewScoreRecord returns an empty record.
func NewScoreRecord() *ScoreRecord {
	return &ScoreRecord{}
}

// Add appends a named signal and accumulates its weight.
func (r *ScoreRecord) Add(name string, weight int) {
	r.names = append(r.names, name)
	r.total += weight
}

// Total returns the accumulated score.
func (r *ScoreRecord) Total() int {
	return r.total
}

// Names returns the applied signal names in insertion order. The returned
// slice is a copy; callers may append to it freely.
func (r *ScoreRecord) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Has reports whether a signal with the given name was applied.
func (r *ScoreRecord) Has(name string) bool {
	for _, n := range r.names {
		if n == name {
			return true
		}
	}
	return false
}

// Len returns the number of applied signals.
func (r *ScoreRecord) Len() int {
	return len(r.names)
}
