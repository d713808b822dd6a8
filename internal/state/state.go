// Package state persists the per-identifier version history that lets
// reconciled events keep their identity across restarts.
package state

import (
	"sort"
	"time"
)

// Record is the last known fingerprint and timing of one stable identifier.
type Record struct {
	Hash         string
	Sequence     int
	Created      time.Time
	LastModified time.Time
	MatchKey     string
	Start        time.Time
	End          time.Time
}

// RecordSet maps stable identifiers to their records. A single pass owns it
// exclusively while running; callers serialize passes.
type RecordSet map[string]Record

// Clone returns an independent copy so a pass can mutate freely and be
// discarded on failure.
func (rs RecordSet) Clone() RecordSet {
	out := make(RecordSet, len(rs))
	for id, r := range rs {
		out[id] = r
	}
	return out
}

// IDs returns identifiers in lexicographic order.
func (rs RecordSet) IDs() []string {
	ids := make([]string, 0, len(rs))
	for id := range rs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Prune drops records whose end instant is before cutoff and returns how
// many were removed. Records without timing and ids in keep are retained.
func (rs RecordSet) Prune(cutoff time.Time, keep map[string]struct{}) int {
	removed := 0
	for id, r := range rs {
		if _, ok := keep[id]; ok {
			continue
		}
		end := r.End
		if end.IsZero() {
			end = r.Start
		}
		if end.IsZero() {
			continue
		}
		if end.Before(cutoff) {
			delete(rs, id)
			removed++
		}
	}
	return removed
}
