package reconcile

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"ttcal/internal/state"
)

// ErrIdentifierCollision reports that two entries of one pass derived the
// same fallback identifier. The resolver never merges them; the later entry
// gets a salted identifier and the collision is recorded.
var ErrIdentifierCollision = errors.New("identifier collision within pass")

// Collision describes one flagged fallback collision.
type Collision struct {
	ID         string
	MatchKey   string
	Occurrence int
	Position   int
}

func (c Collision) Error() string {
	return fmt.Sprintf("%s: id=%s match_key=%q occurrence=%d position=%d",
		ErrIdentifierCollision, c.ID, c.MatchKey, c.Occurrence, c.Position)
}

func (c Collision) Unwrap() error { return ErrIdentifierCollision }

type candidate struct {
	id    string
	start time.Time
	hash  string
}

// Resolver assigns stable identifiers for a single pass. It is not safe for
// concurrent use and must not be reused across passes.
type Resolver struct {
	sourceID string
	userID   string
	window   time.Duration

	known map[string]struct{}
	byKey map[string][]candidate
	used  map[string]struct{}

	collisions []Collision
}

// NewResolver snapshots the candidate index from records. sourceID and
// userID must already be normalized.
func NewResolver(records state.RecordSet, sourceID, userID string, window time.Duration) *Resolver {
	r := &Resolver{
		sourceID: sourceID,
		userID:   userID,
		window:   window,
		known:    make(map[string]struct{}, len(records)),
		byKey:    make(map[string][]candidate),
		used:     make(map[string]struct{}),
	}
	for _, id := range records.IDs() {
		rec := records[id]
		r.known[id] = struct{}{}
		if rec.Start.IsZero() || rec.MatchKey == "" {
			continue
		}
		r.byKey[rec.MatchKey] = append(r.byKey[rec.MatchKey], candidate{id: id, start: rec.Start, hash: rec.Hash})
	}
	return r
}

// Resolve returns the identifier for e and claims it for this pass.
func (r *Resolver) Resolve(e Indexed) Resolved {
	fallback := r.fallback(e, 0)

	if id, ok := r.fuzzy(e, fallback); ok {
		r.used[id] = struct{}{}
		return Resolved{Indexed: e, ID: id, Matched: true}
	}

	id := fallback
	for round := 1; r.taken(id); round++ {
		if _, inPass := r.used[id]; inPass {
			r.collisions = append(r.collisions, Collision{
				ID:         id,
				MatchKey:   e.MatchKey,
				Occurrence: e.Occurrence,
				Position:   e.Position,
			})
		}
		id = r.fallback(e, round)
	}
	r.used[id] = struct{}{}
	return Resolved{Indexed: e, ID: id}
}

// Used reports whether id was claimed earlier in this pass.
func (r *Resolver) Used(id string) bool {
	_, ok := r.used[id]
	return ok
}

// Collisions returns the collisions flagged so far.
func (r *Resolver) Collisions() []Collision {
	return r.collisions
}

// fuzzy picks the unclaimed prior record with the same match key whose
// start is closest to e's start, within the window. Ties prefer a record
// with identical content, then the entry's own fallback identifier, then the
// lexicographically smallest identifier.
func (r *Resolver) fuzzy(e Indexed, fallback string) (string, bool) {
	var cands []candidate
	var deltas []time.Duration
	for _, c := range r.byKey[e.MatchKey] {
		if r.Used(c.id) {
			continue
		}
		d := absDuration(c.start.Sub(e.Entry.Start))
		if d > r.window {
			continue
		}
		cands = append(cands, c)
		deltas = append(deltas, d)
	}
	if len(cands) == 0 {
		return "", false
	}

	idx := make([]int, len(cands))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool {
		ca, cb := cands[idx[a]], cands[idx[b]]
		if da, db := deltas[idx[a]], deltas[idx[b]]; da != db {
			return da < db
		}
		if sa, sb := ca.hash == e.Content, cb.hash == e.Content; sa != sb {
			return sa
		}
		if fa, fb := ca.id == fallback, cb.id == fallback; fa != fb {
			return fa
		}
		return ca.id < cb.id
	})
	return cands[idx[0]].id, true
}

// taken reports whether a minted id would alias an identifier claimed in
// this pass or a prior record that fuzzy matching rejected.
func (r *Resolver) taken(id string) bool {
	if _, ok := r.used[id]; ok {
		return true
	}
	_, ok := r.known[id]
	return ok
}

func (r *Resolver) fallback(e Indexed, round int) string {
	return FallbackID(r.sourceID, r.userID, e.DayKey, e.Subject, e.Groups, e.Occurrence, round)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
