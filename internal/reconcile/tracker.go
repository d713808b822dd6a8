package reconcile

import (
	"time"

	"ttcal/internal/state"
)

// Tracker advances per-identifier version counters in a record set.
type Tracker struct {
	records state.RecordSet
	now     time.Time
}

// NewTracker binds a tracker to records for one pass. now stamps every
// creation and modification of the pass.
func NewTracker(records state.RecordSet, now time.Time) *Tracker {
	return &Tracker{records: records, now: now.UTC()}
}

// Track compares r's content fingerprint with the stored one, writes the
// updated record back and returns the event to emit.
//
//   - unknown id: sequence 0, created = lastModified = now
//   - same fingerprint: sequence, created and lastModified unchanged
//   - different fingerprint: sequence+1, created kept, lastModified = now
func (t *Tracker) Track(r Resolved) Event {
	rec, ok := t.records[r.ID]
	change := ChangeUnchanged
	switch {
	case !ok:
		rec = state.Record{Created: t.now, LastModified: t.now}
		change = ChangeCreated
	case rec.Hash != r.Content:
		rec.Sequence++
		rec.LastModified = t.now
		change = ChangeModified
	}

	rec.Hash = r.Content
	rec.MatchKey = r.MatchKey
	rec.Start = r.Entry.Start.UTC()
	rec.End = r.Entry.End.UTC()
	t.records[r.ID] = rec

	return Event{
		ID:           r.ID,
		Sequence:     rec.Sequence,
		Created:      rec.Created,
		LastModified: rec.LastModified,
		Start:        r.Entry.Start,
		End:          r.Entry.End,
		Summary:      r.Entry.Subject,
		Location:     r.Entry.Room,
		Description:  r.DisplayDescription,
		Change:       change,
	}
}
