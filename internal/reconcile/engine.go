// Package reconcile assigns stable identifiers and version counters to
// timetable entries that arrive without any identity of their own.
//
// A pass runs the stages in order over one snapshot:
//
//	NormalizeEntry -> Fingerprint -> Index -> Resolver.Resolve -> Tracker.Track
//
// Resolution is sequential in snapshot order because each entry's fuzzy
// match excludes identifiers claimed by earlier entries of the same pass.
package reconcile

import (
	"errors"
	"time"

	"ttcal/internal/model"
	"ttcal/internal/normalize"
	"ttcal/internal/state"
)

const (
	DefaultWindow = 90 * time.Minute
	MinWindow     = 5 * time.Minute
)

// Options configures an Engine.
type Options struct {
	// Window bounds how far a prior record's start may be from an entry's
	// start and still be matched. Zero means DefaultWindow; values below
	// MinWindow are raised to it.
	Window time.Duration
	// Location decides the calendar day of an entry. Nil means UTC.
	Location *time.Location
}

// Engine runs reconciliation passes. It holds no per-pass state and may be
// shared, but passes over the same record set must not overlap.
type Engine struct {
	window time.Duration
	loc    *time.Location
}

func NewEngine(opts Options) *Engine {
	w := opts.Window
	if w == 0 {
		w = DefaultWindow
	}
	if w < MinWindow {
		w = MinWindow
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{window: w, loc: loc}
}

// Window returns the effective match window.
func (e *Engine) Window() time.Duration { return e.window }

// Stats summarizes one pass.
type Stats struct {
	Entries   int `json:"entries"`
	Matched   int `json:"matched"`
	Minted    int `json:"minted"`
	Created   int `json:"created"`
	Modified  int `json:"modified"`
	Unchanged int `json:"unchanged"`
}

// Pass is the result of one reconciliation pass.
type Pass struct {
	Events     []Event
	Stats      Stats
	Collisions []Collision
}

// Err joins all flagged collisions, or returns nil.
func (p Pass) Err() error {
	if len(p.Collisions) == 0 {
		return nil
	}
	errs := make([]error, 0, len(p.Collisions))
	for _, c := range p.Collisions {
		errs = append(errs, c)
	}
	return errors.Join(errs...)
}

// Run reconciles snap against records, mutating records in place. Callers
// that need to discard a failed pass should pass a clone.
func (e *Engine) Run(snap model.Snapshot, records state.RecordSet, now time.Time) Pass {
	keyed := make([]Keyed, 0, len(snap.Entries))
	for i, entry := range snap.Entries {
		keyed = append(keyed, Fingerprint(NormalizeEntry(entry, i, e.loc)))
	}
	indexed := Index(keyed)

	resolver := NewResolver(records, normalize.Text(snap.SourceID), normalize.Text(snap.UserID), e.window)
	tracker := NewTracker(records, now)

	pass := Pass{Events: make([]Event, 0, len(indexed))}
	pass.Stats.Entries = len(indexed)
	for _, ix := range indexed {
		res := resolver.Resolve(ix)
		if res.Matched {
			pass.Stats.Matched++
		} else {
			pass.Stats.Minted++
		}

		ev := tracker.Track(res)
		switch ev.Change {
		case ChangeCreated:
			pass.Stats.Created++
		case ChangeModified:
			pass.Stats.Modified++
		default:
			pass.Stats.Unchanged++
		}
		pass.Events = append(pass.Events, ev)
	}
	pass.Collisions = resolver.Collisions()
	return pass
}
