package model

import "time"

// Entry is a single timetable slot as returned by the external source.
// Entries carry no identifier that survives between fetches; any UID the
// source happens to expose is discarded before an Entry is built.
type Entry struct {
	Start time.Time
	End   time.Time

	Subject    string
	Room       string
	Instructor string

	// Groups lists the participant groups attending the slot, in source order.
	Groups []string
}

// Snapshot is one fresh fetch of a user's timetable.
type Snapshot struct {
	// SourceID identifies the feed origin (typically its URL) and salts
	// fallback identifiers.
	SourceID string
	// UserID is the viewing user's display name, also used as a salt.
	UserID string

	// Entries in source order. Order is part of the determinism surface of
	// a reconciliation pass and must not be shuffled by callers.
	Entries []Entry

	FetchedAt time.Time
}
