package reconcile

import (
	"time"

	"ttcal/internal/model"
	"ttcal/internal/normalize"
)

// The pass is a chain of typed stages. Each stage only accepts the output
// of the previous one, so fingerprinting cannot be skipped before indexing
// and indexing cannot be skipped before resolution.

// Normalized is an entry with every text field canonicalized.
type Normalized struct {
	Entry    model.Entry
	Position int // index in the snapshot

	DayKey      string
	Subject     string
	Room        string
	Groups      string
	Description string // normalized form of DisplayDescription

	DisplayDescription string
}

// Keyed adds the two fingerprints.
type Keyed struct {
	Normalized
	MatchKey string
	Content  string
}

// Indexed adds the occurrence rank within the entry's match-key bucket.
type Indexed struct {
	Keyed
	Occurrence int
}

// Resolved adds the stable identifier.
type Resolved struct {
	Indexed
	ID      string
	Matched bool // reused from a prior record rather than minted
}

// Change classifies what a pass did to an identifier's version.
type Change string

const (
	ChangeCreated   Change = "created"
	ChangeModified  Change = "modified"
	ChangeUnchanged Change = "unchanged"
)

// Event is a reconciled entry ready for wire encoding.
type Event struct {
	ID           string
	Sequence     int
	Created      time.Time
	LastModified time.Time

	Start       time.Time
	End         time.Time
	Summary     string
	Location    string
	Description string

	Change Change
}

// Describe renders the human description attached to each event.
func Describe(e model.Entry) string {
	return "Teacher: " + orNA(e.Instructor) + "\nRoom: " + orNA(e.Room)
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

// NormalizeEntry canonicalizes e. loc decides which calendar day the entry
// belongs to.
func NormalizeEntry(e model.Entry, position int, loc *time.Location) Normalized {
	desc := Describe(e)
	return Normalized{
		Entry:              e,
		Position:           position,
		DayKey:             DayKey(e.Start, loc),
		Subject:            normalize.Text(e.Subject),
		Room:               normalize.Text(e.Room),
		Groups:             normalize.Groups(e.Groups),
		Description:        normalize.Text(desc),
		DisplayDescription: desc,
	}
}

// Fingerprint derives the match key and content fingerprint.
func Fingerprint(n Normalized) Keyed {
	return Keyed{
		Normalized: n,
		MatchKey:   MatchKey(n.DayKey, n.Subject, n.Groups),
		Content:    ContentFingerprint(n.Entry.Start, n.Entry.End, n.Subject, n.Room, n.Description),
	}
}
