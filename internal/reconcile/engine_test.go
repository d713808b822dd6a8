package reconcile

import (
	"errors"
	"testing"
	"time"

	"ttcal/internal/model"
	"ttcal/internal/state"
)

var monday = time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)

func at(h, m int) time.Time { return monday.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute) }

func course(subject, room string, start time.Time) model.Entry {
	return model.Entry{
		Start:      start,
		End:        start.Add(time.Hour),
		Subject:    subject,
		Room:       room,
		Instructor: "M. Dupont",
		Groups:     []string{"3B"},
	}
}

func snapshot(entries ...model.Entry) model.Snapshot {
	return model.Snapshot{SourceID: "https://school.example/timetable.ics", UserID: "Alice Martin", Entries: entries}
}

func ids(p Pass) []string {
	out := make([]string, 0, len(p.Events))
	for _, e := range p.Events {
		out = append(out, e.ID)
	}
	return out
}

func TestScenarioThreePasses(t *testing.T) {
	eng := NewEngine(Options{})
	records := state.RecordSet{}
	t1 := time.Date(2025, 8, 30, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(15 * time.Minute)

	// Pass 1: two same-slot Math courses in different rooms.
	p1 := eng.Run(snapshot(course("Math", "101", at(9, 0)), course("Math", "102", at(9, 0))), records, t1)
	a, b := p1.Events[0], p1.Events[1]
	if a.ID == b.ID {
		t.Fatalf("pass 1 ids collide: %s", a.ID)
	}
	if a.Sequence != 0 || b.Sequence != 0 {
		t.Fatalf("pass 1 sequences = %d, %d", a.Sequence, b.Sequence)
	}
	if len(p1.Collisions) != 0 {
		t.Fatalf("unexpected collisions: %v", p1.Err())
	}

	// Pass 2: A moves to room 103.
	p2 := eng.Run(snapshot(course("Math", "103", at(9, 0)), course("Math", "102", at(9, 0))), records, t2)
	a2, b2 := p2.Events[0], p2.Events[1]
	if a2.ID != a.ID || b2.ID != b.ID {
		t.Fatalf("pass 2 ids changed: %v vs %v", ids(p2), ids(p1))
	}
	if a2.Sequence != 1 || !a2.LastModified.Equal(t2) || !a2.Created.Equal(t1) {
		t.Fatalf("A after change: %+v", a2)
	}
	if b2.Sequence != 0 || !b2.LastModified.Equal(t1) {
		t.Fatalf("B should be untouched: %+v", b2)
	}
	if a2.Change != ChangeModified || b2.Change != ChangeUnchanged {
		t.Fatalf("changes = %s, %s", a2.Change, b2.Change)
	}

	// Pass 3: state lost. Identifiers are re-derived without any record.
	p3 := eng.Run(snapshot(course("Math", "103", at(9, 0)), course("Math", "102", at(9, 0))), state.RecordSet{}, t2.Add(time.Hour))
	if p3.Events[0].ID != a.ID || p3.Events[1].ID != b.ID {
		t.Fatalf("pass 3 ids not reproducible: %v vs %v", ids(p3), ids(p1))
	}
	for _, ev := range p3.Events {
		if ev.Sequence != 0 || ev.Change != ChangeCreated {
			t.Fatalf("pass 3 event not reset: %+v", ev)
		}
	}
}

func TestDeterministicWithoutState(t *testing.T) {
	eng := NewEngine(Options{})
	snap := snapshot(course("Physique", "B12", at(10, 0)), course("Physique", "B12", at(15, 0)))
	p1 := eng.Run(snap, state.RecordSet{}, monday)
	p2 := eng.Run(snap, state.RecordSet{}, monday.Add(time.Hour))
	for i := range p1.Events {
		if p1.Events[i].ID != p2.Events[i].ID {
			t.Fatalf("event %d: %s != %s", i, p1.Events[i].ID, p2.Events[i].ID)
		}
	}
}

func TestNormalizationDoesNotSplitIdentity(t *testing.T) {
	eng := NewEngine(Options{})
	records := state.RecordSet{}
	p1 := eng.Run(snapshot(course("Histoire-Géo", "A1", at(8, 0))), records, monday)

	e := course("  HISTOIRE-GÉO ", "A1", at(8, 0))
	e.Groups = []string{" 3b "}
	p2 := eng.Run(snapshot(e), records, monday.Add(time.Hour))
	if p2.Events[0].ID != p1.Events[0].ID {
		t.Fatalf("normalization changed identity")
	}
	if p2.Events[0].Sequence != 0 {
		t.Fatalf("cosmetic change bumped sequence to %d", p2.Events[0].Sequence)
	}
}

func TestJitterWithinWindowKeepsIdentifier(t *testing.T) {
	eng := NewEngine(Options{Window: 90 * time.Minute})
	records := state.RecordSet{}

	p1 := eng.Run(snapshot(course("Math", "101", at(9, 0)), course("Math", "101", at(14, 0))), records, monday)
	afternoon := p1.Events[1].ID

	// The morning slot disappears and the afternoon slot shifts by 20
	// minutes. It now ranks 0 in its bucket, so only fuzzy matching can
	// keep its identifier.
	p2 := eng.Run(snapshot(course("Math", "101", at(14, 20))), records, monday.Add(time.Hour))
	ev := p2.Events[0]
	if ev.ID != afternoon {
		t.Fatalf("shifted entry got %s, want %s", ev.ID, afternoon)
	}
	if ev.Sequence != 1 {
		t.Fatalf("time change should bump sequence, got %d", ev.Sequence)
	}
	if p2.Stats.Matched != 1 || p2.Stats.Minted != 0 {
		t.Fatalf("stats = %+v", p2.Stats)
	}
}

func TestShiftBeyondWindowMintsNewIdentifier(t *testing.T) {
	eng := NewEngine(Options{Window: 90 * time.Minute})
	records := state.RecordSet{}

	p1 := eng.Run(snapshot(course("Math", "101", at(9, 0))), records, monday)
	old := p1.Events[0].ID

	p2 := eng.Run(snapshot(course("Math", "101", at(12, 0))), records, monday.Add(time.Hour))
	ev := p2.Events[0]
	if ev.ID == old {
		t.Fatalf("entry shifted by 3h kept identifier %s", old)
	}
	if ev.Sequence != 0 || ev.Change != ChangeCreated {
		t.Fatalf("new identifier should start fresh: %+v", ev)
	}
	if _, ok := records[old]; !ok {
		t.Fatalf("old record must be retained")
	}
	if len(p2.Collisions) != 0 {
		t.Fatalf("out-of-window shift is not a collision: %v", p2.Err())
	}
}

func TestWindowBoundaryIsInclusive(t *testing.T) {
	cases := []struct {
		name    string
		window  time.Duration
		shift   time.Duration
		matched bool
	}{
		{"exactly window later", 90 * time.Minute, 90 * time.Minute, true},
		{"exactly window earlier", 90 * time.Minute, -90 * time.Minute, true},
		{"one minute past window", 90 * time.Minute, 91 * time.Minute, false},
		{"one minute before window", 90 * time.Minute, -91 * time.Minute, false},
		{"raised floor matches", time.Minute, MinWindow, true},
		{"raised floor bound", time.Minute, MinWindow + time.Minute, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			eng := NewEngine(Options{Window: c.window})
			records := state.RecordSet{}

			// Only the afternoon slot survives, so it ranks 0 and its
			// fallback identifier is the morning slot's: fuzzy matching
			// alone decides whether it keeps its identity.
			p1 := eng.Run(snapshot(course("Math", "101", at(9, 0)), course("Math", "101", at(14, 0))), records, monday)
			afternoon := p1.Events[1].ID

			p2 := eng.Run(snapshot(course("Math", "101", at(14, 0).Add(c.shift))), records, monday.Add(time.Hour))
			ev := p2.Events[0]
			if got := ev.ID == afternoon; got != c.matched {
				t.Fatalf("shift %s with window %s: kept identifier = %v, want %v", c.shift, eng.Window(), got, c.matched)
			}
			if c.matched {
				if ev.Sequence != 1 || p2.Stats.Matched != 1 {
					t.Fatalf("matched entry: seq=%d stats=%+v", ev.Sequence, p2.Stats)
				}
				return
			}
			if ev.ID == p1.Events[0].ID || ev.Change != ChangeCreated || p2.Stats.Minted != 1 {
				t.Fatalf("expected a freshly minted identifier: %+v stats=%+v", ev, p2.Stats)
			}
			if len(p2.Collisions) != 0 {
				t.Fatalf("unexpected collisions: %v", p2.Err())
			}
		})
	}
}

func TestSequenceMonotonicAndCreatedImmutable(t *testing.T) {
	eng := NewEngine(Options{})
	records := state.RecordSet{}
	rooms := []string{"101", "101", "102", "102", "103", "101"}
	wantSeq := []int{0, 0, 1, 1, 2, 3}

	var id string
	var created time.Time
	for i, room := range rooms {
		now := monday.Add(-time.Duration(len(rooms)-i) * time.Hour)
		p := eng.Run(snapshot(course("Math", room, at(9, 0))), records, now)
		ev := p.Events[0]
		if i == 0 {
			id, created = ev.ID, ev.Created
		}
		if ev.ID != id {
			t.Fatalf("pass %d: id changed", i)
		}
		if !ev.Created.Equal(created) {
			t.Fatalf("pass %d: created changed from %v to %v", i, created, ev.Created)
		}
		if ev.Sequence != wantSeq[i] {
			t.Fatalf("pass %d: sequence = %d, want %d", i, ev.Sequence, wantSeq[i])
		}
	}
}

func TestReorderedSnapshotKeepsIdentifiers(t *testing.T) {
	eng := NewEngine(Options{})
	records := state.RecordSet{}
	a := course("Math", "101", at(9, 0))
	b := course("Math", "102", at(9, 0))

	p1 := eng.Run(snapshot(a, b), records, monday)
	p2 := eng.Run(snapshot(b, a), records, monday.Add(time.Hour))

	if p2.Events[0].ID != p1.Events[1].ID || p2.Events[1].ID != p1.Events[0].ID {
		t.Fatalf("identifiers followed position instead of content: %v vs %v", ids(p2), ids(p1))
	}
	if p2.Stats.Unchanged != 2 {
		t.Fatalf("stats = %+v", p2.Stats)
	}
}

func TestFallbackCollisionIsFlaggedNotMerged(t *testing.T) {
	eng := NewEngine(Options{})
	records := state.RecordSet{}
	eng.Run(snapshot(course("Math", "101", at(9, 0)), course("Math", "101", at(14, 0))), records, monday)

	// The 14:00 slot keeps its identifier via fuzzy match and ranks 0. The
	// new 18:00 slot ranks 1 and its fallback is the identifier already
	// claimed for 14:00.
	p := eng.Run(snapshot(course("Math", "101", at(14, 0)), course("Math", "101", at(18, 0))), records, monday.Add(time.Hour))

	if p.Events[0].ID == p.Events[1].ID {
		t.Fatalf("collision merged two entries into %s", p.Events[0].ID)
	}
	if len(p.Collisions) != 1 {
		t.Fatalf("collisions = %d, want 1", len(p.Collisions))
	}
	if !errors.Is(p.Err(), ErrIdentifierCollision) {
		t.Fatalf("Err() = %v", p.Err())
	}
	if p.Collisions[0].Position != 1 {
		t.Fatalf("collision position = %d", p.Collisions[0].Position)
	}
}

func TestNoIntraPassDuplicates(t *testing.T) {
	eng := NewEngine(Options{})
	records := state.RecordSet{}
	var entries []model.Entry
	for i := 0; i < 6; i++ {
		entries = append(entries, course("EPS", "Gymnase", at(8+i, 0)))
	}
	for pass := 0; pass < 3; pass++ {
		// rotate so snapshot order differs every pass
		rot := append(append([]model.Entry{}, entries[pass:]...), entries[:pass]...)
		p := eng.Run(snapshot(rot...), records, monday.Add(time.Duration(pass)*time.Hour))
		seen := map[string]bool{}
		for _, ev := range p.Events {
			if seen[ev.ID] {
				t.Fatalf("pass %d: duplicate id %s", pass, ev.ID)
			}
			seen[ev.ID] = true
		}
	}
}

func TestWindowFloor(t *testing.T) {
	if w := NewEngine(Options{Window: time.Minute}).Window(); w != MinWindow {
		t.Fatalf("window = %v, want %v", w, MinWindow)
	}
	if w := NewEngine(Options{}).Window(); w != DefaultWindow {
		t.Fatalf("window = %v, want %v", w, DefaultWindow)
	}
}

func TestDayKeyUsesLocation(t *testing.T) {
	paris, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	late := time.Date(2025, 9, 1, 22, 30, 0, 0, time.UTC)
	if got := DayKey(late, paris); got != "2025-09-02" {
		t.Fatalf("DayKey in Paris = %s", got)
	}
	if got := DayKey(late, nil); got != "2025-09-01" {
		t.Fatalf("DayKey in UTC = %s", got)
	}
}
