package ics

import (
	"errors"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "ttcal/internal/log"
	"ttcal/internal/model"
)

const defaultMaxOccurrencesPerEvent = 5000

// ExpandConfig controls recurrence expansion.
type ExpandConfig struct {
	// DisplayLocation is applied to every produced instant. Nil means time.Local.
	DisplayLocation *time.Location

	// RangeStart / RangeEnd bound the occurrences kept (inclusive).
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps one RRULE. Zero means 5000.
	MaxOccurrencesPerEvent int
}

// ExpandResult holds the timetable entries plus the UIDs that hit the cap.
type ExpandResult struct {
	Entries         []model.Entry
	TruncatedEvents []string
}

// ExpandOccurrences turns parsed events into concrete timetable entries
// within the configured range, applying RRULE, EXDATE, RECURRENCE-ID
// overrides and cancellations.
//
// The output order is deterministic: by start instant, then by the base
// event's position in the document. Reconciliation depends on it.
func ExpandOccurrences(events []ParsedEvent, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.DisplayLocation == nil {
		cfg.DisplayLocation = time.Local
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	overridesByUID := make(map[string][]ParsedEvent)
	for _, ev := range events {
		if ev.IsOverride && ev.UID != "" {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
		}
	}

	entries := make([]model.Entry, 0)
	for _, ev := range events {
		if ev.IsOverride {
			continue
		}
		occ, hitCap := expandEvent(ev, overridesByUID[ev.UID], cfg)
		if hitCap {
			result.TruncatedEvents = append(result.TruncatedEvents, ev.UID)
			appLog.Error("expand: truncated occurrences for UID due to cap",
				errors.New("max occurrences reached"),
				"uid", ev.UID,
				"cap", cfg.MaxOccurrencesPerEvent,
			)
		}
		entries = append(entries, occ...)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Start.Before(entries[j].Start)
	})
	result.Entries = entries
	return result, nil
}

func expandEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]model.Entry, bool) {
	if ev.RawRRule == "" {
		return expandSingle(ev, overrides, cfg), false
	}
	return expandRecurring(ev, overrides, cfg)
}

func expandSingle(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) []model.Entry {
	if o, ok := findOverrideForStart(overrides, ev.Start); ok {
		ev = o
	}
	if ev.Cancelled || !overlaps(ev.Start, ev.End, cfg.RangeStart, cfg.RangeEnd) {
		return nil
	}
	return []model.Entry{makeEntry(ev, ev.Start, ev.End, cfg.DisplayLocation)}
}

func expandRecurring(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]model.Entry, bool) {
	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("expand: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return nil, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	loc := ev.Start.Location()
	times := set.Between(cfg.RangeStart.In(loc), cfg.RangeEnd.In(loc), true)

	hitCap := false
	if len(times) > cfg.MaxOccurrencesPerEvent {
		times = times[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	dur := ev.End.Sub(ev.Start)
	out := make([]model.Entry, 0, len(times))
	for _, occStart := range times {
		occEnd := occStart.Add(dur)
		if ev.AllDay {
			day := time.Date(occStart.Year(), occStart.Month(), occStart.Day(), 0, 0, 0, 0, occStart.Location())
			occStart, occEnd = day, day.AddDate(0, 0, 1)
		}

		inst := ev
		if o, ok := findOverrideForStart(overrides, occStart); ok {
			inst = o
			occStart, occEnd = o.Start, o.End
		}
		if inst.Cancelled {
			continue
		}
		out = append(out, makeEntry(inst, occStart, occEnd, cfg.DisplayLocation))
	}
	return out, hitCap
}

// findOverrideForStart finds the override whose RECURRENCE-ID equals start.
func findOverrideForStart(overrides []ParsedEvent, start time.Time) (ParsedEvent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence != nil && ov.Recurrence.Equal(start) {
			return ov, true
		}
	}
	return ParsedEvent{}, false
}

func makeEntry(ev ParsedEvent, start, end time.Time, loc *time.Location) model.Entry {
	var groups []string
	if len(ev.Groups) > 0 {
		groups = append(groups, ev.Groups...)
	}
	return model.Entry{
		Start:      start.In(loc),
		End:        end.In(loc),
		Subject:    ev.Subject,
		Room:       ev.Room,
		Instructor: ev.Instructor,
		Groups:     groups,
	}
}

func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return !aEnd.Before(bStart) && !bEnd.Before(aStart)
}
