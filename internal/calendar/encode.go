// Package calendar renders reconciled events as an iCalendar document.
package calendar

import (
	"strconv"

	ical "github.com/arran4/golang-ical"

	"ttcal/internal/reconcile"
)

const productID = "-//ttcal//timetable feed//EN"

// Encode returns a VCALENDAR named name containing one VEVENT per event.
// DTSTAMP follows LAST-MODIFIED so the document is byte-stable when no
// event changed.
func Encode(name string, events []reconcile.Event) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	if name != "" {
		cal.SetXWRCalName(name)
	}

	for _, ev := range events {
		ve := cal.AddEvent(ev.ID)
		ve.SetProperty(ical.ComponentPropertySequence, strconv.Itoa(ev.Sequence))
		ve.SetCreatedTime(ev.Created)
		ve.SetModifiedAt(ev.LastModified)
		ve.SetDtStampTime(ev.LastModified)
		ve.SetStartAt(ev.Start)
		ve.SetEndAt(ev.End)
		ve.SetSummary(ev.Summary)
		if ev.Location != "" {
			ve.SetLocation(ev.Location)
		}
		if ev.Description != "" {
			ve.SetDescription(ev.Description)
		}
	}

	return cal.Serialize()
}
