// Package ics serializes a canonical event list into an iCalendar feed that
// external calendar clients can subscribe to.
package ics

import (
	"fmt"
	"strings"

	ical "github.com/arran4/golang-ical"

	"lmscal/internal/model"
)

const prodID = "-//lmscal//calendar feed//EN"

// Feed renders the given canonical events as a VCALENDAR. The output is
// deterministic for fixed input: UIDs derive from the event ids and DTSTAMP
// from the event start, so re-fetching an unchanged window yields an
// identical feed.
func Feed(name string, events []model.CanonicalEvent) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(prodID)
	if name != "" {
		cal.SetName(name)
		cal.SetXWRCalName(name)
	}

	for _, e := range events {
		ve := cal.AddEvent(eventUID(e))
		ve.SetDtStampTime(e.Start)
		ve.SetStartAt(e.Start)
		ve.SetEndAt(e.End)
		ve.SetSummary(e.Title)
		if e.Description != "" {
			ve.SetDescription(e.Description)
		}
		if loc := eventLocation(e); loc != "" {
			ve.SetLocation(loc)
		}
		if e.MeetingURL != "" {
			ve.SetURL(e.MeetingURL)
		}
		if len(e.GroupNames) > 0 {
			// Group names travel as categories so clients can filter.
			ve.AddProperty(ical.ComponentPropertyCategories, strings.Join(e.GroupNames, ","))
		}
	}

	return cal.Serialize()
}

// eventUID builds a stable per-event UID. Virtual ids are already stable
// across repeated expansions of the same window, so re-fetching never churns
// subscriber state.
func eventUID(e model.CanonicalEvent) string {
	return fmt.Sprintf("lmscal-%d@lmscal", e.ID)
}

func eventLocation(e model.CanonicalEvent) string {
	if e.Location != "" {
		return e.Location
	}
	if e.IsOnline {
		return "Online"
	}
	return ""
}
