package ics

import (
	"time"

	ical "github.com/arran4/golang-ical"

	"schedcal/internal/model"
)

const utcLayout = "20060102T150405Z"

// Export renders events as an iCalendar document. Series are written with
// their rule and exception dates; cancellation records become cancelled
// instances of their series.
func Export(events []model.Event, now time.Time) string {
	cal := ical.NewCalendar()
	cal.SetProductId("-//schedcal//schedcal//EN")
	cal.SetMethod(ical.MethodPublish)

	for _, ev := range events {
		if err := ev.Validate(); err != nil && !ev.Cancelled() {
			continue
		}

		if ev.Cancelled() {
			if ev.RecurrenceID == nil {
				continue
			}
			vev := cal.AddEvent(*ev.RecurrenceID)
			vev.SetDtStampTime(now)
			vev.AddProperty(propRecurrenceID, ev.Start.UTC().Format(utcLayout))
			vev.SetStatus(ical.ObjectStatusCancelled)
			vev.SetStartAt(ev.Start)
			continue
		}

		vev := cal.AddEvent(ev.ID)
		vev.SetDtStampTime(now)
		vev.SetStartAt(ev.Start)
		vev.SetEndAt(ev.End)
		vev.SetSummary(ev.Title)
		if ev.Description != "" {
			vev.SetDescription(ev.Description)
		}
		if ev.Location != "" {
			vev.SetLocation(ev.Location)
		}
		if ev.IsRecurring && ev.RecurrenceRule != nil && *ev.RecurrenceRule != "" {
			vev.AddProperty(ical.ComponentPropertyRrule, *ev.RecurrenceRule)
			for _, d := range ev.ExceptionDates {
				s := ev.Start
				slot := time.Date(d.Year, d.Month, d.Day, s.Hour(), s.Minute(), s.Second(), 0, s.Location())
				vev.AddProperty(ical.ComponentPropertyExdate, slot.UTC().Format(utcLayout))
			}
		}
	}

	return cal.Serialize()
}
