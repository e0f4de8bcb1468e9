package week

import (
	"time"

	"schedcal/internal/model"
)

// Segment projects ev onto day, a [00:00, 24:00) window in loc. It returns
// nil when the event does not touch the day.
//
// Overlap is half-open, so an event ending exactly at midnight produces no
// empty segment on the following day. A zero-length event belongs to the
// day its instant falls on.
func Segment(ev model.Event, day model.Date, loc *time.Location) *model.Segment {
	if loc == nil {
		loc = time.Local
	}
	dayStart := day.In(loc)
	dayEnd := day.AddDays(1).In(loc)

	if ev.Start.Equal(ev.End) {
		if ev.Start.Before(dayStart) || !ev.Start.Before(dayEnd) {
			return nil
		}
	} else if !ev.Start.Before(dayEnd) || !ev.End.After(dayStart) {
		return nil
	}

	start := ev.Start
	if start.Before(dayStart) {
		start = dayStart
	}
	end := ev.End
	if end.After(dayEnd) {
		end = dayEnd
	}

	return &model.Segment{
		Event:   ev,
		Start:   start.In(loc),
		End:     end.In(loc),
		IsStart: start.Equal(ev.Start),
		IsEnd:   end.Equal(ev.End),
	}
}
