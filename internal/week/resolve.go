// Package week turns a user's raw events into per-day render segments for
// a visible range of calendar days.
package week

import (
	"strings"
	"time"

	"schedcal/internal/model"
	"schedcal/internal/recur"
)

// Day is one visible day with its segments in input event order.
type Day struct {
	Date     model.Date      `json:"date"`
	Segments []model.Segment `json:"segments"`
}

// Dropped names an event excluded from the pass because its time range is
// unusable.
type Dropped struct {
	EventID string
	Err     error
}

// Result is the outcome of one resolution pass.
type Result struct {
	Days    []Day
	Dropped []Dropped
}

// Segments returns the segments resolved for d, or nil if d was not part
// of the pass.
func (r Result) Segments(d model.Date) []model.Segment {
	for _, day := range r.Days {
		if day.Date == d {
			return day.Segments
		}
	}
	return nil
}

// Map returns the result keyed by day.
func (r Result) Map() map[model.Date][]model.Segment {
	out := make(map[model.Date][]model.Segment, len(r.Days))
	for _, day := range r.Days {
		out[day.Date] = day.Segments
	}
	return out
}

// Count is the total number of segments across all days.
func (r Result) Count() int {
	n := 0
	for _, day := range r.Days {
		n += len(day.Segments)
	}
	return n
}

type candidate struct {
	ev        model.Event
	rule      recur.Rule
	recurring bool
	// span is how many days past its start day an occurrence reaches.
	span int
}

// Resolve computes the segments for every day in days. Calendar days and
// time-of-day are interpreted in loc (time.Local when nil).
//
// Cancelled records are never rendered; those pointing at a series
// suppress that series' occurrence on their day. A recurring occurrence
// that runs past midnight yields a segment on every day it touches. Events with an unusable
// time range are reported in Result.Dropped and skipped. Segment order
// within a day follows the order of events.
//
// Resolve is pure and safe to call concurrently.
func Resolve(events []model.Event, days []model.Date, loc *time.Location) Result {
	if loc == nil {
		loc = time.Local
	}

	index := NewCancellationIndex(events, loc)

	var out Result
	candidates := make([]candidate, 0, len(events))
	for _, ev := range events {
		if ev.Cancelled() {
			continue
		}
		if err := ev.Validate(); err != nil {
			out.Dropped = append(out.Dropped, Dropped{EventID: ev.ID, Err: err})
			continue
		}
		ev.Start = ev.Start.In(loc)
		ev.End = ev.End.In(loc)

		c := candidate{ev: ev}
		if ev.IsRecurring && ev.RecurrenceRule != nil && strings.TrimSpace(*ev.RecurrenceRule) != "" {
			c.recurring = true
			c.rule = recur.Parse(ev.RecurrenceRule)
			c.span = model.DaysBetween(model.DateOf(ev.Start), model.DateOf(ev.End))
		}
		candidates = append(candidates, c)
	}

	out.Days = make([]Day, 0, len(days))
	for _, day := range days {
		segments := make([]model.Segment, 0)
		for _, c := range candidates {
			if !c.recurring {
				if seg := Segment(c.ev, day, loc); seg != nil {
					segments = append(segments, *seg)
				}
				continue
			}
			// Occurrences that started on earlier days may still run into
			// this one.
			for back := c.span; back >= 0; back-- {
				startDay := day.AddDays(-back)
				if !recur.Matches(c.ev.Start, c.rule, c.ev.ExceptionDates, startDay) {
					continue
				}
				if index.Suppressed(c.ev.SeriesID(), startDay) {
					continue
				}
				occ := recur.Materialize(c.ev, startDay)
				if seg := Segment(occ, day, loc); seg != nil {
					segments = append(segments, *seg)
				}
			}
		}
		out.Days = append(out.Days, Day{Date: day, Segments: segments})
	}

	return out
}
