package week

import (
	"time"

	"schedcal/internal/model"
)

type cancelKey struct {
	series string
	day    model.Date
}

// CancellationIndex records which (series, day) occurrences have been
// cancelled. Build it once per resolution pass over the full event set.
type CancellationIndex struct {
	suppressed map[cancelKey]struct{}
}

// NewCancellationIndex scans events for cancelled records that point at a
// series and indexes them by the calendar day of their start in loc.
// Records whose anchor never shows up are harmless.
func NewCancellationIndex(events []model.Event, loc *time.Location) CancellationIndex {
	if loc == nil {
		loc = time.Local
	}
	idx := CancellationIndex{suppressed: make(map[cancelKey]struct{})}
	for _, ev := range events {
		if !ev.Cancelled() || ev.RecurrenceID == nil || *ev.RecurrenceID == "" {
			continue
		}
		if ev.Start.IsZero() {
			continue
		}
		idx.suppressed[cancelKey{series: *ev.RecurrenceID, day: model.DateOf(ev.Start.In(loc))}] = struct{}{}
	}
	return idx
}

// Suppressed reports whether the occurrence of series on day is cancelled.
func (c CancellationIndex) Suppressed(series string, day model.Date) bool {
	_, ok := c.suppressed[cancelKey{series: series, day: day}]
	return ok
}

func (c CancellationIndex) Len() int {
	return len(c.suppressed)
}
