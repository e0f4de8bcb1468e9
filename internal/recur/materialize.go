package recur

import (
	"slices"
	"time"

	"schedcal/internal/model"
)

// InstanceID is the stable identity of one occurrence of an anchor.
// Treat it as opaque: use Event.AnchorID to get back to the anchor.
func InstanceID(anchorID string, day model.Date) string {
	return anchorID + "-recurring-" + day.String()
}

// Materialize returns the occurrence of anchor on day. The start keeps the
// anchor's wall-clock time-of-day in the anchor's location and the anchor's
// duration is preserved. Callers only invoke it for days Matches accepts.
func Materialize(anchor model.Event, day model.Date) model.Event {
	duration := anchor.End.Sub(anchor.Start)
	s := anchor.Start
	start := time.Date(day.Year, day.Month, day.Day,
		s.Hour(), s.Minute(), s.Second(), s.Nanosecond(), s.Location())

	out := anchor
	out.ID = InstanceID(anchor.ID, day)
	out.AnchorID = anchor.ID
	out.IsRecurring = true
	out.Start = start
	out.End = start.Add(duration)
	out.ExceptionDates = slices.Clone(anchor.ExceptionDates)
	return out
}
