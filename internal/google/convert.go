package google

import (
	"strings"
	"time"

	"github.com/teambition/rrule-go"
	"google.golang.org/api/calendar/v3"

	appLog "schedcal/internal/log"
	"schedcal/internal/model"
	"schedcal/internal/recur"
)

// idPrefix keeps Google IDs apart from locally created ones.
const idPrefix = "gcal-"

// ConvertEvent maps one API item to zero or more events:
//
//   - a deleted one-off event yields nothing
//   - a cancelled instance yields a cancellation of its series slot
//   - a modified instance yields a cancellation of its original slot and
//     a plain event at the new time
//   - everything else yields one event, recurring when it carries an RRULE
func ConvertEvent(item *calendar.Event, userID string, loc *time.Location) []model.Event {
	if item == nil {
		return nil
	}
	if loc == nil {
		loc = time.Local
	}

	if item.RecurringEventId != "" {
		seriesID := idPrefix + item.RecurringEventId
		original := parseDateTime(item.OriginalStartTime, loc)
		cancel := model.Event{
			ID:           idPrefix + item.Id,
			UserID:       userID,
			Start:        original,
			End:          original,
			RecurrenceID: &seriesID,
			Status:       model.StatusCancelled,
			Source:       model.SourceGoogle,
		}
		if item.Status == "cancelled" {
			return []model.Event{cancel}
		}
		cancel.ID += "-original"
		moved := baseEvent(item, userID, loc)
		return []model.Event{cancel, moved}
	}

	if item.Status == "cancelled" {
		return nil
	}

	ev := baseEvent(item, userID, loc)
	applyRecurrence(&ev, item.Recurrence)
	return []model.Event{ev}
}

func baseEvent(item *calendar.Event, userID string, loc *time.Location) model.Event {
	return model.Event{
		ID:          idPrefix + item.Id,
		UserID:      userID,
		Title:       item.Summary,
		Description: item.Description,
		Location:    item.Location,
		Color:       item.ColorId,
		Start:       parseDateTime(item.Start, loc),
		End:         parseDateTime(item.End, loc),
		Status:      model.StatusConfirmed,
		Source:      model.SourceGoogle,
	}
}

// applyRecurrence reads the RRULE and EXDATE lines of a series master.
func applyRecurrence(ev *model.Event, lines []string) {
	var exdates []string
	for _, line := range lines {
		upper := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(upper, "RRULE:"):
			rule, err := recur.BoundCount(line[len("RRULE:"):], ev.Start)
			if err != nil {
				appLog.Error("google: keeping unbounded rule", err, "id", ev.ID)
			}
			ev.IsRecurring = true
			ev.RecurrenceRule = &rule
		case strings.HasPrefix(upper, "EXDATE"):
			exdates = append(exdates, line)
		}
	}
	if len(exdates) == 0 || ev.Start.IsZero() {
		return
	}

	set, err := rrule.StrSliceToRRuleSetInLoc(exdates, ev.Start.Location())
	if err != nil {
		appLog.Error("google: ignoring malformed EXDATE", err, "id", ev.ID)
		return
	}
	for _, t := range set.GetExDate() {
		ev.ExceptionDates = append(ev.ExceptionDates, model.DateOf(t.In(ev.Start.Location())))
	}
}

// parseDateTime reads a timed or all-day boundary. Unusable values give
// the zero time so the event is later dropped as invalid.
func parseDateTime(edt *calendar.EventDateTime, loc *time.Location) time.Time {
	if edt == nil {
		return time.Time{}
	}
	if edt.TimeZone != "" {
		if tz, err := time.LoadLocation(edt.TimeZone); err == nil {
			loc = tz
		}
	}
	if edt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, edt.DateTime)
		if err != nil {
			return time.Time{}
		}
		return t.In(loc)
	}
	if edt.Date != "" {
		t, err := time.ParseInLocation("2006-01-02", edt.Date, loc)
		if err != nil {
			return time.Time{}
		}
		return t
	}
	return time.Time{}
}
