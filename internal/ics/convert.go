package ics

import (
	"sort"
	"time"

	appLog "schedcal/internal/log"
	"schedcal/internal/model"
	"schedcal/internal/recur"
)

// ToEvents turns the VEVENTs of one feed into events for userID.
//
// Each UID becomes one event; the VEVENT with the highest SEQUENCE wins.
// Overrides cancel their original slot and, unless cancelled themselves,
// add a plain event at the new time. COUNT rules are rewritten to UNTIL.
func ToEvents(src Source, parsed []ParsedEvent, userID string) []model.Event {
	masters := make(map[string]ParsedEvent)
	var order []string
	var overrides []ParsedEvent

	for _, p := range parsed {
		if p.Override() {
			overrides = append(overrides, p)
			continue
		}
		prev, seen := masters[p.UID]
		if !seen {
			order = append(order, p.UID)
		}
		if !seen || p.Sequence >= prev.Sequence {
			masters[p.UID] = p
		}
	}

	out := make([]model.Event, 0, len(parsed))
	for _, uid := range order {
		p := masters[uid]
		if p.Status == "CANCELLED" {
			continue
		}
		ev := baseEvent(p, userID)
		ev.ID = eventID(src, uid)
		if p.RRule != "" {
			rule, err := recur.BoundCount(p.RRule, p.Start)
			if err != nil {
				appLog.Error("ics: keeping unbounded rule", err, "id", src.ID, "uid", uid)
			}
			ev.IsRecurring = true
			ev.RecurrenceRule = &rule
			for _, ex := range p.ExDates {
				ev.ExceptionDates = append(ev.ExceptionDates, model.DateOf(ex.In(p.Start.Location())))
			}
		}
		out = append(out, ev)
	}

	sort.SliceStable(overrides, func(i, j int) bool {
		return overrides[i].RecurrenceID.Before(*overrides[j].RecurrenceID)
	})
	for _, p := range overrides {
		seriesID := eventID(src, p.UID)
		slot := *p.RecurrenceID
		instanceID := seriesID + "-" + slot.UTC().Format("20060102T150405Z")
		out = append(out, model.Event{
			ID:           instanceID + "-original",
			UserID:       userID,
			Start:        slot,
			End:          slot,
			RecurrenceID: &seriesID,
			Status:       model.StatusCancelled,
			Source:       model.SourceICS,
		})
		if p.Status == "CANCELLED" {
			continue
		}
		moved := baseEvent(p, userID)
		moved.ID = instanceID
		out = append(out, moved)
	}
	return out
}

func eventID(src Source, uid string) string {
	return "ics-" + src.ID + "-" + uid
}

func baseEvent(p ParsedEvent, userID string) model.Event {
	return model.Event{
		UserID:      userID,
		Title:       p.Summary,
		Description: p.Description,
		Location:    p.Location,
		Start:       p.Start,
		End:         p.End,
		Status:      model.StatusConfirmed,
		Source:      model.SourceICS,
	}
}

// overlaps keeps events that may render inside [from, to).
func overlaps(ev model.Event, from, to time.Time) bool {
	if ev.Cancelled() {
		// Matched later by local calendar day, which can sit a day off the
		// UTC instant.
		return ev.Start.After(from.Add(-24*time.Hour)) && ev.Start.Before(to.Add(24*time.Hour))
	}
	if ev.IsRecurring {
		return ev.Start.Before(to)
	}
	if !ev.Start.Before(to) {
		return false
	}
	return ev.End.After(from) || (ev.End.Equal(ev.Start) && !ev.Start.Before(from))
}
