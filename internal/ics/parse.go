// Package ics reads subscribed iCalendar feeds into schedcal events and
// writes a user's events back out as an iCalendar document.
package ics

import (
	"bytes"
	"errors"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "schedcal/internal/log"
)

const propRecurrenceID = ical.ComponentProperty("RECURRENCE-ID")

// ParsedEvent is one VEVENT with the fields schedcal cares about.
type ParsedEvent struct {
	UID      string
	Sequence int
	Status   string

	Summary     string
	Description string
	Location    string

	Start  time.Time
	End    time.Time
	AllDay bool

	RRule   string
	ExDates []time.Time

	// RecurrenceID is set on overrides of a single series instance.
	RecurrenceID *time.Time
}

// Override reports whether the VEVENT replaces one instance of a series.
func (p ParsedEvent) Override() bool {
	return p.RecurrenceID != nil
}

// ParseICS parses an iCalendar payload. VEVENTs that cannot be read are
// logged and skipped.
func ParseICS(src Source, body []byte) ([]ParsedEvent, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err, "id", src.ID, "url", redactURL(src.URL))
		return nil, err
	}

	events := make([]ParsedEvent, 0)
	for _, comp := range cal.Events() {
		ev, perr := parseVEvent(comp)
		if perr != nil {
			appLog.Error("ics vevent parse failed", perr, "id", src.ID, "url", redactURL(src.URL))
			continue
		}
		events = append(events, ev)
	}

	appLog.Debug("ics parse completed", "id", src.ID, "event_count", len(events))
	return events, nil
}

func parseVEvent(ve *ical.VEvent) (ParsedEvent, error) {
	var out ParsedEvent

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uidProp.Value

	if p := ve.GetProperty(ical.ComponentPropertySequence); p != nil {
		if n, err := strconv.Atoi(strings.TrimSpace(p.Value)); err == nil {
			out.Sequence = n
		}
	}
	if p := ve.GetProperty(ical.ComponentPropertyStatus); p != nil {
		out.Status = strings.ToUpper(strings.TrimSpace(p.Value))
	}
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = p.Value
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return out, err
	}
	out.Start = start
	if end, err := ve.GetEndAt(); err == nil {
		out.End = end
	} else {
		// No DTEND: zero-length, or a whole day for date-only starts.
		out.End = start
	}

	if p := ve.GetProperty(ical.ComponentPropertyDtStart); p != nil {
		if firstParam(p.ICalParameters, "VALUE") == "DATE" || !strings.Contains(p.Value, "T") {
			out.AllDay = true
			if out.End.Equal(out.Start) {
				out.End = out.Start.AddDate(0, 0, 1)
			}
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RRule = p.Value
	}

	loc := out.Start.Location()
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			if t, err := parseICSTime(part, tzOf(p.ICalParameters, loc)); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	if p := ve.GetProperty(propRecurrenceID); p != nil {
		if t, err := parseICSTime(p.Value, tzOf(p.ICalParameters, loc)); err == nil {
			out.RecurrenceID = &t
		}
	}

	return out, nil
}

func firstParam(params map[string][]string, name string) string {
	if vs, ok := params[name]; ok && len(vs) > 0 {
		return strings.ToUpper(vs[0])
	}
	return ""
}

// tzOf resolves a TZID parameter, falling back to def.
func tzOf(params map[string][]string, def *time.Location) *time.Location {
	if vs, ok := params["TZID"]; ok && len(vs) > 0 {
		if loc, err := time.LoadLocation(vs[0]); err == nil {
			return loc
		}
	}
	return def
}

// parseICSTime parses DATE and DATE-TIME values. Floating values are read
// in loc.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return time.Time{}, errors.New("empty time value")
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}
