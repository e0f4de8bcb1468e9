// Package recur holds the recurrence rule model, its parser, the per-day
// occurrence predicate and the instance materializer.
package recur

import (
	"strconv"
	"strings"
	"time"

	"schedcal/internal/model"
)

// Frequency is the base repetition unit of a rule.
type Frequency int

const (
	None Frequency = iota
	Daily
	Weekly
	Monthly
	Yearly
)

func (f Frequency) String() string {
	switch f {
	case Daily:
		return "DAILY"
	case Weekly:
		return "WEEKLY"
	case Monthly:
		return "MONTHLY"
	case Yearly:
		return "YEARLY"
	default:
		return ""
	}
}

// WeekdayNum is one BYDAY entry. Ordinal is 0 for a bare code ("MO"),
// positive for "2TU" and negative for "-1FR" (counted from month end).
type WeekdayNum struct {
	Ordinal int
	Weekday time.Weekday
}

func (w WeekdayNum) String() string {
	code := weekdayCodes[w.Weekday]
	if w.Ordinal == 0 {
		return code
	}
	return strconv.Itoa(w.Ordinal) + code
}

// Rule is a parsed recurrence rule. The zero value never matches; use
// NeutralRule for a rule with the default interval.
type Rule struct {
	Frequency Frequency
	Interval  int
	// Count is carried through but not enforced by Matches.
	Count *int
	// Until is an inclusive bound. Date-only and floating values are stored
	// as their wall clock in UTC; UntilUTC marks a "Z" instant.
	Until    *time.Time
	UntilUTC bool
	ByDay    []WeekdayNum
}

// NeutralRule is what every unrecognized input parses to.
func NeutralRule() Rule {
	return Rule{Frequency: None, Interval: 1}
}

// String renders the rule in RRULE body form, without the "RRULE:" prefix.
// A rule with no frequency renders as "".
func (r Rule) String() string {
	if r.Frequency == None {
		return ""
	}
	parts := []string{"FREQ=" + r.Frequency.String()}
	if r.Interval > 1 {
		parts = append(parts, "INTERVAL="+strconv.Itoa(r.Interval))
	}
	if r.Count != nil {
		parts = append(parts, "COUNT="+strconv.Itoa(*r.Count))
	}
	if r.Until != nil {
		parts = append(parts, "UNTIL="+r.formatUntil())
	}
	if len(r.ByDay) > 0 {
		codes := make([]string, len(r.ByDay))
		for i, wd := range r.ByDay {
			codes[i] = wd.String()
		}
		parts = append(parts, "BYDAY="+strings.Join(codes, ","))
	}
	return strings.Join(parts, ";")
}

func (r Rule) formatUntil() string {
	u := r.Until.UTC()
	switch {
	case r.UntilUTC:
		return u.Format(untilLayoutUTC)
	case u.Hour() == 0 && u.Minute() == 0 && u.Second() == 0:
		return u.Format(untilLayoutDate)
	default:
		return u.Format(untilLayoutLocal)
	}
}

// UntilDay is the last calendar day the rule may produce an occurrence on.
// A UTC instant is read in loc, the anchor's zone; date-only and floating
// values keep their own day.
func (r Rule) UntilDay(loc *time.Location) (model.Date, bool) {
	if r.Until == nil {
		return model.Date{}, false
	}
	if r.UntilUTC {
		if loc == nil {
			loc = time.UTC
		}
		return model.DateOf(r.Until.In(loc)), true
	}
	return model.DateOf(r.Until.UTC()), true
}

var weekdayCodes = map[time.Weekday]string{
	time.Sunday:    "SU",
	time.Monday:    "MO",
	time.Tuesday:   "TU",
	time.Wednesday: "WE",
	time.Thursday:  "TH",
	time.Friday:    "FR",
	time.Saturday:  "SA",
}

var codeWeekdays = map[string]time.Weekday{
	"SU": time.Sunday,
	"MO": time.Monday,
	"TU": time.Tuesday,
	"WE": time.Wednesday,
	"TH": time.Thursday,
	"FR": time.Friday,
	"SA": time.Saturday,
}
