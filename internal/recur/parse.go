package recur

import (
	"strconv"
	"strings"
	"time"
)

const (
	untilLayoutUTC   = "20060102T150405Z"
	untilLayoutLocal = "20060102T150405"
	untilLayoutDate  = "20060102"
)

// Parse turns an RRULE-like string into a Rule. It never fails: nil,
// empty or unrecognized input yields NeutralRule, and a malformed UNTIL
// leaves the rule unbounded.
func Parse(rule *string) Rule {
	if rule == nil {
		return NeutralRule()
	}
	return ParseString(*rule)
}

// ParseString is Parse for a plain string.
func ParseString(s string) Rule {
	out := NeutralRule()

	s = strings.TrimSpace(s)
	if len(s) >= 6 && strings.EqualFold(s[:6], "RRULE:") {
		s = s[6:]
	}
	if s == "" {
		return out
	}

	for _, token := range strings.Split(s, ";") {
		key, value, ok := strings.Cut(token, "=")
		if !ok {
			continue
		}
		key = strings.ToUpper(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch key {
		case "FREQ":
			out.Frequency = parseFrequency(value)
		case "INTERVAL":
			if n, err := strconv.Atoi(value); err == nil && n > 0 {
				out.Interval = n
			}
		case "COUNT":
			if n, err := strconv.Atoi(value); err == nil && n > 0 {
				out.Count = &n
			}
		case "BYDAY":
			out.ByDay = parseByDay(value)
		case "UNTIL":
			if t, utc, err := parseUntil(value); err == nil {
				out.Until = &t
				out.UntilUTC = utc
			}
		}
	}

	return out
}

func parseFrequency(v string) Frequency {
	switch strings.ToUpper(v) {
	case "DAILY":
		return Daily
	case "WEEKLY":
		return Weekly
	case "MONTHLY":
		return Monthly
	case "YEARLY":
		return Yearly
	default:
		return None
	}
}

// parseByDay keeps entry order and ordinals. Entries that are not weekday
// codes are skipped.
func parseByDay(v string) []WeekdayNum {
	var out []WeekdayNum
	for _, raw := range strings.Split(v, ",") {
		if wd, ok := parseWeekdayNum(raw); ok {
			out = append(out, wd)
		}
	}
	return out
}

func parseWeekdayNum(raw string) (WeekdayNum, bool) {
	raw = strings.ToUpper(strings.TrimSpace(raw))
	if len(raw) < 2 {
		return WeekdayNum{}, false
	}
	code := raw[len(raw)-2:]
	day, ok := codeWeekdays[code]
	if !ok {
		return WeekdayNum{}, false
	}

	prefix := strings.TrimPrefix(raw[:len(raw)-2], "+")
	if prefix == "" {
		return WeekdayNum{Weekday: day}, true
	}
	n, err := strconv.Atoi(prefix)
	if err != nil || n == 0 || n > 5 || n < -5 {
		return WeekdayNum{}, false
	}
	return WeekdayNum{Ordinal: n, Weekday: day}, true
}

// parseUntil accepts YYYYMMDD, YYYYMMDDTHHMMSS and YYYYMMDDTHHMMSSZ, all
// parsed in UTC. utc reports the "Z" form, which names an instant rather
// than a wall clock.
func parseUntil(v string) (t time.Time, utc bool, err error) {
	switch {
	case strings.HasSuffix(v, "Z"):
		t, err = time.Parse(untilLayoutUTC, v)
		return t, true, err
	case strings.Contains(v, "T"):
		t, err = time.ParseInLocation(untilLayoutLocal, v, time.UTC)
	default:
		t, err = time.ParseInLocation(untilLayoutDate, v, time.UTC)
	}
	return t, false, err
}
