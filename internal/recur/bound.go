package recur

import (
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"schedcal/internal/model"
)

// maxBoundedCount caps how many occurrences BoundCount is willing to unroll.
const maxBoundedCount = 5000

// BoundCount rewrites a COUNT-limited rule for a series starting at dtstart
// into the equivalent UNTIL-bounded rule. Matches ignores COUNT, so rules
// imported from remote calendars go through here first.
//
// Rules without COUNT come back unchanged. On error the original rule is
// returned alongside the error so callers can keep the series visible.
func BoundCount(rule string, dtstart time.Time) (string, error) {
	parsed := ParseString(rule)
	if parsed.Frequency == None || parsed.Count == nil {
		return rule, nil
	}
	if parsed.Until != nil {
		// COUNT and UNTIL together are invalid; UNTIL wins.
		parsed.Count = nil
		return parsed.String(), nil
	}
	if *parsed.Count > maxBoundedCount {
		return rule, fmt.Errorf("bound count: COUNT=%d exceeds %d", *parsed.Count, maxBoundedCount)
	}

	body := strings.TrimSpace(rule)
	if len(body) >= 6 && strings.EqualFold(body[:6], "RRULE:") {
		body = body[6:]
	}

	opt, err := rrule.StrToROption(body)
	if err != nil {
		return rule, fmt.Errorf("bound count: parse %q: %w", body, err)
	}
	// Defaults such as the month day are derived from Dtstart, so it has to
	// be set before the rule is built.
	opt.Dtstart = dtstart
	r, err := rrule.NewRRule(*opt)
	if err != nil {
		return rule, fmt.Errorf("bound count: build %q: %w", body, err)
	}

	all := r.All()
	if len(all) == 0 {
		return rule, nil
	}

	// Pin the bound to the last occurrence's own day as a date-only value.
	until := model.DateOf(all[len(all)-1]).In(time.UTC)
	parsed.Count = nil
	parsed.Until = &until
	parsed.UntilUTC = false
	return parsed.String(), nil
}
