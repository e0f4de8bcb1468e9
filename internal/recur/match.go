package recur

import (
	"time"

	"schedcal/internal/model"
)

// Matches reports whether rule, anchored at anchorStart, produces an
// occurrence on target.
//
// Calendar days are taken in anchorStart's location, so callers should
// convert the anchor into the display zone first. Interval gating is always
// a modulo on the calendar distance from the anchor's own day, which keeps
// the check free of any iteration from the anchor.
func Matches(anchorStart time.Time, rule Rule, exceptions []model.Date, target model.Date) bool {
	if rule.Frequency == None {
		return false
	}

	anchor := model.DateOf(anchorStart)
	if target.Before(anchor) {
		return false
	}
	if last, ok := rule.UntilDay(anchorStart.Location()); ok && last.Before(target) {
		return false
	}
	for _, ex := range exceptions {
		if ex == target {
			return false
		}
	}

	interval := rule.Interval
	if interval <= 0 {
		interval = 1
	}

	switch rule.Frequency {
	case Daily:
		return matchDaily(anchor, rule, interval, target)
	case Weekly:
		return matchWeekly(anchor, rule, interval, target)
	case Monthly:
		return matchMonthly(anchor, rule, interval, target)
	case Yearly:
		return matchYearly(anchor, interval, target)
	}
	return false
}

func matchDaily(anchor model.Date, rule Rule, interval int, target model.Date) bool {
	if len(rule.ByDay) > 0 && !hasWeekday(rule.ByDay, target.Weekday()) {
		return false
	}
	return model.DaysBetween(anchor, target)%interval == 0
}

func matchWeekly(anchor model.Date, rule Rule, interval int, target model.Date) bool {
	if len(rule.ByDay) > 0 {
		if !hasWeekday(rule.ByDay, target.Weekday()) {
			return false
		}
	} else if target.Weekday() != anchor.Weekday() {
		return false
	}
	weeks := model.DaysBetween(anchor, target) / 7
	return weeks%interval == 0
}

func matchMonthly(anchor model.Date, rule Rule, interval int, target model.Date) bool {
	months := (target.Year*12 + int(target.Month)) - (anchor.Year*12 + int(anchor.Month))
	if months%interval != 0 {
		return false
	}

	if len(rule.ByDay) == 0 {
		return target.Day == anchor.Day
	}

	// Any entry may match on its own.
	nth := (target.Day-1)/7 + 1
	nthFromEnd := -((target.DaysInMonth()-target.Day)/7 + 1)
	for _, wd := range rule.ByDay {
		if wd.Weekday != target.Weekday() {
			continue
		}
		switch {
		case wd.Ordinal == 0:
			return true
		case wd.Ordinal > 0 && wd.Ordinal == nth:
			return true
		case wd.Ordinal < 0 && wd.Ordinal == nthFromEnd:
			return true
		}
	}
	return false
}

func matchYearly(anchor model.Date, interval int, target model.Date) bool {
	if target.Month != anchor.Month || target.Day != anchor.Day {
		return false
	}
	return (target.Year-anchor.Year)%interval == 0
}

func hasWeekday(days []WeekdayNum, wd time.Weekday) bool {
	for _, d := range days {
		if d.Weekday == wd {
			return true
		}
	}
	return false
}
