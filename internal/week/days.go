package week

import (
	"time"

	"schedcal/internal/model"
)

// Days returns the seven days of the week containing date, starting on
// weekStart (time.Monday or time.Sunday in practice).
func Days(date model.Date, weekStart time.Weekday) []model.Date {
	offset := (int(date.Weekday()) - int(weekStart) + 7) % 7
	first := date.AddDays(-offset)
	out := make([]model.Date, 7)
	for i := range out {
		out[i] = first.AddDays(i)
	}
	return out
}

// ParseWeekStart maps the config value ("monday", "sunday") to a weekday.
func ParseWeekStart(s string) time.Weekday {
	if s == "sunday" {
		return time.Sunday
	}
	return time.Monday
}
