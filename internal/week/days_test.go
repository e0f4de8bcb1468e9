package week

import (
	"testing"
	"time"

	"schedcal/internal/model"
)

func TestDays(t *testing.T) {
	wed := model.NewDate(2024, 1, 10)

	mon := Days(wed, time.Monday)
	if len(mon) != 7 || mon[0] != model.NewDate(2024, 1, 8) || mon[6] != model.NewDate(2024, 1, 14) {
		t.Errorf("monday week = %v", mon)
	}

	sun := Days(wed, time.Sunday)
	if sun[0] != model.NewDate(2024, 1, 7) || sun[6] != model.NewDate(2024, 1, 13) {
		t.Errorf("sunday week = %v", sun)
	}

	// The first day of the week maps to itself.
	if got := Days(model.NewDate(2024, 1, 8), time.Monday)[0]; got != model.NewDate(2024, 1, 8) {
		t.Errorf("week of a monday starts %s", got)
	}
	// Weeks spanning a year boundary.
	if got := Days(model.NewDate(2024, 1, 1), time.Sunday)[0]; got != model.NewDate(2023, 12, 31) {
		t.Errorf("week spanning new year starts %s", got)
	}
}

func TestParseWeekStart(t *testing.T) {
	if ParseWeekStart("sunday") != time.Sunday {
		t.Error("sunday")
	}
	if ParseWeekStart("monday") != time.Monday || ParseWeekStart("") != time.Monday {
		t.Error("monday is the default")
	}
}
