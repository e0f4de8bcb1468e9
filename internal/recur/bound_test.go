package recur

import (
	"testing"
	"time"

	"schedcal/internal/model"
)

func TestBoundCount(t *testing.T) {
	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		rule string
		want string
	}{
		{"no count", "FREQ=WEEKLY;BYDAY=MO", "FREQ=WEEKLY;BYDAY=MO"},
		{"daily", "FREQ=DAILY;COUNT=3", "FREQ=DAILY;UNTIL=20240103"},
		{"weekly byday", "RRULE:FREQ=WEEKLY;BYDAY=MO,WE;COUNT=4", "FREQ=WEEKLY;UNTIL=20240110;BYDAY=MO,WE"},
		{"until wins", "FREQ=DAILY;COUNT=3;UNTIL=20240201", "FREQ=DAILY;UNTIL=20240201"},
		{"neutral", "garbage", "garbage"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BoundCount(tt.rule, start)
			if err != nil {
				t.Fatalf("BoundCount: %v", err)
			}
			if got != tt.want {
				t.Errorf("BoundCount(%q) = %q, want %q", tt.rule, got, tt.want)
			}
		})
	}
}

func TestBoundCountEndsSeries(t *testing.T) {
	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	bounded, err := BoundCount("FREQ=DAILY;INTERVAL=2;COUNT=5", start)
	if err != nil {
		t.Fatal(err)
	}
	r := ParseString(bounded)
	if !Matches(start, r, nil, model.NewDate(2024, 1, 9)) {
		t.Error("fifth occurrence should still match")
	}
	if Matches(start, r, nil, model.NewDate(2024, 1, 11)) {
		t.Error("sixth occurrence should be cut off")
	}
}

func TestBoundCountKeepsLastDayEastOfUTC(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*60*60)
	start := time.Date(2024, 1, 13, 8, 0, 0, 0, tokyo)
	bounded, err := BoundCount("FREQ=DAILY;COUNT=3", start)
	if err != nil {
		t.Fatal(err)
	}
	if bounded != "FREQ=DAILY;UNTIL=20240115" {
		t.Fatalf("bounded = %q", bounded)
	}
	r := ParseString(bounded)
	if !Matches(start, r, nil, model.NewDate(2024, 1, 15)) {
		t.Error("third occurrence should match")
	}
	if Matches(start, r, nil, model.NewDate(2024, 1, 16)) {
		t.Error("fourth occurrence should be cut off")
	}
}

func TestBoundCountRejectsHugeCounts(t *testing.T) {
	rule := "FREQ=DAILY;COUNT=999999"
	got, err := BoundCount(rule, time.Now())
	if err == nil {
		t.Fatal("expected error")
	}
	if got != rule {
		t.Errorf("original rule should be returned on error, got %q", got)
	}
}
