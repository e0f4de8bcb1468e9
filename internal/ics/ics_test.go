package ics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"schedcal/internal/model"
)

const feedBody = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//test//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:standup\r\n" +
	"DTSTAMP:20240101T000000Z\r\n" +
	"DTSTART:20240101T090000Z\r\n" +
	"DTEND:20240101T091500Z\r\n" +
	"SUMMARY:Standup\r\n" +
	"RRULE:FREQ=WEEKLY;COUNT=4\r\n" +
	"EXDATE:20240108T090000Z\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:standup\r\n" +
	"DTSTAMP:20240101T000000Z\r\n" +
	"RECURRENCE-ID:20240115T090000Z\r\n" +
	"DTSTART:20240116T100000Z\r\n" +
	"DTEND:20240116T101500Z\r\n" +
	"SUMMARY:Standup (moved)\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:lunch\r\n" +
	"DTSTAMP:20240101T000000Z\r\n" +
	"DTSTART:20240110T120000Z\r\n" +
	"DTEND:20240110T130000Z\r\n" +
	"SUMMARY:Lunch\r\n" +
	"LOCATION:Cafe\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:gone\r\n" +
	"DTSTAMP:20240101T000000Z\r\n" +
	"DTSTART:20240111T120000Z\r\n" +
	"DTEND:20240111T130000Z\r\n" +
	"STATUS:CANCELLED\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

var testSource = Source{ID: "team", URL: "https://example.com/team.ics"}

func TestParseICS(t *testing.T) {
	parsed, err := ParseICS(testSource, []byte(feedBody))
	if err != nil {
		t.Fatalf("ParseICS: %v", err)
	}
	if len(parsed) != 4 {
		t.Fatalf("parsed %d events, want 4", len(parsed))
	}

	master := parsed[0]
	if master.UID != "standup" || master.RRule != "FREQ=WEEKLY;COUNT=4" || master.Override() {
		t.Errorf("master = %+v", master)
	}
	if len(master.ExDates) != 1 || !master.ExDates[0].Equal(time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("exdates = %v", master.ExDates)
	}
	if !parsed[1].Override() || !parsed[1].RecurrenceID.Equal(time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("override = %+v", parsed[1])
	}
	if parsed[3].Status != "CANCELLED" {
		t.Errorf("status = %q", parsed[3].Status)
	}

	if _, err := ParseICS(testSource, nil); err == nil {
		t.Error("empty body should fail")
	}
}

func TestToEvents(t *testing.T) {
	parsed, err := ParseICS(testSource, []byte(feedBody))
	if err != nil {
		t.Fatal(err)
	}
	events := ToEvents(testSource, parsed, "alice")

	var ids []string
	for _, ev := range events {
		ids = append(ids, ev.ID)
		if ev.UserID != "alice" || ev.Source != model.SourceICS {
			t.Errorf("%s: user %q source %q", ev.ID, ev.UserID, ev.Source)
		}
	}
	want := []string{
		"ics-team-standup",
		"ics-team-lunch",
		"ics-team-standup-20240115T090000Z-original",
		"ics-team-standup-20240115T090000Z",
	}
	if !reflect.DeepEqual(ids, want) {
		t.Fatalf("ids = %v, want %v", ids, want)
	}

	series := events[0]
	if *series.RecurrenceRule != "FREQ=WEEKLY;UNTIL=20240122" {
		t.Errorf("rule = %s", *series.RecurrenceRule)
	}
	if !reflect.DeepEqual(series.ExceptionDates, []model.Date{model.NewDate(2024, 1, 8)}) {
		t.Errorf("exception dates = %v", series.ExceptionDates)
	}

	cancel := events[2]
	if !cancel.Cancelled() || cancel.SeriesID() != "ics-team-standup" {
		t.Errorf("override should cancel its slot: %+v", cancel)
	}
	if events[3].IsRecurring || events[3].Title != "Standup (moved)" {
		t.Errorf("moved instance = %+v", events[3])
	}
}

func TestOverlaps(t *testing.T) {
	from := time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 7)
	at := func(day, hour int) time.Time { return time.Date(2024, 1, day, hour, 0, 0, 0, time.UTC) }

	cases := []struct {
		name string
		ev   model.Event
		want bool
	}{
		{"inside", model.Event{Start: at(9, 9), End: at(9, 10)}, true},
		{"before", model.Event{Start: at(1, 9), End: at(1, 10)}, false},
		{"after", model.Event{Start: at(20, 9), End: at(20, 10)}, false},
		{"ends at range start", model.Event{Start: at(7, 23), End: at(8, 0)}, false},
		{"zero length at range start", model.Event{Start: at(8, 0), End: at(8, 0)}, true},
		{"old series", model.Event{Start: at(1, 9), End: at(1, 10), IsRecurring: true}, true},
		{"cancellation just past the range", model.Event{Start: at(15, 9), End: at(15, 9), Status: model.StatusCancelled}, true},
		{"stale cancellation", model.Event{Start: at(2, 9), End: at(2, 9), Status: model.StatusCancelled}, false},
	}
	for _, tc := range cases {
		if got := overlaps(tc.ev, from, to); got != tc.want {
			t.Errorf("%s: overlaps = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestFeedUsesConditionalRequests(t *testing.T) {
	var hits, notModified atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			notModified.Add(1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Write([]byte(feedBody))
	}))
	defer srv.Close()

	src := Source{ID: "team", URL: srv.URL + "/team.ics"}
	private := Source{ID: "bob-only", URL: srv.URL + "/bob.ics", User: "bob"}
	feed := NewFeed(NewFetcher(t.TempDir(), srv.Client()), []Source{src, private})

	if got := feed.Sources("alice"); len(got) != 1 || got[0].ID != "team" {
		t.Fatalf("alice sees %v", got)
	}

	from := time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 7)
	for i := 0; i < 2; i++ {
		events, err := feed.Events(context.Background(), "alice", from, to)
		if err != nil {
			t.Fatalf("Events #%d: %v", i, err)
		}
		// series, lunch, cancellation of the 15th
		if len(events) != 3 {
			t.Fatalf("Events #%d returned %d events", i, len(events))
		}
	}
	if hits.Load() != 2 || notModified.Load() != 1 {
		t.Errorf("hits = %d, not modified = %d", hits.Load(), notModified.Load())
	}
}

func TestFeedFallsBackToCache(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "boom", http.StatusBadGateway)
			return
		}
		w.Write([]byte(feedBody))
	}))
	defer srv.Close()

	fetcher := NewFetcher(t.TempDir(), srv.Client())
	src := Source{ID: "team", URL: srv.URL}
	if _, err := fetcher.Fetch(context.Background(), src); err != nil {
		t.Fatal(err)
	}

	fail.Store(true)
	res, err := fetcher.Fetch(context.Background(), src)
	if err != nil || !res.FromCache || string(res.Body) != feedBody {
		t.Errorf("fallback = %v, %v", res.FromCache, err)
	}

	if _, err := NewFetcher(t.TempDir(), srv.Client()).Fetch(context.Background(), src); err == nil {
		t.Error("failing server without cache should error")
	}
}

func TestFeedAllSourcesFailing(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	feed := NewFeed(NewFetcher(t.TempDir(), srv.Client()), []Source{{ID: "x", URL: srv.URL}})
	if _, err := feed.Events(context.Background(), "alice", time.Now(), time.Now()); err == nil {
		t.Error("expected an error when every feed fails")
	}
}

func TestExportRoundTrip(t *testing.T) {
	rule := "FREQ=WEEKLY;BYDAY=MO"
	series := "E1"
	events := []model.Event{
		{
			ID: "E1", Title: "Weekly sync", Description: "notes",
			Start:          time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
			End:            time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
			IsRecurring:    true,
			RecurrenceRule: &rule,
			ExceptionDates: []model.Date{model.NewDate(2024, 1, 22)},
			Status:         model.StatusConfirmed,
		},
		{
			ID: "C1", RecurrenceID: &series, Status: model.StatusCancelled,
			Start: time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC),
			End:   time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC),
		},
		{ID: "broken", Start: time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC)},
	}

	out := Export(events, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	for _, want := range []string{"BEGIN:VCALENDAR", "UID:E1", "RRULE:FREQ=WEEKLY;BYDAY=MO", "EXDATE:20240122T090000Z", "STATUS:CANCELLED"} {
		if !strings.Contains(out, want) {
			t.Errorf("export missing %q", want)
		}
	}
	if strings.Contains(out, "UID:broken") {
		t.Error("invalid event exported")
	}

	parsed, err := ParseICS(Source{ID: "self"}, []byte(out))
	if err != nil {
		t.Fatalf("re-parse: %v", err)
	}
	if len(parsed) != 2 || parsed[0].Summary != "Weekly sync" || !parsed[1].Override() {
		t.Errorf("re-parsed = %+v", parsed)
	}
}
