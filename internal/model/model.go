package model

import (
	"errors"
	"time"
)

// Status is the lifecycle state of an event record.
type Status string

const (
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
)

// Source tells which collaborator produced an event.
type Source string

const (
	SourceLocal  Source = "local"
	SourceGoogle Source = "google"
	SourceICS    Source = "ics"
)

var (
	ErrMissingTime    = errors.New("event start or end time is missing")
	ErrEndBeforeStart = errors.New("event ends before it starts")
)

// Event is a calendar record as held by the local store or produced by a
// remote source.
//
// A recurring series is represented by an anchor (IsRecurring with a
// RecurrenceRule) plus optional cancellation records whose RecurrenceID
// points at the anchor's ID.
type Event struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`

	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`
	Color       string `json:"color,omitempty"`

	Start time.Time `json:"start_time"`
	End   time.Time `json:"end_time"`

	IsRecurring    bool    `json:"is_recurring"`
	RecurrenceRule *string `json:"recurrence_rule,omitempty"`
	RecurrenceID   *string `json:"recurrence_id,omitempty"`

	// AnchorID is set only on materialized occurrences and names the
	// anchor event they were derived from.
	AnchorID string `json:"anchor_id,omitempty"`

	ExceptionDates []Date `json:"recurrence_exception_dates,omitempty"`

	Status Status `json:"status"`
	Source Source `json:"source"`
}

// Validate reports whether the event's time range is usable.
func (e Event) Validate() error {
	if e.Start.IsZero() || e.End.IsZero() {
		return ErrMissingTime
	}
	if e.End.Before(e.Start) {
		return ErrEndBeforeStart
	}
	return nil
}

// Cancelled reports whether the record is a cancellation or deletion marker.
func (e Event) Cancelled() bool {
	return e.Status == StatusCancelled
}

// SeriesID is the key a recurring series is known by: the RecurrenceID when
// present, otherwise the event's own ID.
func (e Event) SeriesID() string {
	if e.RecurrenceID != nil && *e.RecurrenceID != "" {
		return *e.RecurrenceID
	}
	return e.ID
}

// Segment is the part of an event that falls on one calendar day.
type Segment struct {
	Event Event `json:"event"`

	// Start / End are clipped to the day's [00:00, 24:00) window.
	Start time.Time `json:"start_time"`
	End   time.Time `json:"end_time"`

	// IsStart / IsEnd are true when the clipped boundary is the event's own.
	IsStart bool `json:"is_start"`
	IsEnd   bool `json:"is_end"`
}

// Continues reports whether the event runs past this segment's day.
func (s Segment) Continues() bool {
	return !s.IsEnd
}

// StringPtr returns a pointer to s, or nil for the empty string.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
