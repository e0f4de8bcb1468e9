// Package store persists locally created events, keyed by event id.
package store

import (
	"context"
	"errors"
	"time"

	"schedcal/internal/model"
)

var ErrNotFound = errors.New("event not found")

// Store is the persistence collaborator for local events.
type Store interface {
	Get(ctx context.Context, id string) (model.Event, error)
	// Put inserts or replaces the event with ev.ID.
	Put(ctx context.Context, ev model.Event) error
	Delete(ctx context.Context, id string) error
	// List returns a user's events that can contribute to [from, to):
	// anything overlapping the range, every recurring anchor starting
	// before to, and cancellation records inside the range. Results are
	// ordered by start time, then id.
	List(ctx context.Context, userID string, from, to time.Time) ([]model.Event, error)
}

// relevant mirrors the List filter for implementations that scan in memory.
func relevant(ev model.Event, userID string, from, to time.Time) bool {
	if ev.UserID != userID {
		return false
	}
	if !ev.Start.Before(to) {
		return false
	}
	if ev.IsRecurring && ev.RecurrenceRule != nil {
		return true
	}
	return ev.End.After(from) || (ev.End.Equal(ev.Start) && !ev.Start.Before(from))
}
