package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"schedcal/internal/model"
)

// Memory is an in-process Store used when no database is configured and
// in tests.
type Memory struct {
	mu     sync.RWMutex
	events map[string]model.Event
}

func NewMemory() *Memory {
	return &Memory{events: make(map[string]model.Event)}
}

func (m *Memory) Get(_ context.Context, id string) (model.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ev, ok := m.events[id]
	if !ok {
		return model.Event{}, ErrNotFound
	}
	return clone(ev), nil
}

func (m *Memory) Put(_ context.Context, ev model.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[ev.ID] = clone(ev)
	return nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[id]; !ok {
		return ErrNotFound
	}
	delete(m.events, id)
	return nil
}

func (m *Memory) List(_ context.Context, userID string, from, to time.Time) ([]model.Event, error) {
	m.mu.RLock()
	out := make([]model.Event, 0)
	for _, ev := range m.events {
		if relevant(ev, userID, from, to) {
			out = append(out, clone(ev))
		}
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b model.Event) int {
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out, nil
}

func clone(ev model.Event) model.Event {
	ev.ExceptionDates = slices.Clone(ev.ExceptionDates)
	return ev
}
