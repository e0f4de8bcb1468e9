// Package agenda assembles a user's week from the local store and the
// remote calendars, then resolves it into per-day segments.
package agenda

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"schedcal/internal/cache"
	appLog "schedcal/internal/log"
	"schedcal/internal/model"
	"schedcal/internal/recur"
	"schedcal/internal/store"
	"schedcal/internal/week"
)

var (
	ErrForbidden    = errors.New("event belongs to another user")
	ErrNotRecurring = errors.New("event is not a recurring series")
	ErrNotOccurring = errors.New("series has no occurrence on that day")
	ErrInvalidEvent = errors.New("invalid event")
)

// Source is a remote calendar that contributes raw events.
type Source interface {
	Name() string
	Events(ctx context.Context, userID string, from, to time.Time) ([]model.Event, error)
}

type Options struct {
	Location  *time.Location
	WeekStart time.Weekday
	// CacheTTL bounds how long remote results are reused.
	CacheTTL time.Duration
}

// Service builds resolved weeks.
type Service struct {
	store   store.Store
	cache   cache.Cache
	sources []Source

	loc       *time.Location
	weekStart time.Weekday
	ttl       time.Duration
	now       func() time.Time
}

func New(st store.Store, c cache.Cache, opts Options, sources ...Source) *Service {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	if c == nil {
		c = cache.NewMemory()
	}
	return &Service{
		store:     st,
		cache:     c,
		sources:   sources,
		loc:       opts.Location,
		weekStart: opts.WeekStart,
		ttl:       opts.CacheTTL,
		now:       time.Now,
	}
}

// Week is one resolved week for a user.
type Week struct {
	UserID   string     `json:"user_id"`
	Timezone string     `json:"timezone"`
	Days     []week.Day `json:"days"`
	// Unavailable lists remote sources that failed for this request.
	Unavailable []string `json:"unavailable,omitempty"`
}

// Location is the zone calendar days are resolved in.
func (s *Service) Location() *time.Location { return s.loc }

func (s *Service) WeekStart() time.Weekday { return s.weekStart }

// Today is the current calendar day in the service's zone.
func (s *Service) Today() model.Date {
	return model.DateOf(s.now().In(s.loc))
}

// Week resolves the week containing date. A failing remote source is
// logged and reported in Week.Unavailable; only a store failure fails the
// call.
func (s *Service) Week(ctx context.Context, userID string, date model.Date) (Week, error) {
	days := week.Days(date, s.weekStart)
	from := days[0].In(s.loc)
	to := days[len(days)-1].AddDays(1).In(s.loc)

	batches := make([][]model.Event, len(s.sources)+1)
	failed := make([]bool, len(s.sources))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		events, err := s.store.List(gctx, userID, from, to)
		if err != nil {
			return fmt.Errorf("agenda: list local events: %w", err)
		}
		batches[0] = events
		return nil
	})
	gen := s.generation(ctx, userID)
	for i, src := range s.sources {
		g.Go(func() error {
			events, err := s.remoteEvents(gctx, src, userID, gen, days[0], from, to)
			if err != nil {
				appLog.Error("agenda: remote source failed", err, "source", src.Name(), "user", userID)
				failed[i] = true
				return nil
			}
			batches[i+1] = events
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Week{}, err
	}

	var merged []model.Event
	for _, b := range batches {
		merged = append(merged, b...)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Start.Before(merged[j].Start)
	})

	res := week.Resolve(merged, days, s.loc)
	for _, d := range res.Dropped {
		appLog.Error("agenda: dropped event with unusable time range", d.Err, "id", d.EventID, "user", userID)
	}

	out := Week{UserID: userID, Timezone: s.loc.String(), Days: res.Days}
	for i, src := range s.sources {
		if failed[i] {
			out.Unavailable = append(out.Unavailable, src.Name())
		}
	}
	appLog.Debug("agenda: week resolved", "user", userID, "start", days[0].String(), "events", len(merged), "segments", res.Count())
	return out, nil
}

func (s *Service) cacheKey(src Source, userID, gen string, first model.Date) string {
	return fmt.Sprintf("events:%s:%s:%s:%s", src.Name(), userID, gen, first)
}

func generationKey(userID string) string {
	return "events:gen:" + userID
}

// generation is the user's current cache generation. Remote results are
// keyed by it, so bumping it drops every cached week at once.
func (s *Service) generation(ctx context.Context, userID string) string {
	gen, err := s.cache.Get(ctx, generationKey(userID))
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			appLog.Error("agenda: cache generation read failed", err, "user", userID)
		}
		return "0"
	}
	return string(gen)
}

// Invalidate drops the cached remote results of every week for userID.
func (s *Service) Invalidate(ctx context.Context, userID string) error {
	// Entries written under the old generation expire within one TTL, so the
	// marker only has to outlive them.
	if err := s.cache.Set(ctx, generationKey(userID), []byte(uuid.NewString()), s.ttl); err != nil {
		return fmt.Errorf("agenda: invalidate %s: %w", userID, err)
	}
	return nil
}

func (s *Service) remoteEvents(ctx context.Context, src Source, userID, gen string, first model.Date, from, to time.Time) ([]model.Event, error) {
	key := s.cacheKey(src, userID, gen, first)

	var cached []model.Event
	hit, err := cache.GetJSON(ctx, s.cache, key, &cached)
	if err != nil {
		appLog.Error("agenda: cache read failed", err, "key", key)
	}
	if hit {
		return cached, nil
	}

	events, err := src.Events(ctx, userID, from, to)
	if err != nil {
		return nil, err
	}
	if err := cache.SetJSON(ctx, s.cache, key, events, s.ttl); err != nil {
		appLog.Error("agenda: cache write failed", err, "key", key)
	}
	return events, nil
}

// Refresh drops the cached remote results and resolves the current week
// again.
func (s *Service) Refresh(ctx context.Context, userID string) (Week, error) {
	today := s.Today()
	first := week.Days(today, s.weekStart)[0]
	if err := s.Invalidate(ctx, userID); err != nil {
		appLog.Error("agenda: cache invalidation failed", err, "user", userID)
	}

	w, err := s.Week(ctx, userID, today)
	if err != nil {
		return Week{}, err
	}
	appLog.Info("agenda: refreshed", "user", userID, "start", first.String(), "unavailable", len(w.Unavailable))
	return w, nil
}

// Events lists the user's local events touching [from, to).
func (s *Service) Events(ctx context.Context, userID string, from, to time.Time) ([]model.Event, error) {
	return s.store.List(ctx, userID, from, to)
}

// Get returns a local event owned by userID.
func (s *Service) Get(ctx context.Context, userID, id string) (model.Event, error) {
	ev, err := s.store.Get(ctx, id)
	if err != nil {
		return model.Event{}, err
	}
	if ev.UserID != userID {
		return model.Event{}, ErrForbidden
	}
	return ev, nil
}

// Save validates ev and stores it for userID. An empty ID creates a new
// event.
func (s *Service) Save(ctx context.Context, userID string, ev model.Event) (model.Event, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	} else if existing, err := s.store.Get(ctx, ev.ID); err == nil && existing.UserID != userID {
		return model.Event{}, ErrForbidden
	} else if err != nil && !errors.Is(err, store.ErrNotFound) {
		return model.Event{}, err
	}

	ev.UserID = userID
	ev.AnchorID = ""
	if ev.Status == "" {
		ev.Status = model.StatusConfirmed
	}
	if ev.Source == "" {
		ev.Source = model.SourceLocal
	}
	if err := ev.Validate(); err != nil && !ev.Cancelled() {
		return model.Event{}, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	if err := s.store.Put(ctx, ev); err != nil {
		return model.Event{}, err
	}
	return ev, nil
}

// Delete removes a local event owned by userID.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return err
	}
	return s.store.Delete(ctx, id)
}

// CancelOccurrence records that one occurrence of a local series does not
// happen. The cancellation starts at the occurrence's own start time.
func (s *Service) CancelOccurrence(ctx context.Context, userID, id string, day model.Date) (model.Event, error) {
	anchor, err := s.Get(ctx, userID, id)
	if err != nil {
		return model.Event{}, err
	}
	if !anchor.IsRecurring || anchor.RecurrenceRule == nil {
		return model.Event{}, ErrNotRecurring
	}

	anchor.Start = anchor.Start.In(s.loc)
	anchor.End = anchor.End.In(s.loc)
	if !recur.Matches(anchor.Start, recur.Parse(anchor.RecurrenceRule), anchor.ExceptionDates, day) {
		return model.Event{}, ErrNotOccurring
	}

	occ := recur.Materialize(anchor, day)
	seriesID := anchor.SeriesID()
	cancel := model.Event{
		ID:           uuid.NewString(),
		UserID:       userID,
		Title:        anchor.Title,
		Start:        occ.Start,
		End:          occ.Start,
		RecurrenceID: &seriesID,
		Status:       model.StatusCancelled,
		Source:       model.SourceLocal,
	}
	if err := s.store.Put(ctx, cancel); err != nil {
		return model.Event{}, err
	}
	appLog.Info("agenda: occurrence cancelled", "user", userID, "series", seriesID, "day", day.String())
	return cancel, nil
}
