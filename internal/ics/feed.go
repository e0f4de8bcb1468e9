package ics

import (
	"context"
	"errors"
	"fmt"
	"time"

	appLog "schedcal/internal/log"
	"schedcal/internal/model"
)

// Feed serves the subscribed feeds as an event source.
type Feed struct {
	fetcher *Fetcher
	sources []Source
}

func NewFeed(fetcher *Fetcher, sources []Source) *Feed {
	return &Feed{fetcher: fetcher, sources: sources}
}

func (f *Feed) Name() string { return string(model.SourceICS) }

// Sources returns the feeds visible to userID.
func (f *Feed) Sources(userID string) []Source {
	var out []Source
	for _, src := range f.sources {
		if src.User == "" || src.User == userID {
			out = append(out, src)
		}
	}
	return out
}

// Events fetches every feed visible to userID. A failing feed is logged
// and skipped; an error is returned only when all of them fail.
func (f *Feed) Events(ctx context.Context, userID string, from, to time.Time) ([]model.Event, error) {
	sources := f.Sources(userID)
	var (
		out  []model.Event
		errs []error
	)
	for _, src := range sources {
		res, err := f.fetcher.Fetch(ctx, src)
		if err != nil {
			appLog.Error("ics fetch failed", err, "id", src.ID, "url", redactURL(src.URL))
			errs = append(errs, fmt.Errorf("%s: %w", src.ID, err))
			continue
		}
		parsed, err := ParseICS(src, res.Body)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", src.ID, err))
			continue
		}
		for _, ev := range ToEvents(src, parsed, userID) {
			if overlaps(ev, from, to) {
				out = append(out, ev)
			}
		}
	}

	if len(sources) > 0 && len(errs) == len(sources) {
		return nil, errors.Join(errs...)
	}
	return out, nil
}
