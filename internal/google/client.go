package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	appLog "schedcal/internal/log"
	"schedcal/internal/model"
)

// Client lists a user's Google Calendar events as schedcal events.
type Client struct {
	oauth      *OAuth
	calendarID string
	loc        *time.Location
	cb         *gobreaker.CircuitBreaker
}

// NewClient builds a Client reading calendarID ("primary" when empty).
// All-day entries are placed in loc.
func NewClient(oauth *OAuth, calendarID string, loc *time.Location) *Client {
	if calendarID == "" {
		calendarID = "primary"
	}
	if loc == nil {
		loc = time.Local
	}

	cbSettings := gobreaker.Settings{
		Name:        "google-calendar",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		// A rejected request says nothing about the API's health.
		IsSuccessful: func(err error) bool {
			return err == nil || isClientError(err) || errors.Is(err, ErrNotConnected)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			appLog.Info("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	}

	return &Client{
		oauth:      oauth,
		calendarID: calendarID,
		loc:        loc,
		cb:         gobreaker.NewCircuitBreaker(cbSettings),
	}
}

func (c *Client) Name() string { return string(model.SourceGoogle) }

// Events returns the raw series masters, cancellations and one-off events
// overlapping [from, to). Users without a linked account get no events.
func (c *Client) Events(ctx context.Context, userID string, from, to time.Time) ([]model.Event, error) {
	result, err := c.cb.Execute(func() (interface{}, error) {
		return c.list(ctx, userID, from, to)
	})
	if errors.Is(err, ErrNotConnected) {
		appLog.Debug("google calendar not connected", "user", userID)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("google calendar: %w", err)
	}
	return result.([]model.Event), nil
}

// CircuitOpen reports whether calls are currently being short-circuited.
func (c *Client) CircuitOpen() bool {
	return c.cb.State() == gobreaker.StateOpen
}

func (c *Client) list(ctx context.Context, userID string, from, to time.Time) ([]model.Event, error) {
	httpClient, err := c.oauth.HTTPClient(ctx, userID)
	if err != nil {
		return nil, err
	}
	svc, err := calendar.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}

	var out []model.Event
	call := svc.Events.List(c.calendarID).
		ShowDeleted(true).
		SingleEvents(false).
		TimeMin(from.Format(time.RFC3339)).
		TimeMax(to.Format(time.RFC3339)).
		MaxResults(250)
	err = call.Pages(ctx, func(page *calendar.Events) error {
		for _, item := range page.Items {
			out = append(out, ConvertEvent(item, userID, c.loc)...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	appLog.Info("google calendar fetched", "user", userID, "calendar", c.calendarID, "events", len(out))
	return out, nil
}

func isClientError(err error) bool {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.Code {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusGone:
		return true
	}
	return false
}
