package web

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"schedcal/internal/ics"
	"schedcal/internal/model"
	"schedcal/internal/week"
)

// handleListEvents returns the user's local events.
//
// GET /api/events?from=2024-01-15&to=2024-01-22
// from defaults to the start of the current week, to to a week after from.
func (s *Server) handleListEvents(c echo.Context) error {
	first := week.Days(s.agenda.Today(), s.agenda.WeekStart())[0]
	if raw := c.QueryParam("from"); raw != "" {
		d, err := model.ParseDate(raw)
		if err != nil {
			return writeError(c, http.StatusBadRequest, "invalid from date")
		}
		first = d
	}
	last := first.AddDays(7)
	if raw := c.QueryParam("to"); raw != "" {
		d, err := model.ParseDate(raw)
		if err != nil {
			return writeError(c, http.StatusBadRequest, "invalid to date")
		}
		last = d
	}
	if !first.Before(last) {
		return writeError(c, http.StatusBadRequest, "from must be before to")
	}

	loc := s.agenda.Location()
	events, err := s.agenda.Events(c.Request().Context(), currentUser(c), first.In(loc), last.In(loc))
	if err != nil {
		return writeServiceError(c, err)
	}
	if events == nil {
		events = []model.Event{}
	}
	return c.JSON(http.StatusOK, events)
}

func (s *Server) handleCreateEvent(c echo.Context) error {
	var ev model.Event
	if err := c.Bind(&ev); err != nil {
		return writeError(c, http.StatusBadRequest, "invalid request body")
	}
	ev.ID = ""
	saved, err := s.agenda.Save(c.Request().Context(), currentUser(c), ev)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, saved)
}

func (s *Server) handleGetEvent(c echo.Context) error {
	ev, err := s.agenda.Get(c.Request().Context(), currentUser(c), c.Param("id"))
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, ev)
}

func (s *Server) handleUpdateEvent(c echo.Context) error {
	ctx := c.Request().Context()
	user := currentUser(c)
	if _, err := s.agenda.Get(ctx, user, c.Param("id")); err != nil {
		return writeServiceError(c, err)
	}

	var ev model.Event
	if err := c.Bind(&ev); err != nil {
		return writeError(c, http.StatusBadRequest, "invalid request body")
	}
	ev.ID = c.Param("id")
	saved, err := s.agenda.Save(ctx, user, ev)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, saved)
}

func (s *Server) handleDeleteEvent(c echo.Context) error {
	if err := s.agenda.Delete(c.Request().Context(), currentUser(c), c.Param("id")); err != nil {
		return writeServiceError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type cancelRequest struct {
	Date string `json:"date"`
}

// handleCancelOccurrence cancels one day of a recurring series.
//
// POST /api/events/:id/cancel {"date": "2024-01-15"}
func (s *Server) handleCancelOccurrence(c echo.Context) error {
	var req cancelRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, http.StatusBadRequest, "invalid request body")
	}
	day, err := model.ParseDate(req.Date)
	if err != nil {
		return writeError(c, http.StatusBadRequest, "invalid date")
	}
	cancel, err := s.agenda.CancelOccurrence(c.Request().Context(), currentUser(c), c.Param("id"), day)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, cancel)
}

// handleWeek returns the resolved segments of the week containing date.
//
// GET /api/week?date=2024-01-17
func (s *Server) handleWeek(c echo.Context) error {
	date, ok := s.dateParam(c)
	if !ok {
		return writeError(c, http.StatusBadRequest, "invalid date")
	}
	w, err := s.agenda.Week(c.Request().Context(), currentUser(c), date)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, w)
}

// handleExport writes the user's local events from the last year and the
// next two as an iCalendar document.
func (s *Server) handleExport(c echo.Context) error {
	now := time.Now()
	events, err := s.agenda.Events(c.Request().Context(), currentUser(c), now.AddDate(-1, 0, 0), now.AddDate(2, 0, 0))
	if err != nil {
		return writeServiceError(c, err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="schedcal.ics"`)
	return c.Blob(http.StatusOK, "text/calendar; charset=utf-8", []byte(ics.Export(events, now)))
}

// dateParam reads ?date=, defaulting to today.
func (s *Server) dateParam(c echo.Context) (model.Date, bool) {
	raw := c.QueryParam("date")
	if raw == "" {
		return s.agenda.Today(), true
	}
	d, err := model.ParseDate(raw)
	return d, err == nil
}
