package web

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"

	"schedcal/internal/agenda"
	appLog "schedcal/internal/log"
	"schedcal/internal/model"
)

//go:embed templates
var templates embed.FS

var pageFuncs = template.FuncMap{
	"clock": func(seg model.Segment) string {
		if !seg.IsStart && !seg.IsEnd {
			return "all day"
		}
		start, end := "", ""
		if seg.IsStart {
			start = seg.Start.Format("15:04")
		}
		if seg.IsEnd {
			end = seg.End.Format("15:04")
		}
		return start + "-" + end
	},
	"weekday": func(d model.Date) string {
		return d.Weekday().String()[:3]
	},
}

type weekPage struct {
	Week  agenda.Week
	Today model.Date
}

// handleWeekPage renders the week grid. The root element carries
// data-ready="true" once the page is complete.
func (s *Server) handleWeekPage(c echo.Context) error {
	date, ok := s.dateParam(c)
	if !ok {
		return writeError(c, http.StatusBadRequest, "invalid date")
	}
	w, err := s.agenda.Week(c.Request().Context(), currentUser(c), date)
	if err != nil {
		return writeServiceError(c, err)
	}

	var buf bytes.Buffer
	if err := s.page.Execute(&buf, weekPage{Week: w, Today: s.agenda.Today()}); err != nil {
		appLog.Error("week page render failed", err)
		return writeError(c, http.StatusInternalServerError, "render failed")
	}
	return c.HTMLBlob(http.StatusOK, buf.Bytes())
}

// handlePreview serves the last captured snapshot.
func (s *Server) handlePreview(c echo.Context) error {
	if s.opts.PreviewPath == "" {
		return writeError(c, http.StatusNotFound, "snapshots are disabled")
	}
	if _, err := os.Stat(s.opts.PreviewPath); err != nil {
		return writeError(c, http.StatusNotFound, "no snapshot yet")
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
	return c.File(s.opts.PreviewPath)
}
