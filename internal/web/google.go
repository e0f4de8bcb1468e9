package web

import (
	"net/http"

	"github.com/labstack/echo/v4"

	appLog "schedcal/internal/log"
)

type connectResponse struct {
	AuthURL string `json:"auth_url"`
}

// handleGoogleConnect starts the OAuth flow for the current user. With
// ?redirect=1 the browser is sent straight to Google.
func (s *Server) handleGoogleConnect(c echo.Context) error {
	if s.oauth == nil {
		return writeError(c, http.StatusNotFound, "google sync is not configured")
	}
	state, err := s.states.Issue(currentUser(c))
	if err != nil {
		return writeServiceError(c, err)
	}
	url := s.oauth.AuthURL(state)
	if c.QueryParam("redirect") == "1" {
		return c.Redirect(http.StatusFound, url)
	}
	return c.JSON(http.StatusOK, connectResponse{AuthURL: url})
}

// handleGoogleCallback finishes the OAuth flow. The user is identified by
// the state issued in handleGoogleConnect.
func (s *Server) handleGoogleCallback(c echo.Context) error {
	if s.oauth == nil {
		return writeError(c, http.StatusNotFound, "google sync is not configured")
	}
	if msg := c.QueryParam("error"); msg != "" {
		return writeError(c, http.StatusBadRequest, "authorization denied: "+msg)
	}

	userID, err := s.states.Consume(c.QueryParam("state"))
	if err != nil {
		return writeError(c, http.StatusBadRequest, err.Error())
	}
	code := c.QueryParam("code")
	if code == "" {
		return writeError(c, http.StatusBadRequest, "missing code")
	}

	if err := s.oauth.Connect(c.Request().Context(), userID, code); err != nil {
		appLog.Error("google connect failed", err, "user", userID)
		return writeError(c, http.StatusBadGateway, "could not connect google account")
	}
	appLog.Info("google account connected", "user", userID)
	if err := s.agenda.Invalidate(c.Request().Context(), userID); err != nil {
		appLog.Error("google connect: cache invalidation failed", err, "user", userID)
	}
	return c.String(http.StatusOK, "Google Calendar connected. You can close this window.")
}
