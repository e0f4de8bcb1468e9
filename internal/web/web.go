// Package web serves the JSON API and the rendered week page.
package web

import (
	"context"
	"errors"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"schedcal/internal/agenda"
	"schedcal/internal/auth"
	"schedcal/internal/google"
	appLog "schedcal/internal/log"
	"schedcal/internal/store"
)

const userIDKey = "user_id"

// Options configures a Server.
type Options struct {
	Listen string
	// PreviewPath is the PNG served at /preview.png.
	PreviewPath string
}

// Server wires the HTTP routes to the agenda service.
type Server struct {
	echo   *echo.Echo
	opts   Options
	agenda *agenda.Service
	auth   *auth.Authenticator

	// oauth and states are nil when Google sync is disabled.
	oauth  *google.OAuth
	states *google.StateStore

	page *template.Template
}

func NewServer(opts Options, svc *agenda.Service, authn *auth.Authenticator, oauth *google.OAuth, states *google.StateStore) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:   e,
		opts:   opts,
		agenda: svc,
		auth:   authn,
		oauth:  oauth,
		states: states,
		page:   template.Must(template.New("week.html").Funcs(pageFuncs).ParseFS(templates, "templates/week.html")),
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURIPath:   true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			kv := []any{"method", v.Method, "path", v.URIPath, "status", v.Status, "latency", v.Latency.String(), "request_id", v.RequestID}
			if v.Error != nil {
				appLog.Error("http request failed", v.Error, kv...)
				return nil
			}
			appLog.Debug("http request", kv...)
			return nil
		},
	}))

	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on opts.Listen until Shutdown is called.
func (s *Server) Start() error {
	appLog.Info("starting HTTP server", "listen", "http://"+s.opts.Listen)
	err := s.echo.Start(s.opts.Listen)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.POST("/api/login", s.handleLogin)
	s.echo.GET("/google/callback", s.handleGoogleCallback)

	api := s.echo.Group("/api", s.requireAuth)
	api.GET("/events", s.handleListEvents)
	api.POST("/events", s.handleCreateEvent)
	api.GET("/events/:id", s.handleGetEvent)
	api.PUT("/events/:id", s.handleUpdateEvent)
	api.DELETE("/events/:id", s.handleDeleteEvent)
	api.POST("/events/:id/cancel", s.handleCancelOccurrence)
	api.GET("/week", s.handleWeek)
	api.GET("/export.ics", s.handleExport)
	api.GET("/google/connect", s.handleGoogleConnect)

	s.echo.GET("/week", s.handleWeekPage, s.requireAuth)
	s.echo.GET("/preview.png", s.handlePreview, s.requireAuth)
}

// requireAuth accepts a Bearer header or a token query parameter, the
// latter for headless captures and plain browser links.
func (s *Server) requireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := c.QueryParam("token")
		if h := c.Request().Header.Get(echo.HeaderAuthorization); h != "" {
			scheme, value, ok := strings.Cut(h, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") {
				return writeError(c, http.StatusUnauthorized, "unsupported authorization scheme")
			}
			token = strings.TrimSpace(value)
		}
		if token == "" {
			return writeError(c, http.StatusUnauthorized, "missing token")
		}
		claims, err := s.auth.Verify(token)
		if err != nil {
			return writeError(c, http.StatusUnauthorized, err.Error())
		}
		c.Set(userIDKey, claims.Subject)
		return next(c)
	}
}

func currentUser(c echo.Context) string {
	id, _ := c.Get(userIDKey).(string)
	return id
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *Server) handleLogin(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, http.StatusBadRequest, "invalid request body")
	}
	token, expires, err := s.auth.Login(req.Username, req.Password)
	if err != nil {
		appLog.Info("login rejected", "username", req.Username)
		return writeError(c, http.StatusUnauthorized, err.Error())
	}
	return c.JSON(http.StatusOK, loginResponse{Token: token, ExpiresAt: expires})
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(c echo.Context, status int, msg string) error {
	return c.JSON(status, errorResponse{Error: msg})
}

// writeServiceError maps agenda and store errors to HTTP statuses.
func writeServiceError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, agenda.ErrForbidden):
		return writeError(c, http.StatusForbidden, err.Error())
	case errors.Is(err, agenda.ErrInvalidEvent):
		return writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, agenda.ErrNotRecurring), errors.Is(err, agenda.ErrNotOccurring):
		return writeError(c, http.StatusUnprocessableEntity, err.Error())
	}
	appLog.Error("request failed", err, "path", c.Path(), "user", currentUser(c))
	return writeError(c, http.StatusInternalServerError, "internal error")
}
