package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"schedcal/internal/agenda"
	"schedcal/internal/auth"
	"schedcal/internal/cache"
	"schedcal/internal/config"
	"schedcal/internal/google"
	"schedcal/internal/ics"
	appLog "schedcal/internal/log"
	"schedcal/internal/store"
	"schedcal/internal/web"
	"schedcal/internal/week"
)

// app holds the wired components of one process.
type app struct {
	conf *config.Config
	loc  *time.Location

	store    store.Store
	postgres *store.Postgres
	cache    cache.Cache
	agenda   *agenda.Service
	auth     *auth.Authenticator
	server   *web.Server

	closers []func() error
}

func newApp(ctx context.Context, conf *config.Config) (*app, error) {
	loc, err := conf.Location()
	if err != nil {
		return nil, err
	}
	a := &app{conf: conf, loc: loc}

	if conf.Database.DSN != "" {
		pg, err := store.OpenPostgres(ctx, store.PostgresConfig{
			DSN:             conf.Database.DSN,
			MaxOpenConns:    conf.Database.MaxOpenConns,
			MaxIdleConns:    conf.Database.MaxOpenConns / 2,
			ConnMaxLifetime: 30 * time.Minute,
		})
		if err != nil {
			return nil, err
		}
		a.postgres = pg
		a.store = pg
		a.closers = append(a.closers, pg.Close)
	} else {
		appLog.Info("database.dsn not set; events are kept in memory")
		a.store = store.NewMemory()
	}

	if conf.Redis.Addr != "" {
		rc, err := cache.NewRedis(ctx, cache.RedisConfig{
			Addr:     conf.Redis.Addr,
			Password: conf.Redis.Password,
			DB:       conf.Redis.DB,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		a.cache = rc
		a.closers = append(a.closers, rc.Close)
	} else {
		a.cache = cache.NewMemory()
	}

	var sources []agenda.Source
	var (
		oauth  *google.OAuth
		states *google.StateStore
	)
	if conf.Google.Enabled() {
		oauth = google.NewOAuth(google.OAuthConfig{
			ClientID:     conf.Google.ClientID,
			ClientSecret: conf.Google.ClientSecret,
			RedirectURL:  conf.Google.RedirectURL,
		}, google.NewFileTokenStore(conf.Google.TokenDir))
		states = google.NewStateStore(10 * time.Minute)
		sources = append(sources, google.NewClient(oauth, conf.Google.CalendarID, loc))
	}
	if len(conf.ICS) > 0 {
		feeds := make([]ics.Source, 0, len(conf.ICS))
		for _, c := range conf.ICS {
			feeds = append(feeds, ics.Source{ID: c.ID, Name: c.Name, URL: c.URL, User: c.User})
		}
		fetcher := ics.NewFetcher(filepath.Join(conf.DataDir, "ics-cache"), nil)
		sources = append(sources, ics.NewFeed(fetcher, feeds))
	}

	a.agenda = agenda.New(a.store, a.cache, agenda.Options{
		Location:  loc,
		WeekStart: week.ParseWeekStart(conf.WeekStart),
		CacheTTL:  conf.CacheTTL,
	}, sources...)

	users := make([]auth.User, 0, len(conf.Auth.Users))
	for _, u := range conf.Auth.Users {
		users = append(users, auth.User{ID: u.ID, Username: u.Username, PasswordHash: u.PasswordHash})
	}
	a.auth = auth.New(conf.Auth.JWTSecret, conf.Auth.TokenTTL, users)

	preview := ""
	if conf.Snapshot.Enabled {
		preview = conf.Snapshot.OutputPath
	}
	a.server = web.NewServer(web.Options{Listen: conf.Listen, PreviewPath: preview}, a.agenda, a.auth, oauth, states)

	appLog.Info("components ready",
		"store", storeKind(a.postgres),
		"redis", conf.Redis.Addr != "",
		"google", conf.Google.Enabled(),
		"ics_count", len(conf.ICS),
		"users", len(users),
	)
	return a, nil
}

func storeKind(pg *store.Postgres) string {
	if pg != nil {
		return "postgres"
	}
	return "memory"
}

// migrate applies the schema. It needs a configured database.
func (a *app) migrate(ctx context.Context) error {
	if a.postgres == nil {
		return errors.New("migrate: database.dsn is not configured")
	}
	return a.postgres.Migrate(ctx)
}

// localBaseURL is how the snapshot browser reaches this process.
func (a *app) localBaseURL() string {
	listen := a.conf.Listen
	if strings.HasPrefix(listen, ":") {
		listen = "127.0.0.1" + listen
	}
	host, port, ok := strings.Cut(listen, ":")
	if ok && (host == "0.0.0.0" || host == "") {
		listen = "127.0.0.1:" + port
	}
	return "http://" + listen
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			appLog.Error("close failed", err)
		}
	}
	a.closers = nil
}

func (a *app) snapshotToken() (string, error) {
	u, ok := a.auth.UserByID(a.conf.Snapshot.User)
	if !ok {
		return "", fmt.Errorf("snapshot user %q is not configured", a.conf.Snapshot.User)
	}
	token, _, err := a.auth.Issue(u)
	return token, err
}

// waitForServer polls /health until the listener answers.
func (a *app) waitForServer(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.localBaseURL()+"/health", nil)
		if err != nil {
			return err
		}
		if resp, err := http.DefaultClient.Do(req); err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("server not ready: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}
