package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"schedcal/internal/agenda"
	"schedcal/internal/auth"
	"schedcal/internal/cache"
	"schedcal/internal/google"
	"schedcal/internal/model"
	"schedcal/internal/store"
)

// countingSource is an empty remote calendar that records fetches.
type countingSource struct {
	calls atomic.Int32
}

func (s *countingSource) Name() string { return "google" }

func (s *countingSource) Events(context.Context, string, time.Time, time.Time) ([]model.Event, error) {
	s.calls.Add(1)
	return nil, nil
}

type testEnv struct {
	srv     *Server
	authn   *auth.Authenticator
	token   string
	preview string
	remote  *countingSource
}

func newTestEnv(t *testing.T, withGoogle bool) *testEnv {
	t.Helper()
	remote := &countingSource{}
	svc := agenda.New(store.NewMemory(), cache.NewMemory(), agenda.Options{Location: time.UTC, WeekStart: time.Monday}, remote)

	hash, err := auth.HashPassword("hunter2")
	if err != nil {
		t.Fatal(err)
	}
	authn := auth.New("test-secret", time.Hour, []auth.User{{ID: "u1", Username: "alice", PasswordHash: hash}})

	var (
		oauth  *google.OAuth
		states *google.StateStore
	)
	if withGoogle {
		tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"access_token":"at","refresh_token":"rt","token_type":"Bearer","expires_in":3600}`))
		}))
		t.Cleanup(tokenServer.Close)
		oauth = google.NewOAuth(google.OAuthConfig{
			ClientID:    "cid",
			RedirectURL: "http://localhost/google/callback",
			Endpoint:    oauth2.Endpoint{AuthURL: tokenServer.URL + "/auth", TokenURL: tokenServer.URL + "/token"},
		}, google.NewFileTokenStore(t.TempDir()))
		states = google.NewStateStore(time.Minute)
	}

	preview := filepath.Join(t.TempDir(), "week.png")
	token, _, err := authn.Issue(auth.User{ID: "u1", Username: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	return &testEnv{
		srv:     NewServer(Options{PreviewPath: preview}, svc, authn, oauth, states),
		authn:   authn,
		token:   token,
		preview: preview,
		remote:  remote,
	}
}

func (e *testEnv) do(t *testing.T, method, target, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHealthAndLogin(t *testing.T) {
	env := newTestEnv(t, false)

	if rec := env.do(t, http.MethodGet, "/health", "", ""); rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Errorf("health = %d %q", rec.Code, rec.Body.String())
	}

	rec := env.do(t, http.MethodPost, "/api/login", `{"username":"alice","password":"hunter2"}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("login = %d %s", rec.Code, rec.Body.String())
	}
	login := decode[loginResponse](t, rec)
	if _, err := env.authn.Verify(login.Token); err != nil {
		t.Errorf("issued token does not verify: %v", err)
	}

	if rec := env.do(t, http.MethodPost, "/api/login", `{"username":"alice","password":"nope"}`, ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("bad login = %d", rec.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t, false)

	cases := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{"no token", "", "", http.StatusUnauthorized},
		{"basic scheme", "Basic YWxpY2U6aHVudGVyMg==", "", http.StatusUnauthorized},
		{"garbage bearer", "Bearer nope", "", http.StatusUnauthorized},
		{"bearer", "Bearer " + env.token, "", http.StatusOK},
		{"query token", "", "?token=" + url.QueryEscape(env.token), http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/week"+tc.query, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			env.srv.Handler().ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestEventCRUD(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodPost, "/api/events", `{
		"title": "Dentist",
		"start_time": "2024-01-16T14:00:00Z",
		"end_time": "2024-01-16T15:00:00Z"
	}`, env.token)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d %s", rec.Code, rec.Body.String())
	}
	created := decode[model.Event](t, rec)
	if created.ID == "" || created.UserID != "u1" || created.Status != model.StatusConfirmed {
		t.Errorf("created = %+v", created)
	}

	if rec := env.do(t, http.MethodGet, "/api/events/"+created.ID, "", env.token); rec.Code != http.StatusOK {
		t.Errorf("get = %d", rec.Code)
	}

	listed := decode[[]model.Event](t, env.do(t, http.MethodGet, "/api/events?from=2024-01-15", "", env.token))
	if len(listed) != 1 || listed[0].ID != created.ID {
		t.Errorf("list = %+v", listed)
	}
	if rec := env.do(t, http.MethodGet, "/api/events?from=2024-01-15&to=2024-01-15", "", env.token); rec.Code != http.StatusBadRequest {
		t.Errorf("empty range = %d", rec.Code)
	}

	other, _, _ := env.authn.Issue(auth.User{ID: "u2", Username: "bob"})
	if rec := env.do(t, http.MethodGet, "/api/events/"+created.ID, "", other); rec.Code != http.StatusForbidden {
		t.Errorf("get as other user = %d", rec.Code)
	}

	rec = env.do(t, http.MethodPut, "/api/events/"+created.ID, `{
		"title": "Dentist (moved)",
		"start_time": "2024-01-17T14:00:00Z",
		"end_time": "2024-01-17T15:00:00Z"
	}`, env.token)
	if rec.Code != http.StatusOK || decode[model.Event](t, rec).Title != "Dentist (moved)" {
		t.Errorf("update = %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/api/events", `{
		"title": "Backwards",
		"start_time": "2024-01-16T15:00:00Z",
		"end_time": "2024-01-16T14:00:00Z"
	}`, env.token)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid create = %d", rec.Code)
	}

	if rec := env.do(t, http.MethodDelete, "/api/events/"+created.ID, "", env.token); rec.Code != http.StatusNoContent {
		t.Errorf("delete = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/events/"+created.ID, "", env.token); rec.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d", rec.Code)
	}
}

func TestWeekAndCancel(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodPost, "/api/events", `{
		"title": "Weekly sync",
		"start_time": "2024-01-01T09:00:00Z",
		"end_time": "2024-01-01T10:00:00Z",
		"is_recurring": true,
		"recurrence_rule": "FREQ=WEEKLY;INTERVAL=1"
	}`, env.token)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d %s", rec.Code, rec.Body.String())
	}
	series := decode[model.Event](t, rec)

	w := decode[agenda.Week](t, env.do(t, http.MethodGet, "/api/week?date=2024-01-17", "", env.token))
	if len(w.Days) != 7 || w.Days[0].Date != model.NewDate(2024, 1, 15) || len(w.Days[0].Segments) != 1 {
		t.Fatalf("week = %+v", w)
	}
	if got := w.Days[0].Segments[0].Event.ID; got != series.ID+"-recurring-2024-01-15" {
		t.Errorf("occurrence id = %q", got)
	}

	rec = env.do(t, http.MethodPost, "/api/events/"+series.ID+"/cancel", `{"date":"2024-01-15"}`, env.token)
	if rec.Code != http.StatusCreated {
		t.Fatalf("cancel = %d %s", rec.Code, rec.Body.String())
	}
	w = decode[agenda.Week](t, env.do(t, http.MethodGet, "/api/week?date=2024-01-17", "", env.token))
	if len(w.Days[0].Segments) != 0 {
		t.Error("cancelled occurrence still rendered")
	}

	if rec := env.do(t, http.MethodPost, "/api/events/"+series.ID+"/cancel", `{"date":"2024-01-16"}`, env.token); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("cancel on a non-occurrence day = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/api/events/"+series.ID+"/cancel", `{"date":"soon"}`, env.token); rec.Code != http.StatusBadRequest {
		t.Errorf("cancel with bad date = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/week?date=2024-13-01", "", env.token); rec.Code != http.StatusBadRequest {
		t.Errorf("bad week date = %d", rec.Code)
	}
}

func TestWeekPage(t *testing.T) {
	env := newTestEnv(t, false)
	env.do(t, http.MethodPost, "/api/events", `{
		"title": "Conference",
		"start_time": "2024-01-16T09:00:00Z",
		"end_time": "2024-01-18T12:00:00Z"
	}`, env.token)

	rec := env.do(t, http.MethodGet, "/week?date=2024-01-17&token="+url.QueryEscape(env.token), "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("page = %d %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	for _, want := range []string{`data-ready="true"`, "Conference", "(continues)", `data-date="2024-01-15"`, "09:00-"} {
		if !strings.Contains(body, want) {
			t.Errorf("page missing %q", want)
		}
	}
}

func TestExport(t *testing.T) {
	env := newTestEnv(t, false)
	start := time.Now().Add(24 * time.Hour).UTC().Truncate(time.Hour)
	body := `{"title":"Soon","start_time":"` + start.Format(time.RFC3339) + `","end_time":"` + start.Add(time.Hour).Format(time.RFC3339) + `"}`
	if rec := env.do(t, http.MethodPost, "/api/events", body, env.token); rec.Code != http.StatusCreated {
		t.Fatalf("create = %d", rec.Code)
	}

	rec := env.do(t, http.MethodGet, "/api/export.ics", "", env.token)
	if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/calendar") {
		t.Fatalf("export = %d %s", rec.Code, rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(rec.Body.String(), "SUMMARY:Soon") {
		t.Errorf("export body = %s", rec.Body.String())
	}
}

func TestPreview(t *testing.T) {
	env := newTestEnv(t, false)
	if rec := env.do(t, http.MethodGet, "/preview.png", "", env.token); rec.Code != http.StatusNotFound {
		t.Errorf("missing preview = %d", rec.Code)
	}

	png := []byte("\x89PNG\r\n\x1a\n")
	if err := os.WriteFile(env.preview, png, 0o644); err != nil {
		t.Fatal(err)
	}
	rec := env.do(t, http.MethodGet, "/preview.png", "", env.token)
	if rec.Code != http.StatusOK || rec.Body.String() != string(png) {
		t.Errorf("preview = %d", rec.Code)
	}
}

func TestGoogleRoutes(t *testing.T) {
	disabled := newTestEnv(t, false)
	if rec := disabled.do(t, http.MethodGet, "/api/google/connect", "", disabled.token); rec.Code != http.StatusNotFound {
		t.Errorf("connect without google = %d", rec.Code)
	}

	env := newTestEnv(t, true)
	rec := env.do(t, http.MethodGet, "/api/google/connect", "", env.token)
	if rec.Code != http.StatusOK {
		t.Fatalf("connect = %d", rec.Code)
	}
	u, err := url.Parse(decode[connectResponse](t, rec).AuthURL)
	if err != nil || u.Query().Get("state") == "" {
		t.Fatalf("auth url = %v, %v", u, err)
	}

	if rec := env.do(t, http.MethodGet, "/api/google/connect?redirect=1", "", env.token); rec.Code != http.StatusFound {
		t.Errorf("connect redirect = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/google/callback?state=forged&code=x", "", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("forged state = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/google/callback?error=access_denied", "", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("denied = %d", rec.Code)
	}
}

func TestGoogleCallbackInvalidatesCachedWeeks(t *testing.T) {
	env := newTestEnv(t, true)

	for range 2 {
		if rec := env.do(t, http.MethodGet, "/api/week", "", env.token); rec.Code != http.StatusOK {
			t.Fatalf("week = %d %s", rec.Code, rec.Body.String())
		}
	}
	if got := env.remote.calls.Load(); got != 1 {
		t.Fatalf("remote fetched %d times before connecting, want 1", got)
	}

	rec := env.do(t, http.MethodGet, "/api/google/connect", "", env.token)
	u, err := url.Parse(decode[connectResponse](t, rec).AuthURL)
	if err != nil {
		t.Fatal(err)
	}
	callback := "/google/callback?code=abc&state=" + url.QueryEscape(u.Query().Get("state"))
	if rec := env.do(t, http.MethodGet, callback, "", ""); rec.Code != http.StatusOK {
		t.Fatalf("callback = %d %s", rec.Code, rec.Body.String())
	}

	if rec := env.do(t, http.MethodGet, "/api/week", "", env.token); rec.Code != http.StatusOK {
		t.Fatalf("week after connect = %d", rec.Code)
	}
	if got := env.remote.calls.Load(); got != 2 {
		t.Errorf("remote fetched %d times, want 2 after connecting", got)
	}
}
