// Package google reads a user's Google Calendar and converts it into
// schedcal events.
package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
)

var (
	// ErrNotConnected means the user has not linked a Google account.
	ErrNotConnected = errors.New("google account not connected")
	ErrInvalidState = errors.New("oauth state is unknown or expired")
)

// OAuthConfig holds the OAuth client registration.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// Endpoint defaults to Google's when empty.
	Endpoint oauth2.Endpoint
}

// OAuth drives the authorization-code flow and hands out authenticated
// HTTP clients.
type OAuth struct {
	config *oauth2.Config
	tokens TokenStore
}

func NewOAuth(cfg OAuthConfig, tokens TokenStore) *OAuth {
	if cfg.Endpoint.TokenURL == "" {
		cfg.Endpoint = googleoauth.Endpoint
	}
	return &OAuth{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{calendar.CalendarReadonlyScope},
			Endpoint:     cfg.Endpoint,
		},
		tokens: tokens,
	}
}

// AuthURL is where the browser is sent to grant calendar access.
func (o *OAuth) AuthURL(state string) string {
	return o.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Connect exchanges an authorization code and stores the token for userID.
func (o *OAuth) Connect(ctx context.Context, userID, code string) error {
	token, err := o.config.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	if err := o.tokens.SaveToken(userID, token); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

// Disconnect forgets the user's token.
func (o *OAuth) Disconnect(userID string) error {
	return o.tokens.DeleteToken(userID)
}

// Connected reports whether a token is stored for userID.
func (o *OAuth) Connected(userID string) bool {
	token, err := o.tokens.LoadToken(userID)
	return err == nil && token != nil
}

// HTTPClient returns a client that refreshes and re-saves the user's token.
func (o *OAuth) HTTPClient(ctx context.Context, userID string) (*http.Client, error) {
	token, err := o.tokens.LoadToken(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load token: %w", err)
	}
	if token == nil {
		return nil, ErrNotConnected
	}

	source := &autoSaveTokenSource{
		source:     oauth2.ReuseTokenSource(token, o.config.TokenSource(ctx, token)),
		tokenStore: o.tokens,
		userID:     userID,
		lastToken:  token,
	}
	return oauth2.NewClient(ctx, source), nil
}

// StateStore issues single-use OAuth state values bound to a user.
type StateStore struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	states map[string]pendingState
}

type pendingState struct {
	userID    string
	expiresAt time.Time
}

func NewStateStore(ttl time.Duration) *StateStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &StateStore{ttl: ttl, now: time.Now, states: make(map[string]pendingState)}
}

// Issue returns a fresh state for userID.
func (s *StateStore) Issue(userID string) (string, error) {
	state, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("failed to generate oauth state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, p := range s.states {
		if !now.Before(p.expiresAt) {
			delete(s.states, k)
		}
	}
	s.states[state] = pendingState{userID: userID, expiresAt: now.Add(s.ttl)}
	return state, nil
}

// Consume resolves and invalidates a state.
func (s *StateStore) Consume(state string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.states[state]
	if !ok {
		return "", ErrInvalidState
	}
	delete(s.states, state)
	if !s.now().Before(p.expiresAt) {
		return "", ErrInvalidState
	}
	return p.userID, nil
}
