package google

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"golang.org/x/oauth2"
)

// TokenStore saves and loads OAuth tokens per user.
type TokenStore interface {
	SaveToken(userID string, token *oauth2.Token) error
	// LoadToken returns nil, nil when the user has never connected.
	LoadToken(userID string) (*oauth2.Token, error)
	DeleteToken(userID string) error
}

// FileTokenStore keeps one JSON file per user under Dir.
type FileTokenStore struct {
	Dir string
}

func NewFileTokenStore(dir string) *FileTokenStore {
	return &FileTokenStore{Dir: dir}
}

var safeUserID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

func (store *FileTokenStore) path(userID string) string {
	name := userID
	if !safeUserID.MatchString(userID) {
		sum := sha256.Sum256([]byte(userID))
		name = hex.EncodeToString(sum[:12])
	}
	return filepath.Join(store.Dir, name+".json")
}

func (store *FileTokenStore) SaveToken(userID string, token *oauth2.Token) error {
	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}
	if err := os.MkdirAll(store.Dir, 0o700); err != nil {
		return fmt.Errorf("failed to create token dir: %w", err)
	}
	if err := os.WriteFile(store.path(userID), data, 0o600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	return nil
}

func (store *FileTokenStore) LoadToken(userID string) (*oauth2.Token, error) {
	data, err := os.ReadFile(store.path(userID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}

	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token: %w", err)
	}
	return &token, nil
}

func (store *FileTokenStore) DeleteToken(userID string) error {
	err := os.Remove(store.path(userID))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete token file: %w", err)
	}
	return nil
}

// autoSaveTokenSource persists a token whenever the wrapped source
// refreshes it.
type autoSaveTokenSource struct {
	mu         sync.Mutex
	source     oauth2.TokenSource
	tokenStore TokenStore
	userID     string
	lastToken  *oauth2.Token
}

func (a *autoSaveTokenSource) Token() (*oauth2.Token, error) {
	token, err := a.source.Token()
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lastToken == nil || a.lastToken.AccessToken != token.AccessToken {
		if err := a.tokenStore.SaveToken(a.userID, token); err != nil {
			return nil, fmt.Errorf("failed to save refreshed token: %w", err)
		}
		a.lastToken = token
	}
	return token, nil
}
