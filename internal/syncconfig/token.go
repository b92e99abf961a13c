package syncconfig

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// TokenSource caches the bearer token and can follow auth.json changes.
// Get is safe for concurrent use.
type TokenSource struct {
	mu       sync.RWMutex
	token    string
	authPath string
	envToken string
}

// NewTokenSource loads the current token. VISTORIA_TOKEN, when set, pins the
// token and disables reloads.
func NewTokenSource() (*TokenSource, error) {
	path, err := AuthPath()
	if err != nil {
		return nil, err
	}
	ts := &TokenSource{authPath: path, envToken: os.Getenv("VISTORIA_TOKEN")}
	ts.reload()
	return ts, nil
}

// StaticToken returns a source that always yields tok
func StaticToken(tok string) *TokenSource {
	return &TokenSource{token: tok, envToken: tok}
}

// Get returns the current token, empty when logged out
func (ts *TokenSource) Get() string {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.token
}

func (ts *TokenSource) reload() {
	tok := ts.envToken
	if tok == "" && ts.authPath != "" {
		creds, err := loadAuthFile(ts.authPath)
		if err != nil {
			slog.Warn("read auth file", "path", ts.authPath, "err", err)
		} else if creds != nil {
			tok = creds.Token
		}
	}
	ts.mu.Lock()
	ts.token = tok
	ts.mu.Unlock()
}

// Watch reloads the token whenever auth.json is written, created or removed,
// until ctx is done. onChange, if set, is called after each reload.
func (ts *TokenSource) Watch(ctx context.Context, onChange func(token string)) error {
	if ts.envToken != "" || ts.authPath == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create auth watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory so atomic replace and first login are seen
	if err := watcher.Add(filepath.Dir(ts.authPath)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(ts.authPath), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(ts.authPath) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			before := ts.Get()
			ts.reload()
			after := ts.Get()
			slog.Debug("auth file changed", "op", event.Op.String(), "logged_in", after != "")
			if onChange != nil && before != after {
				onChange(after)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("auth watcher", "err", err)
		}
	}
}
