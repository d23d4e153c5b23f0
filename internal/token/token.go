// Package token persists OAuth tokens between runs.
package token

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"golang.org/x/oauth2"

	"calmirror/internal/config"
)

// ErrNoToken is returned by Load when nothing has been stored yet.
var ErrNoToken = errors.New("no stored token")

// FileStore keeps a single token as JSON on disk with 0600 permissions.
type FileStore struct {
	path string
}

// NewFileStore creates a store backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

// Exists reports whether a token file is present.
func (s *FileStore) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Load reads the stored token.
func (s *FileStore) Load() (*oauth2.Token, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNoToken
		}
		return nil, err
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("decode token %s: %w", s.path, err)
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, ErrNoToken
	}
	return &tok, nil
}

// Save writes tok atomically.
func (s *FileStore) Save(tok *oauth2.Token) error {
	if tok == nil {
		return errors.New("token is nil")
	}
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return err
	}
	return config.WriteFileAtomic(s.path, data, ".calmirror-token-*.tmp")
}

// persistingSource writes every newly issued token back to the store.
type persistingSource struct {
	mu    sync.Mutex
	base  oauth2.TokenSource
	store *FileStore
	last  string
}

// Persisting wraps base so refreshed tokens are saved to store.
func Persisting(base oauth2.TokenSource, store *FileStore, current *oauth2.Token) oauth2.TokenSource {
	ps := &persistingSource{base: base, store: store}
	if current != nil {
		ps.last = current.AccessToken
	}
	return ps
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tok, err := p.base.Token()
	if err != nil {
		return nil, err
	}
	if tok.AccessToken != p.last {
		if err := p.store.Save(tok); err != nil {
			return nil, fmt.Errorf("persist refreshed token: %w", err)
		}
		p.last = tok.AccessToken
	}
	return tok, nil
}
