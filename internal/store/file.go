package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/jwlerch78/dashieapp-staging-sub003/internal/core"
)

// FileTokenStore persists the identity snapshot as JSON on disk, permissions
// 0600. Suitable for CLI and daemon hosts.
type FileTokenStore struct {
	mu   sync.Mutex
	path string
}

func NewFileTokenStore(path string) *FileTokenStore {
	return &FileTokenStore{path: path}
}

func (s *FileTokenStore) Get(_ context.Context) (*core.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	content, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading identity snapshot: %w", err)
	}

	var ident core.Identity
	if err := json.Unmarshal(content, &ident); err != nil {
		return nil, fmt.Errorf("parsing identity snapshot: %w", err)
	}
	return &ident, nil
}

func (s *FileTokenStore) Set(_ context.Context, ident *core.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ident == nil {
		return s.removeLocked()
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("creating snapshot dir: %w", err)
	}
	content, err := json.MarshalIndent(ident, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling identity snapshot: %w", err)
	}
	if err := os.WriteFile(s.path, content, 0o600); err != nil {
		return fmt.Errorf("writing identity snapshot: %w", err)
	}
	return nil
}

func (s *FileTokenStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked()
}

func (s *FileTokenStore) removeLocked() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing identity snapshot: %w", err)
	}
	return nil
}
