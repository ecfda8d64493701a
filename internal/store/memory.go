package store

import (
	"context"
	"sync"

	"github.com/jwlerch78/dashieapp-staging-sub003/internal/core"
)

// InMemoryTokenStore keeps the identity snapshot for the process lifetime.
// Used on hosts without durable storage and in tests.
type InMemoryTokenStore struct {
	mu    sync.RWMutex
	ident *core.Identity
}

func NewInMemoryTokenStore() *InMemoryTokenStore {
	return &InMemoryTokenStore{}
}

func (s *InMemoryTokenStore) Get(_ context.Context) (*core.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.ident == nil {
		return nil, nil
	}
	ident := *s.ident
	return &ident, nil
}

func (s *InMemoryTokenStore) Set(_ context.Context, ident *core.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ident == nil {
		s.ident = nil
		return nil
	}
	cp := *ident
	s.ident = &cp
	return nil
}

func (s *InMemoryTokenStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ident = nil
	return nil
}

// InMemorySettingsStore is the local settings cache counterpart.
type InMemorySettingsStore struct {
	mu   sync.RWMutex
	data map[string]any
}

func NewInMemorySettingsStore() *InMemorySettingsStore {
	return &InMemorySettingsStore{}
}

func (s *InMemorySettingsStore) Get(_ context.Context) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.data == nil {
		return nil, nil
	}
	out := make(map[string]any, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out, nil
}

func (s *InMemorySettingsStore) Set(_ context.Context, data map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := make(map[string]any, len(data))
	for k, v := range data {
		cp[k] = v
	}
	s.data = cp
	return nil
}

func (s *InMemorySettingsStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = nil
	return nil
}
