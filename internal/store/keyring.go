package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"

	"github.com/jwlerch78/dashieapp-staging-sub003/internal/core"
)

const (
	keyringService = "dashie"
	keyringAccount = "identity"
)

// KeyringTokenStore keeps the identity snapshot in the OS keychain /
// keyring. Preferred on desktop hosts where one is available.
type KeyringTokenStore struct {
	service string
}

func NewKeyringTokenStore() *KeyringTokenStore {
	return &KeyringTokenStore{service: keyringService}
}

func (s *KeyringTokenStore) Get(_ context.Context) (*core.Identity, error) {
	raw, err := keyring.Get(s.service, keyringAccount)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading identity from keyring: %w", err)
	}

	var ident core.Identity
	if err := json.Unmarshal([]byte(raw), &ident); err != nil {
		return nil, fmt.Errorf("parsing identity from keyring: %w", err)
	}
	return &ident, nil
}

func (s *KeyringTokenStore) Set(_ context.Context, ident *core.Identity) error {
	if ident == nil {
		return s.Clear(context.Background())
	}
	content, err := json.Marshal(ident)
	if err != nil {
		return fmt.Errorf("marshaling identity for keyring: %w", err)
	}
	if err := keyring.Set(s.service, keyringAccount, string(content)); err != nil {
		return fmt.Errorf("writing identity to keyring: %w", err)
	}
	return nil
}

func (s *KeyringTokenStore) Clear(_ context.Context) error {
	if err := keyring.Delete(s.service, keyringAccount); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("clearing identity from keyring: %w", err)
	}
	return nil
}
