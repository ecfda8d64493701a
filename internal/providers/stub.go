package providers

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jwlerch78/dashieapp-staging-sub003/internal/core"
)

// StubProvider serves the "unsupported" strategy: hosts without any real
// sign-in facility still get a degraded mock identity so the dashboard
// renders something.
type StubProvider struct {
	name string
}

func NewStubProvider(name string) *StubProvider {
	return &StubProvider{name: name}
}

func (s *StubProvider) Name() string {
	return s.name
}

func (s *StubProvider) Describe() core.ProviderDescriptor {
	return core.ProviderDescriptor{
		Name:      s.name,
		Type:      "stub",
		Available: true,
	}
}

func (s *StubProvider) Initialize(ctx context.Context) (*core.AuthResult, error) {
	return nil, nil
}

func (s *StubProvider) SignIn(ctx context.Context) (*core.AuthResult, error) {
	log.Info().Str("provider", s.name).Msg("StubProvider SignIn called, issuing mock identity")
	user := &core.Identity{
		ID:         "stub-user",
		Email:      "demo@dashie.local",
		Name:       "Demo User",
		AuthMethod: s.name,
		SignedInAt: time.Now(),
	}
	return &core.AuthResult{Status: core.AuthCompleted, User: user, Provider: s.name}, nil
}

func (s *StubProvider) SignOut(ctx context.Context) error {
	return nil
}

func (s *StubProvider) AccessToken(ctx context.Context) (string, error) {
	return "", &core.AuthenticationError{Reason: "stub provider has no tokens"}
}

func (s *StubProvider) RefreshToken() string {
	return ""
}

func (s *StubProvider) HasValidTokens() bool {
	return false
}
