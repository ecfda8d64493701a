package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jwlerch78/dashieapp-staging-sub003/internal/core"
)

// DefaultNativeTimeout bounds a single native sign-in attempt.
const DefaultNativeTimeout = 30 * time.Second

// NativeBridgeProvider wraps the host's callback-based sign-in facility
// behind the common provider contract. The hook-swap mechanics (save,
// install one-shot, trigger, restore) stay entirely inside SignIn; callers
// only ever see an AuthResult or an error.
type NativeBridgeProvider struct {
	name    string
	bridge  core.NativeBridge
	timeout time.Duration

	mu    sync.Mutex
	token string
	user  *core.Identity
}

func NewNativeBridgeProvider(name string, bridge core.NativeBridge, timeout time.Duration) *NativeBridgeProvider {
	if timeout <= 0 {
		timeout = DefaultNativeTimeout
	}
	return &NativeBridgeProvider{
		name:    name,
		bridge:  bridge,
		timeout: timeout,
	}
}

func (p *NativeBridgeProvider) Name() string {
	return p.name
}

func (p *NativeBridgeProvider) Describe() core.ProviderDescriptor {
	return core.ProviderDescriptor{
		Name:                  p.name,
		Type:                  "native",
		SupportsRefreshTokens: false,
		Available:             p.bridge != nil && p.bridge.Available(),
	}
}

// Initialize queries the host for an already signed-in user, which counts as
// completing authentication without an explicit sign-in.
func (p *NativeBridgeProvider) Initialize(ctx context.Context) (*core.AuthResult, error) {
	if p.bridge == nil || !p.bridge.Available() {
		return nil, nil
	}
	user, err := p.bridge.CurrentUser(ctx)
	if err != nil || user == nil {
		// no restorable host session; not an error
		return nil, nil
	}
	p.mu.Lock()
	p.user = user
	p.token = user.ProviderAccessToken
	p.mu.Unlock()

	log.Debug().Str("provider", p.name).Str("sub", user.ID).Msg("restored native host session")
	return &core.AuthResult{Status: core.AuthCompleted, User: user, Provider: p.name}, nil
}

// SignIn runs the hook-swap protocol: save the current hook, install a
// one-shot replacement, fire the native trigger, and wait for the event, the
// 30-second deadline, or context cancellation. The prior hook is restored on
// every exit path; a hook must never outlive the logical call.
func (p *NativeBridgeProvider) SignIn(ctx context.Context) (*core.AuthResult, error) {
	if p.bridge == nil || !p.bridge.Available() {
		return nil, fmt.Errorf("native provider '%s': %w", p.name, core.ErrProviderUnavailable)
	}

	prev := p.bridge.SignInHook()

	events := make(chan core.SignInEvent, 1)
	var once sync.Once
	p.bridge.SetSignInHook(func(ev core.SignInEvent) {
		once.Do(func() {
			events <- ev
		})
	})
	defer p.bridge.SetSignInHook(prev)

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	p.bridge.TriggerSignIn() // fire-and-forget, no return value

	select {
	case ev := <-events:
		return p.handleEvent(ev)
	case <-timer.C:
		log.Warn().Str("provider", p.name).Dur("timeout", p.timeout).Msg("native sign-in deadline exceeded")
		return nil, core.ErrNativeTimeout
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.Canceled) {
			return &core.AuthResult{Status: core.AuthCancelled, Provider: p.name}, nil
		}
		return nil, ctx.Err()
	}
}

func (p *NativeBridgeProvider) handleEvent(ev core.SignInEvent) (*core.AuthResult, error) {
	if !ev.Success {
		if strings.Contains(strings.ToLower(ev.Error), "cancel") {
			return &core.AuthResult{Status: core.AuthCancelled, Provider: p.name}, nil
		}
		return nil, &core.AuthenticationError{Reason: fmt.Sprintf("native sign-in failed: %s", ev.Error)}
	}
	if ev.User == nil {
		return nil, &core.AuthenticationError{Reason: "native sign-in reported success without a user"}
	}

	user := *ev.User
	if user.AuthMethod == "" {
		user.AuthMethod = p.name
	}
	if user.ProviderAccessToken == "" {
		user.ProviderAccessToken = ev.Token
	}
	if user.SignedInAt.IsZero() {
		user.SignedInAt = time.Now()
	}

	p.mu.Lock()
	p.user = &user
	p.token = user.ProviderAccessToken
	p.mu.Unlock()

	log.Info().Str("provider", p.name).Str("sub", user.ID).Msg("native sign-in completed")
	return &core.AuthResult{Status: core.AuthCompleted, User: &user, Provider: p.name}, nil
}

func (p *NativeBridgeProvider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	p.token = ""
	p.user = nil
	p.mu.Unlock()

	if p.bridge == nil {
		return nil
	}
	if err := p.bridge.SignOut(ctx); err != nil {
		return fmt.Errorf("native sign-out: %w", err)
	}
	return nil
}

func (p *NativeBridgeProvider) AccessToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	token := p.token
	p.mu.Unlock()

	if token != "" {
		return token, nil
	}

	// the bridge may be able to hand us a fresher host session
	if p.bridge != nil && p.bridge.Available() {
		if user, err := p.bridge.CurrentUser(ctx); err == nil && user != nil && user.ProviderAccessToken != "" {
			p.mu.Lock()
			p.user = user
			p.token = user.ProviderAccessToken
			p.mu.Unlock()
			return user.ProviderAccessToken, nil
		}
	}
	return "", &core.AuthenticationError{Reason: "no native access token"}
}

// RefreshToken is always empty: the host owns token refresh on native
// surfaces.
func (p *NativeBridgeProvider) RefreshToken() string {
	return ""
}

func (p *NativeBridgeProvider) HasValidTokens() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.token != ""
}
