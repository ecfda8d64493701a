package providers

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/rs/xid"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/jwlerch78/dashieapp-staging-sub003/internal/config"
	"github.com/jwlerch78/dashieapp-staging-sub003/internal/core"
	"github.com/jwlerch78/dashieapp-staging-sub003/internal/identity"
	"github.com/jwlerch78/dashieapp-staging-sub003/internal/queue"
)

// CallbackSource exposes the pending OAuth redirect of the current
// navigation, if any. Clear must make a replay impossible: after it returns,
// the same code is never delivered again.
type CallbackSource interface {
	Pending() (url.Values, bool)
	Clear()
}

// URLOpener hands an authorization URL to the host (browser, web view).
type URLOpener func(rawurl string) error

type WebCodeFlowConfig struct {
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	RedirectURL  string   `mapstructure:"redirect_url"`
	IssuerURL    string   `mapstructure:"issuer_url"`
	Scopes       []string `mapstructure:"scopes"`

	// TokenProvider and AccountType form the key under which long-lived
	// tokens from this provider are stored at the backend.
	TokenProvider string `mapstructure:"token_provider"`
	AccountType   string `mapstructure:"account_type"`
}

// WebCodeFlowProvider implements the authorization-code, offline-access flow
// for desktop browsers and embedded web views. Sign-in triggers an external
// redirect and resolves later, when Initialize consumes the callback.
type WebCodeFlowProvider struct {
	name     string
	oauth    oauth2.Config
	resolver *identity.Resolver
	callback CallbackSource
	openURL  URLOpener
	deferred *queue.Deferred

	tokenProvider string
	accountType   string

	mu           sync.Mutex
	pendingState string
	forceSelect  bool
	tokens       *core.ProviderTokenSet
	refreshTok   string
	user         *core.Identity
}

func NewWebCodeFlowProvider(
	ctx context.Context,
	cfg config.ProviderConfig,
	callback CallbackSource,
	openURL URLOpener,
	deferred *queue.Deferred,
) (*WebCodeFlowProvider, error) {
	var conf WebCodeFlowConfig
	if err := mapstructure.Decode(cfg.Config, &conf); err != nil {
		return nil, fmt.Errorf("decoding config for web_oauth provider '%s': %w", cfg.Name, err)
	}

	resolver, err := identity.NewResolver(ctx, conf.IssuerURL, conf.ClientID)
	if err != nil {
		return nil, fmt.Errorf("building resolver for web_oauth provider '%s': %w", cfg.Name, err)
	}

	scopes := conf.Scopes
	if len(scopes) == 0 {
		scopes = []string{"openid", "email", "profile"}
	}
	if conf.TokenProvider == "" {
		conf.TokenProvider = "google"
	}
	if conf.AccountType == "" {
		conf.AccountType = "personal"
	}

	return &WebCodeFlowProvider{
		name: cfg.Name,
		oauth: oauth2.Config{
			ClientID:     conf.ClientID,
			ClientSecret: conf.ClientSecret,
			RedirectURL:  conf.RedirectURL,
			Endpoint:     resolver.Endpoint(),
			Scopes:       scopes,
		},
		resolver:      resolver,
		callback:      callback,
		openURL:       openURL,
		deferred:      deferred,
		tokenProvider: conf.TokenProvider,
		accountType:   conf.AccountType,
	}, nil
}

func (p *WebCodeFlowProvider) Name() string {
	return p.name
}

func (p *WebCodeFlowProvider) Describe() core.ProviderDescriptor {
	return core.ProviderDescriptor{
		Name:                  p.name,
		Type:                  "web_oauth",
		SupportsRefreshTokens: true,
		Available:             p.oauth.ClientID != "" && p.oauth.RedirectURL != "",
	}
}

// Initialize resumes a pending redirect callback: it exchanges the
// completion code, fetches the profile, queues the refresh token for
// deferred persistence, and clears the callback so a reload cannot
// re-process the same code. Returns (nil, nil) when there is nothing to
// resume.
func (p *WebCodeFlowProvider) Initialize(ctx context.Context) (*core.AuthResult, error) {
	if p.callback == nil {
		return nil, nil
	}
	vals, ok := p.callback.Pending()
	if !ok {
		return nil, nil
	}
	// consume exactly once, also on the error paths
	defer p.callback.Clear()

	if errCode := vals.Get("error"); errCode != "" {
		return nil, p.classifyCallbackError(errCode, vals.Get("error_description"))
	}

	code := vals.Get("code")
	if code == "" {
		return nil, nil
	}

	p.mu.Lock()
	wantState := p.pendingState
	p.pendingState = ""
	p.mu.Unlock()
	if wantState != "" && vals.Get("state") != wantState {
		return nil, &core.AuthenticationError{Reason: "state parameter mismatch"}
	}

	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, &core.AuthenticationError{Reason: "code exchange failed", Wrapped: err}
	}

	return p.completeSignIn(ctx, token)
}

// SignIn builds the offline-access authorization request and hands it to the
// host. It resolves to a pending marker; the flow completes on a later
// Initialize.
func (p *WebCodeFlowProvider) SignIn(ctx context.Context) (*core.AuthResult, error) {
	if d := p.Describe(); !d.Available {
		return nil, fmt.Errorf("web_oauth provider '%s': %w", p.name, core.ErrProviderUnavailable)
	}

	state := xid.New().String()
	p.mu.Lock()
	p.pendingState = state
	prompt := "consent"
	if p.forceSelect {
		// forced retry after a stale cached-session conflict
		prompt = "select_account consent"
		p.forceSelect = false
	}
	p.mu.Unlock()

	authURL := p.oauth.AuthCodeURL(state,
		oauth2.SetAuthURLParam("access_type", "offline"),
		oauth2.SetAuthURLParam("prompt", prompt),
	)

	if p.openURL != nil {
		if err := p.openURL(authURL); err != nil {
			return nil, fmt.Errorf("opening authorization url: %w", err)
		}
	}

	log.Debug().Str("provider", p.name).Str("prompt", prompt).Msg("authorization redirect started")
	return &core.AuthResult{Status: core.AuthPending, Provider: p.name}, nil
}

func (p *WebCodeFlowProvider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokens = nil
	p.refreshTok = ""
	p.user = nil
	p.pendingState = ""
	return nil
}

func (p *WebCodeFlowProvider) AccessToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	tokens := p.tokens
	refresh := p.refreshTok
	p.mu.Unlock()

	if tokens.Valid() {
		return tokens.AccessToken, nil
	}
	if refresh == "" {
		return "", &core.AuthenticationError{Reason: "no usable access token and no refresh token"}
	}

	// refresh-token grant through the discovered token endpoint
	src := p.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refresh})
	refreshed, err := src.Token()
	if err != nil {
		return "", &core.NetworkError{Op: "token refresh", Wrapped: err}
	}

	p.mu.Lock()
	p.tokens = tokenSetFromOAuth(refreshed)
	if refreshed.RefreshToken != "" {
		p.refreshTok = refreshed.RefreshToken
	}
	if p.user != nil {
		p.user.ProviderAccessToken = refreshed.AccessToken
	}
	p.mu.Unlock()

	return refreshed.AccessToken, nil
}

func (p *WebCodeFlowProvider) RefreshToken() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshTok
}

func (p *WebCodeFlowProvider) HasValidTokens() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tokens.Valid()
}

func (p *WebCodeFlowProvider) completeSignIn(ctx context.Context, token *oauth2.Token) (*core.AuthResult, error) {
	user, err := p.resolver.Resolve(ctx, token, p.name)
	if err != nil {
		return nil, &core.AuthenticationError{Reason: "profile fetch failed", Wrapped: err}
	}

	p.mu.Lock()
	p.tokens = tokenSetFromOAuth(token)
	if token.RefreshToken != "" {
		p.refreshTok = token.RefreshToken
	}
	p.user = user
	p.mu.Unlock()

	// the credential service may not be ready yet, so the refresh token is
	// queued for persistence and drained later
	if p.deferred != nil && token.RefreshToken != "" {
		if evicted := p.deferred.Enqueue(queue.PendingToken{
			Provider:     p.tokenProvider,
			AccountType:  p.accountType,
			RefreshToken: token.RefreshToken,
		}); evicted {
			log.Warn().Str("provider", p.name).Msg("deferred token queue full, dropped oldest entry")
		}
	}

	log.Info().Str("provider", p.name).Str("sub", user.ID).Msg("web sign-in completed")
	return &core.AuthResult{Status: core.AuthCompleted, User: user, Provider: p.name}, nil
}

// classifyCallbackError applies the stale cached-session heuristic: these
// conflicts should prompt a retry with forced account selection instead of
// surfacing a raw error.
func (p *WebCodeFlowProvider) classifyCallbackError(code, description string) error {
	stale := code == "access_denied" ||
		code == "invalid_request" ||
		strings.Contains(strings.ToLower(description), "session")
	if stale {
		p.mu.Lock()
		p.forceSelect = true
		p.mu.Unlock()
		return &core.StaleSessionError{Code: code, Description: description}
	}
	return &core.AuthenticationError{Reason: fmt.Sprintf("authorization failed: %s (%s)", code, description)}
}

func tokenSetFromOAuth(token *oauth2.Token) *core.ProviderTokenSet {
	scope, _ := token.Extra("scope").(string)
	return &core.ProviderTokenSet{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
		Scope:        scope,
		IssuedAt:     time.Now(),
	}
}
