package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/jwlerch78/dashieapp-staging-sub003/internal/config"
	"github.com/jwlerch78/dashieapp-staging-sub003/internal/core"
	"github.com/jwlerch78/dashieapp-staging-sub003/internal/identity"
	"github.com/jwlerch78/dashieapp-staging-sub003/internal/queue"
)

// DevicePrompt shows the user code and verification URI on the primary
// surface while authorization completes on a secondary device.
type DevicePrompt func(userCode, verificationURI string)

type DeviceCodeFlowConfig struct {
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	IssuerURL    string   `mapstructure:"issuer_url"`
	Scopes       []string `mapstructure:"scopes"`

	TokenProvider string `mapstructure:"token_provider"`
	AccountType   string `mapstructure:"account_type"`
}

type deviceCodeResponse struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete"`
	ExpiresIn               int    `json:"expires_in"`
	Interval                int    `json:"interval"`
}

type deviceTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
	Scope        string `json:"scope,omitempty"`
	Error        string `json:"error,omitempty"`
	ErrorDesc    string `json:"error_description,omitempty"`
}

var (
	errAuthorizationPending = errors.New("authorization pending")
	errSlowDown             = errors.New("slow down")
)

// DeviceCodeFlowProvider implements the device-code grant for
// input-constrained surfaces (TVs). Poll interval and expiry are
// provider-supplied parameters from the device authorization response.
type DeviceCodeFlowProvider struct {
	name     string
	clientID string
	secret   string
	scopes   []string
	resolver *identity.Resolver
	prompt   DevicePrompt
	client   *http.Client
	deferred *queue.Deferred

	tokenProvider string
	accountType   string

	mu         sync.Mutex
	tokens     *core.ProviderTokenSet
	refreshTok string
	user       *core.Identity
}

func NewDeviceCodeFlowProvider(
	ctx context.Context,
	cfg config.ProviderConfig,
	prompt DevicePrompt,
	httpClient *http.Client,
	deferred *queue.Deferred,
) (*DeviceCodeFlowProvider, error) {
	var conf DeviceCodeFlowConfig
	if err := mapstructure.Decode(cfg.Config, &conf); err != nil {
		return nil, fmt.Errorf("decoding config for device_flow provider '%s': %w", cfg.Name, err)
	}

	resolver, err := identity.NewResolver(ctx, conf.IssuerURL, conf.ClientID)
	if err != nil {
		return nil, fmt.Errorf("building resolver for device_flow provider '%s': %w", cfg.Name, err)
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if conf.TokenProvider == "" {
		conf.TokenProvider = "google"
	}
	if conf.AccountType == "" {
		conf.AccountType = "personal"
	}

	return &DeviceCodeFlowProvider{
		name:          cfg.Name,
		clientID:      conf.ClientID,
		secret:        conf.ClientSecret,
		scopes:        conf.Scopes,
		resolver:      resolver,
		prompt:        prompt,
		client:        httpClient,
		deferred:      deferred,
		tokenProvider: conf.TokenProvider,
		accountType:   conf.AccountType,
	}, nil
}

func (p *DeviceCodeFlowProvider) Name() string {
	return p.name
}

func (p *DeviceCodeFlowProvider) Describe() core.ProviderDescriptor {
	return core.ProviderDescriptor{
		Name:                  p.name,
		Type:                  "device_flow",
		SupportsRefreshTokens: true,
		Available:             p.clientID != "" && p.resolver.DeviceAuthorizationEndpoint() != "",
	}
}

// Initialize has nothing to resume: the device grant is self-contained.
func (p *DeviceCodeFlowProvider) Initialize(ctx context.Context) (*core.AuthResult, error) {
	return nil, nil
}

// SignIn requests a device code, shows the prompt, and polls the token
// endpoint at the advertised interval until authorization, expiry, or
// cancellation. A cancelled context resolves to the Cancelled outcome.
func (p *DeviceCodeFlowProvider) SignIn(ctx context.Context) (*core.AuthResult, error) {
	deviceEndpoint := p.resolver.DeviceAuthorizationEndpoint()
	if p.clientID == "" || deviceEndpoint == "" {
		return nil, fmt.Errorf("device_flow provider '%s': %w", p.name, core.ErrProviderUnavailable)
	}

	deviceResp, err := p.requestDeviceCode(ctx, deviceEndpoint)
	if err != nil {
		return nil, err
	}

	if p.prompt != nil {
		uri := deviceResp.VerificationURIComplete
		if uri == "" {
			uri = deviceResp.VerificationURI
		}
		p.prompt(deviceResp.UserCode, uri)
	}

	interval := time.Duration(deviceResp.Interval) * time.Second
	if interval == 0 {
		interval = 5 * time.Second
	}
	deadline := time.Now().Add(time.Duration(deviceResp.ExpiresIn) * time.Second)

	for {
		if time.Now().After(deadline) {
			return nil, &core.AuthenticationError{Reason: "device code expired"}
		}

		tokenResp, err := p.pollToken(ctx, deviceResp.DeviceCode)
		if err != nil {
			switch {
			case errors.Is(err, errAuthorizationPending):
			case errors.Is(err, errSlowDown):
				interval += 5 * time.Second
			case errors.Is(err, context.Canceled):
				log.Info().Str("provider", p.name).Msg("device sign-in cancelled")
				return &core.AuthResult{Status: core.AuthCancelled, Provider: p.name}, nil
			default:
				return nil, err
			}

			select {
			case <-ctx.Done():
				if errors.Is(ctx.Err(), context.Canceled) {
					return &core.AuthResult{Status: core.AuthCancelled, Provider: p.name}, nil
				}
				return nil, ctx.Err()
			case <-time.After(interval):
			}
			continue
		}

		return p.completeSignIn(ctx, tokenResp)
	}
}

func (p *DeviceCodeFlowProvider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokens = nil
	p.refreshTok = ""
	p.user = nil
	return nil
}

func (p *DeviceCodeFlowProvider) AccessToken(ctx context.Context) (string, error) {
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

	refreshed, err := p.refreshGrant(ctx, refresh)
	if err != nil {
		return "", err
	}
	return refreshed, nil
}

func (p *DeviceCodeFlowProvider) RefreshToken() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshTok
}

func (p *DeviceCodeFlowProvider) HasValidTokens() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tokens.Valid()
}

func (p *DeviceCodeFlowProvider) requestDeviceCode(ctx context.Context, endpoint string) (*deviceCodeResponse, error) {
	values := url.Values{}
	values.Set("client_id", p.clientID)
	if len(p.scopes) > 0 {
		values.Set("scope", strings.Join(p.scopes, " "))
	}

	resp, err := p.postForm(ctx, endpoint, values)
	if err != nil {
		return nil, &core.NetworkError{Op: "device authorization", Wrapped: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return nil, &core.NetworkError{Op: "device authorization", StatusCode: resp.StatusCode, Body: string(body)}
	}

	var payload deviceCodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding device authorization response: %w", err)
	}
	return &payload, nil
}

func (p *DeviceCodeFlowProvider) pollToken(ctx context.Context, deviceCode string) (*deviceTokenResponse, error) {
	values := url.Values{}
	values.Set("grant_type", "urn:ietf:params:oauth:grant-type:device_code")
	values.Set("device_code", deviceCode)
	values.Set("client_id", p.clientID)
	if p.secret != "" {
		values.Set("client_secret", p.secret)
	}

	resp, err := p.postForm(ctx, p.resolver.TokenEndpoint(), values)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, context.Canceled
		}
		return nil, &core.NetworkError{Op: "device token poll", Wrapped: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var payload deviceTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding device token response: %w", err)
	}
	if payload.Error != "" {
		switch payload.Error {
		case "authorization_pending":
			return nil, errAuthorizationPending
		case "slow_down":
			return nil, errSlowDown
		case "access_denied":
			return nil, &core.AuthenticationError{Reason: "authorization denied on secondary device"}
		case "expired_token":
			return nil, &core.AuthenticationError{Reason: "device code expired"}
		default:
			return nil, &core.AuthenticationError{Reason: fmt.Sprintf("device token error: %s", payload.Error)}
		}
	}
	return &payload, nil
}

func (p *DeviceCodeFlowProvider) refreshGrant(ctx context.Context, refreshToken string) (string, error) {
	values := url.Values{}
	values.Set("grant_type", "refresh_token")
	values.Set("refresh_token", refreshToken)
	values.Set("client_id", p.clientID)
	if p.secret != "" {
		values.Set("client_secret", p.secret)
	}

	resp, err := p.postForm(ctx, p.resolver.TokenEndpoint(), values)
	if err != nil {
		return "", &core.NetworkError{Op: "token refresh", Wrapped: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return "", &core.NetworkError{Op: "token refresh", StatusCode: resp.StatusCode, Body: string(body)}
	}

	var payload deviceTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decoding refresh response: %w", err)
	}

	p.mu.Lock()
	p.tokens = &core.ProviderTokenSet{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second),
		Scope:        payload.Scope,
		IssuedAt:     time.Now(),
	}
	if payload.RefreshToken != "" {
		p.refreshTok = payload.RefreshToken
	}
	if p.user != nil {
		p.user.ProviderAccessToken = payload.AccessToken
	}
	p.mu.Unlock()

	return payload.AccessToken, nil
}

func (p *DeviceCodeFlowProvider) completeSignIn(ctx context.Context, tokenResp *deviceTokenResponse) (*core.AuthResult, error) {
	expiry := time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	oauthToken := &oauth2.Token{
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: tokenResp.RefreshToken,
		TokenType:    tokenResp.TokenType,
		Expiry:       expiry,
	}

	user, err := p.resolver.Resolve(ctx, oauthToken, p.name)
	if err != nil {
		return nil, &core.AuthenticationError{Reason: "profile fetch failed", Wrapped: err}
	}

	p.mu.Lock()
	p.tokens = &core.ProviderTokenSet{
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: tokenResp.RefreshToken,
		ExpiresAt:    expiry,
		Scope:        tokenResp.Scope,
		IssuedAt:     time.Now(),
	}
	p.refreshTok = tokenResp.RefreshToken
	p.user = user
	p.mu.Unlock()

	if p.deferred != nil && tokenResp.RefreshToken != "" {
		p.deferred.Enqueue(queue.PendingToken{
			Provider:     p.tokenProvider,
			AccountType:  p.accountType,
			RefreshToken: tokenResp.RefreshToken,
		})
	}

	log.Info().Str("provider", p.name).Str("sub", user.ID).Msg("device sign-in completed")
	return &core.AuthResult{Status: core.AuthCompleted, User: user, Provider: p.name}, nil
}

func (p *DeviceCodeFlowProvider) postForm(ctx context.Context, endpoint string, values url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(values.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return p.client.Do(req)
}
