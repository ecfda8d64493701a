// Package credsvc negotiates and maintains the backend-issued service
// credential (a short-lived JWT) tied to the signed-in identity, and layers
// the cached, deduplicated token operations on top of it.
package credsvc

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/jwlerch78/dashieapp-staging-sub003/internal/backend"
	"github.com/jwlerch78/dashieapp-staging-sub003/internal/config"
	"github.com/jwlerch78/dashieapp-staging-sub003/internal/core"
)

// State is the initialization state machine.
type State int

const (
	StateUninitialized State = iota
	StateWaitingForAuth
	StateConfiguring
	StateCheckingRequirements
	StateReady
	StateNotReady
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateWaitingForAuth:
		return "waiting_for_auth"
	case StateConfiguring:
		return "configuring"
	case StateCheckingRequirements:
		return "checking_requirements"
	case StateReady:
		return "ready"
	case StateNotReady:
		return "not_ready"
	default:
		return "unknown"
	}
}

// AuthSource is the slice of the coordinator the service depends on.
type AuthSource interface {
	IsAuthenticated() bool
	AccessToken(ctx context.Context) (string, error)
}

// credentialAPI is the backend surface; satisfied by *backend.Client.
type credentialAPI interface {
	Do(ctx context.Context, payload backend.Request) (*backend.Response, error)
}

const (
	// ExpiryBuffer is the pre-expiry margin: a credential inside this window
	// is treated as already expired and refreshed before use.
	ExpiryBuffer = 5 * time.Minute

	defaultPollInterval = 200 * time.Millisecond
	defaultWaitTimeout  = 15 * time.Second
)

// Service owns the ServiceCredential exclusively and gates readiness.
type Service struct {
	auth     AuthSource
	endpoint string
	anonKey  string
	api      credentialAPI
	enabled  bool

	pollInterval time.Duration
	waitTimeout  time.Duration
	buffer       time.Duration

	mu        sync.Mutex
	state     State
	initTask  *initTask
	configErr error

	credMu sync.Mutex
	cred   *core.ServiceCredential
}

// initTask memoizes the in-flight initialization so concurrent callers
// share one execution and one eventual result.
type initTask struct {
	done chan struct{}
	ok   bool
	err  error
}

type ServiceOption func(*Service)

// WithAPI overrides the backend client. Tests use this.
func WithAPI(api credentialAPI) ServiceOption {
	return func(s *Service) {
		s.api = api
	}
}

// WithWaitParams overrides the auth-system wait cadence.
func WithWaitParams(poll, timeout time.Duration) ServiceOption {
	return func(s *Service) {
		s.pollInterval = poll
		s.waitTimeout = timeout
	}
}

// WithExpiryBuffer overrides the pre-expiry margin.
func WithExpiryBuffer(buffer time.Duration) ServiceOption {
	return func(s *Service) {
		s.buffer = buffer
	}
}

// WithDisabled builds a permanently not-ready service (host opted out).
func WithDisabled() ServiceOption {
	return func(s *Service) {
		s.enabled = false
	}
}

func NewService(auth AuthSource, cfg config.BackendConfig, opts ...ServiceOption) *Service {
	s := &Service{
		auth:         auth,
		endpoint:     cfg.Endpoint,
		anonKey:      cfg.AnonKey,
		enabled:      true,
		pollInterval: defaultPollInterval,
		waitTimeout:  defaultWaitTimeout,
		buffer:       ExpiryBuffer,
		state:        StateUninitialized,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.api == nil && s.endpoint != "" {
		s.api = backend.New(s.endpoint, s.anonKey)
	}
	return s
}

// Initialize runs the state machine at most once regardless of call
// concurrency: the in-flight task is memoized before any suspension point,
// and every caller receives the same eventual outcome.
func (s *Service) Initialize(ctx context.Context) (bool, error) {
	s.mu.Lock()
	if s.initTask != nil {
		t := s.initTask
		s.mu.Unlock()
		select {
		case <-t.done:
			return t.ok, t.err
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	t := &initTask{done: make(chan struct{})}
	s.initTask = t
	s.mu.Unlock()

	t.ok, t.err = s.initialize(ctx)
	close(t.done)
	return t.ok, t.err
}

func (s *Service) initialize(ctx context.Context) (bool, error) {
	if !s.enabled {
		s.setState(StateNotReady)
		return false, nil
	}

	s.setState(StateWaitingForAuth)
	if !s.waitForAuthSystem(ctx) {
		// timeout is not fatal: proceed degraded, requirements decide
		log.Warn().Msg("auth system not ready in time, continuing degraded")
	}

	s.setState(StateConfiguring)
	if err := s.configureEndpoint(); err != nil {
		s.mu.Lock()
		s.configErr = err
		s.mu.Unlock()
		s.setState(StateNotReady)
		return false, err
	}

	s.setState(StateCheckingRequirements)
	if err := s.checkRequirements(ctx); err != nil {
		s.setState(StateNotReady)
		return false, err
	}

	s.setState(StateReady)
	log.Info().Msg("credential service ready")
	return true, nil
}

// waitForAuthSystem polls for "an authenticated identity that can also
// yield a usable provider access token", bounded by the wait timeout.
func (s *Service) waitForAuthSystem(ctx context.Context) bool {
	deadline := time.Now().Add(s.waitTimeout)
	for {
		if s.auth != nil && s.auth.IsAuthenticated() {
			if token, err := s.auth.AccessToken(ctx); err == nil && token != "" {
				return true
			}
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(s.pollInterval):
		}
	}
}

func (s *Service) configureEndpoint() error {
	if s.endpoint == "" {
		return &core.ConfigurationError{Field: "backend.endpoint", Reason: "not configured"}
	}
	u, err := url.Parse(s.endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return &core.ConfigurationError{Field: "backend.endpoint", Reason: fmt.Sprintf("invalid url %q", s.endpoint)}
	}
	return nil
}

// checkRequirements verifies the endpoint, a provider access token, and a
// live round trip that returns the initial service credential.
func (s *Service) checkRequirements(ctx context.Context) error {
	token, err := s.auth.AccessToken(ctx)
	if err != nil {
		return &core.AuthenticationError{Reason: "no provider access token", Wrapped: err}
	}

	resp, err := s.api.Do(ctx, backend.Request{
		ProviderAccessToken: token,
		Operation:           backend.OpLoad,
	})
	if err != nil {
		return fmt.Errorf("credential round trip: %w", err)
	}
	if resp.Token == "" {
		return &core.AuthenticationError{Reason: "backend returned no service credential"}
	}

	cred, err := credentialFromJWT(resp.Token)
	if err != nil {
		return err
	}
	s.credMu.Lock()
	s.cred = cred
	s.credMu.Unlock()
	return nil
}

// ServiceReady reports enabled AND ready AND endpoint configured.
func (s *Service) ServiceReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled && s.state == StateReady && s.endpoint != ""
}

// State returns the current initialization state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Credential returns a copy of the live credential, or nil.
func (s *Service) Credential() *core.ServiceCredential {
	s.credMu.Lock()
	defer s.credMu.Unlock()
	if s.cred == nil {
		return nil
	}
	c := *s.cred
	return &c
}

// expired applies the safety buffer: a credential within bufferMs of its
// expiry is treated as already expired.
func (s *Service) expired() bool {
	s.credMu.Lock()
	defer s.credMu.Unlock()
	return s.cred == nil || time.Until(s.cred.ExpiresAt) <= s.buffer
}

// ensureValid transparently re-issues the credential when expired or close
// to it, prior to any privileged call. Concurrent refreshes serialize; the
// winner's credential is reused by the rest.
func (s *Service) ensureValid(ctx context.Context) (string, error) {
	if !s.ServiceReady() {
		return "", core.ErrNotReady
	}
	if !s.expired() {
		return s.Credential().Token, nil
	}

	s.credMu.Lock()
	defer s.credMu.Unlock()
	// re-check: another caller may have refreshed while we waited
	if s.cred != nil && time.Until(s.cred.ExpiresAt) > s.buffer {
		return s.cred.Token, nil
	}

	token, err := s.auth.AccessToken(ctx)
	if err != nil {
		return "", &core.AuthenticationError{Reason: "no provider access token for refresh", Wrapped: err}
	}
	resp, err := s.api.Do(ctx, backend.Request{
		ProviderAccessToken: token,
		Operation:           backend.OpLoad,
	})
	if err != nil {
		return "", fmt.Errorf("re-issuing service credential: %w", err)
	}
	if resp.Token == "" {
		return "", &core.AuthenticationError{Reason: "backend returned no service credential"}
	}

	cred, err := credentialFromJWT(resp.Token)
	if err != nil {
		return "", err
	}
	s.cred = cred
	log.Debug().Time("expires_at", cred.ExpiresAt).Msg("service credential refreshed")
	return cred.Token, nil
}

func (s *Service) setState(state State) {
	s.mu.Lock()
	prev := s.state
	s.state = state
	s.mu.Unlock()
	if prev != state {
		log.Debug().Stringer("from", prev).Stringer("to", state).Msg("credential service state change")
	}
}

// credentialFromJWT decodes the expiry claim from the token's payload
// segment. The signature is not verified here; the backend is the issuer
// and the token is only replayed back to it.
func credentialFromJWT(token string) (*core.ServiceCredential, error) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("parsing service credential: %w", err)
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, fmt.Errorf("service credential has no usable exp claim: %w", err)
	}
	return &core.ServiceCredential{
		Token:     token,
		ExpiresAt: exp.Time,
	}, nil
}
