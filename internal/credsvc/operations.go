package credsvc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/jwlerch78/dashieapp-staging-sub003/internal/backend"
	"github.com/jwlerch78/dashieapp-staging-sub003/internal/core"
	"github.com/jwlerch78/dashieapp-staging-sub003/internal/queue"
)

type cacheKey struct {
	provider    string
	accountType string
}

func (k cacheKey) String() string {
	return k.provider + "/" + k.accountType
}

// CacheEntry is a cached per-account provider access token.
type CacheEntry struct {
	AccessToken string
	ExpiresAt   time.Time
	Scopes      []string
	CachedAt    time.Time
}

// Operations exposes the privileged credential operations. It composes the
// Service rather than extending it: readiness and the service credential
// stay owned by the Service, the per-account token cache lives here.
type Operations struct {
	svc    *Service
	buffer time.Duration

	flights singleflight.Group

	mu    sync.Mutex
	cache map[cacheKey]CacheEntry
}

func NewOperations(svc *Service) *Operations {
	return &Operations{
		svc:    svc,
		buffer: svc.buffer,
		cache:  make(map[cacheKey]CacheEntry),
	}
}

// GetValidToken returns a valid provider access token for the account,
// serving from cache when the entry is outside the expiry buffer and
// otherwise fetching from the backend. Concurrent callers for the same
// (provider, accountType) key share a single in-flight request; the flight
// is registered before any suspension point.
func (o *Operations) GetValidToken(ctx context.Context, provider, accountType string) (string, error) {
	key := cacheKey{provider: provider, accountType: accountType}
	if token, ok := o.cached(key); ok {
		return token, nil
	}

	v, err, _ := o.flights.Do(key.String(), func() (any, error) {
		// a finished flight may have populated the cache while we queued
		if token, ok := o.cached(key); ok {
			return token, nil
		}
		return o.fetchToken(ctx, key)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (o *Operations) fetchToken(ctx context.Context, key cacheKey) (string, error) {
	serviceToken, err := o.svc.ensureValid(ctx)
	if err != nil {
		return "", err
	}
	providerToken, err := o.svc.auth.AccessToken(ctx)
	if err != nil {
		return "", &core.AuthenticationError{Reason: "no provider access token", Wrapped: err}
	}

	resp, err := o.svc.api.Do(ctx, backend.Request{
		ProviderAccessToken: providerToken,
		Operation:           backend.OpGetValidToken,
		ServiceToken:        serviceToken,
		Provider:            key.provider,
		AccountType:         key.accountType,
	})
	if err != nil {
		return "", fmt.Errorf("fetching token for %s: %w", key, err)
	}
	if resp.AccessToken == "" {
		return "", &core.AuthenticationError{Reason: fmt.Sprintf("backend returned no token for %s", key)}
	}

	o.store(key, resp)
	return resp.AccessToken, nil
}

// StoreTokens persists a long-lived refresh token with the backend and seeds
// the cache with the freshly issued access token, so an immediate
// GetValidToken for the same account needs no further round trip.
func (o *Operations) StoreTokens(ctx context.Context, provider, accountType, refreshToken string) error {
	serviceToken, err := o.svc.ensureValid(ctx)
	if err != nil {
		return err
	}
	providerToken, err := o.svc.auth.AccessToken(ctx)
	if err != nil {
		return &core.AuthenticationError{Reason: "no provider access token", Wrapped: err}
	}

	resp, err := o.svc.api.Do(ctx, backend.Request{
		ProviderAccessToken: providerToken,
		Operation:           backend.OpStoreTokens,
		ServiceToken:        serviceToken,
		Provider:            provider,
		AccountType:         accountType,
		RefreshToken:        refreshToken,
	})
	if err != nil {
		return fmt.Errorf("storing tokens for %s/%s: %w", provider, accountType, err)
	}
	if resp.AccessToken != "" {
		o.store(cacheKey{provider: provider, accountType: accountType}, resp)
	}
	return nil
}

// DeleteRefreshToken removes the stored refresh token for an account. The
// cache entry is evicted unconditionally, even when the backend call fails,
// so a stale token is never served after an attempted revocation.
func (o *Operations) DeleteRefreshToken(ctx context.Context, provider, accountType string) error {
	key := cacheKey{provider: provider, accountType: accountType}
	defer o.evict(key)

	serviceToken, err := o.svc.ensureValid(ctx)
	if err != nil {
		return err
	}
	providerToken, err := o.svc.auth.AccessToken(ctx)
	if err != nil {
		return &core.AuthenticationError{Reason: "no provider access token", Wrapped: err}
	}

	_, err = o.svc.api.Do(ctx, backend.Request{
		ProviderAccessToken: providerToken,
		Operation:           backend.OpDeleteRefreshToken,
		ServiceToken:        serviceToken,
		Provider:            key.provider,
		AccountType:         key.accountType,
	})
	if err != nil {
		return fmt.Errorf("deleting refresh token for %s: %w", key, err)
	}
	return nil
}

// LoadSettings fetches the persisted dashboard settings document.
func (o *Operations) LoadSettings(ctx context.Context) (map[string]any, error) {
	serviceToken, err := o.svc.ensureValid(ctx)
	if err != nil {
		return nil, err
	}
	providerToken, err := o.svc.auth.AccessToken(ctx)
	if err != nil {
		return nil, &core.AuthenticationError{Reason: "no provider access token", Wrapped: err}
	}

	resp, err := o.svc.api.Do(ctx, backend.Request{
		ProviderAccessToken: providerToken,
		Operation:           backend.OpLoad,
		ServiceToken:        serviceToken,
	})
	if err != nil {
		return nil, fmt.Errorf("loading settings: %w", err)
	}
	return resp.Settings, nil
}

// SaveSettings persists the dashboard settings document.
func (o *Operations) SaveSettings(ctx context.Context, settings map[string]any) error {
	serviceToken, err := o.svc.ensureValid(ctx)
	if err != nil {
		return err
	}
	providerToken, err := o.svc.auth.AccessToken(ctx)
	if err != nil {
		return &core.AuthenticationError{Reason: "no provider access token", Wrapped: err}
	}

	_, err = o.svc.api.Do(ctx, backend.Request{
		ProviderAccessToken: providerToken,
		Operation:           backend.OpSave,
		ServiceToken:        serviceToken,
		Settings:            settings,
	})
	if err != nil {
		return fmt.Errorf("saving settings: %w", err)
	}
	return nil
}

// DrainDeferred flushes refresh tokens that were queued while the service
// was not yet ready. Tokens that fail to store are re-queued by the queue.
func (o *Operations) DrainDeferred(ctx context.Context, q *queue.Deferred) (int, error) {
	if q == nil {
		return 0, nil
	}
	flushed, err := q.Drain(ctx, func(ctx context.Context, t queue.PendingToken) error {
		return o.StoreTokens(ctx, t.Provider, t.AccountType, t.RefreshToken)
	})
	if flushed > 0 {
		log.Info().Int("flushed", flushed).Msg("drained deferred refresh tokens")
	}
	return flushed, err
}

func (o *Operations) cached(key cacheKey) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	entry, ok := o.cache[key]
	if !ok {
		return "", false
	}
	if time.Until(entry.ExpiresAt) <= o.buffer {
		delete(o.cache, key)
		return "", false
	}
	return entry.AccessToken, true
}

func (o *Operations) store(key cacheKey, resp *backend.Response) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cache[key] = CacheEntry{
		AccessToken: resp.AccessToken,
		ExpiresAt:   time.Unix(resp.ExpiresAt, 0),
		Scopes:      resp.Scopes,
		CachedAt:    time.Now(),
	}
}

func (o *Operations) evict(key cacheKey) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.cache, key)
}
