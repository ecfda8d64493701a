// Package identity turns verified upstream tokens into Identity values.
package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/jwlerch78/dashieapp-staging-sub003/internal/core"
)

// Resolver wraps an OIDC identity provider: endpoint discovery, ID token
// verification and profile (userinfo) lookup.
type Resolver struct {
	issuerURL string
	provider  *oidc.Provider
	verifier  *oidc.IDTokenVerifier
}

func NewResolver(ctx context.Context, issuerURL, clientID string) (*Resolver, error) {
	if issuerURL == "" {
		return nil, fmt.Errorf("issuer_url is required")
	}
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("creating oidc provider for %q: %w", issuerURL, err)
	}

	var verifier *oidc.IDTokenVerifier
	if clientID != "" {
		verifier = provider.Verifier(&oidc.Config{ClientID: clientID})
	}

	return &Resolver{
		issuerURL: issuerURL,
		provider:  provider,
		verifier:  verifier,
	}, nil
}

// Endpoint returns the discovered OAuth2 endpoints for the code flow.
func (r *Resolver) Endpoint() oauth2.Endpoint {
	return r.provider.Endpoint()
}

// DeviceAuthorizationEndpoint returns the advertised device authorization
// endpoint, or "" if the provider does not support the device grant.
func (r *Resolver) DeviceAuthorizationEndpoint() string {
	var claims struct {
		DeviceAuthorizationEndpoint string `json:"device_authorization_endpoint"`
	}
	if err := r.provider.Claims(&claims); err != nil {
		return ""
	}
	return claims.DeviceAuthorizationEndpoint
}

// TokenEndpoint returns the discovered token endpoint.
func (r *Resolver) TokenEndpoint() string {
	return r.provider.Endpoint().TokenURL
}

// VerifyIDToken validates a raw ID token and returns its subject claims.
// Requires the resolver to have been built with a client ID.
func (r *Resolver) VerifyIDToken(ctx context.Context, rawIDToken string) (*oidc.IDToken, error) {
	if r.verifier == nil {
		return nil, fmt.Errorf("resolver has no verifier (missing client_id)")
	}
	idToken, err := r.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("oidc verification failed: %w", err)
	}
	return idToken, nil
}

// Resolve fetches the userinfo profile for the given token set and builds
// the Identity that the coordinator will own.
func (r *Resolver) Resolve(ctx context.Context, token *oauth2.Token, authMethod string) (*core.Identity, error) {
	userInfo, err := r.provider.UserInfo(ctx, oauth2.StaticTokenSource(token))
	if err != nil {
		return nil, fmt.Errorf("fetching userinfo: %w", err)
	}

	var claims struct {
		Name    string `json:"name"`
		Picture string `json:"picture"`
	}
	if err := userInfo.Claims(&claims); err != nil {
		return nil, fmt.Errorf("extracting userinfo claims: %w", err)
	}

	return &core.Identity{
		ID:                  userInfo.Subject,
		Email:               userInfo.Email,
		Name:                claims.Name,
		Picture:             claims.Picture,
		AuthMethod:          authMethod,
		ProviderAccessToken: token.AccessToken,
		SignedInAt:          time.Now(),
	}, nil
}
