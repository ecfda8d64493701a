// Package backend speaks the single credential endpoint: one HTTPS POST
// route where the body's "operation" field selects the action.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/xid"

	"github.com/jwlerch78/dashieapp-staging-sub003/internal/core"
)

// Operations accepted by the credential endpoint.
const (
	OpLoad               = "load"
	OpSave               = "save"
	OpStoreTokens        = "store_tokens"
	OpGetValidToken      = "get_valid_token"
	OpDeleteRefreshToken = "delete_refresh_token"
)

// Request is the wire shape of every call. ProviderAccessToken and Operation
// are always present; the rest depends on the operation.
type Request struct {
	ProviderAccessToken string `json:"providerAccessToken"`
	Operation           string `json:"operation"`

	// ServiceToken carries the current service credential on authorized
	// operations.
	ServiceToken string `json:"serviceToken,omitempty"`

	Provider     string         `json:"provider,omitempty"`
	AccountType  string         `json:"accountType,omitempty"`
	RefreshToken string         `json:"refreshToken,omitempty"`
	Settings     map[string]any `json:"settings,omitempty"`
}

// Response is the union of all operation results.
type Response struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`

	// Token is the service JWT, returned by load.
	Token string `json:"token,omitempty"`

	// AccessToken/ExpiresAt/Scopes are returned by get_valid_token and
	// store_tokens. ExpiresAt is unix seconds.
	AccessToken string   `json:"access_token,omitempty"`
	ExpiresAt   int64    `json:"expires_at,omitempty"`
	Scopes      []string `json:"scopes,omitempty"`

	// Settings is returned by load.
	Settings map[string]any `json:"settings,omitempty"`
}

type Client struct {
	endpoint   string
	anonKey    string
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func New(endpoint, anonKey string, opts ...Option) *Client {
	c := &Client{
		endpoint:   endpoint,
		anonKey:    anonKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do performs one credential operation. Non-2xx responses and transport
// failures surface as NetworkError; a 2xx body with success=false surfaces
// as AuthenticationError.
func (c *Client) Do(ctx context.Context, payload Request) (*Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s payload: %w", payload.Operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating %s request: %w", payload.Operation, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.anonKey)
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("X-Correlation-ID", xid.New().String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &core.NetworkError{Op: payload.Operation, Wrapped: err}
	}
	defer func(body io.ReadCloser) {
		_ = body.Close()
	}(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return nil, &core.NetworkError{
			Op:         payload.Operation,
			StatusCode: resp.StatusCode,
			Body:       string(raw),
		}
	}

	var result Response
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding %s response: %w", payload.Operation, err)
	}
	if !result.Success {
		return nil, &core.AuthenticationError{
			Reason: fmt.Sprintf("backend rejected %s: %s", payload.Operation, result.Error),
		}
	}
	return &result, nil
}
