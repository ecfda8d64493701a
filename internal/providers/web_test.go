package providers

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"testing"

	"github.com/jwlerch78/dashieapp-staging-sub003/internal/config"
	"github.com/jwlerch78/dashieapp-staging-sub003/internal/core"
	"github.com/jwlerch78/dashieapp-staging-sub003/internal/queue"
)

// fakeCallback is a one-shot pending-redirect holder.
type fakeCallback struct {
	mu     sync.Mutex
	values url.Values
}

func (c *fakeCallback) Pending() (url.Values, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.values == nil {
		return nil, false
	}
	return c.values, true
}

func (c *fakeCallback) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values = nil
}

func webProviderConfig(issuerURL string) config.ProviderConfig {
	return config.ProviderConfig{
		Name: "web",
		Type: "web_oauth",
		Config: map[string]any{
			"client_id":    "test-client",
			"redirect_url": "http://127.0.0.1:8459/oauth/callback",
			"issuer_url":   issuerURL,
		},
	}
}

func TestWebCodeFlowProvider_InitializeResumesCallback(t *testing.T) {
	idp := newFakeOIDC(t)
	idp.tokenFn = func(r *http.Request) (int, any) {
		if err := r.ParseForm(); err != nil {
			return http.StatusBadRequest, map[string]string{"error": "invalid_request"}
		}
		if r.PostForm.Get("code") != "auth-code-1" {
			return http.StatusBadRequest, map[string]string{"error": "invalid_grant"}
		}
		return http.StatusOK, map[string]any{
			"access_token":  "web-access",
			"refresh_token": "web-refresh",
			"token_type":    "Bearer",
			"expires_in":    3600,
		}
	}

	cb := &fakeCallback{values: url.Values{"code": {"auth-code-1"}}}
	deferred := queue.NewDeferred(4)
	prov, err := NewWebCodeFlowProvider(context.Background(), webProviderConfig(idp.server.URL), cb, nil, deferred)
	if err != nil {
		t.Fatalf("NewWebCodeFlowProvider() error = %v", err)
	}

	res, err := prov.Initialize(context.Background())
	if err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if res == nil || res.Status != core.AuthCompleted {
		t.Fatalf("Initialize() = %+v, want completed", res)
	}
	if res.User.Email != "user@example.com" {
		t.Errorf("profile not fetched: %+v", res.User)
	}
	if prov.RefreshToken() != "web-refresh" {
		t.Errorf("refresh token not retained")
	}
	if deferred.Len() != 1 {
		t.Errorf("refresh token not queued for deferred persistence")
	}

	// the callback must be consumed: a reload cannot re-process the code
	if _, pending := cb.Pending(); pending {
		t.Error("callback not cleared after processing")
	}
	if res2, err := prov.Initialize(context.Background()); err != nil || res2 != nil {
		t.Errorf("second Initialize() = (%+v, %v), want (nil, nil)", res2, err)
	}
}

func TestWebCodeFlowProvider_InitializeNothingPending(t *testing.T) {
	idp := newFakeOIDC(t)
	prov, err := NewWebCodeFlowProvider(context.Background(), webProviderConfig(idp.server.URL), &fakeCallback{}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	res, err := prov.Initialize(context.Background())
	if err != nil || res != nil {
		t.Errorf("Initialize() = (%+v, %v), want (nil, nil)", res, err)
	}
}

func TestWebCodeFlowProvider_StaleSessionHeuristic(t *testing.T) {
	tests := []struct {
		name      string
		errCode   string
		errDesc   string
		wantStale bool
	}{
		{name: "Access Denied", errCode: "access_denied", wantStale: true},
		{name: "Invalid Request", errCode: "invalid_request", wantStale: true},
		{name: "Session In Description", errCode: "server_error", errDesc: "stale session detected", wantStale: true},
		{name: "Unrelated Error", errCode: "temporarily_unavailable", errDesc: "try later", wantStale: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idp := newFakeOIDC(t)
			vals := url.Values{"error": {tt.errCode}}
			if tt.errDesc != "" {
				vals.Set("error_description", tt.errDesc)
			}
			cb := &fakeCallback{values: vals}

			prov, err := NewWebCodeFlowProvider(context.Background(), webProviderConfig(idp.server.URL), cb, nil, nil)
			if err != nil {
				t.Fatal(err)
			}

			_, err = prov.Initialize(context.Background())
			var stale *core.StaleSessionError
			if got := errors.As(err, &stale); got != tt.wantStale {
				t.Errorf("stale classification = %v (err %v), want %v", got, err, tt.wantStale)
			}

			// a stale conflict must force account selection on the retry
			res, err := prov.SignIn(context.Background())
			if err != nil || res.Status != core.AuthPending {
				t.Fatalf("SignIn() = (%+v, %v), want pending", res, err)
			}
		})
	}
}

func TestWebCodeFlowProvider_SignInPromptSelection(t *testing.T) {
	idp := newFakeOIDC(t)

	var openedURL string
	open := func(rawurl string) error {
		openedURL = rawurl
		return nil
	}
	prov, err := NewWebCodeFlowProvider(context.Background(), webProviderConfig(idp.server.URL), nil, open, nil)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := prov.SignIn(context.Background()); err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	u, err := url.Parse(openedURL)
	if err != nil {
		t.Fatal(err)
	}
	q := u.Query()
	if q.Get("access_type") != "offline" {
		t.Errorf("access_type = %q, want offline", q.Get("access_type"))
	}
	if q.Get("prompt") != "consent" {
		t.Errorf("prompt = %q, want consent", q.Get("prompt"))
	}
	if q.Get("state") == "" {
		t.Error("missing anti-forgery state")
	}

	// force a stale-session conflict, then the retry must request account selection
	cb := &fakeCallback{values: url.Values{"error": {"access_denied"}}}
	prov.callback = cb
	_, _ = prov.Initialize(context.Background())

	if _, err := prov.SignIn(context.Background()); err != nil {
		t.Fatal(err)
	}
	u, _ = url.Parse(openedURL)
	if got := u.Query().Get("prompt"); got != "select_account consent" {
		t.Errorf("retry prompt = %q, want %q", got, "select_account consent")
	}
}

func TestWebCodeFlowProvider_Unavailable(t *testing.T) {
	idp := newFakeOIDC(t)
	cfg := config.ProviderConfig{
		Name:   "web",
		Type:   "web_oauth",
		Config: map[string]any{"issuer_url": idp.server.URL},
	}
	prov, err := NewWebCodeFlowProvider(context.Background(), cfg, nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := prov.SignIn(context.Background()); !errors.Is(err, core.ErrProviderUnavailable) {
		t.Errorf("SignIn() error = %v, want ErrProviderUnavailable", err)
	}
}
