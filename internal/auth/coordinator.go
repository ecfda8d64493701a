// Package auth orchestrates provider selection, session restoration and the
// sign-in/sign-out lifecycle.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog/log"

	"github.com/jwlerch78/dashieapp-staging-sub003/internal/core"
	"github.com/jwlerch78/dashieapp-staging-sub003/internal/platform"
)

// EventType enumerates what listeners can be told.
type EventType string

const (
	// EventSignedIn fires when an Identity becomes live.
	EventSignedIn EventType = "signed_in"

	// EventSignedOut fires after local state is cleared.
	EventSignedOut EventType = "signed_out"

	// EventSignInPrompt asks the UI to (re-)show the sign-in affordance.
	// Emitted after a cancelled flow. It is not an error signal.
	EventSignInPrompt EventType = "sign_in_prompt"
)

type Event struct {
	Type     EventType
	User     *core.Identity
	Provider string
}

type Listener func(Event)

// Options wires the coordinator's collaborators. Everything is passed in
// explicitly; there is no process-wide instance.
type Options struct {
	Signals   platform.Signals
	Providers map[string]core.AuthProvider
	Store     core.TokenStore
	Auditor   core.Auditor

	// RedirectInProgress reports whether the host is mid-redirect (we are
	// about to leave for the identity provider). Init exits early then.
	RedirectInProgress func() bool
}

// Coordinator owns the Identity, the provider registry and the selection
// state. Cross-component reads go through accessor methods only.
type Coordinator struct {
	signals    platform.Signals
	registry   map[string]core.AuthProvider
	store      core.TokenStore
	auditor    core.Auditor
	inRedirect func() bool

	mu            sync.Mutex
	authenticated bool
	user          *core.Identity
	providerName  string
	listeners     []Listener
}

func NewCoordinator(opts Options) *Coordinator {
	auditor := opts.Auditor
	if auditor == nil {
		auditor = noopAuditor{}
	}
	return &Coordinator{
		signals:    opts.Signals,
		registry:   opts.Providers,
		store:      opts.Store,
		auditor:    auditor,
		inRedirect: opts.RedirectInProgress,
	}
}

// Subscribe registers a listener for auth state changes.
func (c *Coordinator) Subscribe(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// Init establishes the initial auth state: an in-progress external redirect
// wins (exit early), then session restoration from the token store, then
// provider initialization, which may itself complete authentication.
func (c *Coordinator) Init(ctx context.Context) error {
	if c.inRedirect != nil && c.inRedirect() {
		log.Debug().Msg("external redirect in progress, deferring auth init")
		return nil
	}

	if c.restoreSession(ctx) {
		return nil
	}

	name, prov := c.recommendedProvider()
	if prov == nil {
		log.Warn().Str("strategy", string(platform.RecommendStrategy(c.signals))).
			Msg("no provider registered for recommended strategy")
		return nil
	}

	res, err := prov.Initialize(ctx)
	if err != nil {
		var stale *core.StaleSessionError
		if errors.As(err, &stale) {
			// the retry affordance handles this; not a failed init
			log.Info().Str("provider", name).Msg("stale session conflict, retry with account selection")
			c.notify(Event{Type: EventSignInPrompt, Provider: name})
			return nil
		}
		return fmt.Errorf("initializing provider %q: %w", name, err)
	}
	if res != nil && res.Status == core.AuthCompleted {
		c.adoptIdentity(ctx, name, res.User)
	}
	return nil
}

// SignIn resolves the target provider (explicit name, or the classifier's
// recommendation when empty) and runs its flow, normalizing every variant's
// outcome into an AuthResult.
func (c *Coordinator) SignIn(ctx context.Context, providerName string) (*core.AuthResult, error) {
	name := providerName
	var prov core.AuthProvider
	if name != "" {
		var ok bool
		if prov, ok = c.registry[name]; !ok {
			return nil, fmt.Errorf("provider %q not registered", name)
		}
	} else {
		name, prov = c.recommendedProvider()
		if prov == nil {
			return nil, fmt.Errorf("no provider available for this platform: %w", core.ErrProviderUnavailable)
		}
	}

	res, err := prov.SignIn(ctx)
	if err != nil {
		// providers may signal a user abort as an error instead of a
		// Cancelled result; normalize it here
		if errors.Is(err, core.ErrCancelled) {
			res = &core.AuthResult{Status: core.AuthCancelled, Provider: name}
		} else {
			if fallback := c.fireTVFallback(ctx, prov, err); fallback != nil {
				return fallback, nil
			}
			c.audit(ctx, "auth.signin", name, "", false, err.Error())
			return nil, err
		}
	}

	switch res.Status {
	case core.AuthCompleted:
		c.adoptIdentity(ctx, name, res.User)
	case core.AuthCancelled:
		// a user-cancelled flow is not a failure: re-show the sign-in
		// affordance and emit no error
		log.Info().Str("provider", name).Msg("sign-in cancelled, re-showing prompt")
		c.notify(Event{Type: EventSignInPrompt, Provider: name})
	case core.AuthPending:
		log.Debug().Str("provider", name).Msg("sign-in pending external redirect")
	}
	return res, nil
}

// fireTVFallback retries a failed native sign-in through the device flow,
// once, on Fire-TV-like hosts. Returns nil when the policy does not apply or
// the retry also failed.
func (c *Coordinator) fireTVFallback(ctx context.Context, failed core.AuthProvider, cause error) *core.AuthResult {
	if failed.Describe().Type != "native" {
		return nil
	}
	if platform.Classify(c.signals).Platform != platform.PlatformFireTV {
		return nil
	}

	name, prov := c.providerByType("device_flow")
	if prov == nil {
		return nil
	}

	log.Warn().Err(cause).Str("fallback", name).Msg("native sign-in failed on Fire TV, retrying via device flow")
	res, err := prov.SignIn(ctx)
	if err != nil {
		c.audit(ctx, "auth.signin.fallback", name, "", false, err.Error())
		return nil
	}
	if res.Status == core.AuthCompleted {
		c.adoptIdentity(ctx, name, res.User)
	}
	return res
}

// SignOut is best-effort on the provider side: local state is cleared and
// listeners are notified even if the provider call fails.
func (c *Coordinator) SignOut(ctx context.Context) error {
	c.mu.Lock()
	name := c.providerName
	user := c.user
	c.mu.Unlock()

	var provErr error
	if prov, ok := c.registry[name]; ok {
		provErr = prov.SignOut(ctx)
	}

	c.mu.Lock()
	c.authenticated = false
	c.user = nil
	c.providerName = ""
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.Clear(ctx); err != nil {
			log.Error().Err(err).Msg("failed to clear token store on sign-out")
		}
	}

	subject := ""
	if user != nil {
		subject = user.ID
	}
	c.audit(ctx, "auth.signout", name, subject, provErr == nil, errString(provErr))
	c.notify(Event{Type: EventSignedOut, Provider: name})

	if provErr != nil {
		return fmt.Errorf("provider sign-out: %w", provErr)
	}
	return nil
}

// IsAuthenticated reports whether an Identity is live.
func (c *Coordinator) IsAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

// User returns a copy of the live Identity, or nil.
func (c *Coordinator) User() *core.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.user == nil {
		return nil
	}
	u := *c.user
	return &u
}

// CurrentProvider returns the name of the provider that produced the live
// session, or "".
func (c *Coordinator) CurrentProvider() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.providerName
}

// Providers lists registered provider descriptors, sorted by name.
func (c *Coordinator) Providers() []core.ProviderDescriptor {
	out := make([]core.ProviderDescriptor, 0, len(c.registry))
	for _, p := range c.registry {
		out = append(out, p.Describe())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// AccessToken prefers the live Identity's provider token, falling back to
// the active provider. Used by the credential service.
func (c *Coordinator) AccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	user := c.user
	name := c.providerName
	c.mu.Unlock()

	if user != nil && user.ProviderAccessToken != "" {
		return user.ProviderAccessToken, nil
	}
	if prov, ok := c.registry[name]; ok {
		return prov.AccessToken(ctx)
	}
	return "", &core.AuthenticationError{Reason: "not signed in"}
}

// RefreshAccessToken forces a provider-side refresh and updates the live
// Identity's token.
func (c *Coordinator) RefreshAccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	name := c.providerName
	c.mu.Unlock()

	prov, ok := c.registry[name]
	if !ok {
		return "", &core.AuthenticationError{Reason: "not signed in"}
	}
	token, err := prov.AccessToken(ctx)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	if c.user != nil {
		c.user.ProviderAccessToken = token
	}
	c.mu.Unlock()
	return token, nil
}

func (c *Coordinator) restoreSession(ctx context.Context) bool {
	if c.store == nil {
		return false
	}
	ident, err := c.store.Get(ctx)
	if err != nil || ident == nil {
		return false
	}

	c.mu.Lock()
	c.authenticated = true
	c.user = ident
	c.providerName = ident.AuthMethod
	c.mu.Unlock()

	log.Info().Str("sub", ident.ID).Str("provider", ident.AuthMethod).Msg("session restored from store")
	c.notify(Event{Type: EventSignedIn, User: ident, Provider: ident.AuthMethod})
	return true
}

func (c *Coordinator) adoptIdentity(ctx context.Context, providerName string, user *core.Identity) {
	if user == nil {
		return
	}

	c.mu.Lock()
	c.authenticated = true
	c.user = user
	c.providerName = providerName
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.Set(ctx, user); err != nil {
			log.Error().Err(err).Msg("failed to persist identity snapshot")
		}
	}

	c.audit(ctx, "auth.signin", providerName, user.ID, true, "")
	c.notify(Event{Type: EventSignedIn, User: user, Provider: providerName})
}

func (c *Coordinator) recommendedProvider() (string, core.AuthProvider) {
	strategy := platform.RecommendStrategy(c.signals)
	typeName := map[platform.Strategy]string{
		platform.StrategyNative:      "native",
		platform.StrategyDeviceFlow:  "device_flow",
		platform.StrategyWebOAuth:    "web_oauth",
		platform.StrategyUnsupported: "stub",
	}[strategy]
	return c.providerByType(typeName)
}

func (c *Coordinator) providerByType(typeName string) (string, core.AuthProvider) {
	names := make([]string, 0, len(c.registry))
	for name := range c.registry {
		names = append(names, name)
	}
	sort.Strings(names) // deterministic pick
	for _, name := range names {
		if c.registry[name].Describe().Type == typeName {
			return name, c.registry[name]
		}
	}
	return "", nil
}

func (c *Coordinator) notify(ev Event) {
	c.mu.Lock()
	listeners := make([]Listener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	for _, l := range listeners {
		l(ev)
	}
}

func (c *Coordinator) audit(ctx context.Context, action, provider, subject string, success bool, errMsg string) {
	entry := core.AuditEntry{
		ID:       xid.New().String(),
		Time:     time.Now(),
		Action:   action,
		Provider: provider,
		Subject:  subject,
		Success:  success,
		Error:    errMsg,
	}
	if err := c.auditor.Log(entry); err != nil {
		log.Error().Err(err).Str("action", action).Msg("failed to write audit log entry")
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

type noopAuditor struct{}

func (noopAuditor) Log(core.AuditEntry) error { return nil }
func (noopAuditor) Close() error              { return nil }
