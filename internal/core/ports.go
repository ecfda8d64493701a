package core

import "context"

// AuthProvider is the capability contract shared by all sign-in strategies.
// Implementations: web code flow, device code flow, native bridge, stub.
type AuthProvider interface {
	// Name returns the identifier of this provider (as used in config).
	Name() string

	// Describe returns read-only capability metadata.
	Describe() ProviderDescriptor

	// Initialize may itself complete authentication (e.g. resuming a redirect
	// callback). A nil result with a nil error means "nothing to resume".
	Initialize(ctx context.Context) (*AuthResult, error)

	// SignIn runs the provider's interactive flow. It fails with
	// ErrProviderUnavailable if capability checks fail.
	SignIn(ctx context.Context) (*AuthResult, error)

	// SignOut invalidates the provider-side session. Best-effort.
	SignOut(ctx context.Context) error

	// AccessToken returns a currently usable upstream access token,
	// refreshing it if the provider supports that.
	AccessToken(ctx context.Context) (string, error)

	// RefreshToken returns the live refresh token, or "" if none.
	RefreshToken() string

	// HasValidTokens reports whether the provider holds a usable token set.
	HasValidTokens() bool
}

// TokenStore persists the Identity snapshot between sessions.
// Implementations: in-memory, JSON file, OS keyring.
type TokenStore interface {
	Get(ctx context.Context) (*Identity, error)
	Set(ctx context.Context, ident *Identity) error
	Clear(ctx context.Context) error
}

// SettingsStore caches application settings locally so the dashboard stays
// usable when the backend is unreachable.
type SettingsStore interface {
	Get(ctx context.Context) (map[string]any, error)
	Set(ctx context.Context, data map[string]any) error
	Clear(ctx context.Context) error
}

// SignInEvent is what the native bridge delivers to the installed hook.
type SignInEvent struct {
	Success bool
	User    *Identity
	Token   string
	Error   string
}

// SignInHook receives the outcome of a native sign-in trigger.
type SignInHook func(SignInEvent)

// NativeBridge is the host-provided sign-in facility on native surfaces.
// It is callback-based, not request/response: TriggerSignIn returns
// immediately and the outcome is delivered to whatever hook is installed at
// that moment. Hook install/restore discipline is the caller's problem.
type NativeBridge interface {
	// Available reports whether the host actually exposes the bridge.
	Available() bool

	// SignInHook returns the currently installed hook (may be nil).
	SignInHook() SignInHook

	// SetSignInHook replaces the installed hook.
	SetSignInHook(hook SignInHook)

	// TriggerSignIn starts the native sign-in UI. Fire-and-forget.
	TriggerSignIn()

	// CurrentUser queries the host for an already signed-in user.
	CurrentUser(ctx context.Context) (*Identity, error)

	// SignOut clears the host-side session.
	SignOut(ctx context.Context) error
}
