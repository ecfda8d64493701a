package core

import "time"

// Identity represents the signed-in user as produced by an AuthProvider.
// It is owned by the coordinator while live; a snapshot is persisted to the
// TokenStore for session restoration.
type Identity struct {
	// ID is the unique subject identifier (e.g. the OIDC "sub" claim).
	ID string `json:"id"`

	// Email is the primary email address reported by the identity provider.
	Email string `json:"email"`

	// Name is the display name.
	Name string `json:"name"`

	// Picture is a URL to the profile picture, if any.
	Picture string `json:"picture,omitempty"`

	// AuthMethod is the name of the provider that produced this identity
	// (e.g. "web_oauth", "device_flow", "native").
	AuthMethod string `json:"auth_method"`

	// ProviderAccessToken is the live upstream access token for this session.
	ProviderAccessToken string `json:"provider_access_token,omitempty"`

	// SignedInAt is when this identity was established.
	SignedInAt time.Time `json:"signed_in_at"`
}

// ProviderTokenSet is the raw token material returned by the identity
// provider. The provider keeps only the live copy needed for the current
// session; durability is the TokenStore's concern.
type ProviderTokenSet struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	Scope        string    `json:"scope,omitempty"`
	IssuedAt     time.Time `json:"issued_at"`
}

// Valid reports whether the access token is present and not yet expired.
func (t *ProviderTokenSet) Valid() bool {
	if t == nil || t.AccessToken == "" {
		return false
	}
	return t.ExpiresAt.IsZero() || time.Now().Before(t.ExpiresAt)
}

// ServiceCredential is the short-lived backend-issued JWT that authorizes
// data access. It is held exclusively by the credential service.
type ServiceCredential struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ProviderDescriptor is read-only capability metadata for a provider.
// It is not mutated after provider construction.
type ProviderDescriptor struct {
	Name                  string `json:"name"`
	Type                  string `json:"type"`
	SupportsRefreshTokens bool   `json:"supports_refresh_tokens"`
	Available             bool   `json:"available"`
}

// AuthStatus is the normalized outcome of a sign-in or initialize call.
type AuthStatus int

const (
	// AuthCompleted means the provider produced a usable Identity.
	AuthCompleted AuthStatus = iota

	// AuthPending means the provider triggered an external redirect and the
	// flow will resume on a later Initialize.
	AuthPending

	// AuthCancelled means the user aborted the flow. This is a distinguished
	// outcome, not an error: the caller re-shows the sign-in affordance.
	AuthCancelled
)

func (s AuthStatus) String() string {
	switch s {
	case AuthCompleted:
		return "completed"
	case AuthPending:
		return "pending"
	case AuthCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// AuthResult is what every provider variant resolves to, regardless of
// whether the underlying flow is promise-style or callback-style.
type AuthResult struct {
	Status AuthStatus `json:"status"`

	// User is set when Status == AuthCompleted.
	User *Identity `json:"user,omitempty"`

	// Provider is the name of the provider that produced this result.
	Provider string `json:"provider,omitempty"`
}
