package core

import (
	"errors"
	"fmt"
)

// Sentinel errors for the outcomes callers branch on with errors.Is.
var (
	// ErrCancelled marks a user-initiated abort. The coordinator intercepts
	// it and re-shows the sign-in affordance instead of reporting failure.
	ErrCancelled = errors.New("sign-in cancelled by user")

	// ErrNativeTimeout marks a native-bridge sign-in that exceeded its
	// deadline. The prior hook is always restored before this is returned.
	ErrNativeTimeout = errors.New("native sign-in timed out")

	// ErrProviderUnavailable marks a provider whose capability checks failed.
	// Fatal to that provider only; the coordinator may fall back to another.
	ErrProviderUnavailable = errors.New("auth provider unavailable")

	// ErrNotReady marks an authorized operation attempted before the
	// credential service reached the Ready state.
	ErrNotReady = errors.New("credential service not ready")
)

// ConfigurationError indicates missing or invalid runtime configuration,
// e.g. an absent credential endpoint URL. It gates readiness.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// AuthenticationError indicates a bad or absent token, or a backend that
// rejected the presented identity.
type AuthenticationError struct {
	Reason  string
	Wrapped error
}

func (e *AuthenticationError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("authentication failed: %s: %v", e.Reason, e.Wrapped)
	}
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}

func (e *AuthenticationError) Unwrap() error {
	return e.Wrapped
}

// NetworkError indicates a transport failure or a non-2xx backend response.
// There is no stale-token fallback: these are thrown to the caller.
type NetworkError struct {
	Op         string
	StatusCode int
	Body       string
	Wrapped    error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s failed with status %d: %s", e.Op, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Wrapped)
}

func (e *NetworkError) Unwrap() error {
	return e.Wrapped
}

// StaleSessionError flags an authorization error that looks like a stale
// cached-session conflict. The right UX is a retry with forced account
// selection, not a raw error. Best-effort heuristic.
type StaleSessionError struct {
	Code        string
	Description string
}

func (e *StaleSessionError) Error() string {
	return fmt.Sprintf("stale session conflict: %s (%s)", e.Code, e.Description)
}
