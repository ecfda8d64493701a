package core

import "time"

type AuditEntry struct {
	// ID is the unique request ID (X-Correlation-ID)
	ID string `json:"id"`

	// Time is the timestamp of the event
	Time time.Time `json:"time"`

	// Action describing what happened (e.g. "auth.signin", "credential.refresh")
	Action string `json:"action"`

	// Provider is the auth provider involved, if any
	Provider string `json:"provider,omitempty"`

	// Subject identifies the user the event belongs to
	Subject string `json:"subject,omitempty"`

	// Success reports the outcome
	Success bool `json:"success"`

	// Error holds a short failure description
	Error string `json:"error,omitempty"`

	// Metadata contains extra event details
	Metadata map[string]any `json:"metadata,omitempty"`
}

type Auditor interface {
	Log(entry AuditEntry) error
	Close() error
}
