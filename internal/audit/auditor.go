// Package audit records authentication and credential lifecycle events.
package audit

import (
	"fmt"

	"github.com/jwlerch78/dashieapp-staging-sub003/internal/config"
	"github.com/jwlerch78/dashieapp-staging-sub003/internal/core"
)

// FromConfig builds the configured auditor. A disabled config yields the
// noop auditor so call sites never need a nil check.
func FromConfig(cfg config.AuditConfig) (core.Auditor, error) {
	if !cfg.Enabled {
		return NewNoopAuditor(), nil
	}
	switch cfg.Type {
	case "", "memory":
		return NewInMemoryAuditor(), nil
	case "file":
		if cfg.Path == "" {
			return nil, &core.ConfigurationError{Field: "audit.path", Reason: "required for file auditor"}
		}
		return NewFileAuditor(cfg.Path)
	default:
		return nil, &core.ConfigurationError{Field: "audit.type", Reason: fmt.Sprintf("unknown auditor type %q", cfg.Type)}
	}
}
