package config

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"

	"github.com/jwlerch78/dashieapp-staging-sub003/internal/platform"
)

type Config struct {
	Providers []ProviderConfig `yaml:"providers"`
	Backend   BackendConfig    `yaml:"backend"`
	Storage   StorageConfig    `yaml:"storage"`
	Audit     AuditConfig      `yaml:"audit"`
	Platform  *PlatformConfig  `yaml:"platform,omitempty"`
}

// ProviderConfig holds configuration for a single auth provider.
type ProviderConfig struct {
	Name   string         `yaml:"name"`
	Type   string         `yaml:"type"`    // e.g. "web_oauth", "device_flow", "native", "stub"
	Config map[string]any `yaml:",inline"` // Capture remaining fields
}

// BackendConfig describes the credential endpoint.
// A missing endpoint is not a load error: the credential service reports it
// as a ConfigurationError when readiness is checked.
type BackendConfig struct {
	// Endpoint is the single HTTPS POST endpoint for all credential
	// operations.
	Endpoint string `yaml:"endpoint"`

	// AnonKey is the service anonymous key sent as bearer and API key.
	AnonKey string `yaml:"anon_key"`
}

// StorageConfig selects the TokenStore implementation.
type StorageConfig struct {
	Type string `yaml:"type"` // e.g. "memory", "file", "keyring"
	Path string `yaml:"path"` // file store only
}

// AuditConfig holds configuration for the auth event log.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	Type    string `yaml:"type"` // e.g. "file", "memory"
}

// PlatformConfig overrides the probed environment signals. Useful for TV
// builds where probing is unreliable, and for tests.
type PlatformConfig struct {
	Platform     string `yaml:"platform"`
	Device       string `yaml:"device"`
	NativeBridge *bool  `yaml:"native_bridge,omitempty"`
	WebView      *bool  `yaml:"webview,omitempty"`
}

// Apply merges the overrides onto probed signals.
func (p *PlatformConfig) Apply(sig platform.Signals) platform.Signals {
	if p == nil {
		return sig
	}
	if p.Platform != "" {
		sig.Platform = p.Platform
	}
	if p.Device != "" {
		sig.Device = p.Device
	}
	if p.NativeBridge != nil {
		sig.NativeBridge = *p.NativeBridge
	}
	if p.WebView != nil {
		sig.WebView = *p.WebView
	}
	return sig
}

// Load reads and parses the configuration file at the given path.
// It returns a Config struct or an error if loading/parsing/validation fails.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config file: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	seen := make(map[string]struct{})
	for idx, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider at index %d has empty name", idx)
		}
		if _, ok := seen[p.Name]; ok {
			return fmt.Errorf("duplicate provider name %q", p.Name)
		}
		seen[p.Name] = struct{}{}

		switch p.Type {
		case "web_oauth", "device_flow", "native", "stub":
		default:
			return fmt.Errorf("unknown provider type %q for provider %q", p.Type, p.Name)
		}
	}

	switch c.Storage.Type {
	case "", "memory", "keyring":
	case "file":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage type %q requires a path", c.Storage.Type)
		}
	default:
		return fmt.Errorf("unknown storage type %q", c.Storage.Type)
	}

	if c.Audit.Enabled {
		switch c.Audit.Type {
		case "", "memory":
		case "file":
			if c.Audit.Path == "" {
				return fmt.Errorf("audit type \"file\" requires a path")
			}
		default:
			return fmt.Errorf("unknown audit type %q", c.Audit.Type)
		}
	}

	return nil
}
