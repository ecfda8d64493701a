package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	content := `
providers:
  - name: web
    type: web_oauth
    client_id: test-client
    issuer_url: https://accounts.example.com
  - name: device
    type: device_flow
    client_id: test-client
backend:
  endpoint: https://backend.example.com/credentials
  anon_key: anon-123
storage:
  type: file
  path: /tmp/tokens.json
platform:
  platform: fire_tv
  device: tv
`
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.Providers) != 2 {
		t.Fatalf("expected 2 providers, got %d", len(cfg.Providers))
	}
	if cfg.Providers[0].Config["client_id"] != "test-client" {
		t.Errorf("inline provider config not captured: %+v", cfg.Providers[0].Config)
	}
	if cfg.Backend.Endpoint != "https://backend.example.com/credentials" {
		t.Errorf("unexpected backend endpoint %q", cfg.Backend.Endpoint)
	}
	if cfg.Platform == nil || cfg.Platform.Platform != "fire_tv" {
		t.Errorf("platform override not parsed: %+v", cfg.Platform)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "Valid",
			cfg: Config{
				Providers: []ProviderConfig{{Name: "web", Type: "web_oauth"}},
			},
		},
		{
			name: "Empty Provider Name",
			cfg: Config{
				Providers: []ProviderConfig{{Name: "", Type: "web_oauth"}},
			},
			wantErr: true,
		},
		{
			name: "Duplicate Provider Name",
			cfg: Config{
				Providers: []ProviderConfig{
					{Name: "a", Type: "stub"},
					{Name: "a", Type: "native"},
				},
			},
			wantErr: true,
		},
		{
			name: "Unknown Provider Type",
			cfg: Config{
				Providers: []ProviderConfig{{Name: "x", Type: "carrier_pigeon"}},
			},
			wantErr: true,
		},
		{
			name: "File Storage Without Path",
			cfg: Config{
				Storage: StorageConfig{Type: "file"},
			},
			wantErr: true,
		},
		{
			name: "Audit File Without Path",
			cfg: Config{
				Audit: AuditConfig{Enabled: true, Type: "file"},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
