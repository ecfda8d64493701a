package providers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jwlerch78/dashieapp-staging-sub003/internal/config"
	"github.com/jwlerch78/dashieapp-staging-sub003/internal/core"
	"github.com/jwlerch78/dashieapp-staging-sub003/internal/queue"
)

// Deps carries the host collaborators the provider variants need.
// Any of them may be nil when the host lacks the facility.
type Deps struct {
	Bridge     core.NativeBridge
	Callback   CallbackSource
	OpenURL    URLOpener
	Prompt     DevicePrompt
	Deferred   *queue.Deferred
	HTTPClient *http.Client

	// NativeTimeout overrides the 30-second native sign-in deadline.
	NativeTimeout time.Duration
}

func BuildRegistry(ctx context.Context, cfgs []config.ProviderConfig, deps Deps) (map[string]core.AuthProvider, error) {
	registry := make(map[string]core.AuthProvider)
	for _, cfg := range cfgs {
		switch cfg.Type {
		case "web_oauth":
			prov, err := NewWebCodeFlowProvider(ctx, cfg, deps.Callback, deps.OpenURL, deps.Deferred)
			if err != nil {
				return nil, fmt.Errorf("building web_oauth provider %q: %w", cfg.Name, err)
			}
			registry[cfg.Name] = prov
		case "device_flow":
			prov, err := NewDeviceCodeFlowProvider(ctx, cfg, deps.Prompt, deps.HTTPClient, deps.Deferred)
			if err != nil {
				return nil, fmt.Errorf("building device_flow provider %q: %w", cfg.Name, err)
			}
			registry[cfg.Name] = prov
		case "native":
			registry[cfg.Name] = NewNativeBridgeProvider(cfg.Name, deps.Bridge, deps.NativeTimeout)
		case "stub":
			registry[cfg.Name] = NewStubProvider(cfg.Name)
		default:
			return nil, fmt.Errorf("unknown provider type %q for provider %q", cfg.Type, cfg.Name)
		}
	}
	return registry, nil
}
