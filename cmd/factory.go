package cmd

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jwlerch78/dashieapp-staging-sub003/internal/audit"
	"github.com/jwlerch78/dashieapp-staging-sub003/internal/auth"
	"github.com/jwlerch78/dashieapp-staging-sub003/internal/callback"
	"github.com/jwlerch78/dashieapp-staging-sub003/internal/config"
	"github.com/jwlerch78/dashieapp-staging-sub003/internal/core"
	"github.com/jwlerch78/dashieapp-staging-sub003/internal/credsvc"
	"github.com/jwlerch78/dashieapp-staging-sub003/internal/platform"
	"github.com/jwlerch78/dashieapp-staging-sub003/internal/providers"
	"github.com/jwlerch78/dashieapp-staging-sub003/internal/queue"
	"github.com/jwlerch78/dashieapp-staging-sub003/internal/store"
)

type Factory struct {
	// AuthConfigPath contains the "main" Dashie configuration => providers,
	// backend endpoint, storage and audit settings.
	AuthConfigPath string
}

func NewFactory() *Factory {
	return &Factory{}
}

// App bundles the wired-up components a command works with.
type App struct {
	Config      *config.Config
	Signals     platform.Signals
	Coordinator *auth.Coordinator
	Callback    *callback.Server
	Deferred    *queue.Deferred
	Service     *credsvc.Service
	Operations  *credsvc.Operations
	Auditor     core.Auditor
}

// Close releases the app's background resources.
func (a *App) Close(ctx context.Context) {
	if a.Callback != nil {
		_ = a.Callback.Shutdown(ctx)
	}
	if a.Auditor != nil {
		_ = a.Auditor.Close()
	}
}

func (f *Factory) LoadAuthConfig() (*config.Config, error) {
	if f.AuthConfigPath == "" {
		return nil, fmt.Errorf("auth config file not specified (use -f)")
	}
	return config.Load(f.AuthConfigPath)
}

// Signals builds the environment signals: probed defaults, then viper
// overrides (flags and env), then the config file's platform block.
func (f *Factory) Signals(cfg *config.Config) platform.Signals {
	sig := platform.Signals{
		Platform: "desktop",
		Device:   "desktop",
	}
	if v := viper.GetString(PlatformKey); v != "" {
		sig.Platform = v
	}
	if v := viper.GetString(DeviceKey); v != "" {
		sig.Device = v
	}
	if viper.IsSet(WebViewKey) {
		sig.WebView = viper.GetBool(WebViewKey)
	}
	if viper.IsSet(NativeBridgeKey) {
		sig.NativeBridge = viper.GetBool(NativeBridgeKey)
	}
	return cfg.Platform.Apply(sig)
}

// GetApp wires the full stack from the auth config: stores, providers,
// coordinator and the credential service.
func (f *Factory) GetApp(ctx context.Context) (*App, error) {
	cfg, err := f.LoadAuthConfig()
	if err != nil {
		return nil, fmt.Errorf("loading auth config: %w", err)
	}

	sig := f.Signals(cfg)

	auditor, err := audit.FromConfig(cfg.Audit)
	if err != nil {
		return nil, fmt.Errorf("building auditor: %w", err)
	}

	tokenStore, err := buildTokenStore(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("building token store: %w", err)
	}

	deferred := queue.NewDeferred(0)

	deps := providers.Deps{
		OpenURL:  openBrowser,
		Prompt:   printDevicePrompt,
		Deferred: deferred,
	}

	// the loopback server only makes sense where a browser can redirect
	// back to us
	var cbServer *callback.Server
	if platform.RecommendStrategy(sig) == platform.StrategyWebOAuth {
		cbServer, err = callback.NewServer("127.0.0.1:0", "")
		if err != nil {
			return nil, fmt.Errorf("starting callback server: %w", err)
		}
		cbServer.Start()
		deps.Callback = cbServer
		log.Debug().Str("redirect_url", cbServer.RedirectURL()).Msg("callback server listening")

		// providers without a fixed redirect URL get the loopback one
		for _, p := range cfg.Providers {
			if p.Type == "web_oauth" {
				if _, ok := p.Config["redirect_url"]; !ok {
					p.Config["redirect_url"] = cbServer.RedirectURL()
				}
			}
		}
	}

	registry, err := providers.BuildRegistry(ctx, cfg.Providers, deps)
	if err != nil {
		if cbServer != nil {
			_ = cbServer.Shutdown(ctx)
		}
		return nil, fmt.Errorf("building provider registry: %w", err)
	}

	coord := auth.NewCoordinator(auth.Options{
		Signals:   sig,
		Providers: registry,
		Store:     tokenStore,
		Auditor:   auditor,
	})

	svc := credsvc.NewService(coord, cfg.Backend)

	return &App{
		Config:      cfg,
		Signals:     sig,
		Coordinator: coord,
		Callback:    cbServer,
		Deferred:    deferred,
		Service:     svc,
		Operations:  credsvc.NewOperations(svc),
		Auditor:     auditor,
	}, nil
}

func buildTokenStore(cfg config.StorageConfig) (core.TokenStore, error) {
	switch cfg.Type {
	case "", "memory":
		return store.NewInMemoryTokenStore(), nil
	case "keyring":
		return store.NewKeyringTokenStore(), nil
	case "file":
		return store.NewFileTokenStore(cfg.Path), nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

func openBrowser(rawurl string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", rawurl)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", rawurl)
	default:
		cmd = exec.Command("xdg-open", rawurl)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("opening browser: %w", err)
	}
	return nil
}

func printDevicePrompt(userCode, verificationURI string) {
	log.Info().Msgf("To sign in, visit %s and enter the code %s",
		bold(verificationURI), bold(userCode))
}

func (f *Factory) bindConfigFlag(flags *pflag.FlagSet) {
	flags.StringVarP(&f.AuthConfigPath, "auth-config", "f", "", "The Dashie auth config file to use")
}
