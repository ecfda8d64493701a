package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/jwlerch78/dashieapp-staging-sub003/internal/core"
	"github.com/jwlerch78/dashieapp-staging-sub003/internal/platform"
	"github.com/jwlerch78/dashieapp-staging-sub003/internal/store"
)

// scriptedProvider implements core.AuthProvider with canned outcomes.
type scriptedProvider struct {
	name        string
	typeName    string
	initResult  *core.AuthResult
	initErr     error
	signInQueue []func() (*core.AuthResult, error)
	signInCalls int
	signOutErr  error
	token       string
}

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) Describe() core.ProviderDescriptor {
	return core.ProviderDescriptor{Name: p.name, Type: p.typeName, Available: true}
}

func (p *scriptedProvider) Initialize(ctx context.Context) (*core.AuthResult, error) {
	return p.initResult, p.initErr
}

func (p *scriptedProvider) SignIn(ctx context.Context) (*core.AuthResult, error) {
	idx := p.signInCalls
	p.signInCalls++
	if idx >= len(p.signInQueue) {
		return nil, errors.New("unexpected SignIn call")
	}
	return p.signInQueue[idx]()
}

func (p *scriptedProvider) SignOut(ctx context.Context) error { return p.signOutErr }

func (p *scriptedProvider) AccessToken(ctx context.Context) (string, error) {
	if p.token == "" {
		return "", &core.AuthenticationError{Reason: "no token"}
	}
	return p.token, nil
}

func (p *scriptedProvider) RefreshToken() string { return "" }
func (p *scriptedProvider) HasValidTokens() bool { return p.token != "" }

func completed(user *core.Identity) func() (*core.AuthResult, error) {
	return func() (*core.AuthResult, error) {
		return &core.AuthResult{Status: core.AuthCompleted, User: user}, nil
	}
}

func cancelled() func() (*core.AuthResult, error) {
	return func() (*core.AuthResult, error) {
		return &core.AuthResult{Status: core.AuthCancelled}, nil
	}
}

func failing(err error) func() (*core.AuthResult, error) {
	return func() (*core.AuthResult, error) { return nil, err }
}

func TestCoordinator_SignInCompleted(t *testing.T) {
	user := &core.Identity{ID: "user-1", AuthMethod: "web"}
	prov := &scriptedProvider{name: "web", typeName: "web_oauth", signInQueue: []func() (*core.AuthResult, error){completed(user)}}
	tokens := store.NewInMemoryTokenStore()

	c := NewCoordinator(Options{
		Signals:   platform.Signals{Platform: "web", Device: "desktop"},
		Providers: map[string]core.AuthProvider{"web": prov},
		Store:     tokens,
	})

	var events []EventType
	c.Subscribe(func(ev Event) { events = append(events, ev.Type) })

	res, err := c.SignIn(context.Background(), "")
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if res.Status != core.AuthCompleted {
		t.Fatalf("status = %v", res.Status)
	}
	if !c.IsAuthenticated() || c.User().ID != "user-1" || c.CurrentProvider() != "web" {
		t.Errorf("coordinator state not updated: auth=%v user=%+v", c.IsAuthenticated(), c.User())
	}
	if len(events) != 1 || events[0] != EventSignedIn {
		t.Errorf("events = %v, want [signed_in]", events)
	}

	// the identity snapshot must be persisted for restoration
	snap, _ := tokens.Get(context.Background())
	if snap == nil || snap.ID != "user-1" {
		t.Errorf("snapshot not persisted: %+v", snap)
	}
}

func TestCoordinator_CancelledIsNotAnError(t *testing.T) {
	prov := &scriptedProvider{name: "web", typeName: "web_oauth", signInQueue: []func() (*core.AuthResult, error){cancelled()}}
	c := NewCoordinator(Options{
		Signals:   platform.Signals{Platform: "web", Device: "desktop"},
		Providers: map[string]core.AuthProvider{"web": prov},
	})

	var prompts int
	var errorsSeen int
	c.Subscribe(func(ev Event) {
		if ev.Type == EventSignInPrompt {
			prompts++
		}
	})

	res, err := c.SignIn(context.Background(), "")
	if err != nil {
		errorsSeen++
	}
	if errorsSeen != 0 {
		t.Fatalf("cancelled flow surfaced an error: %v", err)
	}
	if res.Status != core.AuthCancelled {
		t.Fatalf("status = %v, want cancelled", res.Status)
	}
	if c.IsAuthenticated() {
		t.Error("cancelled flow must leave isAuthenticated false")
	}
	if prompts != 1 {
		t.Errorf("sign-in prompt re-shown %d times, want exactly 1", prompts)
	}
}

func TestCoordinator_FireTVFallback(t *testing.T) {
	user := &core.Identity{ID: "tv-user", AuthMethod: "device"}
	native := &scriptedProvider{
		name: "native", typeName: "native",
		signInQueue: []func() (*core.AuthResult, error){failing(core.ErrProviderUnavailable)},
	}
	device := &scriptedProvider{
		name: "device", typeName: "device_flow",
		signInQueue: []func() (*core.AuthResult, error){completed(user)},
	}

	c := NewCoordinator(Options{
		Signals: platform.Signals{Platform: "fire_tv", Device: "tv"},
		Providers: map[string]core.AuthProvider{
			"native": native,
			"device": device,
		},
	})

	res, err := c.SignIn(context.Background(), "native")
	if err != nil {
		t.Fatalf("SignIn() error = %v, fallback should have absorbed the failure", err)
	}
	if res.Status != core.AuthCompleted || res.User.ID != "tv-user" {
		t.Fatalf("fallback result = %+v", res)
	}
	if device.signInCalls != 1 {
		t.Errorf("device flow called %d times, want exactly 1", device.signInCalls)
	}
}

func TestCoordinator_NoFallbackOffFireTV(t *testing.T) {
	native := &scriptedProvider{
		name: "native", typeName: "native",
		signInQueue: []func() (*core.AuthResult, error){failing(core.ErrProviderUnavailable)},
	}
	device := &scriptedProvider{name: "device", typeName: "device_flow"}

	c := NewCoordinator(Options{
		Signals: platform.Signals{Platform: "web", Device: "desktop"},
		Providers: map[string]core.AuthProvider{
			"native": native,
			"device": device,
		},
	})

	_, err := c.SignIn(context.Background(), "native")
	if !errors.Is(err, core.ErrProviderUnavailable) {
		t.Fatalf("SignIn() error = %v, want ErrProviderUnavailable", err)
	}
	if device.signInCalls != 0 {
		t.Errorf("device flow must not be tried off Fire TV")
	}
}

func TestCoordinator_SignOutBestEffort(t *testing.T) {
	user := &core.Identity{ID: "user-1", AuthMethod: "web"}
	prov := &scriptedProvider{
		name: "web", typeName: "web_oauth",
		signInQueue: []func() (*core.AuthResult, error){completed(user)},
		signOutErr:  errors.New("provider exploded"),
	}
	tokens := store.NewInMemoryTokenStore()

	c := NewCoordinator(Options{
		Signals:   platform.Signals{Platform: "web", Device: "desktop"},
		Providers: map[string]core.AuthProvider{"web": prov},
		Store:     tokens,
	})
	if _, err := c.SignIn(context.Background(), "web"); err != nil {
		t.Fatal(err)
	}

	err := c.SignOut(context.Background())
	if err == nil {
		t.Error("provider failure should still be reported")
	}
	// but local state is cleared regardless
	if c.IsAuthenticated() || c.User() != nil {
		t.Error("local state not cleared on failing sign-out")
	}
	if snap, _ := tokens.Get(context.Background()); snap != nil {
		t.Error("token store not cleared on failing sign-out")
	}
}

func TestCoordinator_InitRestoresSession(t *testing.T) {
	tokens := store.NewInMemoryTokenStore()
	_ = tokens.Set(context.Background(), &core.Identity{ID: "stored", AuthMethod: "web", ProviderAccessToken: "tok"})

	prov := &scriptedProvider{name: "web", typeName: "web_oauth"}
	c := NewCoordinator(Options{
		Signals:   platform.Signals{Platform: "web", Device: "desktop"},
		Providers: map[string]core.AuthProvider{"web": prov},
		Store:     tokens,
	})

	if err := c.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if !c.IsAuthenticated() || c.User().ID != "stored" {
		t.Errorf("session not restored: %+v", c.User())
	}

	token, err := c.AccessToken(context.Background())
	if err != nil || token != "tok" {
		t.Errorf("AccessToken() = (%q, %v)", token, err)
	}
}

func TestCoordinator_InitProviderCompletesAuth(t *testing.T) {
	user := &core.Identity{ID: "resumed", AuthMethod: "web"}
	prov := &scriptedProvider{
		name: "web", typeName: "web_oauth",
		initResult: &core.AuthResult{Status: core.AuthCompleted, User: user},
	}
	c := NewCoordinator(Options{
		Signals:   platform.Signals{Platform: "web", Device: "desktop"},
		Providers: map[string]core.AuthProvider{"web": prov},
		Store:     store.NewInMemoryTokenStore(),
	})

	if err := c.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if !c.IsAuthenticated() || c.User().ID != "resumed" {
		t.Errorf("provider-completed init not adopted: %+v", c.User())
	}
}

func TestCoordinator_InitEarlyExitDuringRedirect(t *testing.T) {
	prov := &scriptedProvider{
		name: "web", typeName: "web_oauth",
		initResult: &core.AuthResult{Status: core.AuthCompleted, User: &core.Identity{ID: "x"}},
	}
	c := NewCoordinator(Options{
		Signals:            platform.Signals{Platform: "web", Device: "desktop"},
		Providers:          map[string]core.AuthProvider{"web": prov},
		RedirectInProgress: func() bool { return true },
	})

	if err := c.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if c.IsAuthenticated() {
		t.Error("init must exit early while a redirect is in progress")
	}
}
