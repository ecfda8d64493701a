package providers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jwlerch78/dashieapp-staging-sub003/internal/core"
)

// fakeBridge simulates a callback-based host sign-in facility.
type fakeBridge struct {
	mu        sync.Mutex
	available bool
	hook      core.SignInHook
	onTrigger func(deliver func(core.SignInEvent))
	current   *core.Identity
}

func (b *fakeBridge) Available() bool {
	return b.available
}

func (b *fakeBridge) SignInHook() core.SignInHook {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hook
}

func (b *fakeBridge) SetSignInHook(hook core.SignInHook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hook = hook
}

func (b *fakeBridge) TriggerSignIn() {
	if b.onTrigger != nil {
		b.onTrigger(b.deliver)
	}
}

func (b *fakeBridge) deliver(ev core.SignInEvent) {
	b.mu.Lock()
	hook := b.hook
	b.mu.Unlock()
	if hook != nil {
		hook(ev)
	}
}

func (b *fakeBridge) CurrentUser(ctx context.Context) (*core.Identity, error) {
	return b.current, nil
}

func (b *fakeBridge) SignOut(ctx context.Context) error {
	b.current = nil
	return nil
}

func TestNativeBridgeProvider_SignIn(t *testing.T) {
	bridge := &fakeBridge{available: true}
	bridge.onTrigger = func(deliver func(core.SignInEvent)) {
		go deliver(core.SignInEvent{
			Success: true,
			User:    &core.Identity{ID: "user-1", Email: "user@example.com"},
			Token:   "native-token",
		})
	}

	prov := NewNativeBridgeProvider("native", bridge, time.Second)
	res, err := prov.SignIn(context.Background())
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if res.Status != core.AuthCompleted {
		t.Fatalf("status = %v, want completed", res.Status)
	}
	if res.User.ProviderAccessToken != "native-token" {
		t.Errorf("token not carried onto identity: %+v", res.User)
	}
	if !prov.HasValidTokens() {
		t.Error("provider should hold tokens after sign-in")
	}
	if bridge.SignInHook() != nil {
		t.Error("one-shot hook left installed after sign-in")
	}
}

func TestNativeBridgeProvider_TimeoutRestoresHook(t *testing.T) {
	var prevCalled bool
	prev := core.SignInHook(func(core.SignInEvent) { prevCalled = true })

	bridge := &fakeBridge{available: true, hook: prev}
	// the trigger never delivers: the host UI hangs
	bridge.onTrigger = func(func(core.SignInEvent)) {}

	prov := NewNativeBridgeProvider("native", bridge, 30*time.Millisecond)
	_, err := prov.SignIn(context.Background())
	if !errors.Is(err, core.ErrNativeTimeout) {
		t.Fatalf("SignIn() error = %v, want ErrNativeTimeout", err)
	}

	// the prior hook must be back in place, unfired
	bridge.deliver(core.SignInEvent{Success: true})
	if !prevCalled {
		t.Error("prior hook was not restored after timeout")
	}

	// a subsequent attempt on the same provider must succeed cleanly
	bridge.hook = nil
	bridge.onTrigger = func(deliver func(core.SignInEvent)) {
		go deliver(core.SignInEvent{Success: true, User: &core.Identity{ID: "user-2"}, Token: "t2"})
	}
	res, err := prov.SignIn(context.Background())
	if err != nil || res.Status != core.AuthCompleted {
		t.Fatalf("retry after timeout = (%+v, %v), want completed", res, err)
	}
}

func TestNativeBridgeProvider_CancelledEvent(t *testing.T) {
	bridge := &fakeBridge{available: true}
	bridge.onTrigger = func(deliver func(core.SignInEvent)) {
		go deliver(core.SignInEvent{Success: false, Error: "user cancelled"})
	}

	prov := NewNativeBridgeProvider("native", bridge, time.Second)
	res, err := prov.SignIn(context.Background())
	if err != nil {
		t.Fatalf("SignIn() error = %v, cancellation must not be an error", err)
	}
	if res.Status != core.AuthCancelled {
		t.Errorf("status = %v, want cancelled", res.Status)
	}
}

func TestNativeBridgeProvider_Unavailable(t *testing.T) {
	prov := NewNativeBridgeProvider("native", &fakeBridge{available: false}, time.Second)
	_, err := prov.SignIn(context.Background())
	if !errors.Is(err, core.ErrProviderUnavailable) {
		t.Errorf("SignIn() error = %v, want ErrProviderUnavailable", err)
	}
}

func TestNativeBridgeProvider_InitializeRestoresHostSession(t *testing.T) {
	bridge := &fakeBridge{
		available: true,
		current:   &core.Identity{ID: "host-user", ProviderAccessToken: "host-token"},
	}
	prov := NewNativeBridgeProvider("native", bridge, time.Second)

	res, err := prov.Initialize(context.Background())
	if err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if res == nil || res.Status != core.AuthCompleted || res.User.ID != "host-user" {
		t.Errorf("Initialize() = %+v, want restored host session", res)
	}
}
