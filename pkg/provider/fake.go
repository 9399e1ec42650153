package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// FakeProvider is an in-memory IdentityProvider for tests. Reload results can
// be scripted so tests can replay provider eventual-consistency sequences such
// as [false, false, true].
type FakeProvider struct {
	mu        sync.Mutex
	verified  bool
	reloads   []bool // scripted verified values, consumed front to back
	listeners map[int]func(*Identity)
	nextSub   int

	CreateErr error
	SendErr   error
	ApplyErrs []error // consumed front to back; nil entry means success
	ReloadErr error

	CreateCalls int
	SendCalls   int
	ApplyCalls  int
	ReloadCalls int
	TokenCalls  int

	Profile string // last display name set via UpdateProfile
}

func NewFakeProvider() *FakeProvider {
	return &FakeProvider{listeners: make(map[int]func(*Identity))}
}

// ScriptReloads queues verified values returned by successive Reload calls.
// Once the script is exhausted, Reload reports the current verified state.
func (f *FakeProvider) ScriptReloads(verified ...bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reloads = append(f.reloads, verified...)
}

// SetVerified flips the provider-side truth, as if the OOB link had been
// clicked on another device.
func (f *FakeProvider) SetVerified(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verified = v
}

func (f *FakeProvider) CreateIdentity(ctx context.Context, email, secret string) (*Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CreateCalls++
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	return &Identity{UID: uuid.New().String(), Email: email}, nil
}

func (f *FakeProvider) SendVerificationEmail(ctx context.Context, identity *Identity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SendCalls++
	return f.SendErr
}

func (f *FakeProvider) ApplyActionCode(ctx context.Context, code string) error {
	f.mu.Lock()
	f.ApplyCalls++
	if len(f.ApplyErrs) > 0 {
		err := f.ApplyErrs[0]
		f.ApplyErrs = f.ApplyErrs[1:]
		f.mu.Unlock()
		return err
	}
	f.verified = true
	f.mu.Unlock()
	return nil
}

func (f *FakeProvider) Reload(ctx context.Context, identity *Identity) error {
	f.mu.Lock()
	f.ReloadCalls++
	if f.ReloadErr != nil {
		err := f.ReloadErr
		f.mu.Unlock()
		return err
	}
	v := f.verified
	if len(f.reloads) > 0 {
		v = f.reloads[0]
		f.reloads = f.reloads[1:]
	}
	identity.EmailVerified = v
	f.mu.Unlock()
	return nil
}

func (f *FakeProvider) IDToken(ctx context.Context, identity *Identity, forceRefresh bool) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.TokenCalls++
	return fmt.Sprintf("fake-token-%s", identity.UID), nil
}

func (f *FakeProvider) UpdateProfile(ctx context.Context, identity *Identity, displayName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Profile = displayName
	identity.DisplayName = displayName
	return nil
}

func (f *FakeProvider) OnAuthStateChange(fn func(*Identity)) func() {
	f.mu.Lock()
	id := f.nextSub
	f.nextSub++
	f.listeners[id] = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.listeners, id)
		f.mu.Unlock()
	}
}

// ReloadCount returns the number of Reload calls observed so far. Safe to
// call while poll goroutines are still running.
func (f *FakeProvider) ReloadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ReloadCalls
}

// EmitAuthState fires all registered auth-state listeners with the identity.
func (f *FakeProvider) EmitAuthState(identity *Identity) {
	f.mu.Lock()
	fns := make([]func(*Identity), 0, len(f.listeners))
	for _, fn := range f.listeners {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(identity)
	}
}
