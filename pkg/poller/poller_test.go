package poller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dorsuconnect/verifysync/pkg/provider"
)

func newTestIdentity(t *testing.T, fake *provider.FakeProvider) *provider.Identity {
	t.Helper()
	identity, err := fake.CreateIdentity(context.Background(), "a@dorsu.edu.ph", "secret")
	require.NoError(t, err)
	return identity
}

func TestStatusPoller_DetectsVerification(t *testing.T) {
	fake := provider.NewFakeProvider()
	fake.ScriptReloads(false, false, true)
	identity := newTestIdentity(t, fake)

	p := NewStatusPoller(fake, WithInterval(10*time.Millisecond))
	verified := make(chan bool, 16)
	p.Start(identity, func(v bool) {
		verified <- v
	})
	defer p.Stop()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case v := <-verified:
			if v {
				return
			}
		case <-deadline:
			t.Fatal("poller never observed verified=true")
		}
	}
}

func TestStatusPoller_StartIsIdempotent(t *testing.T) {
	fake := provider.NewFakeProvider()
	identity := newTestIdentity(t, fake)

	var mu sync.Mutex
	calls := 0

	p := NewStatusPoller(fake, WithInterval(10*time.Millisecond))
	onChange := func(bool) {
		mu.Lock()
		calls++
		mu.Unlock()
	}
	p.Start(identity, onChange)
	p.Start(identity, onChange) // no-op
	time.Sleep(60 * time.Millisecond)
	p.Stop()

	mu.Lock()
	got := calls
	mu.Unlock()
	// A doubled loop would produce roughly twice as many callbacks.
	assert.LessOrEqual(t, got, 8)
	assert.Greater(t, got, 0)
}

func TestStatusPoller_NoCallbackAfterStop(t *testing.T) {
	fake := provider.NewFakeProvider()
	identity := newTestIdentity(t, fake)

	var mu sync.Mutex
	calls := 0

	p := NewStatusPoller(fake, WithInterval(5*time.Millisecond))
	p.Start(identity, func(bool) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	time.Sleep(30 * time.Millisecond)
	p.Stop()

	mu.Lock()
	atStop := calls
	mu.Unlock()

	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	after := calls
	mu.Unlock()
	assert.Equal(t, atStop, after, "no callback may fire after Stop returns")
}

func TestStatusPoller_StopWithoutStart(t *testing.T) {
	p := NewStatusPoller(provider.NewFakeProvider())
	assert.NotPanics(t, func() {
		p.Stop()
		p.Stop()
	})
}

func TestStatusPoller_RetriesWithinTick(t *testing.T) {
	fake := provider.NewFakeProvider()
	fake.ReloadErr = provider.ErrTransient
	identity := newTestIdentity(t, fake)

	p := NewStatusPoller(fake,
		WithInterval(20*time.Millisecond),
		WithReloadAttempts(3),
		WithRetryInterval(time.Millisecond),
	)
	p.Start(identity, func(bool) {
		t.Error("callback must not fire when every reload fails")
	})
	time.Sleep(50 * time.Millisecond)
	p.Stop()

	// At least one tick ran all three attempts.
	assert.GreaterOrEqual(t, fake.ReloadCount(), 3)
}
