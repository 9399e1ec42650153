package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dorsuconnect/verifysync/pkg/provider"
)

type checkCounter struct {
	mu    sync.Mutex
	count int
}

func (c *checkCounter) incr() {
	c.mu.Lock()
	c.count++
	c.mu.Unlock()
}

func (c *checkCounter) value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

func newTestIdentity(t *testing.T, fake *provider.FakeProvider) *provider.Identity {
	t.Helper()
	identity, err := fake.CreateIdentity(context.Background(), "a@dorsu.edu.ph", "secret")
	require.NoError(t, err)
	return identity
}

func TestWatcher_ForegroundFiresImmediateAndFollowUps(t *testing.T) {
	fake := provider.NewFakeProvider()
	identity := newTestIdentity(t, fake)

	var checks checkCounter
	w := NewWatcher(fake, WithFollowUps(10*time.Millisecond, 20*time.Millisecond))
	w.Attach(identity, checks.incr)
	defer w.Detach()

	w.OnForeground()
	assert.Equal(t, 1, checks.value(), "one immediate check")

	assert.Eventually(t, func() bool {
		return checks.value() == 3
	}, time.Second, 5*time.Millisecond, "two delayed follow-ups expected")
}

func TestWatcher_InactiveIgnoresForeground(t *testing.T) {
	fake := provider.NewFakeProvider()

	var checks checkCounter
	w := NewWatcher(fake)
	w.OnForeground()
	assert.Zero(t, checks.value())
}

func TestWatcher_DetachCancelsFollowUps(t *testing.T) {
	fake := provider.NewFakeProvider()
	identity := newTestIdentity(t, fake)

	var checks checkCounter
	w := NewWatcher(fake, WithFollowUps(20*time.Millisecond))
	w.Attach(identity, checks.incr)

	w.OnForeground()
	w.Detach()
	atDetach := checks.value()

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, atDetach, checks.value(), "no check may fire after Detach returns")
}

func TestWatcher_AuthStateChangeForCurrentIdentity(t *testing.T) {
	fake := provider.NewFakeProvider()
	identity := newTestIdentity(t, fake)

	var checks checkCounter
	w := NewWatcher(fake)
	w.Attach(identity, checks.incr)
	defer w.Detach()

	fake.EmitAuthState(identity)
	assert.Equal(t, 1, checks.value())
}

func TestWatcher_AuthStateChangeForOtherIdentityIgnored(t *testing.T) {
	fake := provider.NewFakeProvider()
	identity := newTestIdentity(t, fake)
	other := newTestIdentity(t, fake)

	var checks checkCounter
	w := NewWatcher(fake)
	w.Attach(identity, checks.incr)
	defer w.Detach()

	fake.EmitAuthState(other)
	assert.Zero(t, checks.value())
}

func TestWatcher_DetachUnsubscribes(t *testing.T) {
	fake := provider.NewFakeProvider()
	identity := newTestIdentity(t, fake)

	var checks checkCounter
	w := NewWatcher(fake)
	w.Attach(identity, checks.incr)
	w.Detach()

	fake.EmitAuthState(identity)
	assert.Zero(t, checks.value())

	assert.NotPanics(t, func() { w.Detach() })
}
