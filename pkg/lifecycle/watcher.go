// Package lifecycle reacts to app-foreground transitions and provider
// auth-state events, triggering out-of-band verification checks outside the
// regular poll cadence. Foregrounding is the primary channel for detecting a
// link click that happened on another device while this one was backgrounded.
package lifecycle

import (
	"log/slog"
	"sync"
	"time"

	"github.com/dorsuconnect/verifysync/pkg/provider"
)

var defaultFollowUps = []time.Duration{500 * time.Millisecond, time.Second}

// Watcher dispatches out-of-band status checks while a flow is pending.
type Watcher struct {
	provider  provider.IdentityProvider
	followUps []time.Duration

	mu          sync.Mutex
	active      bool
	identity    *provider.Identity
	check       func()
	unsubscribe func()
	timers      []*time.Timer
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithFollowUps sets the delayed re-check offsets fired after a foreground
// transition, to absorb provider propagation delay.
func WithFollowUps(offsets ...time.Duration) Option {
	return func(w *Watcher) {
		w.followUps = offsets
	}
}

func NewWatcher(idp provider.IdentityProvider, opts ...Option) *Watcher {
	w := &Watcher{
		provider:  idp,
		followUps: defaultFollowUps,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Attach activates the watcher for the given identity. The check callback is
// invoked for every out-of-band trigger; it is expected to reload the
// identity and evaluate the verified flag. Attaching while already attached
// re-binds to the new identity.
func (w *Watcher) Attach(identity *provider.Identity, check func()) {
	w.mu.Lock()
	if w.unsubscribe != nil {
		w.unsubscribe()
		w.unsubscribe = nil
	}
	w.active = true
	w.identity = identity
	w.check = check
	w.mu.Unlock()

	unsub := w.provider.OnAuthStateChange(func(changed *provider.Identity) {
		w.onAuthStateChange(changed)
	})

	w.mu.Lock()
	if !w.active {
		// Detached while subscribing.
		w.mu.Unlock()
		unsub()
		return
	}
	w.unsubscribe = unsub
	w.mu.Unlock()

	slog.Info("Lifecycle watcher attached", "uid", identity.UID)
}

// Detach deactivates the watcher, cancels pending follow-up timers, and
// unsubscribes from auth-state events. No check fires after Detach returns.
func (w *Watcher) Detach() {
	w.mu.Lock()
	if !w.active {
		w.mu.Unlock()
		return
	}
	w.active = false
	for _, timer := range w.timers {
		timer.Stop()
	}
	w.timers = nil
	unsub := w.unsubscribe
	w.unsubscribe = nil
	w.identity = nil
	w.check = nil
	w.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	slog.Info("Lifecycle watcher detached")
}

// OnForeground is the platform hook for app-foreground/visibility
// transitions. It fires one immediate check plus delayed follow-ups to absorb
// provider propagation delay. Inactive watchers ignore the event.
func (w *Watcher) OnForeground() {
	w.mu.Lock()
	if !w.active {
		w.mu.Unlock()
		return
	}
	check := w.check
	check()

	for _, offset := range w.followUps {
		timer := time.AfterFunc(offset, func() {
			w.dispatch()
		})
		w.timers = append(w.timers, timer)
	}
	w.mu.Unlock()
}

func (w *Watcher) onAuthStateChange(changed *provider.Identity) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.active || w.identity == nil || changed == nil {
		return
	}
	if changed.UID != w.identity.UID {
		return
	}
	slog.Info("Auth state change for current identity", "uid", changed.UID)
	w.check()
}

func (w *Watcher) dispatch() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.active {
		return
	}
	w.check()
}
