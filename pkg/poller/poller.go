// Package poller drives aggressive short-interval reloads of the identity
// while email verification is pending, so a link clicked on another device is
// noticed within roughly one interval.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dorsuconnect/verifysync/pkg/provider"
)

const (
	defaultInterval       = 500 * time.Millisecond
	defaultReloadAttempts = 3
	defaultRetryInterval  = 150 * time.Millisecond
)

// StatusPoller repeatedly reloads an identity and reports the verified flag.
type StatusPoller struct {
	provider       provider.IdentityProvider
	interval       time.Duration
	reloadAttempts int
	retryInterval  time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// Option configures a StatusPoller.
type Option func(*StatusPoller)

// WithInterval sets the poll interval.
func WithInterval(d time.Duration) Option {
	return func(p *StatusPoller) {
		p.interval = d
	}
}

// WithReloadAttempts sets how many reload attempts are made per tick before
// giving up until the next tick. Reloads can fail transiently right after a
// token refresh while the provider converges.
func WithReloadAttempts(n int) Option {
	return func(p *StatusPoller) {
		p.reloadAttempts = n
	}
}

// WithRetryInterval sets the pause between reload attempts within one tick.
func WithRetryInterval(d time.Duration) Option {
	return func(p *StatusPoller) {
		p.retryInterval = d
	}
}

func NewStatusPoller(idp provider.IdentityProvider, opts ...Option) *StatusPoller {
	p := &StatusPoller{
		provider:       idp,
		interval:       defaultInterval,
		reloadAttempts: defaultReloadAttempts,
		retryInterval:  defaultRetryInterval,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start begins polling. Calling Start while already running is a no-op. The
// onChange callback receives the verified flag after each successful reload;
// it must not call Stop itself; consumers that want to stop on a result
// should signal their own goroutine to do so.
func (p *StatusPoller) Start(identity *provider.Identity, onChange func(verified bool)) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	stopCh := make(chan struct{})
	p.stopCh = stopCh
	p.mu.Unlock()

	// Work on a private copy so reloads never race with other components
	// holding the same identity handle.
	local := *identity

	slog.Info("Status poller started", "uid", identity.UID, "interval", p.interval)
	go p.run(&local, onChange, stopCh)
}

// Stop halts polling. It is always safe to call, including when the poller is
// not running. No callback fires after Stop returns: callback dispatch holds
// the same lock Stop acquires.
func (p *StatusPoller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	p.running = false
	close(p.stopCh)
	slog.Info("Status poller stopped")
}

func (p *StatusPoller) run(identity *provider.Identity, onChange func(bool), stopCh chan struct{}) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if err := p.reload(identity, stopCh); err != nil {
				slog.Warn("Reload failed for this tick", "uid", identity.UID, "error", err)
				continue
			}
			p.dispatch(identity, onChange, stopCh)
		}
	}
}

// reload refreshes the identity with bounded retries within a single tick.
func (p *StatusPoller) reload(identity *provider.Identity, stopCh chan struct{}) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	policy := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewConstantBackOff(p.retryInterval),
			uint64(p.reloadAttempts-1),
		),
		ctx,
	)
	return backoff.Retry(func() error {
		return p.provider.Reload(ctx, identity)
	}, policy)
}

func (p *StatusPoller) dispatch(identity *provider.Identity, onChange func(bool), stopCh chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running || p.stopCh != stopCh {
		return
	}
	onChange(identity.EmailVerified)
}
