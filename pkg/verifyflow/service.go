package verifyflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dorsuconnect/verifysync/pkg/actioncode"
	"github.com/dorsuconnect/verifysync/pkg/artifacts"
	"github.com/dorsuconnect/verifysync/pkg/backend"
	"github.com/dorsuconnect/verifysync/pkg/deeplink"
	"github.com/dorsuconnect/verifysync/pkg/lifecycle"
	"github.com/dorsuconnect/verifysync/pkg/poller"
	"github.com/dorsuconnect/verifysync/pkg/provider"
)

// BackendClient is the account backend's registration capability. The call
// is not idempotent and is issued at most once per flow.
type BackendClient interface {
	Register(ctx context.Context, idToken string, req backend.RegisterRequest) (*backend.RegisterResult, error)
}

type signalSource string

const (
	sourcePoller   signalSource = "poller"
	sourceWatcher  signalSource = "watcher"
	sourceApplier  signalSource = "applier"
	sourceDeepLink signalSource = "deeplink"
)

const checkTimeout = 10 * time.Second

// Orchestrator drives the account completion state machine:
// idle → pending → verified → completing → done, with failed reachable from
// pending and completing. All verification signal producers (poll tick,
// lifecycle watcher, code applier) funnel into a single consumer goroutine;
// the verifiedFired flag is the sole guard making pending→verified fire
// exactly once however the signals race.
type Orchestrator struct {
	provider provider.IdentityProvider
	backend  BackendClient
	store    artifacts.Store
	janitor  *artifacts.Janitor
	applier  *actioncode.Applier
	poller   *poller.StatusPoller
	watcher  *lifecycle.Watcher
	onState  func(Snapshot)

	mu            sync.Mutex
	flow          *Flow
	verifiedFired bool
	starting      bool
	signals       chan signalSource
	cancelRun     context.CancelFunc
}

// Option configures an Orchestrator.
type Option func(*orchestratorConfig)

type orchestratorConfig struct {
	pollerOpts  []poller.Option
	watcherOpts []lifecycle.Option
	onState     func(Snapshot)
}

// WithPollerOptions forwards options to the status poller.
func WithPollerOptions(opts ...poller.Option) Option {
	return func(c *orchestratorConfig) {
		c.pollerOpts = append(c.pollerOpts, opts...)
	}
}

// WithWatcherOptions forwards options to the lifecycle watcher.
func WithWatcherOptions(opts ...lifecycle.Option) Option {
	return func(c *orchestratorConfig) {
		c.watcherOpts = append(c.watcherOpts, opts...)
	}
}

// WithStateListener registers a callback invoked after every state change,
// with a read-only snapshot. Intended for the UI layer.
func WithStateListener(fn func(Snapshot)) Option {
	return func(c *orchestratorConfig) {
		c.onState = fn
	}
}

func NewOrchestrator(idp provider.IdentityProvider, bc BackendClient, store artifacts.Store, opts ...Option) *Orchestrator {
	cfg := &orchestratorConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	return &Orchestrator{
		provider: idp,
		backend:  bc,
		store:    store,
		janitor:  artifacts.NewJanitor(store),
		applier:  actioncode.NewApplier(idp),
		poller:   poller.NewStatusPoller(idp, cfg.pollerOpts...),
		watcher:  lifecycle.NewWatcher(idp, cfg.watcherOpts...),
		onState:  cfg.onState,
	}
}

// BeginRequest carries the signup input for a new verification flow.
type BeginRequest struct {
	Email  string
	Secret string

	// Username defaults to the email local part when empty.
	Username string

	// Explicit names win over FullName during completion.
	FirstName string
	LastName  string
	FullName  string
}

// Begin creates the identity, dispatches the verification email, and moves
// the flow from idle to pending, starting the poller and lifecycle watchers.
// A code persisted by an earlier inbound deep link is consumed immediately.
func (o *Orchestrator) Begin(ctx context.Context, req BeginRequest) error {
	o.mu.Lock()
	if o.starting || (o.flow != nil && o.flow.Status != StatusDone && o.flow.Status != StatusFailed) {
		o.mu.Unlock()
		return ErrFlowActive
	}
	o.starting = true
	o.mu.Unlock()

	identity, err := o.provider.CreateIdentity(ctx, req.Email, req.Secret)
	if err != nil {
		o.clearStarting()
		return fmt.Errorf("failed to create identity: %w", err)
	}

	if err := o.provider.SendVerificationEmail(ctx, identity); err != nil {
		o.clearStarting()
		return fmt.Errorf("failed to send verification email: %w", err)
	}

	username := strings.TrimSpace(req.Username)
	if username == "" {
		username = req.Email
		if at := strings.Index(req.Email, "@"); at >= 0 {
			username = req.Email[:at]
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	signals := make(chan signalSource, 16)

	o.mu.Lock()
	o.flow = &Flow{
		ID:        uuid.New(),
		Status:    StatusPending,
		Email:     req.Email,
		Identity:  identity,
		username:  username,
		firstName: req.FirstName,
		lastName:  req.LastName,
		fullName:  req.FullName,
	}
	o.verifiedFired = false
	o.starting = false
	o.signals = signals
	o.cancelRun = cancel
	o.mu.Unlock()

	go o.run(runCtx, signals)
	o.attach(identity)

	// A deep link may have arrived before signup finished; its persisted code
	// belongs to this flow.
	if code, ok, err := o.store.Get(ctx, artifacts.KeyPendingVerificationCode); err == nil && ok && code != "" {
		o.mu.Lock()
		o.flow.enteredViaDeepLink = true
		o.mu.Unlock()
		go func() {
			if err := o.applyCode(runCtx, code); err != nil {
				slog.Warn("Persisted verification code rejected", "error", err)
			}
		}()
	}

	slog.Info("Verification flow started", "email", req.Email, "uid", identity.UID)
	o.notify()
	return nil
}

func (o *Orchestrator) clearStarting() {
	o.mu.Lock()
	o.starting = false
	o.mu.Unlock()
}

// HandleDeepLink processes an inbound link from any platform entry point.
// Non-verification links are ignored. When no flow is pending yet, the code
// is persisted so the flow created next can consume it.
func (o *Orchestrator) HandleDeepLink(ctx context.Context, raw string) error {
	payload := deeplink.Parse(raw)
	if !payload.IsVerificationLink {
		slog.Debug("Ignoring non-verification link")
		return ErrNotVerificationLink
	}

	if payload.Code == "" {
		// A verification marker without a code still suggests the provider
		// state changed; check out of band.
		o.checkNow(sourceDeepLink)
		return nil
	}

	o.mu.Lock()
	pending := o.flow != nil && o.flow.Status == StatusPending && o.flow.Identity != nil
	o.mu.Unlock()

	if !pending {
		if err := o.store.Set(ctx, artifacts.KeyPendingVerificationCode, payload.Code); err != nil {
			slog.Error("Failed to persist verification code", "error", err)
			return err
		}
		slog.Info("Verification code stored for hand-off")
		return nil
	}

	return o.applyCode(ctx, payload.Code)
}

func (o *Orchestrator) applyCode(ctx context.Context, code string) error {
	o.mu.Lock()
	if o.flow == nil || o.flow.Identity == nil {
		o.mu.Unlock()
		return ErrNoFlow
	}
	if o.flow.Status != StatusPending {
		o.mu.Unlock()
		return nil
	}
	snapshot := *o.flow.Identity
	o.mu.Unlock()

	if err := o.applier.Apply(ctx, &snapshot, code); err != nil {
		o.mu.Lock()
		if o.flow != nil && o.flow.Status == StatusPending {
			o.flow.LastErr = err
		}
		o.mu.Unlock()

		if setErr := o.store.Set(ctx, artifacts.KeyVerificationError, userMessage(err)); setErr != nil {
			slog.Error("Failed to persist verification error", "error", setErr)
		}
		o.notify()
		return err
	}

	if err := o.store.Set(ctx, artifacts.KeyEmailVerifiedViaDeepLink, artifacts.TrueValue); err != nil {
		slog.Warn("Failed to persist deep-link verification flag", "error", err)
	}
	if snapshot.EmailVerified {
		o.signalVerified(sourceApplier)
	}
	return nil
}

// OnForeground is the platform hook for app-foreground and visibility
// transitions; it is a no-op unless a flow is pending.
func (o *Orchestrator) OnForeground() {
	o.watcher.OnForeground()
}

// Reattach re-binds the poller and watchers when the owning screen regains
// focus while the flow is still pending, and reconciles persisted artifacts.
// It never restarts the flow from idle.
func (o *Orchestrator) Reattach(ctx context.Context) {
	o.mu.Lock()
	var identity *provider.Identity
	hasIdentity := o.flow != nil && o.flow.Identity != nil
	pending := o.flow != nil && o.flow.Status == StatusPending && hasIdentity
	if pending {
		identity = o.flow.Identity
	}
	o.mu.Unlock()

	if err := o.janitor.Reconcile(ctx, artifacts.FlowView{HasIdentity: hasIdentity, Pending: pending}); err != nil {
		slog.Warn("Artifact reconciliation failed", "error", err)
	}
	if !pending {
		return
	}

	o.attach(identity)

	if v, ok, err := o.store.Get(ctx, artifacts.KeyEmailVerifiedViaDeepLink); err == nil && ok && v == artifacts.TrueValue {
		o.checkNow(sourceDeepLink)
	}
	if code, ok, err := o.store.Get(ctx, artifacts.KeyPendingVerificationCode); err == nil && ok && code != "" {
		go func() {
			if err := o.applyCode(context.Background(), code); err != nil {
				slog.Warn("Persisted verification code rejected", "error", err)
			}
		}()
	}
}

// PendingError surfaces the persisted user-facing verification error, but
// only while the flow is pending; stale messages are discarded unread.
func (o *Orchestrator) PendingError(ctx context.Context) (string, bool) {
	o.mu.Lock()
	view := artifacts.FlowView{
		HasIdentity: o.flow != nil && o.flow.Identity != nil,
		Pending:     o.flow != nil && o.flow.Status == StatusPending,
	}
	o.mu.Unlock()
	return o.janitor.ConsumeError(ctx, view)
}

// RetryCompletion re-runs the completion step after a backend sync failure.
// Only valid when verification already succeeded and completion failed.
func (o *Orchestrator) RetryCompletion(ctx context.Context) error {
	o.mu.Lock()
	if o.flow == nil {
		o.mu.Unlock()
		return ErrNoFlow
	}
	if o.flow.Status != StatusFailed || !o.verifiedFired {
		o.mu.Unlock()
		return ErrNotRetriable
	}
	o.mu.Unlock()

	o.complete(ctx)

	o.mu.Lock()
	err := o.flowErrLocked()
	o.mu.Unlock()
	return err
}

func (o *Orchestrator) flowErrLocked() error {
	if o.flow != nil && o.flow.Status == StatusFailed {
		return o.flow.LastErr
	}
	return nil
}

// Reset destroys the current flow, silences the poller and watchers, and
// clears all persisted artifacts. Used on logout and explicit restart.
func (o *Orchestrator) Reset(ctx context.Context) {
	o.mu.Lock()
	cancel := o.cancelRun
	o.cancelRun = nil
	o.flow = nil
	o.signals = nil
	o.verifiedFired = false
	o.starting = false
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	o.poller.Stop()
	o.watcher.Detach()

	if err := o.janitor.Reconcile(ctx, artifacts.FlowView{}); err != nil {
		slog.Warn("Artifact reconciliation failed during reset", "error", err)
	}
	slog.Info("Verification flow reset")
	o.notify()
}

// Snapshot returns a read-only copy of the flow state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.flow == nil {
		return Snapshot{Status: StatusIdle}
	}
	s := Snapshot{
		FlowID:      o.flow.ID,
		Status:      o.flow.Status,
		Email:       o.flow.Email,
		Username:    o.flow.username,
		ViaDeepLink: o.flow.enteredViaDeepLink,
	}
	if o.flow.LastErr != nil {
		s.LastErr = o.flow.LastErr.Error()
	}
	return s
}

// Session returns the backend registration result once the flow is done.
func (o *Orchestrator) Session() (*backend.RegisterResult, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.flow == nil || o.flow.Status != StatusDone || o.flow.Session == nil {
		return nil, false
	}
	return o.flow.Session, true
}

func (o *Orchestrator) attach(identity *provider.Identity) {
	o.poller.Start(identity, func(verified bool) {
		if verified {
			o.signalVerified(sourcePoller)
		}
	})
	o.watcher.Attach(identity, func() {
		o.checkNow(sourceWatcher)
	})
}

// checkNow performs one out-of-band reload-and-evaluate, independent of the
// poll cadence.
func (o *Orchestrator) checkNow(src signalSource) {
	o.mu.Lock()
	if o.flow == nil || o.flow.Status != StatusPending || o.flow.Identity == nil {
		o.mu.Unlock()
		return
	}
	snapshot := *o.flow.Identity
	o.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
	defer cancel()
	if err := o.provider.Reload(ctx, &snapshot); err != nil {
		slog.Warn("Out-of-band reload failed", "source", src, "error", err)
		return
	}
	if snapshot.EmailVerified {
		o.signalVerified(src)
	}
}

func (o *Orchestrator) signalVerified(src signalSource) {
	o.mu.Lock()
	ch := o.signals
	live := o.flow != nil && o.flow.Status == StatusPending && !o.verifiedFired
	o.mu.Unlock()
	if !live || ch == nil {
		return
	}
	select {
	case ch <- src:
	default:
		// Channel full: the guard makes extra signals redundant anyway.
	}
}

func (o *Orchestrator) run(ctx context.Context, signals <-chan signalSource) {
	for {
		select {
		case <-ctx.Done():
			return
		case src := <-signals:
			o.onVerified(ctx, src)
		}
	}
}

// onVerified performs the guarded pending→verified transition and drives
// completion. Racing signals beyond the first are dropped here.
func (o *Orchestrator) onVerified(ctx context.Context, src signalSource) {
	o.mu.Lock()
	if o.flow == nil || o.flow.Status != StatusPending || o.verifiedFired {
		o.mu.Unlock()
		return
	}
	o.verifiedFired = true
	o.flow.Status = StatusVerified
	o.flow.Identity.EmailVerified = true
	o.flow.LastErr = nil
	o.mu.Unlock()

	slog.Info("Email verification detected", "source", src)
	o.poller.Stop()
	o.watcher.Detach()
	o.clearHandoff(ctx)
	o.notify()

	o.complete(ctx)
}

// complete synthesizes the display name, updates the provider profile, and
// performs the single backend sync. Failure lands in failed with the error
// preserved; the sync is never retried automatically because the endpoint is
// not idempotent.
func (o *Orchestrator) complete(ctx context.Context) {
	o.mu.Lock()
	if o.flow == nil {
		o.mu.Unlock()
		return
	}
	flow := o.flow
	flow.Status = StatusCompleting
	snapshot := *flow.Identity
	first, last := SynthesizeName(flow.firstName, flow.lastName, flow.fullName, flow.Email)
	username := flow.username
	email := flow.Email
	o.mu.Unlock()
	o.notify()

	display := DisplayName(first, last)
	if err := o.provider.UpdateProfile(ctx, &snapshot, display); err != nil {
		slog.Warn("Failed to update display name", "uid", snapshot.UID, "error", err)
		// Completion proceeds; the backend record still carries the names.
	} else {
		o.mu.Lock()
		if o.flow == flow {
			flow.Identity.DisplayName = display
		}
		o.mu.Unlock()
	}

	token, err := o.provider.IDToken(ctx, &snapshot, true)
	if err != nil {
		o.fail(flow, fmt.Errorf("failed to fetch id token: %w", err))
		return
	}

	result, err := o.backend.Register(ctx, token, backend.RegisterRequest{
		Username:  username,
		FirstName: first,
		LastName:  last,
		Email:     email,
	})
	if err != nil {
		o.fail(flow, err)
		return
	}

	o.mu.Lock()
	if o.flow == flow {
		flow.Session = result
		flow.Status = StatusDone
	}
	o.mu.Unlock()

	o.clearHandoff(ctx)
	slog.Info("Account completion finished", "user_id", result.User.ID, "username", result.User.Username)
	o.notify()
}

func (o *Orchestrator) fail(flow *Flow, err error) {
	o.mu.Lock()
	if o.flow == flow {
		flow.Status = StatusFailed
		flow.LastErr = err
	}
	o.mu.Unlock()
	slog.Error("Account completion failed", "error", err)
	o.notify()
}

func (o *Orchestrator) clearHandoff(ctx context.Context) {
	err := o.store.Delete(ctx,
		artifacts.KeyPendingVerificationCode,
		artifacts.KeyEmailVerifiedViaDeepLink,
		artifacts.KeyVerificationError,
	)
	if err != nil {
		slog.Warn("Failed to clear hand-off artifacts", "error", err)
	}
}

func (o *Orchestrator) notify() {
	if o.onState == nil {
		return
	}
	o.onState(o.Snapshot())
}

func userMessage(err error) string {
	switch provider.Classify(err) {
	case provider.KindInvalidOrExpired:
		return "This verification link is invalid or has expired. Please request a new one."
	case provider.KindTransient:
		return "We could not reach the verification service. Please check your connection and try again."
	default:
		return "Email verification failed. Please try again."
	}
}
