// Package verifyflow orchestrates cross-device email-verification
// synchronization for account signup.
//
// A client creates an account, triggers an out-of-band verification email,
// and must detect promptly that the link was clicked on a different device
// (verified in a desktop browser while this device waits), then complete
// account provisioning exactly once.
//
// # Overview
//
// The verifyflow package provides:
//   - A verification flow state machine: idle → pending → verified →
//     completing → done, with failed reachable from pending and completing
//   - An exactly-once guard on the pending→verified transition, however the
//     detection signals race
//   - Aggressive short-interval status polling plus lifecycle-driven
//     out-of-band checks while pending
//   - Inbound deep-link handling with persisted hand-off across process
//     restarts
//   - Display-name synthesis and a single, never-auto-retried backend sync
//
// # Basic Usage
//
//	import "github.com/dorsuconnect/verifysync/pkg/verifyflow"
//
//	store, _ := artifacts.NewFileStore(dataDir)
//	orch := verifyflow.NewOrchestrator(idp, backendClient, store,
//		verifyflow.WithStateListener(func(s verifyflow.Snapshot) {
//			render(s)
//		}),
//	)
//
//	// Start a flow: creates the identity and sends the verification email.
//	err := orch.Begin(ctx, verifyflow.BeginRequest{
//		Email:    "a@dorsu.edu.ph",
//		Secret:   secret,
//		FullName: "Dela Cruz Juan",
//	})
//
//	// Platform hooks while the flow is pending:
//	orch.HandleDeepLink(ctx, rawURL) // inbound verification link
//	orch.OnForeground()              // app returned to the foreground
//	orch.Reattach(ctx)               // screen regained navigation focus
//
//	// Terminal states arrive via the state listener; on done:
//	session, ok := orch.Session()
//
// # Verification Signals
//
// Three producers can observe verified=true: the status poller's tick, a
// lifecycle watcher check (foreground transition or provider auth-state
// event), and the code applier after redeeming an OOB code. All of them emit
// into one channel consumed by a single goroutine; a single authoritative
// flag guards the transition so completion runs at most once regardless of
// signal ordering.
//
// # Deep-Link Hand-off
//
// A verification link can arrive before a flow exists (the user clicked the
// emailed link first). The code is persisted under pendingVerificationCode
// and consumed by the next Begin. Conversely, codes applied while the screen
// was detached leave emailVerifiedViaDeepLink behind, which Reattach turns
// into an immediate out-of-band check. The janitor in pkg/artifacts clears
// anything that no longer belongs to a live pending flow.
//
// # Completion
//
// Entering verified stops the poller, detaches the watchers, clears the
// hand-off artifacts, and runs completion: the display name is synthesized
// (explicit names, else full-name split, else email local part), the provider
// profile is updated, and the backend registration endpoint is called exactly
// once. Registration is not idempotent, so a failure parks the flow in
// failed with the error preserved; RetryCompletion re-runs the step on the
// user's explicit request.
//
// # Waiting Indefinitely
//
// There is no timeout on waiting for the user to click the link: email
// confirmation has no natural deadline. The flow stays pending until a
// signal arrives, the screen is abandoned, or Reset is called.
package verifyflow
