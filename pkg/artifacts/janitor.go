package artifacts

import (
	"context"
	"log/slog"
)

// FlowView is the janitor's read-only view of the current verification flow.
type FlowView struct {
	// HasIdentity reports whether a live flow holds an identity reference.
	HasIdentity bool

	// Pending reports whether the flow is waiting for email verification.
	Pending bool
}

// Janitor clears persisted verification artifacts that do not belong to the
// current flow, preventing leakage across logout and retry cycles.
type Janitor struct {
	store Store
}

func NewJanitor(store Store) *Janitor {
	return &Janitor{store: store}
}

// Reconcile inspects the persisted artifacts against the current flow and
// removes anything stale. With no live flow all artifacts are cleared
// unconditionally; with a live flow that is not pending, the hand-off entries
// are cleared since they are leftovers from a prior attempt.
func (j *Janitor) Reconcile(ctx context.Context, view FlowView) error {
	if !view.HasIdentity {
		err := j.store.Delete(ctx,
			KeyPendingVerificationCode,
			KeyEmailVerifiedViaDeepLink,
			KeyVerificationError,
		)
		if err != nil {
			slog.Error("Failed to clear stale artifacts", "error", err)
			return err
		}
		return nil
	}

	if !view.Pending {
		err := j.store.Delete(ctx,
			KeyPendingVerificationCode,
			KeyEmailVerifiedViaDeepLink,
		)
		if err != nil {
			slog.Error("Failed to clear hand-off artifacts", "error", err)
			return err
		}
	}

	return nil
}

// ConsumeError reads and removes the persisted verification error. The
// message is surfaced only while the flow is pending; otherwise it is
// discarded unread so stale messages never reach the user.
func (j *Janitor) ConsumeError(ctx context.Context, view FlowView) (string, bool) {
	msg, ok, err := j.store.Get(ctx, KeyVerificationError)
	if err != nil {
		slog.Error("Failed to read verification error artifact", "error", err)
		return "", false
	}
	if !ok {
		return "", false
	}

	if err := j.store.Delete(ctx, KeyVerificationError); err != nil {
		slog.Warn("Failed to delete verification error artifact", "error", err)
	}

	if !view.Pending {
		slog.Info("Discarding stale verification error", "message", msg)
		return "", false
	}
	return msg, true
}
