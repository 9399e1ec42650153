// Package actioncode redeems OOB verification codes against the identity
// provider and classifies the outcome for the verification flow.
package actioncode

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dorsuconnect/verifysync/pkg/provider"
)

// Applier applies OOB verification codes.
type Applier struct {
	provider provider.IdentityProvider
}

func NewApplier(p provider.IdentityProvider) *Applier {
	return &Applier{provider: p}
}

// Apply redeems the code and refreshes the identity. When the provider
// reports the code invalid or expired, the identity is re-checked with a
// fresh reload before the error is surfaced: the code may already have been
// redeemed on another device, in which case the email is verified and the
// outcome is success. This reclassification is mandatory because the two
// conditions are indistinguishable to the end user.
func (a *Applier) Apply(ctx context.Context, identity *provider.Identity, code string) error {
	err := a.provider.ApplyActionCode(ctx, code)
	if err == nil {
		if reloadErr := a.provider.Reload(ctx, identity); reloadErr != nil {
			slog.Warn("Reload after code apply failed", "uid", identity.UID, "error", reloadErr)
			// The code was accepted; the identity refresh is best effort.
		}
		slog.Info("Verification code applied", "uid", identity.UID)
		return nil
	}

	if provider.Classify(err) == provider.KindInvalidOrExpired {
		if reloadErr := a.provider.Reload(ctx, identity); reloadErr != nil {
			slog.Warn("Reload during reclassification failed", "uid", identity.UID, "error", reloadErr)
		}
		if identity.EmailVerified {
			slog.Info("Code rejected but email already verified, treating as success",
				"uid", identity.UID)
			return nil
		}
		return fmt.Errorf("action code rejected: %w", err)
	}

	return fmt.Errorf("failed to apply action code: %w", err)
}
