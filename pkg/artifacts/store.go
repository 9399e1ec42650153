// Package artifacts owns the durable key/value entries used to hand
// verification state across process restarts and navigation, plus the janitor
// that clears entries not belonging to the current flow.
package artifacts

import "context"

// Artifact keys. The entries are meaningful only while a verification flow is
// pending; readers must treat them as stale and discard them otherwise.
const (
	KeyPendingVerificationCode  = "pendingVerificationCode"
	KeyEmailVerifiedViaDeepLink = "emailVerifiedViaDeepLink"
	KeyVerificationError        = "verificationError"
)

// TrueValue is the stored value for boolean-flavored artifacts.
const TrueValue = "true"

// Store is a string-valued key/value store for verification artifacts.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// Delete removes the given keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error
}
