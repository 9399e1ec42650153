package provider

import "context"

// Identity represents the authenticated (but possibly unverified) account as
// reported by the identity provider. It contains facts only, no decisions;
// EmailVerified is authoritative only after a Reload.
type Identity struct {
	UID           string
	Email         string
	EmailVerified bool
	DisplayName   string
}

// IdentityProvider is the capability interface over the external
// authentication service. Implementations issue and validate OOB verification
// codes and expose reload/profile operations; they never perform account
// completion or backend registration.
type IdentityProvider interface {
	// CreateIdentity registers a new account and returns its identity handle.
	CreateIdentity(ctx context.Context, email, secret string) (*Identity, error)

	// SendVerificationEmail dispatches the OOB verification email for the
	// given identity.
	SendVerificationEmail(ctx context.Context, identity *Identity) error

	// ApplyActionCode redeems an OOB code, marking the email verified on the
	// provider side.
	ApplyActionCode(ctx context.Context, code string) error

	// Reload refreshes the identity's fields in place from the provider.
	Reload(ctx context.Context, identity *Identity) error

	// IDToken returns a bearer token for the identity, refreshing it when
	// forceRefresh is set.
	IDToken(ctx context.Context, identity *Identity, forceRefresh bool) (string, error)

	// UpdateProfile sets the identity's display name.
	UpdateProfile(ctx context.Context, identity *Identity, displayName string) error

	// OnAuthStateChange registers a callback fired whenever the provider's
	// view of an identity changes. The returned function unsubscribes.
	OnAuthStateChange(fn func(*Identity)) (unsubscribe func())
}
