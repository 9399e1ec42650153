package provider

import "errors"

var (
	// ErrInvalidActionCode is returned when the provider reports an OOB code
	// as malformed or unknown.
	ErrInvalidActionCode = errors.New("invalid action code")

	// ErrExpiredActionCode is returned when the provider reports an OOB code
	// as expired.
	ErrExpiredActionCode = errors.New("action code has expired")

	// ErrCodeAlreadyUsed is returned when an OOB code has already been
	// redeemed. Providers frequently report this as invalid instead, which is
	// why callers must reclassify against a fresh reload.
	ErrCodeAlreadyUsed = errors.New("action code has already been used")

	// ErrEmailExists is returned when an account already exists for the email.
	ErrEmailExists = errors.New("email already registered")

	// ErrIdentityNotFound is returned when the identity is unknown to the
	// provider, typically after deletion or a stale token.
	ErrIdentityNotFound = errors.New("identity not found")

	// ErrTransient is returned for network or provider failures that are safe
	// to retry.
	ErrTransient = errors.New("transient provider failure")
)

// ErrorKind classifies provider failures for flow-level handling.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota

	// KindInvalidOrExpired covers the ambiguous case: the code may be
	// genuinely bad, or the email may already have been verified via this
	// same code on another device.
	KindInvalidOrExpired

	// KindTransient covers failures that are safe to retry.
	KindTransient
)

// Classify maps a provider error to its flow-level kind.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrInvalidActionCode),
		errors.Is(err, ErrExpiredActionCode),
		errors.Is(err, ErrCodeAlreadyUsed):
		return KindInvalidOrExpired
	case errors.Is(err, ErrTransient):
		return KindTransient
	default:
		return KindUnknown
	}
}
