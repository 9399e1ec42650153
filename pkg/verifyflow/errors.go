package verifyflow

import "errors"

var (
	// ErrFlowActive is returned when Begin is called while a flow is live.
	// Exactly one verification flow exists per screen session.
	ErrFlowActive = errors.New("a verification flow is already active")

	// ErrNoFlow is returned when an operation requires a live flow.
	ErrNoFlow = errors.New("no verification flow")

	// ErrNotRetriable is returned when RetryCompletion is called and the flow
	// is not in a failed-completion state.
	ErrNotRetriable = errors.New("flow is not in a retriable state")

	// ErrNotVerificationLink is returned for deep links that carry no
	// verification payload. Callers typically ignore it silently.
	ErrNotVerificationLink = errors.New("not a verification link")
)
