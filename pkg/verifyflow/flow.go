package verifyflow

import (
	"github.com/google/uuid"

	"github.com/dorsuconnect/verifysync/pkg/backend"
	"github.com/dorsuconnect/verifysync/pkg/provider"
)

// Status is the verification flow state.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusPending    Status = "pending"
	StatusVerified   Status = "verified"
	StatusCompleting Status = "completing"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

// Flow is one end-to-end attempt to create an account and confirm its email.
// All fields are owned by the Orchestrator and mutated only under its lock.
type Flow struct {
	ID       uuid.UUID
	Status   Status
	Email    string
	Identity *provider.Identity
	LastErr  error

	// Session holds the backend registration result once the flow is done.
	Session *backend.RegisterResult

	// names captured at Begin, consumed during completion
	username  string
	firstName string
	lastName  string
	fullName  string

	// enteredViaDeepLink marks flows resumed from a persisted OOB code.
	enteredViaDeepLink bool
}

// Snapshot is a read-only copy of the flow state for observers.
type Snapshot struct {
	FlowID   uuid.UUID
	Status   Status
	Email    string
	LastErr  string
	Username string

	// ViaDeepLink reports whether a persisted deep-link code fed this flow.
	ViaDeepLink bool
}
