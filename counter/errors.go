/*
errors.go - Centralized error types for the counter engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers branch with errors.Is/errors.As; the HTTP layer maps these to
  status codes.

ERROR CATEGORIES:
  1. Concurrency errors - version conflicts, lock contention (retryable)
  2. Validation errors  - tender mismatch, variance policy (user-correctable)
  3. Workflow errors    - illegal transitions, locked records, permissions

SEE ALSO:
  - slot.go: retries ErrVersionConflict, surfaces SlotUnavailable
  - api/handlers.go: status-code mapping
*/
package counter

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrVersionConflict is returned by a store when a version-guarded write
	// loses a race. Internal: callers retry against the refreshed record.
	ErrVersionConflict = errors.New("version conflict on guarded write")

	// ErrSlotUnavailable is returned when a slot has no reservable capacity
	// or lock contention persisted past the retry bound.
	ErrSlotUnavailable = errors.New("slot unavailable")

	// ErrLockExpired is returned when a commit or release presents a lock
	// token past its expiry. The caller must re-reserve.
	ErrLockExpired = errors.New("reservation lock expired")

	// ErrTenderMismatch is returned when tender composition does not sum to
	// the booking amount. Never silently coerced.
	ErrTenderMismatch = errors.New("tender composition does not match amount")

	// ErrVarianceReasonRequired is returned when a settlement with non-zero
	// variance is submitted without a reason.
	ErrVarianceReasonRequired = errors.New("variance reason required")

	// ErrUnauthorized is returned when the actor's role lacks the permission
	// for the attempted operation.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidTransition is returned on a state machine violation, such as
	// cancelling a COLLECTED booking. Always rejected, never auto-corrected.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrSettlementLocked is returned on any mutation attempt against an
	// approved (locked) settlement.
	ErrSettlementLocked = errors.New("settlement is locked")

	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateRecord is returned when an insert collides with an
	// existing key (settlement already open, duplicate slot id).
	ErrDuplicateRecord = errors.New("record already exists")
)

// =============================================================================
// STRUCTURED ERRORS - Carry context for user-actionable messages
// =============================================================================

// SlotUnavailableError reports why a reservation could not be satisfied.
type SlotUnavailableError struct {
	SlotID  SlotID
	Reason  string // "no capacity", "lock contention", "closed", ...
	Retries int
}

func (e *SlotUnavailableError) Error() string {
	return fmt.Sprintf("slot %s unavailable: %s (after %d attempts)", e.SlotID, e.Reason, e.Retries)
}

func (e *SlotUnavailableError) Unwrap() error { return ErrSlotUnavailable }

// LockExpiredError reports a commit presented too late.
type LockExpiredError struct {
	SlotID SlotID
	Token  string
}

func (e *LockExpiredError) Error() string {
	return fmt.Sprintf("lock %s on slot %s expired or superseded; re-reserve", e.Token, e.SlotID)
}

func (e *LockExpiredError) Unwrap() error { return ErrLockExpired }

// TenderMismatchError reports the exact figures that failed to reconcile.
type TenderMismatchError struct {
	Mode    PaymentMode
	Amount  decimal.Decimal
	Cash    decimal.Decimal
	Digital decimal.Decimal
	Detail  string
}

func (e *TenderMismatchError) Error() string {
	return fmt.Sprintf("tender mismatch (%s): amount=%s cash=%s digital=%s: %s",
		e.Mode, e.Amount, e.Cash, e.Digital, e.Detail)
}

func (e *TenderMismatchError) Unwrap() error { return ErrTenderMismatch }

// TransitionError reports an illegal state machine move with enough context
// to render a user-actionable message.
type TransitionError struct {
	EntityType string // "booking" or "settlement"
	EntityID   string
	From       string
	Attempted  string
	Detail     string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("%s %s: cannot %s from %s", e.EntityType, e.EntityID, e.Attempted, e.From)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// UnauthorizedError reports the missing permission.
type UnauthorizedError struct {
	Role       Role
	Permission Permission
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("role %s lacks permission %s", e.Role, e.Permission)
}

func (e *UnauthorizedError) Unwrap() error { return ErrUnauthorized }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// IsClientError returns true if the error is due to correctable client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrTenderMismatch) ||
		errors.Is(err, ErrVarianceReasonRequired) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrSlotUnavailable) ||
		errors.Is(err, ErrLockExpired) ||
		errors.Is(err, ErrDuplicateRecord)
}
