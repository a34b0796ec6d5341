package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ──────────────────────────────────────────────────────────────────────────────
// Sentinel errors — compare with errors.Is()
// ──────────────────────────────────────────────────────────────────────────────

// Validation
var (
	// ErrValidation is the root of every input validation failure. Concrete
	// failures are *ValidationError values that unwrap to it.
	ErrValidation = errors.New("validation failed")
)

// Position errors
var (
	// ErrPositionNotFound is returned when no position matches the given id.
	ErrPositionNotFound = errors.New("position not found")

	// ErrOpenPositionExists is returned when a user who already holds an OPEN
	// position tries to open another one.
	ErrOpenPositionExists = errors.New("user already has an open position")

	// ErrPositionNotOpen is returned when a close is attempted on a position
	// that is already CLOSED or is being closed by another settler.
	ErrPositionNotOpen = errors.New("position is not open")
)

// Wallet errors
var (
	// ErrInsufficientBalance is returned when wallet.available is lower than
	// the stake being debited.
	ErrInsufficientBalance = errors.New("insufficient wallet balance")

	// ErrWalletNotFound is returned when no wallet exists for (user, asset).
	ErrWalletNotFound = errors.New("wallet not found")
)

// Override queue errors
var (
	// ErrSessionControlNotFound is returned when a queue entry does not exist
	// or was already consumed.
	ErrSessionControlNotFound = errors.New("session control not found")

	// ErrNoSessionControl is returned by a claim when the queue has no pending
	// entry. Callers fall back to price comparison.
	ErrNoSessionControl = errors.New("no pending session control")
)

// Storage errors
var (
	// ErrTransientStorage marks lock timeouts, statement timeouts, serialization
	// failures and lost connections. The operation may be retried.
	ErrTransientStorage = errors.New("transient storage failure")

	// ErrLockHeld is returned when a distributed lock is owned by another
	// replica.
	ErrLockHeld = errors.New("lock held by another owner")

	// ErrPriceUnavailable is returned when no price is known for a symbol.
	ErrPriceUnavailable = errors.New("price unavailable")
)

// Auth errors
var (
	// ErrUnauthorized is returned when a valid token is not present.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden is returned when the authenticated user lacks the required role.
	ErrForbidden = errors.New("forbidden: insufficient permissions")

	// ErrTokenInvalid is returned when a token cannot be parsed or its signature
	// does not match.
	ErrTokenInvalid = errors.New("token is invalid")
)

// ──────────────────────────────────────────────────────────────────────────────
// Typed errors
// ──────────────────────────────────────────────────────────────────────────────

// ValidationError describes one rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

// Unwrap lets errors.Is(err, ErrValidation) match.
func (e *ValidationError) Unwrap() error { return ErrValidation }

// SettlementFailure records one position that could not be settled during a
// sweep. Failures are logged and counted; the sweep carries on.
type SettlementFailure struct {
	PositionID uuid.UUID
	Err        error
}

func (f SettlementFailure) Error() string {
	return fmt.Sprintf("settle position %s: %v", f.PositionID, f.Err)
}

func (f SettlementFailure) Unwrap() error { return f.Err }

// Retryable reports whether the next sweep is expected to succeed.
func (f SettlementFailure) Retryable() bool {
	return errors.Is(f.Err, ErrTransientStorage)
}

// ──────────────────────────────────────────────────────────────────────────────
// Helper predicates
// ──────────────────────────────────────────────────────────────────────────────

var notFoundErrors = []error{
	ErrPositionNotFound,
	ErrWalletNotFound,
	ErrSessionControlNotFound,
}

// IsNotFound returns true when err (or any error in its chain) is one of the
// domain "not found" errors.
func IsNotFound(err error) bool {
	for _, target := range notFoundErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsConflict returns true for errors that represent a state conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrOpenPositionExists) || errors.Is(err, ErrPositionNotOpen)
}

// IsValidation returns true for rejected input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsTransient returns true when a retry may succeed.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientStorage)
}

// IsAuthError returns true for authentication/authorisation errors.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrTokenInvalid)
}
