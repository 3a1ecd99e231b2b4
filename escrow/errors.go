/*
errors.go - Centralized error types for the escrow ledger

PURPOSE:
  All error types in one place. Stores translate driver errors into these
  values so the engine and the API never look at driver specifics.

ERROR CATEGORIES:
  1. Validation  - bad input shape, caller's fault
  2. Business    - reward bounds, balance, eligibility
  3. Lookup      - missing task, user, package
  4. Store       - uniqueness signals and infrastructure faults

RETRY POLICY:
  Only ErrStorageUnavailable is retryable. Every other error needs a changed
  input to succeed. No error leaves partial state behind: the failing
  transaction is rolled back before the error is returned.
*/
package escrow

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is wrapped by every ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrInsufficientBalance is returned when a debit exceeds the committed balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrUnknownAction is returned for a (platform, action) pair missing from the catalog.
	ErrUnknownAction = errors.New("unknown action")

	// ErrBelowMinimum is returned when a reward is under the action's minimum.
	ErrBelowMinimum = errors.New("reward below minimum")

	// ErrTaskNotFound is returned when a task does not exist.
	ErrTaskNotFound = errors.New("task not found")

	// ErrUserNotFound is returned when no points account exists for a user.
	ErrUserNotFound = errors.New("user not found")

	// ErrCompletionNotFound is returned when no completion row exists for a pair.
	ErrCompletionNotFound = errors.New("completion not found")

	// ErrEntryNotFound is returned when no ledger entry carries a key.
	ErrEntryNotFound = errors.New("ledger entry not found")

	// ErrUnknownPackage is returned for a purchase of a package missing from the catalog.
	ErrUnknownPackage = errors.New("unknown point package")

	// ErrSelfCompletion is returned when a creator completes their own funded task.
	ErrSelfCompletion = errors.New("cannot complete own task")

	// ErrDuplicateCompletion is the store's uniqueness signal for (task, user).
	// The engine turns it into the AlreadyCompleted outcome.
	ErrDuplicateCompletion = errors.New("duplicate completion")

	// ErrDuplicateTask is returned when a task id is already taken.
	ErrDuplicateTask = errors.New("duplicate task")

	// ErrDuplicateIdempotencyKey is returned when an entry with the same key exists.
	// Expected on retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrStorageUnavailable marks transient infrastructure faults. Safe to retry.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	UserID    UserID
	Available int64
	Requested int64
	Shortfall int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: available %d, requested %d, shortfall %d",
		e.Available, e.Requested, e.Shortfall)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// NewInsufficientBalance builds the error from a balance and a request.
func NewInsufficientBalance(user UserID, available, requested int64) *InsufficientBalanceError {
	return &InsufficientBalanceError{
		UserID:    user,
		Available: available,
		Requested: requested,
		Shortfall: requested - available,
	}
}

// UnknownActionError names the pair missing from the catalog.
type UnknownActionError struct {
	Platform string
	Action   string
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("unknown action %q on platform %q", e.Action, e.Platform)
}

func (e *UnknownActionError) Unwrap() error {
	return ErrUnknownAction
}

// BelowMinimumError carries the bound that was violated.
type BelowMinimumError struct {
	Platform string
	Action   string
	Minimum  int64
	Proposed int64
}

func (e *BelowMinimumError) Error() string {
	return fmt.Sprintf("reward %d below minimum %d for %s/%s", e.Proposed, e.Minimum, e.Platform, e.Action)
}

func (e *BelowMinimumError) Unwrap() error {
	return ErrBelowMinimum
}

// StorageError wraps a driver failure. errors.Is(err, ErrStorageUnavailable)
// holds for every StorageError while the driver error stays reachable
// through Unwrap.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage unavailable: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorageUnavailable
}

// Unavailable wraps err as a StorageError unless it already is a ledger error.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if isLedgerError(err) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

func isLedgerError(err error) bool {
	return IsClientError(err) || IsNotFound(err) || IsRetryable(err) ||
		errors.Is(err, ErrDuplicateCompletion) ||
		errors.Is(err, ErrDuplicateTask) ||
		errors.Is(err, ErrDuplicateIdempotencyKey) ||
		errors.Is(err, errSettled)
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}

// IsClientError returns true if the error is due to invalid client input
// or a business rule.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrUnknownAction) ||
		errors.Is(err, ErrBelowMinimum) ||
		errors.Is(err, ErrSelfCompletion)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTaskNotFound) ||
		errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrCompletionNotFound) ||
		errors.Is(err, ErrEntryNotFound) ||
		errors.Is(err, ErrUnknownPackage)
}

// Reason is a stable snake_case code for err, used for metrics labels
// and API error codes.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrUnknownAction):
		return "unknown_action"
	case errors.Is(err, ErrBelowMinimum):
		return "below_minimum"
	case errors.Is(err, ErrSelfCompletion):
		return "self_completion"
	case errors.Is(err, ErrTaskNotFound):
		return "task_not_found"
	case errors.Is(err, ErrUserNotFound):
		return "user_not_found"
	case errors.Is(err, ErrUnknownPackage):
		return "unknown_package"
	case errors.Is(err, ErrStorageUnavailable):
		return "storage_unavailable"
	case IsNotFound(err):
		return "not_found"
	default:
		return "internal"
	}
}
