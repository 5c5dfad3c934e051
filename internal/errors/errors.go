// Package errors provides centralized error definitions and classification
// for walletgate. Every failure the mediator can report falls into one of
// four kinds:
//
//   - UserError: the operator can recover (wallet locked, insufficient funds)
//   - ProtocolError: the caller acted on a stale view (unknown or wrong action id)
//   - ExecutionError: the wallet custody call failed or timed out
//   - InvariantViolation: an illegal internal state transition (a defect)
//
// # Usage
//
// Checking errors:
//
//	if errors.Is(err, errors.ErrNotFound) { ... }
//
//	var execErr *errors.ExecutionError
//	if errors.As(err, &execErr) { log(execErr.Reason) }
//
//	switch errors.KindOf(err) {
//	case errors.KindProtocol:
//	    refetchSnapshot()
//	}
//
// Invariant violations are never returned. They are raised with panic so the
// process fails fast instead of continuing with a corrupted queue.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Kind classifies an error by who can act on it.
type Kind int

const (
	// KindUnknown is returned for nil or unclassified errors.
	KindUnknown Kind = iota
	// KindUser is a recoverable condition the operator can resolve.
	KindUser
	// KindProtocol indicates a stale or malformed request from a caller.
	KindProtocol
	// KindExecution indicates the custody call itself failed.
	KindExecution
	// KindInvariant indicates a defect in the mediator.
	KindInvariant
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindUser:
		return "user_error"
	case KindProtocol:
		return "protocol_error"
	case KindExecution:
		return "execution_error"
	case KindInvariant:
		return "invariant_violation"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Protocol errors
var (
	// ErrNotFound indicates the action id does not exist.
	ErrNotFound = New("action not found")
	// ErrInvalidState indicates the action is not in a state that permits the operation.
	ErrInvalidState = New("action is not in a valid state for this operation")
	// ErrInvalidRequest indicates a malformed enqueue request.
	ErrInvalidRequest = New("invalid action request")
)

// User errors
var (
	// ErrWalletLocked indicates the wallet custody service is locked.
	ErrWalletLocked = New("wallet is locked")
	// ErrInsufficientFunds indicates the balance does not cover the amount.
	ErrInsufficientFunds = New("insufficient funds")
)

// Execution errors
var (
	// ErrTimeout indicates the custody call exceeded its deadline.
	ErrTimeout = New("execution timeout")
	// ErrInvalidated indicates the action was cleared by a wallet lock or logout.
	ErrInvalidated = New("invalidated")
)

// Wire codes used by the broker protocol.
const (
	CodeNotFound        = "not_found"
	CodeInvalidState    = "invalid_state"
	CodeInvalidRequest  = "invalid_request"
	CodeExecutionFailed = "execution_failed"
	CodeTimeout         = "timeout"
	CodeWalletLocked    = "wallet_locked"
	CodeInternal        = "internal"
)

// -----------------------------------------------------------------------------
// ExecutionError
// -----------------------------------------------------------------------------

// ExecutionError is the terminal failure of a custody call. Reason is the
// short string recorded on the action and shown to operator and originator.
type ExecutionError struct {
	Reason string
	Cause  error
}

// NewExecutionError wraps a custody failure. Timeouts and invalidations keep
// their canonical reason strings so callers can match on them.
func NewExecutionError(cause error) *ExecutionError {
	reason := "execution failed"
	switch {
	case cause == nil:
	case Is(cause, ErrTimeout):
		reason = ErrTimeout.Error()
	case Is(cause, ErrInvalidated):
		reason = ErrInvalidated.Error()
	default:
		reason = cause.Error()
	}
	return &ExecutionError{Reason: reason, Cause: cause}
}

// Error returns the formatted error message.
func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution failed: %s", e.Reason)
}

// Unwrap returns the underlying custody error.
func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// -----------------------------------------------------------------------------
// InvariantViolation
// -----------------------------------------------------------------------------

// InvariantViolation describes an illegal transition attempted internally.
// It is only ever raised with panic.
type InvariantViolation struct {
	ActionID string
	From     string
	To       string
	Detail   string
}

// Error returns the formatted error message.
func (e *InvariantViolation) Error() string {
	var b strings.Builder
	b.WriteString("invariant violation")
	if e.ActionID != "" {
		fmt.Fprintf(&b, " [action=%s]", e.ActionID)
	}
	if e.From != "" || e.To != "" {
		fmt.Fprintf(&b, ": illegal transition %s -> %s", e.From, e.To)
	}
	if e.Detail != "" {
		fmt.Fprintf(&b, ": %s", e.Detail)
	}
	return b.String()
}

// -----------------------------------------------------------------------------
// ValidationError
// -----------------------------------------------------------------------------

// ValidationError represents a malformed field on an incoming request.
//
// Example:
//
//	err := errors.NewValidationError("title", "must not be empty")
type ValidationError struct {
	Field   string
	Message string
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation error: %s", e.Message)
	}
	return fmt.Sprintf("validation error [field=%s]: %s", e.Field, e.Message)
}

// Is reports ErrInvalidRequest so callers can match every validation failure
// with a single sentinel.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidRequest
}

// -----------------------------------------------------------------------------
// Classification
// -----------------------------------------------------------------------------

// KindOf classifies err into one of the four kinds.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var violation *InvariantViolation
	if As(err, &violation) {
		return KindInvariant
	}
	var execErr *ExecutionError
	if As(err, &execErr) {
		return KindExecution
	}

	switch {
	case Is(err, ErrNotFound), Is(err, ErrInvalidState), Is(err, ErrInvalidRequest):
		return KindProtocol
	case Is(err, ErrWalletLocked), Is(err, ErrInsufficientFunds):
		return KindUser
	case Is(err, ErrTimeout), Is(err, ErrInvalidated):
		return KindExecution
	}
	return KindUnknown
}

// IsUserFacing returns true if the error should be surfaced to the operator
// as an action status and reason. Protocol errors go back to the calling
// presentation code instead.
func IsUserFacing(err error) bool {
	switch KindOf(err) {
	case KindUser, KindExecution:
		return true
	default:
		return false
	}
}

// Code maps err to its wire code.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case Is(err, ErrNotFound):
		return CodeNotFound
	case Is(err, ErrInvalidState):
		return CodeInvalidState
	case Is(err, ErrInvalidRequest):
		return CodeInvalidRequest
	case Is(err, ErrTimeout):
		return CodeTimeout
	case Is(err, ErrWalletLocked):
		return CodeWalletLocked
	}
	var execErr *ExecutionError
	if As(err, &execErr) {
		return CodeExecutionFailed
	}
	return CodeInternal
}

// FromCode rebuilds an error from a wire code and message so that remote
// callers can still match sentinels with Is.
func FromCode(code, message string) error {
	var sentinel error
	switch code {
	case "":
		return nil
	case CodeNotFound:
		sentinel = ErrNotFound
	case CodeInvalidState:
		sentinel = ErrInvalidState
	case CodeInvalidRequest:
		sentinel = ErrInvalidRequest
	case CodeTimeout:
		sentinel = ErrTimeout
	case CodeWalletLocked:
		sentinel = ErrWalletLocked
	case CodeExecutionFailed:
		return &ExecutionError{Reason: message}
	default:
		return New(message)
	}
	if message == "" || message == sentinel.Error() {
		return sentinel
	}
	return &remoteError{message: message, sentinel: sentinel}
}

// remoteError carries the server's message verbatim while still matching
// the sentinel it was coded from.
type remoteError struct {
	message  string
	sentinel error
}

func (e *remoteError) Error() string { return e.message }
func (e *remoteError) Unwrap() error { return e.sentinel }

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
//
// Example:
//
//	err := errors.Wrap(baseErr, "decide")
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
