package domain

import (
	"errors"
	"fmt"
)

// Application error codes
const (
	EINVALID        = "invalid"              // Invalid input or validation failure
	EUNAUTHORIZED   = "unauthorized"         // Authentication required
	EFORBIDDEN      = "forbidden"            // Permission denied
	ENOTFOUND       = "not_found"            // Resource not found
	ECONFLICT       = "conflict"             // Resource conflict (e.g., duplicate)
	EINTERNAL       = "internal"             // Internal server error
	EINSUFFICIENT   = "insufficient_tickets" // Not enough tickets across all pools
	EUNKNOWNPRODUCT = "unknown_product"      // Price/product id missing from catalog
	EUNRESOLVED     = "unresolved_user"      // Payment received, no matching user
	ERECONCILE      = "reconcile_timeout"    // Customer linkage attempts exhausted
)

// Error represents an application error with structured information.
type Error struct {
	Code    string // Machine-readable error code
	Op      string // Operation that failed (e.g., "ledger.debit")
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf creates a new Error with the given code, operation, and formatted message.
func Errorf(code, op, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with additional context.
func Wrap(err error, code, op, message string) *Error {
	return &Error{
		Code:    code,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// ErrorCode returns the code of the root error, or EINTERNAL if none.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return EINTERNAL
}

// ErrorMessage returns the human-readable message of the error.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		// For internal errors, return generic message
		if e.Code == EINTERNAL {
			return "An internal error occurred. Please try again later."
		}
		return e.Message
	}
	return "An internal error occurred. Please try again later."
}

// ErrorOp returns the operation of the root error, if any.
func ErrorOp(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Op
	}
	return ""
}

// Convenience constructors for common error types

// NotFound creates a not found error.
func NotFound(op, resource, id string) *Error {
	return &Error{
		Code:    ENOTFOUND,
		Op:      op,
		Message: fmt.Sprintf("%s with ID %q not found", resource, id),
	}
}

// Invalid creates a validation error.
func Invalid(op, message string) *Error {
	return &Error{
		Code:    EINVALID,
		Op:      op,
		Message: message,
	}
}

// Unauthorized creates an authentication error.
func Unauthorized(op, message string) *Error {
	return &Error{
		Code:    EUNAUTHORIZED,
		Op:      op,
		Message: message,
	}
}

// Conflict creates a conflict error.
func Conflict(op, message string) *Error {
	return &Error{
		Code:    ECONFLICT,
		Op:      op,
		Message: message,
	}
}

// Internal creates an internal error, wrapping the underlying error.
func Internal(err error, op, message string) *Error {
	return &Error{
		Code:    EINTERNAL,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// InsufficientTickets creates an error for a debit exceeding all pools combined.
func InsufficientTickets(op string, kind TicketKind, requested int64, available Allotment) *Error {
	return &Error{
		Code:    EINSUFFICIENT,
		Op:      op,
		Message: fmt.Sprintf("Not enough %s tickets: requested %d, available %s", kind, requested, available),
	}
}

// UnknownProduct creates an error for a price id the catalog does not know.
func UnknownProduct(op, priceID string) *Error {
	return &Error{
		Code:    EUNKNOWNPRODUCT,
		Op:      op,
		Message: fmt.Sprintf("No entitlement effect configured for price %q", priceID),
	}
}

// UnresolvedUser creates an error for a payment event with no matching account.
// Callers must surface this loudly; it represents money collected with no
// entitlement applied.
func UnresolvedUser(op, customerID string) *Error {
	return &Error{
		Code:    EUNRESOLVED,
		Op:      op,
		Message: fmt.Sprintf("No account matches billing customer %q", customerID),
	}
}

// ReconcileTimeout creates an error for an exhausted customer-linkage poll.
func ReconcileTimeout(op, checkoutID string) *Error {
	return &Error{
		Code:    ERECONCILE,
		Op:      op,
		Message: fmt.Sprintf("Customer id for checkout %q not assigned within the polling window", checkoutID),
	}
}
