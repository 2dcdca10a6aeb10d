// Package apperr provides standardized domain error types for the application.
// Managers return these typed errors, and the HTTP layer maps them to
// status codes and machine-readable codes without string matching.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind represents the category of error.
type Kind int

const (
	// KindUnknown is the default error kind when none is specified.
	KindUnknown Kind = iota
	// KindNotFound indicates a resource was not found.
	KindNotFound
	// KindValidation indicates invalid input data (e.g. a justification that is too short).
	KindValidation
	// KindConflict indicates a conflict with existing state (e.g., duplicate).
	KindConflict
	// KindForbidden indicates the action is not allowed for the caller.
	KindForbidden
	// KindUnauthorized indicates authentication is required or failed.
	KindUnauthorized
	// KindBadRequest indicates a malformed request.
	KindBadRequest
	// KindInternal indicates an unexpected storage or runtime failure.
	KindInternal
	// KindIllegalTransition indicates a state machine violation.
	KindIllegalTransition
	// KindConsecutiveInactivationBlocked indicates the inactivation guard vetoed the request.
	KindConsecutiveInactivationBlocked
	// KindImmutableAfterEmission indicates a mutation attempted after the laudo was emitted.
	KindImmutableAfterEmission
	// KindAlreadyProcessed indicates a conditioned write lost a race.
	KindAlreadyProcessed
	// KindAlreadyActive indicates the account is already active.
	KindAlreadyActive
	// KindPaymentNotConfirmed indicates activation without a confirmed payment.
	KindPaymentNotConfirmed
	// KindTokenInvalid indicates an unknown resumption token.
	KindTokenInvalid
	// KindTokenUsed indicates a resumption token that was already consumed.
	KindTokenUsed
	// KindTokenExpired indicates a resumption token past its expiry.
	KindTokenExpired
)

var kindCodes = map[Kind]string{
	KindUnknown:                        "UNKNOWN",
	KindNotFound:                       "NOT_FOUND",
	KindValidation:                     "VALIDATION_ERROR",
	KindConflict:                       "CONFLICT",
	KindForbidden:                      "FORBIDDEN",
	KindUnauthorized:                   "UNAUTHORIZED",
	KindBadRequest:                     "BAD_REQUEST",
	KindInternal:                       "INTERNAL_FAILURE",
	KindIllegalTransition:              "ILLEGAL_TRANSITION",
	KindConsecutiveInactivationBlocked: "CONSECUTIVE_INACTIVATION_BLOCKED",
	KindImmutableAfterEmission:         "IMMUTABLE_AFTER_EMISSION",
	KindAlreadyProcessed:               "ALREADY_PROCESSED",
	KindAlreadyActive:                  "ALREADY_ACTIVE",
	KindPaymentNotConfirmed:            "PAYMENT_NOT_CONFIRMED",
	KindTokenInvalid:                   "TOKEN_INVALID",
	KindTokenUsed:                      "TOKEN_USED",
	KindTokenExpired:                   "TOKEN_EXPIRED",
}

// Code returns the stable machine-readable code for the kind.
func (k Kind) Code() string {
	if code, ok := kindCodes[k]; ok {
		return code
	}
	return kindCodes[KindUnknown]
}

func (k Kind) String() string { return k.Code() }

// Error is a domain error with a typed Kind for HTTP mapping.
type Error struct {
	Kind    Kind
	Message string
	Op      string      // Operation that failed (optional)
	Err     error       // Underlying error (optional)
	Details interface{} // Additional details for response (optional)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the appropriate HTTP status code for this error kind.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation, KindBadRequest:
		return http.StatusBadRequest
	case KindConflict, KindAlreadyProcessed, KindAlreadyActive, KindIllegalTransition,
		KindConsecutiveInactivationBlocked, KindImmutableAfterEmission:
		return http.StatusConflict
	case KindPaymentNotConfirmed:
		return http.StatusPaymentRequired
	case KindTokenInvalid:
		return http.StatusNotFound
	case KindTokenUsed, KindTokenExpired:
		return http.StatusGone
	case KindForbidden:
		return http.StatusForbidden
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// New creates a new domain error with the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates a new domain error wrapping an existing error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithOp returns the error with the operation set.
func (e *Error) WithOp(op string) *Error {
	e.Op = op
	return e
}

// WithDetails returns the error with additional details.
func (e *Error) WithDetails(details interface{}) *Error {
	e.Details = details
	return e
}

// Convenience constructors for common error types.

// NotFound creates a not found error.
func NotFound(message string) *Error {
	return New(KindNotFound, message)
}

// Validation creates a validation error.
func Validation(message string) *Error {
	return New(KindValidation, message)
}

// Conflict creates a conflict error (e.g., duplicate resource).
func Conflict(message string) *Error {
	return New(KindConflict, message)
}

// Forbidden creates a forbidden error.
func Forbidden(message string) *Error {
	return New(KindForbidden, message)
}

// Unauthorized creates an unauthorized error.
func Unauthorized(message string) *Error {
	return New(KindUnauthorized, message)
}

// BadRequest creates a bad request error.
func BadRequest(message string) *Error {
	return New(KindBadRequest, message)
}

// Internal creates an internal failure. The message returned to callers stays opaque.
func Internal(message string) *Error {
	return New(KindInternal, message)
}

// IllegalTransition creates a state machine violation error.
func IllegalTransition(entity, from, to string) *Error {
	return New(KindIllegalTransition, fmt.Sprintf("transição de %s inválida: %s -> %s", entity, from, to)).
		WithDetails(map[string]string{"entity": entity, "from": from, "to": to})
}

// AlreadyProcessed creates an error for a conditioned write that affected no rows.
func AlreadyProcessed(message string) *Error {
	return New(KindAlreadyProcessed, message)
}

// ImmutableAfterEmission creates an error for mutations after laudo emission.
func ImmutableAfterEmission(message string) *Error {
	return New(KindImmutableAfterEmission, message)
}

// AlreadyActive creates an error for activating an account that is already active.
func AlreadyActive(message string) *Error {
	return New(KindAlreadyActive, message)
}

// PaymentNotConfirmed creates an error for activation without a confirmed payment.
func PaymentNotConfirmed(message string) *Error {
	return New(KindPaymentNotConfirmed, message)
}

// TokenInvalid, TokenUsed and TokenExpired are the distinguishable resumption token failures.
func TokenInvalid(message string) *Error { return New(KindTokenInvalid, message) }
func TokenUsed(message string) *Error    { return New(KindTokenUsed, message) }
func TokenExpired(message string) *Error { return New(KindTokenExpired, message) }

// GetKind extracts the error kind from an error chain.
// Returns KindUnknown if no *Error is found.
func GetKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is checks if err carries an *Error with the given kind.
func Is(err error, kind Kind) bool {
	return GetKind(err) == kind
}
