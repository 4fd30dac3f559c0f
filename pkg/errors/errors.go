package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Status  int                    `json:"status"`
	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches errors sharing the same code so cloned guard errors still compare equal
// to their sentinel with errors.Is.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrInvalidCredentials = New("INVALID_CREDENTIALS", http.StatusUnauthorized, "invalid email or password")
	ErrInactiveAccount    = New("ACCOUNT_INACTIVE", http.StatusForbidden, "account is inactive")
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrPreconditionFailed = New("PRECONDITION_FAILED", http.StatusPreconditionFailed, "precondition failed")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss          = New("CACHE_MISS", http.StatusNotFound, "cache miss")
)

// Workflow guard violations. None of these are retriable.
var (
	ErrActorUnauthorized    = New("NOT_AUTHORIZED", http.StatusForbidden, "actor is not authorized for this action")
	ErrInvalidTransition    = New("INVALID_STATE_TRANSITION", http.StatusConflict, "invalid state transition")
	ErrOutOfOrderSignature  = New("OUT_OF_ORDER_SIGNATURE", http.StatusConflict, "buyer cannot sign before the seller")
	ErrAlreadyAccepted      = New("ALREADY_ACCEPTED", http.StatusConflict, "invitation already accepted")
	ErrScoreBelowThreshold  = New("SCORE_BELOW_THRESHOLD", http.StatusUnprocessableEntity, "score is below the acceptance threshold")
	ErrNotEligible          = New("NOT_ELIGIBLE", http.StatusUnprocessableEntity, "checklist is not eligible for the marketplace")
	ErrSelfDealing          = New("SELF_DEALING_REJECTED", http.StatusUnprocessableEntity, "buyer and seller must be different users")
	ErrTransitionContention = New("TRANSITION_CONTENTION", http.StatusConflict, "entity changed concurrently, retry later")
	ErrReferencedByDispute  = New("REFERENCED_BY_DISPUTE", http.StatusConflict, "checklist is referenced by a dispute")
	ErrDisputeAlreadyOpen   = New("DISPUTE_ALREADY_OPEN", http.StatusConflict, "an open dispute already exists for this checklist")
	ErrDocumentNotReady     = New("DOCUMENT_NOT_READY", http.StatusConflict, "agreement document has not been generated yet")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	if err.Details != nil {
		clone.Details = make(map[string]interface{}, len(err.Details))
		for k, v := range err.Details {
			clone.Details[k] = v
		}
	}
	return &clone
}

// WithDetails clones err with a message override and merged details.
func WithDetails(err *Error, message string, details map[string]interface{}) *Error {
	clone := Clone(err, message)
	if clone == nil {
		return nil
	}
	if len(details) == 0 {
		return clone
	}
	if clone.Details == nil {
		clone.Details = make(map[string]interface{}, len(details))
	}
	for k, v := range details {
		clone.Details[k] = v
	}
	return clone
}

// CodeOf returns the code of a typed error or the internal code otherwise.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	return FromError(err).Code
}
