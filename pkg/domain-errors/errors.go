// Package domainerrors provides code-based errors shared across services.
//
// Stores return pkg/platform/sentinel errors for infrastructure facts;
// services translate those into domain errors carrying one of the codes
// below. Handlers map codes onto HTTP statuses in pkg/platform/httputil.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error. Codes are stable API surface: clients
// branch on them, so renaming one is a breaking change.
type Code string

const (
	// CodeInvalidInput marks malformed input rejected at a trust boundary.
	CodeInvalidInput Code = "invalid_input"

	// CodeBadRequest marks a structurally valid request that cannot be served.
	CodeBadRequest Code = "bad_request"

	// CodeConfiguration marks an invalid governance parameter set.
	CodeConfiguration Code = "configuration_error"

	// CodeInvalidState marks an illegal tier or claim transition.
	CodeInvalidState Code = "invalid_state"

	// CodeIneligible marks a caller blocked by cooldown, challenge status,
	// zero vote weight, or an already-held tier.
	CodeIneligible Code = "ineligible"

	// CodeInsufficientStake marks a stake below the claim type's minimum.
	CodeInsufficientStake Code = "insufficient_stake"

	// CodeAlreadyActed marks a duplicate vouch on the same claim.
	CodeAlreadyActed Code = "already_acted"

	// CodeAuthorityRevoked marks a privileged call after override renouncement.
	CodeAuthorityRevoked Code = "authority_revoked"

	// CodeLedger marks a stake ledger failure. Retryable when the ledger is
	// transiently unavailable; insufficient balance is permanent.
	CodeLedger Code = "ledger_error"

	// CodeLedgerUnavailable marks a transient ledger outage (retryable).
	CodeLedgerUnavailable Code = "ledger_unavailable"

	CodeNotFound     Code = "not_found"
	CodeConflict     Code = "conflict"
	CodeUnauthorized Code = "unauthorized"
	CodeInternal     Code = "internal_error"
)

// Error is a domain error with a stable code and human-readable message.
type Error struct {
	Code    Code
	Message string
	wrapped error
}

func (e *Error) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.wrapped }

// New creates a domain error with the given code and message.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf creates a domain error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error while preserving
// the chain for errors.Is/errors.As.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, wrapped: err}
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	for errors.As(err, &de) {
		if de.Code == code {
			return true
		}
		err = de.wrapped
	}
	return false
}

// CodeOf returns the outermost domain code, or CodeInternal for foreign errors.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// IsRetryable reports whether the caller may retry the failed operation.
// Only transient infrastructure failures qualify; every precondition
// violation is permanent.
func IsRetryable(err error) bool {
	return HasCode(err, CodeLedgerUnavailable)
}
