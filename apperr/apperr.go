// Package apperr defines the registry's error taxonomy.
//
// Callers branch on Kind (or on a specific sentinel via errors.Is) rather than
// on message text. Every sentinel carries a stable Code; errors produced with
// With keep the sentinel's identity while adding call-site detail.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is a stable category for programmatic error handling.
type Kind string

const (
	KindReference     Kind = "reference"
	KindState         Kind = "state"
	KindTemporal      Kind = "temporal"
	KindAuthorization Kind = "authorization"
	KindEconomic      Kind = "economic"
	KindData          Kind = "data"
	KindInternal      Kind = "internal"
)

// Error is the structured error returned by registry operations.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is matches any *Error with the same Code, so detailed copies created by
// With still satisfy errors.Is against the sentinel.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

func define(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

var (
	ErrInvalidClaimID              = define(KindReference, "INVALID_CLAIM_ID", "claim id out of range")
	ErrInvalidResolverReference    = define(KindReference, "INVALID_RESOLVER_REFERENCE", "resolver is unregistered or inactive")
	ErrInvalidAdjudicatorReference = define(KindReference, "INVALID_ADJUDICATOR_REFERENCE", "adjudicator is not registered")
	ErrInvalidTemplate             = define(KindReference, "INVALID_TEMPLATE", "resolver rejected the template")

	ErrInvalidState            = define(KindState, "INVALID_STATE", "operation not permitted in the current state")
	ErrInvalidInitialState     = define(KindState, "INVALID_INITIAL_STATE", "resolver reported an invalid initial state")
	ErrDisputeAlreadyExists    = define(KindState, "DISPUTE_ALREADY_EXISTS", "claim already has a dispute")
	ErrAlreadyDecided          = define(KindState, "ALREADY_DECIDED", "adjudicator decision already recorded")
	ErrEscalationAlreadyExists = define(KindState, "ESCALATION_ALREADY_EXISTS", "claim already has an escalation")
	ErrInvalidDecision         = define(KindState, "INVALID_DECISION", "decision not permitted here")

	ErrWindowNotElapsed = define(KindTemporal, "WINDOW_NOT_ELAPSED", "window has not elapsed yet")
	ErrWindowElapsed    = define(KindTemporal, "WINDOW_ELAPSED", "window has already elapsed")

	ErrUnauthorized        = define(KindAuthorization, "UNAUTHORIZED", "caller is not permitted to perform this operation")
	ErrAdjudicatorRejected = define(KindAuthorization, "ADJUDICATOR_REJECTED", "adjudicator refused the assignment")
	ErrReentrantCall       = define(KindAuthorization, "REENTRANT_CALL", "mutating operation re-entered while another is running")

	ErrBondRequired      = define(KindEconomic, "BOND_REQUIRED", "a bond is required")
	ErrBondNotAcceptable = define(KindEconomic, "BOND_NOT_ACCEPTABLE", "bond asset or amount does not meet policy")
	ErrFundsMismatch     = define(KindEconomic, "FUNDS_MISMATCH", "attached funds do not match the bond amount")
	ErrInsufficientFunds = define(KindEconomic, "INSUFFICIENT_FUNDS", "custodian could not pull the bond")
	ErrInvalidBondPolicy = define(KindEconomic, "INVALID_BOND_POLICY", "bond requirements are inconsistent")

	ErrNoCorrectedAnswerProvided = define(KindData, "NO_CORRECTED_ANSWER_PROVIDED", "no corrected answer available")
	ErrAnswerTypeMismatch        = define(KindData, "ANSWER_TYPE_MISMATCH", "answer does not match the claim's answer type")
	ErrInvalidWindows            = define(KindData, "INVALID_WINDOWS", "window durations must not be negative")
	ErrInvalidPayload            = define(KindData, "INVALID_PAYLOAD", "payload is not valid for the template")
)

// With returns a copy of sentinel carrying a formatted detail message.
func With(sentinel *Error, format string, args ...any) error {
	return &Error{
		Kind:    sentinel.Kind,
		Code:    sentinel.Code,
		Message: sentinel.Message + ": " + fmt.Sprintf(format, args...),
	}
}

// Wrap attaches cause to a copy of sentinel.
func Wrap(sentinel *Error, cause error) error {
	if cause == nil {
		return sentinel
	}
	return &Error{Kind: sentinel.Kind, Code: sentinel.Code, Message: sentinel.Message, Cause: cause}
}

// IsKind reports whether err is (or wraps) an *Error with the given Kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// KindOf returns the Kind of err, or KindInternal for errors outside the taxonomy.
func KindOf(err error) Kind {
	var e *Error
	if !errors.As(err, &e) {
		return KindInternal
	}
	return e.Kind
}

// Code returns the stable code for a structured error, or "" if unknown.
func Code(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Code
}
