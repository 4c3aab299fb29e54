package main

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed command so callers know whether a retry
// makes sense. Validation kinds mean the request was wrong against current
// state; "unavailable" means storage failed and the same request may
// succeed on retry.
type ErrorKind string

const (
	KindNotFound          ErrorKind = "not_found"
	KindConflict          ErrorKind = "conflict"
	KindForbidden         ErrorKind = "forbidden"
	KindCapacity          ErrorKind = "capacity"
	KindInvalidTransition ErrorKind = "invalid_transition"
	KindValidation        ErrorKind = "validation"
	KindUnavailable       ErrorKind = "unavailable"
)

// GameError carries the kind plus a human-readable reason. The reason is
// shown verbatim next to the action that failed, so keep it short.
type GameError struct {
	Kind   ErrorKind
	Reason string
	cause  error
}

func (e *GameError) Error() string {
	return e.Reason
}

func (e *GameError) Unwrap() error {
	return e.cause
}

func notFoundf(format string, args ...any) error {
	return &GameError{Kind: KindNotFound, Reason: fmt.Sprintf(format, args...)}
}

func conflictf(format string, args ...any) error {
	return &GameError{Kind: KindConflict, Reason: fmt.Sprintf(format, args...)}
}

func forbiddenf(format string, args ...any) error {
	return &GameError{Kind: KindForbidden, Reason: fmt.Sprintf(format, args...)}
}

func capacityf(format string, args ...any) error {
	return &GameError{Kind: KindCapacity, Reason: fmt.Sprintf(format, args...)}
}

func invalidTransitionf(format string, args ...any) error {
	return &GameError{Kind: KindInvalidTransition, Reason: fmt.Sprintf(format, args...)}
}

func validationf(format string, args ...any) error {
	return &GameError{Kind: KindValidation, Reason: fmt.Sprintf(format, args...)}
}

// unavailable wraps a storage error. The original error stays reachable
// through errors.Unwrap for logging.
func unavailable(context string, err error) error {
	return &GameError{Kind: KindUnavailable, Reason: context + ": storage unavailable", cause: err}
}

// errKind extracts the kind from any error returned by the engine.
// Unclassified errors report as unavailable so callers treat them as
// retryable rather than as a rejection of their request.
func errKind(err error) ErrorKind {
	var ge *GameError
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return KindUnavailable
}
