// Package kerrors defines the host's error taxonomy.
//
// Every error surfaced at a component boundary is classifiable into one of a
// small set of kinds. The kind decides retry behaviour (remote-retryable
// errors back off, validation and policy errors never retry), the CLI exit
// code, and the stable tag included in user-visible JSON failures.
package kerrors

import (
	"errors"
	"fmt"
)

// Kind is a stable error classification tag.
type Kind string

const (
	// KindValidation covers bad input and schema mismatches.
	KindValidation Kind = "validation"
	// KindFSMGuard covers task state transitions outside the allowed set.
	// A guard violation is a validation failure with its own exit code.
	KindFSMGuard Kind = "fsm_guard"
	// KindNotFound covers missing entities, tools, and plugins.
	KindNotFound Kind = "not_found"
	// KindPolicy covers capability, allowlist, and confirmation failures.
	KindPolicy Kind = "policy"
	// KindIO covers disk, lock, and corruption failures.
	KindIO Kind = "io"
	// KindRemote covers upstream provider/adapter failures. Whether a remote
	// error retries depends on IsRetryable.
	KindRemote Kind = "remote"
	// KindBudget marks an agent run that exhausted its budget.
	KindBudget Kind = "budget_exceeded"
	// KindDuplicate marks a soft failure: the event was already processed
	// and the prior result stands.
	KindDuplicate Kind = "duplicate_event"
	// KindUnknown is everything else.
	KindUnknown Kind = "unknown"
)

// Error is a classified error. Wrap the underlying cause so callers can
// still errors.Is/As through it.
type Error struct {
	Knd       Kind
	Msg       string
	Retryable bool // meaningful only for KindRemote
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Knd, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Knd, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New returns a classified error with no underlying cause.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Knd: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err without losing the chain.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Knd: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Validation returns a KindValidation error.
func Validation(format string, args ...any) *Error { return New(KindValidation, format, args...) }

// FSMGuard returns a KindFSMGuard error.
func FSMGuard(format string, args ...any) *Error { return New(KindFSMGuard, format, args...) }

// NotFound returns a KindNotFound error.
func NotFound(format string, args ...any) *Error { return New(KindNotFound, format, args...) }

// Policy returns a KindPolicy error.
func Policy(format string, args ...any) *Error { return New(KindPolicy, format, args...) }

// IO wraps err as a KindIO error.
func IO(err error, format string, args ...any) *Error { return Wrap(KindIO, err, format, args...) }

// Remote wraps err as a KindRemote error with the given retryability.
func Remote(err error, retryable bool, format string, args ...any) *Error {
	e := Wrap(KindRemote, err, format, args...)
	e.Retryable = retryable
	return e
}

// Budget returns a KindBudget error.
func Budget(format string, args ...any) *Error { return New(KindBudget, format, args...) }

// Duplicate returns a KindDuplicate error.
func Duplicate(format string, args ...any) *Error { return New(KindDuplicate, format, args...) }

// KindOf walks the error chain and returns the first classified kind, or
// KindUnknown when the chain carries no *Error.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Knd
	}
	return KindUnknown
}

// IsRetryable reports whether err is a remote error marked retryable.
// Validation, policy, and budget errors are never retryable.
func IsRetryable(err error) bool {
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Knd == KindRemote && ke.Retryable
	}
	return false
}

// ExitCode maps an error to the CLI exit-code contract:
// 0 success, 2 validation, 3 idempotent-no-op, 4 FSM guard violation,
// 5 I/O or lock error, 6 policy violation, 7 unknown.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch KindOf(err) {
	case KindValidation:
		return 2
	case KindDuplicate:
		return 3
	case KindFSMGuard:
		return 4
	case KindIO:
		return 5
	case KindPolicy:
		return 6
	case KindNotFound:
		return 2
	default:
		return 7
	}
}
