package apgas

import (
	"errors"
	"fmt"
)

// Error is a structured runtime error carrying the place/finish/
// activity context needed to diagnose a failure across the cluster
// (spec §7's error taxonomy), mirroring the teacher's *Error type:
// an Op, a high-level Code, optional ids, a message and a wrapped
// cause.
type Error struct {
	Op       string    // operation that failed, e.g. "spawn", "send", "wait_all"
	Code     ErrorCode // high-level category
	Place    Place     // place the error was observed on (always set)
	FinishID FinishId  // 0 if not applicable
	Msg      string
	Inner    error
}

func (e *Error) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	parts = append(parts, fmt.Sprintf("place=%d", e.Place))
	if e.FinishID != 0 {
		parts = append(parts, fmt.Sprintf("finish=%d", e.FinishID))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	if len(parts) > 0 {
		return fmt.Sprintf("apgas: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("apgas: %s", msg)
}

// Unwrap supports errors.Is/As against the wrapped cause.
func (e *Error) Unwrap() error { return e.Inner }

// Is compares by Code, the same coarse-grained equivalence the
// teacher's Error.Is uses for UblkErrorCode.
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == te.Code
}

// ErrorCode is a high-level failure category (spec §7).
type ErrorCode string

const (
	ErrCodeUserPanic          ErrorCode = "user activity panic"
	ErrCodeTransportFailure   ErrorCode = "transport failure"
	ErrCodeOversizedMessage   ErrorCode = "oversized message"
	ErrCodeProtocolViolation  ErrorCode = "protocol violation"
	ErrCodeConfiguration      ErrorCode = "configuration error"
	ErrCodeDuplicateActivity  ErrorCode = "duplicate activity id"
	ErrCodeDuplicateWaiter    ErrorCode = "duplicate waiter"
)

// NewError builds a structured error rooted at here().
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Code: code, Place: Here(), Msg: msg}
}

// NewFinishError builds a structured error scoped to a finish id.
func NewFinishError(op string, code ErrorCode, finishID FinishId, msg string) *Error {
	return &Error{Op: op, Code: code, Place: Here(), FinishID: finishID, Msg: msg}
}

// WrapError wraps inner with operation context, per spec §7's
// propagation policy: everything except a user panic is fatal, so
// most callers of WrapError are on a direct path to process exit.
func WrapError(op string, code ErrorCode, inner error) *Error {
	if inner == nil {
		return nil
	}
	if ae, ok := inner.(*Error); ok {
		return &Error{Op: op, Code: ae.Code, Place: ae.Place, FinishID: ae.FinishID, Msg: ae.Msg, Inner: ae.Inner}
	}
	return &Error{Op: op, Code: code, Place: Here(), Msg: inner.Error(), Inner: inner}
}

// IsCode reports whether err is an *Error with the given code.
func IsCode(err error, code ErrorCode) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code == code
	}
	return false
}
