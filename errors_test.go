package apgas

import (
	"errors"
	"fmt"
	"testing"
)

func TestStructuredError(t *testing.T) {
	err := NewError("spawn", ErrCodeConfiguration, "invalid destination place")

	if err.Op != "spawn" {
		t.Errorf("Expected Op=spawn, got %s", err.Op)
	}
	if err.Code != ErrCodeConfiguration {
		t.Errorf("Expected Code=ErrCodeConfiguration, got %s", err.Code)
	}

	expected := fmt.Sprintf("apgas: invalid destination place (op=spawn)")
	if err.Error() != expected {
		t.Errorf("Expected error message %q, got %q", expected, err.Error())
	}
}

func TestFinishScopedError(t *testing.T) {
	err := NewFinishError("wait_all", ErrCodeProtocolViolation, FinishId(7), "duplicate completion")

	if err.FinishID != 7 {
		t.Errorf("Expected FinishID=7, got %d", err.FinishID)
	}
	if err.Code != ErrCodeProtocolViolation {
		t.Errorf("Expected Code=ErrCodeProtocolViolation, got %s", err.Code)
	}
}

func TestWrapErrorPreservesPlainCause(t *testing.T) {
	inner := errors.New("connection reset")
	err := WrapError("send", ErrCodeTransportFailure, inner)

	if err.Code != ErrCodeTransportFailure {
		t.Errorf("Expected Code=ErrCodeTransportFailure, got %s", err.Code)
	}
	if !errors.Is(err, inner) {
		t.Error("Expected wrapped error to satisfy errors.Is for the original cause")
	}
}

func TestWrapErrorPreservesStructuredCause(t *testing.T) {
	inner := NewError("dial", ErrCodeTransportFailure, "dial timeout")
	err := WrapError("genesis", ErrCodeConfiguration, inner)

	// WrapError keeps the inner *Error's own code rather than the one
	// passed by the caller, so repeated wrapping never loses the
	// original failure category.
	if err.Code != ErrCodeTransportFailure {
		t.Errorf("Expected Code to stay ErrCodeTransportFailure, got %s", err.Code)
	}
	if err.Op != "genesis" {
		t.Errorf("Expected Op=genesis, got %s", err.Op)
	}
}

func TestWrapErrorNilIsNil(t *testing.T) {
	if err := WrapError("send", ErrCodeTransportFailure, nil); err != nil {
		t.Errorf("Expected nil, got %v", err)
	}
}

func TestIsCode(t *testing.T) {
	err := NewError("wait_single", ErrCodeProtocolViolation, "activity id never registered")

	if !IsCode(err, ErrCodeProtocolViolation) {
		t.Error("IsCode should return true for matching code")
	}
	if IsCode(err, ErrCodeTransportFailure) {
		t.Error("IsCode should return false for non-matching code")
	}
	if IsCode(nil, ErrCodeProtocolViolation) {
		t.Error("IsCode should return false for nil error")
	}
}

func TestErrorIsComparesByCode(t *testing.T) {
	a := &Error{Code: ErrCodeDuplicateActivity}
	b := NewError("spawn", ErrCodeDuplicateActivity, "already registered")

	if !errors.Is(b, a) {
		t.Error("Expected errors with matching Code to satisfy errors.Is")
	}

	c := NewError("spawn", ErrCodeDuplicateWaiter, "already registered")
	if errors.Is(c, a) {
		t.Error("Expected errors with different Code to not satisfy errors.Is")
	}
}
