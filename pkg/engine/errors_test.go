package engine_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/codepool/codepool/pkg/engine"
)

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		err       error
		transient bool
		throttled bool
		conflict  bool
		permanent bool
		retryable bool
	}{
		{engine.NewTransientError("down", nil), true, false, false, false, true},
		{engine.NewThrottledError("slow down", nil), false, true, false, false, true},
		{engine.NewConflictError("lost the race", nil), false, false, true, false, false},
		{engine.NewPermanentError("no such code", nil), false, false, false, true, false},
	}
	for _, tc := range cases {
		if got := engine.IsTransient(tc.err); got != tc.transient {
			t.Errorf("IsTransient(%v) = %v", tc.err, got)
		}
		if got := engine.IsThrottled(tc.err); got != tc.throttled {
			t.Errorf("IsThrottled(%v) = %v", tc.err, got)
		}
		if got := engine.IsConflict(tc.err); got != tc.conflict {
			t.Errorf("IsConflict(%v) = %v", tc.err, got)
		}
		if got := engine.IsPermanent(tc.err); got != tc.permanent {
			t.Errorf("IsPermanent(%v) = %v", tc.err, got)
		}
		if got := engine.IsRetryable(tc.err); got != tc.retryable {
			t.Errorf("IsRetryable(%v) = %v", tc.err, got)
		}
	}
}

func TestClassifiersIgnoreForeignErrors(t *testing.T) {
	plain := errors.New("plain")
	if engine.IsTransient(plain) || engine.IsConflict(plain) || engine.IsRetryable(plain) {
		t.Error("plain errors must not classify")
	}
	if engine.HasCode(plain, engine.ErrCodeNotFound) {
		t.Error("plain errors carry no code")
	}
}

func TestClassifiersUnwrap(t *testing.T) {
	inner := engine.NewThrottledError("rate exceeded", nil).
		WithCode(engine.ErrCodeExternalThrottled)
	wrapped := fmt.Errorf("pass failed: %w", inner)

	if !engine.IsThrottled(wrapped) {
		t.Error("classification must see through wrapping")
	}
	if !engine.HasCode(wrapped, engine.ErrCodeExternalThrottled) {
		t.Error("code lookup must see through wrapping")
	}
}

func TestIsNotFoundCoversBothCodes(t *testing.T) {
	record := engine.NewPermanentError("no record", nil).WithCode(engine.ErrCodeNotFound)
	resource := engine.NewPermanentError("no stack", nil).WithCode(engine.ErrCodeResourceNotFound)
	other := engine.NewPermanentError("denied", nil).WithCode(engine.ErrCodeExternalDenied)

	if !engine.IsNotFound(record) || !engine.IsNotFound(resource) {
		t.Error("both missing-record and missing-resource must report not found")
	}
	if engine.IsNotFound(other) {
		t.Error("unrelated codes must not report not found")
	}
}

func TestErrorMessageIncludesContext(t *testing.T) {
	err := engine.NewPermanentError("code is not available", nil).
		WithCode(engine.ErrCodeInvalidSelection).
		WithCodeID("03").
		WithOperation("allocate").
		WithDetail("status", "CREATE_PENDING")

	msg := err.Error()
	for _, want := range []string{"permanent", "code is not available", "03", "allocate"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error message %q missing %q", msg, want)
		}
	}
	if err.Details["status"] != "CREATE_PENDING" {
		t.Error("detail not recorded")
	}
}

func TestErrorsIsMatchesClassAndCode(t *testing.T) {
	a := engine.NewConflictError("a", nil).WithCode(engine.ErrCodeConditionFailed)
	b := engine.NewConflictError("b", nil).WithCode(engine.ErrCodeConditionFailed)
	c := engine.NewConflictError("c", nil).WithCode(engine.ErrCodeOperationInFlight)

	if !errors.Is(a, b) {
		t.Error("same class and code must match")
	}
	if errors.Is(a, c) {
		t.Error("different codes must not match")
	}
}
