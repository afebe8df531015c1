package model

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorEnvelope_implementsError(t *testing.T) {
	var err error = NewConfigurationError("render is required")
	if err.Error() != "CONFIGURATION_ERROR: render is required" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestErrorEnvelope_unwrapsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewFetchError("posts", cause)

	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the cause")
	}
	if !IsCode(fmt.Errorf("wrapped: %w", err), ErrFetch) {
		t.Error("IsCode should see through wrapping")
	}
	if IsCode(err, ErrPersistence) {
		t.Error("IsCode matched the wrong code")
	}
	if IsCode(cause, ErrFetch) {
		t.Error("IsCode matched a plain error")
	}
}

func TestNewPersistenceError(t *testing.T) {
	err := NewPersistenceError("posts.listParams", errors.New("boom"))
	if err.Code != ErrPersistence {
		t.Errorf("Code = %s", err.Code)
	}
	if err.Message != `store entry "posts.listParams" unavailable` {
		t.Errorf("Message = %q", err.Message)
	}
}
