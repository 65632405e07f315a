package domain

import (
	"errors"
	"testing"
)

func TestValidationError(t *testing.T) {
	tests := []struct {
		name    string
		field   string
		message string
		value   interface{}
	}{
		{
			name:    "empty query",
			field:   "q",
			message: "query cannot be empty",
			value:   "",
		},
		{
			name:    "malformed selected_icd",
			field:   "selected_icd",
			message: "must match ^[A-Z0-9][A-Z0-9.]{1,9}$",
			value:   "!!!",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewValidationError(tt.field, tt.message, tt.value)

			if err.Field != tt.field {
				t.Errorf("expected field %s, got %s", tt.field, err.Field)
			}
			if err.Message != tt.message {
				t.Errorf("expected message %s, got %s", tt.message, err.Message)
			}
			if err.Value != tt.value {
				t.Errorf("expected value %v, got %v", tt.value, err.Value)
			}

			expected := "validation error for field '" + tt.field + "': " + tt.message
			if err.Error() != expected {
				t.Errorf("expected error string %s, got %s", expected, err.Error())
			}
		})
	}
}

func TestNotFoundError(t *testing.T) {
	err := NewNotFoundError("icd10", "Z99.9")
	if err.Error() != "icd10 not found: Z99.9" {
		t.Errorf("unexpected error string: %s", err.Error())
	}
}

func TestRetrievalFailureErrorUnwraps(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewRetrievalFailureError("dolor de cabeza", cause)

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}
	if err.Error() == "" {
		t.Error("expected a non-empty error string")
	}
}

func TestFallbackFailureErrorUnwraps(t *testing.T) {
	cause := errors.New("pool exhausted")
	err := NewFallbackFailureError("E11", cause)

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}
}

func TestSelectionWriteFailureErrorUnwraps(t *testing.T) {
	cause := errors.New("constraint violation")
	err := &SelectionWriteFailureError{Cause: cause}

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}
}

func TestConfigErrorUnwraps(t *testing.T) {
	cause := errors.New("strconv.ParseFloat: invalid syntax")
	err := &ConfigError{Key: "RANK_W_EXACT_MATCH", Value: "abc", Cause: cause}

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}
}

func TestErrorConstants(t *testing.T) {
	expected := map[string]string{
		"ErrInvalidInput":     "INVALID_INPUT",
		"ErrNotFound":         "NOT_FOUND",
		"ErrRetrievalFailure": "RETRIEVAL_FAILURE",
		"ErrFallbackFailure":  "FALLBACK_FAILURE",
		"ErrLogWriteFailure":  "LOG_WRITE_FAILURE",
		"ErrSelectionWrite":   "SELECTION_WRITE_FAILURE",
		"ErrConfig":           "CONFIG_ERROR",
	}

	actual := map[string]string{
		"ErrInvalidInput":     ErrInvalidInput,
		"ErrNotFound":         ErrNotFound,
		"ErrRetrievalFailure": ErrRetrievalFailure,
		"ErrFallbackFailure":  ErrFallbackFailure,
		"ErrLogWriteFailure":  ErrLogWriteFailure,
		"ErrSelectionWrite":   ErrSelectionWrite,
		"ErrConfig":           ErrConfig,
	}

	for name, want := range expected {
		if got := actual[name]; got != want {
			t.Errorf("expected %s to be %s, got %s", name, want, got)
		}
	}
}
