package errors

import (
	"fmt"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	err := New(CategoryConfiguration, CodeMissingMapping, "amount column not mapped")

	if err.Category != CategoryConfiguration {
		t.Errorf("Expected category %s, got %s", CategoryConfiguration, err.Category)
	}
	if err.Code != CodeMissingMapping {
		t.Errorf("Expected code %s, got %s", CodeMissingMapping, err.Code)
	}
	if err.Message != "amount column not mapped" {
		t.Errorf("Unexpected message: %s", err.Message)
	}
	if err.StackTrace == nil {
		t.Error("Expected stack trace to be captured")
	}
}

func TestWrap(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := Wrap(cause, CategoryTransport, CodeConnectionFailed, "annotator unreachable")

	if err.Cause != cause {
		t.Error("Expected cause to be preserved")
	}
	if err.Unwrap() != cause {
		t.Error("Expected Unwrap to return the cause")
	}

	// Wrapping nil returns nil
	if Wrap(nil, CategoryTransport, CodeConnectionFailed, "x") != nil {
		t.Error("Expected Wrap(nil) to return nil")
	}
}

func TestErrorFormatting(t *testing.T) {
	err := New(CategoryValidation, CodeDuplicateClaim, "duplicate movement index")
	if err.Error() != "duplicate movement index" {
		t.Errorf("Unexpected error string: %s", err.Error())
	}

	err = err.WithSuggestion("discard the entry")
	if !strings.Contains(err.Error(), "suggestion: discard the entry") {
		t.Errorf("Expected suggestion in error string, got: %s", err.Error())
	}
}

func TestWithContext(t *testing.T) {
	err := New(CategoryValidation, CodeIndexOutOfRange, "bad index").
		WithContext("movement_index", 42).
		WithContext("total_movements", 10)

	if err.Context["movement_index"] != 42 {
		t.Error("Expected movement_index context to be set")
	}
	if err.Context["total_movements"] != 10 {
		t.Error("Expected total_movements context to be set")
	}
}

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		category ErrorCategory
		expected int
	}{
		{CategoryFile, 2},
		{CategoryParse, 3},
		{CategoryValidation, 3},
		{CategoryConfiguration, 4},
		{CategoryNotReady, 5},
		{CategoryInternal, 5},
		{CategoryTransport, 6},
	}

	for _, tt := range tests {
		t.Run(string(tt.category), func(t *testing.T) {
			err := New(tt.category, CodeUnexpectedError, "test")
			if code := err.GetExitCode(); code != tt.expected {
				t.Errorf("Expected exit code %d for %s, got %d", tt.expected, tt.category, code)
			}
		})
	}
}

func TestConstructors(t *testing.T) {
	t.Run("ConfigurationError", func(t *testing.T) {
		err := ConfigurationError(CodeMissingMapping, "amount", nil)
		if err.Category != CategoryConfiguration {
			t.Errorf("Expected configuration category, got %s", err.Category)
		}
		if err.Context["setting"] != "amount" {
			t.Error("Expected setting context")
		}
		if err.Suggestion == "" {
			t.Error("Expected a suggestion")
		}
	})

	t.Run("TransportError", func(t *testing.T) {
		cause := fmt.Errorf("dial tcp: connection refused")
		err := TransportError(CodeConnectionFailed, "http://matcher.local", cause)
		if err.Category != CategoryTransport {
			t.Errorf("Expected transport category, got %s", err.Category)
		}
		if err.Cause != cause {
			t.Error("Expected cause to be preserved")
		}
	})

	t.Run("NotReadyError", func(t *testing.T) {
		err := NotReadyError("reconciliation")
		if err.Category != CategoryNotReady {
			t.Errorf("Expected not_ready category, got %s", err.Category)
		}
		if err.Code != CodeNoUsableReceipts {
			t.Errorf("Expected no_usable_receipts code, got %s", err.Code)
		}
	})

	t.Run("ValidationError", func(t *testing.T) {
		err := ValidationError(CodeDuplicateClaim, "movementIndex", 3, nil)
		if err.Category != CategoryValidation {
			t.Errorf("Expected validation category, got %s", err.Category)
		}
		if err.Context["value"] != 3 {
			t.Error("Expected value context")
		}
	})
}

func TestAsReconcilerError(t *testing.T) {
	inner := New(CategoryTransport, CodeTimeout, "timed out")
	wrapped := fmt.Errorf("run failed: %w", inner)

	extracted, ok := AsReconcilerError(wrapped)
	if !ok {
		t.Fatal("Expected to extract ReconcilerError from chain")
	}
	if extracted.Code != CodeTimeout {
		t.Errorf("Expected timeout code, got %s", extracted.Code)
	}

	if _, ok := AsReconcilerError(fmt.Errorf("plain error")); ok {
		t.Error("Expected plain error not to be a ReconcilerError")
	}
}

func TestIsCategory(t *testing.T) {
	err := NotReadyError("reconciliation")
	if !IsCategory(err, CategoryNotReady) {
		t.Error("Expected IsCategory to match not_ready")
	}
	if IsCategory(err, CategoryTransport) {
		t.Error("Expected IsCategory not to match transport")
	}
	if IsCategory(fmt.Errorf("plain"), CategoryNotReady) {
		t.Error("Expected plain error not to match any category")
	}
}

func TestErrorSummary(t *testing.T) {
	errs := []*ReconcilerError{
		ValidationError(CodeDuplicateClaim, "movementIndex", 1, nil),
		ValidationError(CodeIndexOutOfRange, "receiptIndex", 99, nil),
		TransportError(CodeTimeout, "http://annotator.local", nil),
	}

	summary := NewErrorSummary(errs)
	if summary.Total != 3 {
		t.Errorf("Expected 3 errors, got %d", summary.Total)
	}
	if summary.ByCategory[CategoryValidation] != 2 {
		t.Errorf("Expected 2 validation errors, got %d", summary.ByCategory[CategoryValidation])
	}
	if !summary.HasCategory(CategoryTransport) {
		t.Error("Expected summary to contain transport errors")
	}
	if summary.GetExitCode() != 6 {
		t.Errorf("Expected exit code 6 (transport dominates), got %d", summary.GetExitCode())
	}

	empty := NewErrorSummary(nil)
	if empty.Total != 0 || empty.GetExitCode() != 0 {
		t.Error("Expected empty summary with exit code 0")
	}
	if empty.Error() != "no errors" {
		t.Errorf("Unexpected empty summary message: %s", empty.Error())
	}
}
