package engine

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestConvergeError_Classification(t *testing.T) {
	err := NewActionFailedError("command exited 1", nil).WithHost("h1").WithOperation("install nginx")

	if !IsActionFailed(err) {
		t.Error("Expected IsActionFailed to be true")
	}
	if IsRenderError(err) || IsProbeUnknown(err) || IsTransportUnreachable(err) {
		t.Error("Expected no other classification to match")
	}
}

func TestConvergeError_ClassificationSurvivesWrapping(t *testing.T) {
	inner := NewTransportUnreachableError("dial failed", errors.New("connection refused"))
	wrapped := fmt.Errorf("converging host: %w", inner)

	if !IsTransportUnreachable(wrapped) {
		t.Error("Expected classification to survive fmt.Errorf wrapping")
	}
}

func TestConvergeError_MessageCarriesContext(t *testing.T) {
	err := NewProbeUnknownError("probe timed out", nil).WithHost("db-1").WithOperation("check socket")

	msg := err.Error()
	for _, want := range []string{"probe_unknown", "db-1", "check socket", "probe timed out"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Expected error message to contain %q, got %q", want, msg)
		}
	}
}

func TestConvergeError_IsMatchesByClassAndCode(t *testing.T) {
	err := NewRenderError("unresolved variable", nil).WithCode(ErrCodeUnresolvedVariable)

	if !errors.Is(err, &ConvergeError{Class: ErrorClassRender}) {
		t.Error("Expected match on class alone")
	}
	if !errors.Is(err, &ConvergeError{Class: ErrorClassRender, Code: ErrCodeUnresolvedVariable}) {
		t.Error("Expected match on class and code")
	}
	if errors.Is(err, &ConvergeError{Class: ErrorClassRender, Code: ErrCodeMalformedTemplate}) {
		t.Error("Expected mismatch on a different code")
	}
}
