package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{"plain", New(ErrCodePoolExhausted, "no %s session within %s", "browser", "10s"), "POOL_EXHAUSTED: no browser session within 10s"},
		{"wrapped", Wrap(ErrCodeRenderFailure, errors.New("exit status 1"), "mmdc"), "RENDER_FAILURE: mmdc: exit status 1"},
		{"wrapped without message", &Error{Code: ErrCodeUploadFailure, Cause: errors.New("503")}, "UPLOAD_FAILURE: 503"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWrapKeepsCause(t *testing.T) {
	err := Wrap(ErrCodeRenderFailure, context.DeadlineExceeded, "browser render")

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("errors.Is should see the cause through Wrap")
	}
	if errors.Unwrap(err) != context.DeadlineExceeded {
		t.Error("Unwrap should return the cause")
	}
}

func TestCodeLookup(t *testing.T) {
	nested := fmt.Errorf("pipeline: %w", Wrap(ErrCodeUploadFailure, New(ErrCodeInvalidInput, "inner"), "outer"))

	tests := []struct {
		name     string
		err      error
		code     Code
		is       bool
		getCode  Code
		fallback Code
	}{
		{"direct", New(ErrCodeNoBackend, "none"), ErrCodeNoBackend, true, ErrCodeNoBackend, ErrCodeNoBackend},
		{"other code", New(ErrCodeNoBackend, "none"), ErrCodeRenderFailure, false, ErrCodeNoBackend, ErrCodeNoBackend},
		{"outermost code wins", nested, ErrCodeUploadFailure, true, ErrCodeUploadFailure, ErrCodeUploadFailure},
		{"plain error", errors.New("boom"), ErrCodeInternal, false, "", ErrCodeInternal},
		{"nil", nil, ErrCodeInternal, false, "", ErrCodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Is(tt.err, tt.code); got != tt.is {
				t.Errorf("Is() = %v, want %v", got, tt.is)
			}
			if got := GetCode(tt.err); got != tt.getCode {
				t.Errorf("GetCode() = %q, want %q", got, tt.getCode)
			}
			if got := CodeOr(tt.err, ErrCodeInternal); got != tt.fallback {
				t.Errorf("CodeOr() = %q, want %q", got, tt.fallback)
			}
		})
	}
}

func TestUserMessage(t *testing.T) {
	if got := UserMessage(New(ErrCodeInvalidInput, "Mermaid code is required")); got != "Mermaid code is required" {
		t.Errorf("UserMessage() = %q", got)
	}
	if got := UserMessage(errors.New("connection refused")); got != "connection refused" {
		t.Errorf("UserMessage() = %q", got)
	}
}
