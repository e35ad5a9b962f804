// Package errors defines the coded errors rendermill returns from every layer.
//
// A code names the failure class a caller can act on. The HTTP API turns it
// into a status with [HTTPStatus]; the CLI picks its exit code from it.
//
//	INVALID_INPUT          empty, oversized or unsafe request fields
//	INVALID_FORMAT         output format other than svg or png
//	NO_BACKEND_AVAILABLE   no backend passed its environment probe
//	POOL_EXHAUSTED         no render session freed up before the acquire timeout
//	RENDER_FAILURE         the backend rejected or crashed on the diagram
//	CONVERSION_FAILURE     svg to raster conversion failed
//	UPLOAD_FAILURE         the artifact store rejected the upload
//	TIMEOUT                the request deadline passed
//
// Wrap keeps the cause available to errors.Is and errors.As:
//
//	return errors.Wrap(errors.ErrCodeRenderFailure, err, "mmdc exited")
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code represents a machine-readable error code.
type Code string

// Error codes for the render pipeline.
const (
	// Input validation errors
	ErrCodeInvalidInput  Code = "INVALID_INPUT"
	ErrCodeInvalidFormat Code = "INVALID_FORMAT"

	// Backend and session errors
	ErrCodeNoBackend     Code = "NO_BACKEND_AVAILABLE"
	ErrCodePoolExhausted Code = "POOL_EXHAUSTED"
	ErrCodeRenderFailure Code = "RENDER_FAILURE"

	// Output errors
	ErrCodeConversionFailure Code = "CONVERSION_FAILURE"
	ErrCodeUploadFailure     Code = "UPLOAD_FAILURE"

	// Internal errors
	ErrCodeTimeout  Code = "TIMEOUT"
	ErrCodeNotFound Code = "NOT_FOUND"
	ErrCodeInternal Code = "INTERNAL_ERROR"
)

// Error is a structured error with a code and optional cause.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Cause == nil:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	case e.Message == "":
		return fmt.Sprintf("%s: %v", e.Code, e.Cause)
	default:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// Is reports whether the outermost *Error in err's chain carries code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetCode returns the code of the outermost *Error in err's chain, or "".
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// CodeOr returns the code of err, or fallback when err carries none.
func CodeOr(err error, fallback Code) Code {
	if c := GetCode(err); c != "" {
		return c
	}
	return fallback
}

// UserMessage returns the message without code prefix or cause.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// HTTPStatus maps an error code to the status returned by the HTTP API.
func HTTPStatus(code Code) int {
	switch code {
	case ErrCodeInvalidInput, ErrCodeInvalidFormat:
		return http.StatusBadRequest
	case ErrCodeRenderFailure:
		return http.StatusUnprocessableEntity
	case ErrCodeNoBackend, ErrCodePoolExhausted:
		return http.StatusServiceUnavailable
	case ErrCodeUploadFailure:
		return http.StatusBadGateway
	case ErrCodeTimeout:
		return http.StatusGatewayTimeout
	case ErrCodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
