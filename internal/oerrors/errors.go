// Package oerrors defines the stable error surface shared by every pipeline
// stage. Errors carry a code, a human message, optional structured details,
// and a retryable flag; stages surface them upward unchanged.
package oerrors

import (
	"errors"
	"fmt"
)

// Code is a stable error code string.
type Code string

const (
	CodeInvalidStructure    Code = "INVALID_STRUCTURE"
	CodeInvalidReference    Code = "INVALID_REFERENCE"
	CodeDuplicateContent    Code = "DUPLICATE_CONTENT"
	CodeGateFailed          Code = "GATE_FAILED"
	CodeCompileFailed       Code = "COMPILE_FAILED"
	CodeVerifyFailed        Code = "VERIFY_FAILED"
	CodeDeployFailed        Code = "DEPLOY_FAILED"
	CodeRollbackUnavailable Code = "ROLLBACK_UNAVAILABLE"
	CodeDriftDetected       Code = "DRIFT_DETECTED"
	CodeRegressionFailed    Code = "REGRESSION_FAILED"
	CodeTimeout             Code = "TIMEOUT"
	CodeCanceled            Code = "CANCELED"
	CodeNotFound            Code = "NOT_FOUND"
	CodeInternal            Code = "INTERNAL"
)

// Error is a tagged error value.
type Error struct {
	Code      Code
	Message   string
	Details   map[string]interface{}
	Retryable bool
	cause     error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a non-retryable tagged error.
func New(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Retryable creates a retryable tagged error (transport/capacity class).
func Retryable(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Retryable: true}
}

// Wrap attaches a code to an underlying error.
func Wrap(code Code, cause error, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: cause}
}

// WithDetails returns e with the details payload set.
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	e.Details = details
	return e
}

// CodeOf extracts the code from any error in the chain, or CodeInternal.
func CodeOf(err error) Code {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Code
	}
	return CodeInternal
}

// IsRetryable reports whether the error chain carries a retryable tag.
func IsRetryable(err error) bool {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Retryable
	}
	return false
}

// IsCode reports whether the error chain carries the given code.
func IsCode(err error, code Code) bool {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Code == code
	}
	return false
}
