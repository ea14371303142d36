// Package ratelimit defines typed errors for the engine.
package ratelimit

import "errors"

// ErrorCode is a typed error code carried across transport boundaries.
type ErrorCode string

const (
	CodeInvalidInput     ErrorCode = "INVALID_INPUT"
	CodeInvalidRule      ErrorCode = "INVALID_RULE"
	CodeRuleNotFound     ErrorCode = "RULE_NOT_FOUND"
	CodeQuotaExceeded    ErrorCode = "QUOTA_EXCEEDED"
	CodeStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
	CodeUnauthorized     ErrorCode = "UNAUTHORIZED"
	CodeCancelled        ErrorCode = "CANCELLED"
)

// AppError is a typed application error.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error returns the error message.
func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is lets sentinel comparisons match wrapped errors of the same code.
func (e *AppError) Is(target error) bool {
	var other *AppError
	if !errors.As(target, &other) {
		return false
	}
	return e != nil && other != nil && e.Code == other.Code
}

// Wrap creates a new AppError around an underlying cause.
func Wrap(code ErrorCode, msg string, err error) error {
	return &AppError{Code: code, Message: msg, Err: err}
}

// CodeOf returns the ErrorCode for an error, or empty if untyped.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// ErrInvalidInput indicates a malformed request.
var ErrInvalidInput = &AppError{Code: CodeInvalidInput, Message: "invalid input"}

// ErrInvalidRule indicates a rule configuration that fails validation.
var ErrInvalidRule = &AppError{Code: CodeInvalidRule, Message: "invalid rule config"}

// ErrRuleNotFound indicates a management operation on an unknown rule id.
var ErrRuleNotFound = &AppError{Code: CodeRuleNotFound, Message: "rule not found"}

// ErrQuotaExceeded indicates an increment that would push usage past the
// limit. The increment is rejected atomically; no partial usage is recorded.
var ErrQuotaExceeded = &AppError{Code: CodeQuotaExceeded, Message: "quota exceeded"}

// ErrStoreUnavailable indicates the durable store or cache is unreachable.
var ErrStoreUnavailable = &AppError{Code: CodeStoreUnavailable, Message: "store unavailable"}
