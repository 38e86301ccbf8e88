package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different types of errors that can occur
type ErrorType string

const (
	ErrorTypeNetwork   ErrorType = "network"
	ErrorTypeRateLimit ErrorType = "rate_limit"
	ErrorTypeAuth      ErrorType = "auth"
	ErrorTypeParsing   ErrorType = "parsing"
	ErrorTypeNotFound  ErrorType = "not_found"
	ErrorTypeServer    ErrorType = "server_error"
	ErrorTypeAPI       ErrorType = "api"
)

// RateLimit holds the x-rate-limit-* headers of a failed response.
// Empty strings mean the header was absent.
type RateLimit struct {
	Remaining string
	Limit     string
	Reset     string
}

// Fields returns the headers as log fields
func (r RateLimit) Fields() map[string]interface{} {
	return map[string]interface{}{
		"rate_remaining": orNA(r.Remaining),
		"rate_limit":     orNA(r.Limit),
		"rate_reset_sec": orNA(r.Reset),
	}
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

// Error represents a remote API error with type information
type Error struct {
	Type      ErrorType
	Message   string
	Code      int
	RateLimit RateLimit
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s error (code %d): %s", e.Type, e.Code, e.Message)
}

// IsRetryable checks if an error type should be retried
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeRateLimit, ErrorTypeServer, ErrorTypeAPI, ErrorTypeParsing:
		return true
	default:
		return false
	}
}

// TypeForStatus maps an HTTP status code to an error type.
func TypeForStatus(statusCode int) ErrorType {
	switch {
	case statusCode == 0:
		return ErrorTypeNetwork
	case statusCode == 401:
		return ErrorTypeAuth
	case statusCode == 404:
		return ErrorTypeNotFound
	case statusCode == 429:
		return ErrorTypeRateLimit
	case statusCode >= 500:
		return ErrorTypeServer
	default:
		return ErrorTypeAPI
	}
}

// IsTransient reports whether err should be retried after a backoff.
func IsTransient(err error) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return IsRetryable(apiErr.Type)
	}
	return false
}

// IsPermanent reports whether err will never succeed on retry (unauthorized
// or not found). It only names an item when the request addressed one.
func IsPermanent(err error) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Type == ErrorTypeAuth || apiErr.Type == ErrorTypeNotFound
	}
	return false
}

// IsType reports whether err carries the given error type.
func IsType(err error, t ErrorType) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Type == t
}

// StoreError is raised when the checkpoint store cannot be opened or read.
// It is always fatal: a job never starts from scratch behind a broken store.
type StoreError struct {
	Path string
	Op   string
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err must stop the process.
func IsFatal(err error) bool {
	var storeErr *StoreError
	return errors.As(err, &storeErr)
}

// MalformedInputError marks an input row that does not parse.
// The row is skipped and does not count toward the consecutive error budget.
type MalformedInputError struct {
	Line   int64
	Row    string
	Reason string
}

func (e *MalformedInputError) Error() string {
	row := e.Row
	if len(row) > 80 {
		row = row[:80] + "..."
	}
	return fmt.Sprintf("malformed input at line %d (%s): %q", e.Line, e.Reason, strings.TrimSpace(row))
}

// IsMalformedInput reports whether err is a MalformedInputError.
func IsMalformedInput(err error) bool {
	var malformed *MalformedInputError
	return errors.As(err, &malformed)
}
