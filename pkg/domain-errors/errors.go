// Package domainerrors provides coded errors for domain and validation
// failures. Stores return sentinel errors (pkg/platform/sentinel) for
// infrastructure facts; services translate those into coded errors here so
// transport layers can map them to HTTP statuses without string matching.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a class of domain failure.
type Code string

const (
	// Generic codes.
	CodeBadRequest         Code = "bad_request"
	CodeInvalidInput       Code = "invalid_input"
	CodeUnauthorized       Code = "unauthorized"
	CodeForbidden          Code = "forbidden"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeInvariantViolation Code = "invariant_violation"
	CodeInternal           Code = "internal"

	// Diversion-control failure taxonomy. These terminate or reject a
	// verification attempt and are surfaced verbatim to clients.
	CodeWindowClosed        Code = "window_closed"
	CodeUnknownCode         Code = "unknown_code"
	CodeUnitAlreadyConsumed Code = "unit_already_consumed"
	CodeUnitNotOwned        Code = "unit_not_owned_by_patient"
	CodeOutsideGeofence     Code = "outside_geofence"
	CodeBiometricMismatch   Code = "biometric_mismatch"
	CodeInvalidSettings     Code = "invalid_settings"
	CodeRetryLimitExceeded  Code = "retry_limit_exceeded"
	CodeSensorUnavailable   Code = "sensor_unavailable"
)

// Error is a coded domain error. It wraps an optional cause for errors.Is/As.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a coded error with no cause.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Wrap annotates a cause with a code and message. A nil cause returns nil.
func Wrap(cause error, code Code, message string) error {
	if cause == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: cause}
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	for e := err; e != nil; {
		if errors.As(e, &de) {
			if de.Code == code {
				return true
			}
			e = de.Unwrap()
			continue
		}
		return false
	}
	return false
}

// Is is an alias of HasCode kept for call-site readability.
func Is(err error, code Code) bool { return HasCode(err, code) }

// CodeOf returns the outermost code carried by err, or CodeInternal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// ToHTTPStatus maps a code to an HTTP status for transport layers.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeBadRequest, CodeInvalidInput:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound, CodeUnknownCode:
		return http.StatusNotFound
	case CodeConflict, CodeInvariantViolation, CodeUnitAlreadyConsumed, CodeRetryLimitExceeded:
		return http.StatusConflict
	case CodeWindowClosed, CodeUnitNotOwned, CodeOutsideGeofence, CodeBiometricMismatch:
		// Policy violations: the request was well-formed, the policy said no.
		return http.StatusUnprocessableEntity
	case CodeSensorUnavailable:
		return http.StatusServiceUnavailable
	case CodeInvalidSettings:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
