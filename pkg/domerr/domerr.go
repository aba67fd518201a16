// Package domerr defines coded domain errors. Services attach a stable Code
// to every failure; transports map codes to their own status vocabulary
// without inspecting messages.
package domerr

import (
	"errors"
	"fmt"
)

// Code identifies a failure class across the API surface.
type Code string

const (
	CodeMalformedToken       Code = "MALFORMED_TOKEN"
	CodeTokenStale           Code = "TOKEN_STALE"
	CodeChecksumMismatch     Code = "CHECKSUM_MISMATCH"
	CodePassNotFound         Code = "PASS_NOT_FOUND"
	CodePassNotActive        Code = "PASS_NOT_ACTIVE"
	CodeEntrySlotExpired     Code = "ENTRY_SLOT_EXPIRED"
	CodeGroupSizeExceeded    Code = "GROUP_SIZE_EXCEEDED"
	CodePaymentFailed        Code = "PAYMENT_FAILED"
	CodeSensorDataIncomplete Code = "SENSOR_DATA_INCOMPLETE"
	CodeBadRequest           Code = "BAD_REQUEST"
	CodeUnauthorized         Code = "UNAUTHORIZED"
	CodeNotFound             Code = "NOT_FOUND"
	CodeInternal             Code = "INTERNAL"
	CodeUnavailable          Code = "UNAVAILABLE"
)

// Error is a coded domain error, optionally wrapping a cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// HasCode walks the error chain looking for a domain error with the given
// code.
func HasCode(err error, code Code) bool {
	for err != nil {
		var domErr *Error
		if errors.As(err, &domErr) {
			if domErr.Code == code {
				return true
			}
			err = domErr.Err
			continue
		}
		return false
	}
	return false
}

// CodeOf returns the outermost domain error code, or CodeInternal when the
// chain carries none.
func CodeOf(err error) Code {
	var domErr *Error
	if errors.As(err, &domErr) {
		return domErr.Code
	}
	return CodeInternal
}
